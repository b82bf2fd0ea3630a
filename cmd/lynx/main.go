// Command lynx enhances, edits, and generates images from the terminal.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/fpang/lynx-studio/internal/cli"
	"github.com/fpang/lynx-studio/internal/config"
	"github.com/fpang/lynx-studio/internal/dispatch"
	"github.com/fpang/lynx-studio/internal/enhance"
	"github.com/fpang/lynx-studio/internal/logging"
)

// version is set at build time with -ldflags "-X main.version=...".
var version = "dev"

// Shared flags
var (
	modelFlag  string
	outDirFlag string
)

// app is built once per invocation in PersistentPreRunE.
var app *cli.Studio

var rootCmd = &cobra.Command{
	Use:   "lynx",
	Short: "AI image enhancement and generation studio",
	Long: `Lynx sends images to generative image models to enhance, edit, vary, or
generate them. Transient provider failures are retried with backoff, and
multi-variation requests continue past individual failures.

Credentials come from GEMINI_API_KEY, FAL_KEY and CLOUDINARY_* environment
variables (or a .env file), falling back to GPG files under ~/.lynx-studio/.

Press Ctrl+C once to stop after the current attempt, twice to abort.

Examples:
  lynx enhance photo.jpg --op restore --op colorize
  lynx enhance photo.jpg --op edit --prompt "make the sky stormy" --mask sky.png
  lynx generate --prompt "a lynx in fresh snow" --size 16:9 --count 3
  lynx batch *.jpg --op general --out ./enhanced
  lynx usage`,
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		logging.Init()
		cfg := config.Load()
		if modelFlag != "" {
			m := enhance.ProviderModel(modelFlag)
			if !m.Valid() {
				return fmt.Errorf("unknown model %q", modelFlag)
			}
			cfg.Model = m
		}
		s, err := cli.NewStudio(cmd.Context(), "lynx "+version, cfg)
		if err != nil {
			return err
		}
		app = s
		return nil
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		if app != nil {
			app.Close()
		}
	},
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&modelFlag, "model", "m", "", "Provider model (gemini-2.5-flash-image, gemini-3-pro-image-preview, fal-ai/drct-super-resolution, cloudinary-ai)")
	rootCmd.PersistentFlags().StringVarP(&outDirFlag, "out", "o", ".", "Directory for result images")
	rootCmd.Version = version

	rootCmd.AddCommand(enhanceCmd, generateCmd, batchCmd, usageCmd, authCmd)
}

func main() {
	if err := rootCmd.ExecuteContext(context.Background()); err != nil {
		cli.Fatal(err)
	}
}

// interruptible returns a context and cancel flag driven by SIGINT/SIGTERM.
// The first signal sets the flag so work stops between attempts; the second
// cancels the context and aborts in-flight calls.
func interruptible(parent context.Context) (context.Context, *dispatch.CancelFlag, func()) {
	ctx, cancel := context.WithCancel(parent)
	flag := &dispatch.CancelFlag{}
	sigs := make(chan os.Signal, 2)
	signal.Notify(sigs, os.Interrupt, syscall.SIGTERM)

	go func() {
		n := 0
		for range sigs {
			n++
			if n == 1 {
				fmt.Fprintln(os.Stderr, "\nStopping after the current attempt. Press Ctrl+C again to abort.")
				flag.Cancel()
				continue
			}
			log.Warn().Msg("Aborting")
			cancel()
		}
	}()

	return ctx, flag, func() {
		signal.Stop(sigs)
		close(sigs)
		cancel()
	}
}

// printStatus writes provider progress to stderr.
func printStatus(status string) {
	fmt.Fprintf(os.Stderr, "  %s\n", status)
}
