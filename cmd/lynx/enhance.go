package main

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/spf13/cobra"

	"github.com/fpang/lynx-studio/internal/cli"
	"github.com/fpang/lynx-studio/internal/enhance"
	"github.com/fpang/lynx-studio/internal/export"
	"github.com/fpang/lynx-studio/internal/studio"
)

// Request flags
var (
	opsFlag       []string
	promptFlag    string
	negativeFlag  string
	referenceFlag string
	maskFlag      string
	sizeFlag      string
	countFlag     int
	zipFlag       bool
)

var enhanceCmd = &cobra.Command{
	Use:   "enhance <image>",
	Short: "Enhance, edit, or vary an image",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		source, err := cli.LoadImage(args[0])
		if err != nil {
			return err
		}
		ops, err := enhance.ParseOperations(opsFlag)
		if err != nil {
			return err
		}
		req, err := buildRequest(ops)
		if err != nil {
			return err
		}
		req.SourceImage = source
		return run(cmd, req, cli.OutputPrefix(args[0], "lynx"))
	},
}

var generateCmd = &cobra.Command{
	Use:   "generate",
	Short: "Generate images from a prompt",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		if promptFlag == "" {
			promptFlag = cli.PromptForInstruction(os.Stdin, os.Stderr, "Prompt")
		}
		req, err := buildRequest([]enhance.OperationType{enhance.OpGenerate})
		if err != nil {
			return err
		}
		return run(cmd, req, "generated")
	},
}

func init() {
	enhanceCmd.Flags().StringSliceVar(&opsFlag, "op", []string{string(enhance.OpGeneral)}, "Operation (repeatable): general, restore, colorize, lighting, creative, upscale, vectorize, remove-subject, remove-text, remove-background, remove-watermark, variation, edit, look-bw, look-dark, look-realism")
	for _, c := range []*cobra.Command{enhanceCmd, generateCmd} {
		c.Flags().StringVarP(&promptFlag, "prompt", "p", "", "Custom instruction")
		c.Flags().StringVar(&negativeFlag, "negative", "", "Things to avoid")
		c.Flags().StringVar(&referenceFlag, "reference", "", "Reference image path")
		c.Flags().StringVar(&sizeFlag, "size", "auto", "Output size: auto, a ratio (1:1, 3:4, 4:3, 16:9, 9:16) or WIDTHxHEIGHT")
		c.Flags().IntVarP(&countFlag, "count", "n", 1, "Number of variations (1-5)")
		c.Flags().BoolVar(&zipFlag, "zip", false, "Also bundle the results into a ZIP")
	}
	enhanceCmd.Flags().StringVar(&maskFlag, "mask", "", "Mask image path (white = editable)")
}

func buildRequest(ops []enhance.OperationType) (*enhance.Request, error) {
	size, err := enhance.ParseSizePolicy(sizeFlag)
	if err != nil {
		return nil, err
	}
	req := &enhance.Request{
		Operations:          ops,
		CustomInstruction:   promptFlag,
		NegativeInstruction: negativeFlag,
		Size:                size,
		VariantCount:        countFlag,
		Model:               app.Config.Model,
	}
	if referenceFlag != "" {
		if req.ReferenceImage, err = cli.LoadImage(referenceFlag); err != nil {
			return nil, err
		}
	}
	if maskFlag != "" {
		if req.MaskImage, err = cli.LoadImage(maskFlag); err != nil {
			return nil, err
		}
	}
	return req, nil
}

func run(cmd *cobra.Command, req *enhance.Request, prefix string) error {
	ctx, cancel, stop := interruptible(cmd.Context())
	defer stop()

	res, err := app.Service.Process(ctx, req, cancel, printStatus)
	if err != nil {
		return err
	}
	return writeResult(res, prefix)
}

func writeResult(res *studio.Result, prefix string) error {
	paths, err := cli.SaveImages(outDirFlag, prefix, res.Images)
	if err != nil {
		return err
	}
	if len(res.Attempts) > 1 {
		fmt.Print(cli.FormatAttempts(res.Attempts))
	}
	for _, p := range paths {
		fmt.Println(p)
	}

	if zipFlag {
		var buf bytes.Buffer
		if err := export.WriteZip(&buf, export.Files(prefix, res.Images), time.Now()); err != nil {
			return err
		}
		zipPath := filepath.Join(outDirFlag, prefix+".zip")
		if err := os.WriteFile(zipPath, buf.Bytes(), 0o644); err != nil {
			return fmt.Errorf("write ZIP: %w", err)
		}
		fmt.Println(zipPath)
	}

	fmt.Fprintf(os.Stderr, "Done in %s\n", cli.FormatDurationShort(res.Duration))
	return nil
}
