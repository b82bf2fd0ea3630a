package main

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/fpang/lynx-studio/internal/batch"
	"github.com/fpang/lynx-studio/internal/cli"
	"github.com/fpang/lynx-studio/internal/enhance"
	"github.com/fpang/lynx-studio/internal/provider"
)

var batchCmd = &cobra.Command{
	Use:   "batch <images...>",
	Short: "Apply the same enhancement to many images, one at a time",
	Args:  cobra.MinimumNArgs(1),
	RunE:  runBatch,
}

func init() {
	batchCmd.Flags().StringSliceVar(&opsFlag, "op", []string{string(enhance.OpGeneral)}, "Operation (repeatable)")
	batchCmd.Flags().StringVarP(&promptFlag, "prompt", "p", "", "Custom instruction applied to every image")
	batchCmd.Flags().StringVar(&negativeFlag, "negative", "", "Things to avoid")
}

func runBatch(cmd *cobra.Command, args []string) error {
	ops, err := enhance.ParseOperations(opsFlag)
	if err != nil {
		return err
	}
	template := enhance.Request{
		Operations:          ops,
		CustomInstruction:   promptFlag,
		NegativeInstruction: negativeFlag,
		Model:               app.Config.Model,
	}

	q := batch.NewQueue()
	paths := make(map[string]string, len(args))
	for _, path := range args {
		source, err := cli.LoadImage(path)
		if err != nil {
			fmt.Fprintf(os.Stderr, "skip %s: %v\n", path, err)
			continue
		}
		paths[q.Add(filepath.Base(path), source)] = path
	}

	ctx, cancel, stop := interruptible(cmd.Context())
	defer stop()

	runner := batch.NewRunner(app.Service)
	runner.OnItem = func(it batch.Item) {
		switch it.Status {
		case batch.StatusProcessing:
			fmt.Fprintf(os.Stderr, "[%s] %s (%dx%d)\n", it.Status, it.Name, it.OriginalDims.Width, it.OriginalDims.Height)
		case batch.StatusCompleted:
			saved, err := cli.SaveImages(outDirFlag, cli.OutputPrefix(paths[it.ID], "lynx"), []*provider.Image{it.Result})
			if err != nil {
				fmt.Fprintf(os.Stderr, "[failed] %s: %v\n", it.Name, err)
				return
			}
			fmt.Println(saved[0])
		case batch.StatusFailed:
			fmt.Fprintf(os.Stderr, "[%s] %s: %s\n", it.Status, it.Name, it.Error)
		}
	}

	sum, err := runner.Run(ctx, q, template, cancel)
	if err != nil {
		return err
	}
	c := q.Counts()
	fmt.Fprintf(os.Stderr, "Completed %d, failed %d, pending %d\n", sum.Completed, sum.Failed, c[batch.StatusPending])
	if sum.Cancelled {
		fmt.Fprintln(os.Stderr, "Batch cancelled.")
	}
	return nil
}
