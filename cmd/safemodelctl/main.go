// Command safemodelctl inspects and compares exported model checkpoints
// offline, so a reviewer can confirm that a released file is the one the
// release verdict fingerprinted.
package main

import (
	"errors"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"safemodel/internal/checkpoint"
	"safemodel/internal/snapshot"
)

// errDiffer makes diff exit non-zero without printing a second error line.
var errDiffer = errors.New("checkpoints differ")

func main() {
	if err := newRootCmd().Execute(); err != nil {
		if !errors.Is(err, errDiffer) {
			fmt.Fprintln(os.Stderr, "error:", err)
		}
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:           "safemodelctl",
		Short:         "Inspect and compare safemodel checkpoints",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.AddCommand(newInspectCmd(), newDiffCmd())
	return root
}

// =============================================================================
// inspect
// =============================================================================

func newInspectCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "inspect <checkpoint.json>",
		Short: "Print a checkpoint's fingerprint and layer summary",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			snap, err := checkpoint.Load(args[0])
			if err != nil {
				return err
			}
			fp, err := snapshot.Fingerprint(snap)
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "snapshot:    %s\n", snap.ID())
			fmt.Fprintf(out, "captured_at: %s\n", snap.CapturedAt().UTC().Format("2006-01-02T15:04:05Z"))
			fmt.Fprintf(out, "fingerprint: %s\n", fp)
			fmt.Fprintf(out, "layers:      %d\n", snap.NumLayers())
			for i, l := range snap.Layers() {
				params := 0
				for _, t := range l.Weights {
					params += t.Len()
				}
				fmt.Fprintf(out, "  [%d] %v groups=%d params=%d\n", i, l.Config["name"], len(l.Weights), params)
			}
			return nil
		},
	}
}

// =============================================================================
// diff
// =============================================================================

func newDiffCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "diff <a.json> <b.json>",
		Short: "Compare two checkpoints layer by layer; exits 1 when they differ",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			same, report, err := checkpoint.Equal(args[0], args[1])
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			if same {
				fmt.Fprintln(out, "checkpoints match")
				return nil
			}
			fmt.Fprintln(out, report)
			return errDiffer
		},
	}
}
