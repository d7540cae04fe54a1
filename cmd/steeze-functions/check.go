package main

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/joeydtaylor/steeze-functions/pkg/sandbox"
	"github.com/spf13/cobra"
)

var errCheckFailed = errors.New("syntax check failed")

// NewCheckCommand runs the sandbox syntax check on local files.
func NewCheckCommand() *cobra.Command {
	return &cobra.Command{
		Use:           "check <file.hcl>...",
		Short:         "Check function files for syntax errors",
		Args:          cobra.MinimumNArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			sb := sandbox.New(sandbox.Config{}, nil)
			out, errOut := cmd.OutOrStdout(), cmd.ErrOrStderr()

			failed := 0
			for _, path := range args {
				code, err := os.ReadFile(path)
				if err != nil {
					fmt.Fprintf(errOut, "%s: %v\n", path, err)
					failed++
					continue
				}
				err = sb.CheckSyntax(filepath.Base(path), string(code))
				var se *sandbox.SyntaxError
				switch {
				case err == nil:
					fmt.Fprintf(out, "%s: ok\n", path)
				case errors.As(err, &se):
					for _, line := range se.Details() {
						fmt.Fprintf(errOut, "%s: %s\n", path, line)
					}
					failed++
				default:
					fmt.Fprintf(errOut, "%s: %v\n", path, err)
					failed++
				}
			}
			if failed > 0 {
				return fmt.Errorf("%w: %d of %d files", errCheckFailed, failed, len(args))
			}
			return nil
		},
	}
}
