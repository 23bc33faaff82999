package main

import (
	"errors"
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"migrate/internal/preflight"
)

func newDoctorCommand(ctx *commandContext) *cobra.Command {
	var siteURL string
	var asJSON bool

	cmd := &cobra.Command{
		Use:   "doctor",
		Short: "Check directories, history and site reachability",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := ctx.ensureConfig()
			if err != nil {
				return err
			}
			results := preflight.RunAll(cmd.Context(), cfg, strings.TrimSpace(siteURL))
			if asJSON {
				if err := writeJSON(cmd, results); err != nil {
					return err
				}
			} else {
				out := cmd.OutOrStdout()
				colorize := shouldColorize(out)
				printLines(out, renderSectionHeader("Preflight", colorize)...)
				for _, result := range results {
					kind := statusOK
					if !result.Passed {
						kind = statusError
					}
					printLines(out, renderStatusLine(result.Name, kind, result.Detail, colorize))
				}
			}
			if preflight.Failed(results) {
				return errors.New("one or more checks failed")
			}
			if !asJSON {
				fmt.Fprintln(cmd.OutOrStdout(), "All checks passed")
			}
			return nil
		},
	}

	cmd.Flags().StringVar(&siteURL, "url", "", "Also check that this site is reachable")
	cmd.Flags().BoolVar(&asJSON, "json", false, "Print results as JSON")
	return cmd
}
