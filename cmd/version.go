package cmd

import (
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/alliancesoftware/apfrontend/internal/version"
)

var versionFormat string

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Show version information",
	RunE: func(cmd *cobra.Command, args []string) error {
		info := version.GetBuildInfo()
		switch versionFormat {
		case "json":
			enc := json.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent("", "  ")
			return enc.Encode(info)
		case "text":
			line := "apfrontend " + info.Version
			if commit := info.GitCommit; commit != "" {
				if len(commit) > 7 {
					commit = commit[:7]
				}
				line += " (" + commit + ")"
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s %s %s\n", line, info.GoVersion, info.Platform)
			return nil
		default:
			return fmt.Errorf("unsupported format: %s (supported: text, json)", versionFormat)
		}
	},
}

func init() {
	rootCmd.AddCommand(versionCmd)

	versionCmd.Flags().StringVarP(&versionFormat, "format", "f", "text", "Output format (text, json)")
}
