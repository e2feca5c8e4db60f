package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/alliancesoftware/apfrontend/internal/bundler"
	"github.com/alliancesoftware/apfrontend/internal/extract"
)

var (
	extractFormat string
	extractOut    string
	extractBuild  bool
)

var extractCmd = &cobra.Command{
	Use:   "extract",
	Short: "Collect the frontend assets templates reference",
	Long: `Scan the configured template directories for asset references,
resolve them and print the entry list the frontend build needs.

With --build the entries are bundled with esbuild and a Vite compatible
manifest.json is written to the extract output directory.

Examples:
  apfrontend extract                       # entry list as json on stdout
  apfrontend extract --format yaml -o entries.yml
  apfrontend extract --build               # bundle into extract.out_dir`,
	RunE: runExtract,
}

func init() {
	rootCmd.AddCommand(extractCmd)

	extractCmd.Flags().StringVarP(&extractFormat, "format", "f", "json", "Output format for the entry list (json, yaml)")
	extractCmd.Flags().StringVarP(&extractOut, "out", "o", "", "Write the entry list to a file instead of stdout")
	extractCmd.Flags().BoolVar(&extractBuild, "build", false, "Build the collected entries and write manifest.json")
}

func runExtract(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	logger, err := newLogger()
	if err != nil {
		return err
	}
	bundlerConfig, err := cfg.ViteBundlerConfig()
	if err != nil {
		return err
	}
	bundlerConfig.Logger = logger
	b, err := bundler.NewViteBundler(bundlerConfig)
	if err != nil {
		return err
	}

	extractor := extract.New(extract.Config{
		Bundler:      b,
		TemplateDirs: cfg.Extract.TemplateDirs,
		ExcludeDirs:  cfg.Extract.ExcludeDirs,
		Logger:       logger,
	})
	entries, err := extractor.Collect(cmd.Context())
	if err != nil {
		return err
	}

	if extractBuild {
		return extract.Build(cmd.Context(), extract.BuildConfig{
			RootDir:    cfg.RootDir,
			OutDir:     cfg.AbsPath(cfg.Extract.OutDir),
			Production: cfg.Mode == "production",
			Logger:     logger,
		}, entries)
	}

	out := cmd.OutOrStdout()
	if extractOut != "" {
		file, err := os.Create(extractOut)
		if err != nil {
			return fmt.Errorf("cannot write entry list: %w", err)
		}
		defer file.Close()
		out = file
	}
	return extract.WriteEntries(out, entries, extractFormat)
}
