package cmd

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/spf13/cobra"
	yaml "gopkg.in/yaml.v2"

	"github.com/alliancesoftware/apfrontend/internal/bundler"
	"github.com/alliancesoftware/apfrontend/internal/config"
)

var checkFormat string

var checkCmd = &cobra.Command{
	Use:   "check",
	Short: "Diagnose the project's bundler setup",
	Long: `Check the configuration and the state of the frontend toolchain:
whether the render component module resolves, whether the dev server is
running and belongs to this project, and whether production builds are in
place.

Examples:
  apfrontend check                  # human readable report
  apfrontend check --format yaml    # report for tooling`,
	RunE: runCheck,
}

func init() {
	rootCmd.AddCommand(checkCmd)

	checkCmd.Flags().StringVarP(&checkFormat, "format", "f", "text", "Output format (text, json, yaml)")
}

// CheckResult is one diagnostic outcome. Status is one of ok, warning,
// error.
type CheckResult struct {
	Name       string `json:"name" yaml:"name"`
	Status     string `json:"status" yaml:"status"`
	Message    string `json:"message" yaml:"message"`
	Suggestion string `json:"suggestion,omitempty" yaml:"suggestion,omitempty"`
}

// CheckReport is the complete diagnostic report.
type CheckReport struct {
	Timestamp time.Time     `json:"timestamp" yaml:"timestamp"`
	Mode      string        `json:"mode" yaml:"mode"`
	RootDir   string        `json:"root_dir" yaml:"root_dir"`
	Results   []CheckResult `json:"results" yaml:"results"`
	Summary   CheckSummary  `json:"summary" yaml:"summary"`
}

type CheckSummary struct {
	Total    int `json:"total" yaml:"total"`
	OK       int `json:"ok" yaml:"ok"`
	Warnings int `json:"warnings" yaml:"warnings"`
	Errors   int `json:"errors" yaml:"errors"`
}

func runCheck(cmd *cobra.Command, args []string) error {
	report := &CheckReport{Timestamp: time.Now()}

	cfg, err := loadConfig()
	if err != nil {
		report.add(CheckResult{
			Name:       "configuration",
			Status:     "error",
			Message:    err.Error(),
			Suggestion: "fix .apfrontend.yml or the APFRONTEND_* environment",
		})
		return renderCheckReport(cmd.OutOrStdout(), report)
	}
	report.Mode = cfg.Mode
	report.RootDir = cfg.RootDir
	report.add(CheckResult{Name: "configuration", Status: "ok", Message: "configuration is valid"})

	runProjectChecks(cmd, cfg, report)
	return renderCheckReport(cmd.OutOrStdout(), report)
}

func runProjectChecks(cmd *cobra.Command, cfg *config.Config, report *CheckReport) {
	if info, err := os.Stat(cfg.RootDir); err != nil || !info.IsDir() {
		report.add(CheckResult{
			Name:       "root directory",
			Status:     "error",
			Message:    fmt.Sprintf("root_dir %s is not a directory", cfg.RootDir),
			Suggestion: "set root_dir to the project root",
		})
		return
	}
	report.add(CheckResult{Name: "root directory", Status: "ok", Message: cfg.RootDir})

	logger, err := newLogger()
	if err != nil {
		report.add(CheckResult{Name: "logging", Status: "error", Message: err.Error()})
		return
	}
	bundlerConfig, err := cfg.ViteBundlerConfig()
	if err == nil {
		bundlerConfig.Logger = logger
	}
	var b *bundler.ViteBundler
	if err == nil {
		b, err = bundler.NewViteBundler(bundlerConfig)
	}
	if err != nil {
		report.add(CheckResult{
			Name:    "bundler",
			Status:  "error",
			Message: err.Error(),
		})
		return
	}
	report.add(CheckResult{Name: "bundler", Status: "ok", Message: fmt.Sprintf("%s mode", cfg.Mode)})

	checkRenderComponent(cfg, b, report)
	if cfg.Mode == "development" {
		checkDevServer(cmd, cfg, b, report)
	} else {
		checkProductionBuild(cfg, report)
	}
	if cfg.SSR.Enabled && cfg.SSR.Engine == "quickjs" {
		checkSSRBundle(cfg, report)
	}
}

func checkRenderComponent(cfg *config.Config, b *bundler.ViteBundler, report *CheckReport) {
	resolved, err := b.ValidatePath(cfg.React.RenderComponent, &bundler.ValidateOptions{
		ResolveExtensions: cfg.Resolve.Extensions,
	})
	if err != nil {
		report.add(CheckResult{
			Name:       "render component",
			Status:     "error",
			Message:    err.Error(),
			Suggestion: "point react.render_component at the module exporting renderComponent and createElement",
		})
		return
	}
	report.add(CheckResult{Name: "render component", Status: "ok", Message: resolved})
}

func checkDevServer(cmd *cobra.Command, cfg *config.Config, b *bundler.ViteBundler, report *CheckReport) {
	if cfg.Dev.DisableCheckHTML {
		report.add(CheckResult{Name: "dev server", Status: "ok", Message: "check disabled (dev.disable_check_html)"})
		return
	}
	status := b.CheckDevServer(cmd.Context())
	switch {
	case !status.IsRunning:
		report.add(CheckResult{
			Name:       "dev server",
			Status:     "error",
			Message:    fmt.Sprintf("nothing is listening at %s", cfg.ServerURL),
			Suggestion: "start the Vite dev server",
		})
	case status.ReadTimeout:
		report.add(CheckResult{
			Name:       "dev server",
			Status:     "warning",
			Message:    "the dev server accepted the connection but did not respond in time",
			Suggestion: "check the dev server logs",
		})
	case status.IsWrongServer(cfg.RootDir):
		report.add(CheckResult{
			Name:       "dev server",
			Status:     "error",
			Message:    fmt.Sprintf("the running dev server belongs to %s", status.ProjectDir),
			Suggestion: "stop it and start the dev server for this project",
		})
	default:
		report.add(CheckResult{Name: "dev server", Status: "ok", Message: cfg.ServerURL})
	}
}

func checkProductionBuild(cfg *config.Config, report *CheckReport) {
	manifests := []struct {
		name string
		dir  string
		skip bool
	}{
		{name: "client build", dir: cfg.Production.Dir},
		{name: "SSR build", dir: cfg.Production.SSRDir, skip: !cfg.SSR.Enabled},
	}
	for _, m := range manifests {
		if m.skip {
			continue
		}
		manifestFile := filepath.Join(cfg.AbsPath(m.dir), "manifest.json")
		if _, err := os.Stat(manifestFile); err != nil {
			report.add(CheckResult{
				Name:       m.name,
				Status:     "error",
				Message:    fmt.Sprintf("%s does not exist", manifestFile),
				Suggestion: "run the frontend build (or apfrontend extract --build)",
			})
			continue
		}
		report.add(CheckResult{Name: m.name, Status: "ok", Message: manifestFile})
	}
}

func checkSSRBundle(cfg *config.Config, report *CheckReport) {
	bundle := cfg.AbsPath(cfg.SSR.Bundle)
	if _, err := os.Stat(bundle); err != nil {
		report.add(CheckResult{
			Name:       "SSR bundle",
			Status:     "error",
			Message:    fmt.Sprintf("%s does not exist", bundle),
			Suggestion: "build the server bundle before using the quickjs engine",
		})
		return
	}
	report.add(CheckResult{Name: "SSR bundle", Status: "ok", Message: bundle})
}

func (r *CheckReport) add(result CheckResult) {
	r.Results = append(r.Results, result)
	r.Summary.Total++
	switch result.Status {
	case "ok":
		r.Summary.OK++
	case "warning":
		r.Summary.Warnings++
	default:
		r.Summary.Errors++
	}
}

func renderCheckReport(w io.Writer, report *CheckReport) error {
	switch checkFormat {
	case "json":
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		if err := enc.Encode(report); err != nil {
			return err
		}
	case "yaml":
		data, err := yaml.Marshal(report)
		if err != nil {
			return err
		}
		if _, err := w.Write(data); err != nil {
			return err
		}
	case "text":
		icons := map[string]string{"ok": "✓", "warning": "!", "error": "✗"}
		for _, result := range report.Results {
			fmt.Fprintf(w, "%s %s: %s\n", icons[result.Status], result.Name, result.Message)
			if result.Suggestion != "" {
				fmt.Fprintf(w, "    %s\n", result.Suggestion)
			}
		}
		fmt.Fprintf(w, "\n%d checks: %d ok, %d warnings, %d errors\n",
			report.Summary.Total, report.Summary.OK, report.Summary.Warnings, report.Summary.Errors)
	default:
		return fmt.Errorf("unsupported format: %s (supported: text, json, yaml)", checkFormat)
	}
	if report.Summary.Errors > 0 {
		return fmt.Errorf("%d checks failed", report.Summary.Errors)
	}
	return nil
}
