package extract

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/evanw/esbuild/pkg/api"
	"golang.org/x/sync/errgroup"

	"github.com/alliancesoftware/apfrontend/internal/logging"
)

// BuildConfig configures Build.
type BuildConfig struct {
	// RootDir is the project root entry paths are relative to.
	RootDir string
	// OutDir is where the built files and manifest.json are written.
	OutDir string
	// Production enables minification and content-hashed filenames.
	Production bool
	// Define maps identifiers to replacement expressions, e.g.
	// process.env.NODE_ENV.
	Define map[string]string
	Logger logging.Logger
}

// Build bundles the collected entries with esbuild and writes a Vite
// compatible manifest.json to OutDir. Script and stylesheet entries are
// built separately; scripts get code splitting, which esbuild only
// supports for the esm format.
func Build(ctx context.Context, cfg BuildConfig, entries []string) error {
	logger := cfg.Logger
	if logger == nil {
		logger = logging.Discard()
	}
	logger = logger.WithComponent("extract")

	var scripts, styles []string
	for _, entry := range entries {
		if filepath.Ext(entry) == ".css" || filepath.Ext(entry) == ".scss" {
			styles = append(styles, entry)
		} else {
			scripts = append(scripts, entry)
		}
	}

	metafiles := make([]string, 2)
	group, ctx := errgroup.WithContext(ctx)
	if len(scripts) > 0 {
		group.Go(func() error {
			result, err := runBuild(ctx, cfg, scripts, true)
			if err != nil {
				return err
			}
			metafiles[0] = result
			return nil
		})
	}
	if len(styles) > 0 {
		group.Go(func() error {
			result, err := runBuild(ctx, cfg, styles, false)
			if err != nil {
				return err
			}
			metafiles[1] = result
			return nil
		})
	}
	if err := group.Wait(); err != nil {
		return err
	}

	manifest, err := manifestFromMetafiles(cfg, metafiles)
	if err != nil {
		return err
	}
	data, err := json.MarshalIndent(manifest, "", "  ")
	if err != nil {
		return err
	}
	manifestFile := filepath.Join(cfg.OutDir, "manifest.json")
	if err := os.WriteFile(manifestFile, append(data, '\n'), 0o644); err != nil {
		return err
	}
	logger.Info(ctx, "frontend build complete",
		"entries", len(entries), "manifestFile", manifestFile)
	return nil
}

func runBuild(ctx context.Context, cfg BuildConfig, entries []string, scripts bool) (string, error) {
	entryPoints := make([]api.EntryPoint, 0, len(entries))
	for _, entry := range entries {
		entryPoints = append(entryPoints, api.EntryPoint{InputPath: entry})
	}
	names := "assets/[name]"
	sourcemap := api.SourceMapLinked
	if cfg.Production {
		names = "assets/[name]-[hash]"
		sourcemap = api.SourceMapNone
	}
	options := api.BuildOptions{
		AbsWorkingDir:       cfg.RootDir,
		EntryPointsAdvanced: entryPoints,
		Outdir:              cfg.OutDir,
		Outbase:             cfg.RootDir,
		EntryNames:          names,
		ChunkNames:          names,
		AssetNames:          names,
		Bundle:              true,
		Write:               true,
		Metafile:            true,
		Target:              api.ES2020,
		Sourcemap:           sourcemap,
		MinifyWhitespace:    cfg.Production,
		MinifyIdentifiers:   cfg.Production,
		MinifySyntax:        cfg.Production,
		Define:              cfg.Define,
		LogLevel:            api.LogLevelSilent,
		Loader: map[string]api.Loader{
			".svg":   api.LoaderFile,
			".png":   api.LoaderFile,
			".jpg":   api.LoaderFile,
			".jpeg":  api.LoaderFile,
			".gif":   api.LoaderFile,
			".webp":  api.LoaderFile,
			".woff":  api.LoaderFile,
			".woff2": api.LoaderFile,
		},
	}
	if scripts {
		options.Format = api.FormatESModule
		options.Splitting = true
		options.JSX = api.JSXAutomatic
	}
	if ctx.Err() != nil {
		return "", ctx.Err()
	}
	result := api.Build(options)
	if len(result.Errors) > 0 {
		messages := make([]string, 0, len(result.Errors))
		for _, msg := range result.Errors {
			location := ""
			if msg.Location != nil {
				location = fmt.Sprintf("%s:%d: ", msg.Location.File, msg.Location.Line)
			}
			messages = append(messages, location+msg.Text)
		}
		return "", fmt.Errorf("esbuild failed:\n%s", strings.Join(messages, "\n"))
	}
	return result.Metafile, nil
}

// metafile matches the esbuild metafile shape, limited to the fields the
// manifest needs.
type metafile struct {
	Outputs map[string]metaOutput `json:"outputs"`
}

type metaOutput struct {
	EntryPoint string       `json:"entryPoint"`
	CSSBundle  string       `json:"cssBundle"`
	Imports    []metaImport `json:"imports"`
}

type metaImport struct {
	Path     string `json:"path"`
	Kind     string `json:"kind"`
	External bool   `json:"external"`
}

// manifestEntry matches the Vite manifest.json value shape the bundler's
// manifest loader reads back.
type manifestEntry struct {
	File           string   `json:"file"`
	Src            string   `json:"src,omitempty"`
	IsEntry        bool     `json:"isEntry,omitempty"`
	IsDynamicEntry bool     `json:"isDynamicEntry,omitempty"`
	CSS            []string `json:"css,omitempty"`
	Imports        []string `json:"imports,omitempty"`
	DynamicImports []string `json:"dynamicImports,omitempty"`
}

// manifestFromMetafiles converts esbuild metafiles into a Vite shaped
// manifest keyed by source path. Shared chunks get underscore-prefixed
// keys the way Vite names them.
func manifestFromMetafiles(cfg BuildConfig, metafiles []string) (map[string]*manifestEntry, error) {
	outputs := map[string]metaOutput{}
	for _, raw := range metafiles {
		if raw == "" {
			continue
		}
		var meta metafile
		if err := json.Unmarshal([]byte(raw), &meta); err != nil {
			return nil, fmt.Errorf("parsing esbuild metafile: %w", err)
		}
		for file, output := range meta.Outputs {
			outputs[file] = output
		}
	}

	// output files sit under OutDir; manifest "file" values are relative
	// to it
	outputFile := func(metaPath string) (string, error) {
		rel, err := filepath.Rel(cfg.OutDir, filepath.Join(cfg.RootDir, metaPath))
		if err != nil {
			return "", err
		}
		return filepath.ToSlash(rel), nil
	}

	keys := map[string]string{}
	for file, output := range outputs {
		if strings.HasSuffix(file, ".map") {
			continue
		}
		if output.EntryPoint != "" {
			keys[file] = filepath.ToSlash(output.EntryPoint)
		} else {
			keys[file] = "_" + filepath.Base(file)
		}
	}

	manifest := map[string]*manifestEntry{}
	dynamicTargets := map[string]bool{}
	for file, output := range outputs {
		key, ok := keys[file]
		if !ok {
			continue
		}
		built, err := outputFile(file)
		if err != nil {
			return nil, err
		}
		entry := &manifestEntry{
			File:    built,
			Src:     filepath.ToSlash(output.EntryPoint),
			IsEntry: output.EntryPoint != "",
		}
		if output.CSSBundle != "" {
			css, err := outputFile(output.CSSBundle)
			if err != nil {
				return nil, err
			}
			entry.CSS = []string{css}
		}
		for _, imp := range output.Imports {
			if imp.External {
				continue
			}
			target, ok := keys[imp.Path]
			if !ok {
				continue
			}
			if imp.Kind == "dynamic-import" {
				entry.DynamicImports = append(entry.DynamicImports, target)
				dynamicTargets[target] = true
			} else {
				entry.Imports = append(entry.Imports, target)
			}
		}
		manifest[key] = entry
	}
	for key := range dynamicTargets {
		if entry, ok := manifest[key]; ok {
			entry.IsDynamicEntry = true
		}
	}
	return manifest, nil
}
