// Package config loads apfrontend configuration with Viper from a yaml
// file (.apfrontend.yml by default), APFRONTEND_* environment variables
// and command line flags, in increasing order of precedence.
package config

import (
	"fmt"
	"net/url"
	"path/filepath"
	"time"

	"github.com/spf13/viper"

	"github.com/alliancesoftware/apfrontend/internal/bundler"
)

type Config struct {
	// RootDir is the project root; all relative paths in the config are
	// taken from it.
	RootDir string `mapstructure:"root_dir" yaml:"root_dir"`
	// Mode is one of development, production, preview.
	Mode string `mapstructure:"mode" yaml:"mode"`
	// ServerURL is the Vite dev server address, e.g.
	// http://localhost:5173. Development mode only.
	ServerURL string `mapstructure:"server_url" yaml:"server_url"`
	// StaticURL is the base URL assets are served from: a path on the dev
	// server in development, a full URL or path in production.
	StaticURL string `mapstructure:"static_url" yaml:"static_url"`

	Production ProductionConfig `mapstructure:"production" yaml:"production"`
	Resolve    ResolveConfig    `mapstructure:"resolve" yaml:"resolve"`
	SSR        SSRConfig        `mapstructure:"ssr" yaml:"ssr"`
	React      ReactConfig      `mapstructure:"react" yaml:"react"`
	Dev        DevConfig        `mapstructure:"dev" yaml:"dev"`
	Extract    ExtractConfig    `mapstructure:"extract" yaml:"extract"`
}

type ProductionConfig struct {
	// Dir is where client builds are written; contains manifest.json.
	Dir string `mapstructure:"dir" yaml:"dir"`
	// SSRDir is where SSR builds are written.
	SSRDir string `mapstructure:"ssr_dir" yaml:"ssr_dir"`
}

// Alias rewrites import paths with a regular expression, e.g.
// "^@components/" -> "frontend/src/components/".
type Alias struct {
	Find    string `mapstructure:"find" yaml:"find"`
	Replace string `mapstructure:"replace" yaml:"replace"`
}

type ResolveConfig struct {
	// Extensions are tried when a referenced path has no suffix.
	Extensions []string `mapstructure:"extensions" yaml:"extensions"`
	// Aliases are tried in order before the other resolvers.
	Aliases []Alias `mapstructure:"aliases" yaml:"aliases"`
	// SourceDirs are the directories non-relative paths resolve against.
	SourceDirs []string `mapstructure:"source_dirs" yaml:"source_dirs"`
	// NodeModulesDir defaults to node_modules under the root.
	NodeModulesDir string `mapstructure:"node_modules_dir" yaml:"node_modules_dir"`
}

type SSRConfig struct {
	Enabled bool `mapstructure:"enabled" yaml:"enabled"`
	// URL of the production SSR service. Development uses the dev server.
	URL string `mapstructure:"url" yaml:"url"`
	// Engine is http or quickjs.
	Engine string `mapstructure:"engine" yaml:"engine"`
	// Bundle is the server bundle the quickjs engine loads.
	Bundle string `mapstructure:"bundle" yaml:"bundle"`
	// GlobalContext is merged into every render's global context.
	GlobalContext map[string]any `mapstructure:"global_context" yaml:"global_context"`
}

type ReactConfig struct {
	// RenderComponent is the module exporting renderComponent and
	// createElement.
	RenderComponent string `mapstructure:"render_component" yaml:"render_component"`
	// ContainerTag is the element components render into.
	ContainerTag string `mapstructure:"container_tag" yaml:"container_tag"`
}

type DevConfig struct {
	// FormatLimit caps the size of generated code sent to the dev server
	// for formatting; 0 means no limit.
	FormatLimit int `mapstructure:"format_limit" yaml:"format_limit"`
	// FormatTimeout bounds the format-code request.
	FormatTimeout time.Duration `mapstructure:"format_timeout" yaml:"format_timeout"`
	// DisableCheckHTML turns off the dev server liveness check.
	DisableCheckHTML bool `mapstructure:"disable_check_html" yaml:"disable_check_html"`
}

type ExtractConfig struct {
	// TemplateDirs are scanned for asset references.
	TemplateDirs []string `mapstructure:"template_dirs" yaml:"template_dirs"`
	// ExcludeDirs are skipped during the scan.
	ExcludeDirs []string `mapstructure:"exclude_dirs" yaml:"exclude_dirs"`
	// OutDir is where builds and the entry list are written.
	OutDir string `mapstructure:"out_dir" yaml:"out_dir"`
}

// SetDefaults registers defaults on v. Call before reading the config
// file so explicit settings win.
func SetDefaults(v *viper.Viper) {
	v.SetDefault("mode", "development")
	// empty defaults register the keys so environment-only values are
	// seen by Unmarshal
	v.SetDefault("root_dir", "")
	v.SetDefault("server_url", "")
	v.SetDefault("static_url", "/assets/")
	v.SetDefault("resolve.extensions", []string{".ts", ".tsx"})
	v.SetDefault("ssr.engine", "http")
	v.SetDefault("react.render_component", "frontend/src/renderComponent.tsx")
	v.SetDefault("react.container_tag", "dj-component")
	v.SetDefault("dev.format_timeout", "5s")
	v.SetDefault("extract.out_dir", "dist")
	v.SetDefault("extract.template_dirs", []string{"."})
}

// Load unmarshals and validates the configuration held by v.
func Load(v *viper.Viper) (*Config, error) {
	var config Config
	if err := v.Unmarshal(&config); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}
	if config.RootDir == "" {
		config.RootDir = "."
	}
	rootDir, err := filepath.Abs(config.RootDir)
	if err != nil {
		return nil, err
	}
	config.RootDir = rootDir
	if err := config.Validate(); err != nil {
		return nil, err
	}
	return &config, nil
}

func (c *Config) Validate() error {
	switch c.Mode {
	case "development", "production", "preview":
	default:
		return fmt.Errorf("mode must be one of development, production, preview; received '%s'", c.Mode)
	}
	if c.Mode == "development" && c.ServerURL == "" {
		return fmt.Errorf("server_url is required in development mode")
	}
	if c.Mode != "development" && c.Production.Dir == "" {
		return fmt.Errorf("production.dir is required in %s mode", c.Mode)
	}
	if c.SSR.Enabled && c.Mode != "development" && c.Production.SSRDir == "" {
		return fmt.Errorf("production.ssr_dir is required when SSR is enabled in %s mode", c.Mode)
	}
	switch c.SSR.Engine {
	case "", "http", "quickjs":
	default:
		return fmt.Errorf("ssr.engine must be http or quickjs; received '%s'", c.SSR.Engine)
	}
	if c.SSR.Engine == "quickjs" && c.SSR.Bundle == "" {
		return fmt.Errorf("ssr.bundle is required with the quickjs engine")
	}
	for _, alias := range c.Resolve.Aliases {
		if alias.Find == "" {
			return fmt.Errorf("resolve.aliases entries need a find expression")
		}
	}
	return nil
}

// AbsPath resolves path against the config root.
func (c *Config) AbsPath(path string) string {
	if path == "" || filepath.IsAbs(path) {
		return path
	}
	return filepath.Join(c.RootDir, path)
}

// PathResolvers builds the resolver chain the bundler uses: aliases
// first, then source dirs, then paths relative to the referencing file.
func (c *Config) PathResolvers() ([]bundler.PathResolver, error) {
	var resolvers []bundler.PathResolver
	for _, alias := range c.Resolve.Aliases {
		resolver, err := bundler.NewRegExAliasResolver(alias.Find, alias.Replace)
		if err != nil {
			return nil, fmt.Errorf("invalid resolve.aliases expression '%s': %w", alias.Find, err)
		}
		resolvers = append(resolvers, resolver)
	}
	for _, dir := range c.Resolve.SourceDirs {
		resolvers = append(resolvers, bundler.SourceDirResolver{BaseDir: c.AbsPath(dir)})
	}
	resolvers = append(resolvers, bundler.RelativePathResolver{})
	return resolvers, nil
}

// ViteBundlerConfig maps the configuration onto the bundler's own config
// struct. The caller supplies the pieces that don't come from yaml, e.g.
// the logger and the vanilla-extract resolver.
func (c *Config) ViteBundlerConfig() (bundler.ViteBundlerConfig, error) {
	resolvers, err := c.PathResolvers()
	if err != nil {
		return bundler.ViteBundlerConfig{}, err
	}
	cfg := bundler.ViteBundlerConfig{
		RootDir:              c.RootDir,
		PathResolvers:        resolvers,
		BuildDir:             c.AbsPath(c.Production.Dir),
		ServerBuildDir:       c.AbsPath(c.Production.SSRDir),
		NodeModulesDir:       c.AbsPath(c.Resolve.NodeModulesDir),
		StaticURL:            c.StaticURL,
		Mode:                 bundler.ViteMode(c.Mode),
		DisableSSR:           !c.SSR.Enabled,
		ProductionSSRURL:     c.SSR.URL,
		DevCodeFormatLimit:   c.Dev.FormatLimit,
		DevCodeFormatTimeout: c.Dev.FormatTimeout,
	}
	if cfg.NodeModulesDir == "" {
		cfg.NodeModulesDir = filepath.Join(c.RootDir, "node_modules")
	}
	if c.Mode == "development" {
		parsed, err := url.Parse(c.ServerURL)
		if err != nil {
			return bundler.ViteBundlerConfig{}, fmt.Errorf("invalid server_url: %w", err)
		}
		if parsed.Scheme == "" || parsed.Hostname() == "" {
			return bundler.ViteBundlerConfig{}, fmt.Errorf("server_url must include scheme and host; received '%s'", c.ServerURL)
		}
		cfg.ServerProtocol = parsed.Scheme
		cfg.ServerHost = parsed.Hostname()
		cfg.ServerPort = parsed.Port()
		if cfg.ServerPort == "" {
			if parsed.Scheme == "https" {
				cfg.ServerPort = "443"
			} else {
				cfg.ServerPort = "80"
			}
		}
	}
	return cfg, nil
}
