// Package cmd provides the apfrontend command line interface.
//
// Configuration is loaded with the usual precedence: command line flags
// override APFRONTEND_* environment variables, which override the config
// file (.apfrontend.yml in the current directory unless --config or
// APFRONTEND_CONFIG_FILE point elsewhere).
package cmd

import (
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"

	"github.com/alliancesoftware/apfrontend/internal/config"
	"github.com/alliancesoftware/apfrontend/internal/logging"
)

var (
	cfgFile   string
	logLevel  string
	logFormat string
)

var rootCmd = &cobra.Command{
	Use:   "apfrontend",
	Short: "Vite asset bundling and SSR tooling for Go rendered pages",
	Long: `apfrontend bridges Go rendered pages and a Vite frontend build:
resolving asset paths, embedding built bundles and server side rendering
React components.

Quick start:
  apfrontend check                 Diagnose the project setup
  apfrontend extract               List the assets templates reference
  apfrontend extract --build       Build them and write manifest.json`,
	SilenceUsage: true,
}

// Execute runs the root command.
func Execute() error {
	return rootCmd.Execute()
}

func init() {
	cobra.OnInitialize(initConfig)

	// config keys use underscores; accept them for flags too
	rootCmd.PersistentFlags().SetNormalizeFunc(func(f *pflag.FlagSet, name string) pflag.NormalizedName {
		return pflag.NormalizedName(strings.ReplaceAll(name, "_", "-"))
	})
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default .apfrontend.yml, can also use APFRONTEND_CONFIG_FILE)")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "info", "log level (debug, info, warn, error)")
	rootCmd.PersistentFlags().StringVar(&logFormat, "log-format", "text", "log format (text, json)")
	rootCmd.PersistentFlags().String("root-dir", "", "project root directory")
	rootCmd.PersistentFlags().String("mode", "", "bundler mode (development, production, preview)")
	viper.BindPFlag("root_dir", rootCmd.PersistentFlags().Lookup("root-dir"))
	viper.BindPFlag("mode", rootCmd.PersistentFlags().Lookup("mode"))
}

func initConfig() {
	if cfgFile != "" {
		viper.SetConfigFile(cfgFile)
	} else if envConfigFile := os.Getenv("APFRONTEND_CONFIG_FILE"); envConfigFile != "" {
		viper.SetConfigFile(envConfigFile)
	} else {
		viper.AddConfigPath(".")
		viper.SetConfigType("yaml")
		viper.SetConfigName(".apfrontend")
	}

	config.SetDefaults(viper.GetViper())
	viper.SetEnvPrefix("APFRONTEND")
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	viper.AutomaticEnv()

	// a missing config file is fine, everything can come from env/flags
	if err := viper.ReadInConfig(); err == nil {
		fmt.Fprintln(os.Stderr, "Using config file:", viper.ConfigFileUsed())
	}
}

func loadConfig() (*config.Config, error) {
	return config.Load(viper.GetViper())
}

func newLogger() (logging.Logger, error) {
	level, err := logging.ParseLevel(logLevel)
	if err != nil {
		return nil, err
	}
	return logging.NewLogger(&logging.Config{
		Level:  level,
		Format: logFormat,
		Output: os.Stderr,
	}), nil
}
