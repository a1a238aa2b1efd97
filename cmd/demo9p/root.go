package main

import (
	"fmt"
	"io"
	"log/slog"
	"strings"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"

	"github.com/NERVsystems/demo9p/internal/config"
)

// version is set at build time with -ldflags "-X main.version=...".
var version = "dev"

var rootCmd = &cobra.Command{
	Use:   "demo9p",
	Short: "9P file server that intercepts game movie captures",
	Long: `demo9p exports a backing directory over 9P. Numbered .tga frames and the
.wav stream a game writes while recording a movie are intercepted, converted
to PNG and WAV in the output directory, and never reach the backing store.
Every other file passes through unchanged.`,
	SilenceUsage:  true,
	SilenceErrors: true,
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print the version",
	Run: func(cmd *cobra.Command, _ []string) {
		fmt.Fprintln(cmd.OutOrStdout(), "demo9p", version)
	},
}

// Execute runs the root command
func Execute() error {
	return rootCmd.Execute()
}

func init() {
	rootCmd.PersistentFlags().StringP("config", "c", "", "YAML config file; reloaded when it changes")
	rootCmd.AddCommand(serveCmd, versionCmd)
}

// overrides maps config keys to the serve flags that set them. Each key can
// also come from the environment as DEMO9P_<KEY>.
var overrides = map[string]string{
	"listen_addr": "addr",
	"backing_dir": "backing",
	"output_dir":  "output",
	"hide_files":  "hide-files",
	"debug":       "debug",
}

// loadConfig reads the config file named by --config, if any, then applies
// environment variables and explicitly set flags on top.
func loadConfig(flags *pflag.FlagSet) (*config.Config, string, error) {
	path, err := flags.GetString("config")
	if err != nil {
		return nil, "", err
	}

	cfg := config.Default()
	if path != "" {
		if cfg, err = config.Load(path); err != nil {
			return nil, "", err
		}
	}

	v := viper.New()
	v.SetEnvPrefix("DEMO9P")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	for key, name := range overrides {
		if f := flags.Lookup(name); f != nil {
			if err := v.BindPFlag(key, f); err != nil {
				return nil, "", err
			}
		}
	}

	if v.IsSet("listen_addr") {
		cfg.ListenAddr = v.GetString("listen_addr")
	}
	if v.IsSet("backing_dir") {
		cfg.BackingDir = v.GetString("backing_dir")
	}
	if v.IsSet("output_dir") {
		cfg.OutputDir = v.GetString("output_dir")
	}
	if v.IsSet("hide_files") {
		cfg.HideFiles = v.GetBool("hide_files")
	}
	if v.IsSet("debug") {
		cfg.Debug = v.GetBool("debug")
	}

	if err := config.Validate(cfg); err != nil {
		return nil, "", err
	}
	return cfg, path, nil
}

// logLevel is the effective level for cfg; debug mode forces debug logs.
func logLevel(cfg *config.Config) slog.Level {
	if cfg.Debug {
		return slog.LevelDebug
	}
	return cfg.Log.Level.Level()
}

// newLogger builds the process logger. level stays adjustable after
// startup.
func newLogger(w io.Writer, format config.LogFormat, level *slog.LevelVar) *slog.Logger {
	opts := &slog.HandlerOptions{Level: level}
	if format == config.FormatJSON {
		return slog.New(slog.NewJSONHandler(w, opts))
	}
	return slog.New(slog.NewTextHandler(w, opts))
}
