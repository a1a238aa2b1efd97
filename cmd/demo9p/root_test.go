package main

import (
	"bytes"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/spf13/pflag"

	"github.com/NERVsystems/demo9p/internal/config"
)

func serveFlags(t *testing.T, args ...string) *pflag.FlagSet {
	t.Helper()
	fs := pflag.NewFlagSet("serve", pflag.ContinueOnError)
	fs.StringP("config", "c", "", "")
	fs.String("addr", "", "")
	fs.String("backing", "", "")
	fs.String("output", "", "")
	fs.Bool("hide-files", false, "")
	fs.Bool("debug", false, "")
	if err := fs.Parse(args); err != nil {
		t.Fatalf("parse flags: %v", err)
	}
	return fs
}

func TestLoadConfig_Defaults(t *testing.T) {
	cfg, path, err := loadConfig(serveFlags(t))
	if err != nil {
		t.Fatalf("loadConfig: %v", err)
	}
	if path != "" {
		t.Errorf("path = %q, want empty", path)
	}
	want := config.Default()
	if cfg.ListenAddr != want.ListenAddr || cfg.BackingDir != want.BackingDir || cfg.HideFiles {
		t.Errorf("cfg = %+v, want defaults", cfg)
	}
}

func TestLoadConfig_Overrides(t *testing.T) {
	dir := t.TempDir()
	file := filepath.Join(dir, "demo9p.yaml")
	yaml := "listen_addr: \":7000\"\nbacking_dir: /srv/game\noutput_dir: /srv/out\n"
	if err := os.WriteFile(file, []byte(yaml), 0o644); err != nil {
		t.Fatal(err)
	}

	tests := []struct {
		name        string
		args        []string
		env         map[string]string
		wantAddr    string
		wantBacking string
		wantHide    bool
	}{
		{
			name:        "file only",
			args:        []string{"-c", file},
			wantAddr:    ":7000",
			wantBacking: "/srv/game",
		},
		{
			name:        "flag beats file",
			args:        []string{"-c", file, "--addr", ":7001", "--hide-files"},
			wantAddr:    ":7001",
			wantBacking: "/srv/game",
			wantHide:    true,
		},
		{
			name:        "env beats file",
			args:        []string{"-c", file},
			env:         map[string]string{"DEMO9P_BACKING_DIR": "/env/game"},
			wantAddr:    ":7000",
			wantBacking: "/env/game",
		},
		{
			name:        "flag beats env",
			args:        []string{"-c", file, "--backing", "/flag/game"},
			env:         map[string]string{"DEMO9P_BACKING_DIR": "/env/game"},
			wantAddr:    ":7000",
			wantBacking: "/flag/game",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			for k, v := range tt.env {
				t.Setenv(k, v)
			}
			cfg, path, err := loadConfig(serveFlags(t, tt.args...))
			if err != nil {
				t.Fatalf("loadConfig: %v", err)
			}
			if path != file {
				t.Errorf("path = %q, want %q", path, file)
			}
			if cfg.ListenAddr != tt.wantAddr {
				t.Errorf("ListenAddr = %q, want %q", cfg.ListenAddr, tt.wantAddr)
			}
			if cfg.BackingDir != tt.wantBacking {
				t.Errorf("BackingDir = %q, want %q", cfg.BackingDir, tt.wantBacking)
			}
			if cfg.HideFiles != tt.wantHide {
				t.Errorf("HideFiles = %v, want %v", cfg.HideFiles, tt.wantHide)
			}
		})
	}
}

func TestLoadConfig_Invalid(t *testing.T) {
	if _, _, err := loadConfig(serveFlags(t, "--addr", "")); err == nil {
		t.Fatal("expected error for empty listen address")
	}
}

func TestNewLogger(t *testing.T) {
	var buf bytes.Buffer
	level := new(slog.LevelVar)
	level.Set(slog.LevelWarn)
	log := newLogger(&buf, config.FormatJSON, level)

	log.Info("hidden")
	if buf.Len() != 0 {
		t.Fatalf("info logged at warn level: %s", buf.String())
	}
	level.Set(slog.LevelDebug)
	log.Debug("shown", "key", "demo")
	if !strings.Contains(buf.String(), `"msg":"shown"`) {
		t.Errorf("output = %q, want JSON record", buf.String())
	}
}

func TestLogLevel(t *testing.T) {
	cfg := config.Default()
	if got := logLevel(cfg); got != slog.LevelInfo {
		t.Errorf("logLevel = %v, want info", got)
	}
	cfg.Debug = true
	if got := logLevel(cfg); got != slog.LevelDebug {
		t.Errorf("logLevel with debug = %v, want debug", got)
	}
}
