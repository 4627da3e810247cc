package logging

import (
	"bytes"
	"encoding/json"
	"strings"
	"testing"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// restoreGlobal undoes Setup's changes to the package-level logger state.
func restoreGlobal(t *testing.T) {
	t.Helper()
	level, logger := zerolog.GlobalLevel(), log.Logger
	t.Cleanup(func() {
		zerolog.SetGlobalLevel(level)
		log.Logger = logger
	})
}

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()

	if cfg.Level != zerolog.InfoLevel {
		t.Errorf("Expected default level to be info, got %s", cfg.Level)
	}
	if cfg.Pretty {
		t.Error("Expected JSON output by default")
	}
}

func TestConfigForEnvironment(t *testing.T) {
	tests := []struct {
		env    string
		level  zerolog.Level
		pretty bool
	}{
		{"production", zerolog.InfoLevel, false},
		{"prod", zerolog.InfoLevel, false},
		{"development", zerolog.DebugLevel, true},
		{"", zerolog.DebugLevel, true},
	}

	for _, tt := range tests {
		t.Run(tt.env, func(t *testing.T) {
			cfg := ConfigForEnvironment(tt.env)
			if cfg.Level != tt.level {
				t.Errorf("level = %s, want %s", cfg.Level, tt.level)
			}
			if cfg.Pretty != tt.pretty {
				t.Errorf("pretty = %v, want %v", cfg.Pretty, tt.pretty)
			}
			if cfg.Environment != tt.env {
				t.Errorf("environment = %q, want %q", cfg.Environment, tt.env)
			}
		})
	}
}

func TestParseLevel(t *testing.T) {
	tests := []struct {
		input   string
		want    zerolog.Level
		wantErr bool
	}{
		{"debug", zerolog.DebugLevel, false},
		{"INFO", zerolog.InfoLevel, false},
		{"", zerolog.InfoLevel, false},
		{"warn", zerolog.WarnLevel, false},
		{"warning", zerolog.WarnLevel, false},
		{" error ", zerolog.ErrorLevel, false},
		{"verbose", zerolog.NoLevel, true},
	}

	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			got, err := ParseLevel(tt.input)
			if (err != nil) != tt.wantErr {
				t.Fatalf("ParseLevel(%q) error = %v, wantErr %v", tt.input, err, tt.wantErr)
			}
			if got != tt.want {
				t.Errorf("ParseLevel(%q) = %v, want %v", tt.input, got, tt.want)
			}
		})
	}
}

func TestSetup_TagsEnvironment(t *testing.T) {
	restoreGlobal(t)
	buf := &bytes.Buffer{}
	Setup(Config{Level: zerolog.InfoLevel, Environment: "staging", Output: buf})

	logger := NewLogger("pool")
	logger.Info().Str("pool", "db").Msg("acquired")

	var line map[string]any
	if err := json.Unmarshal(buf.Bytes(), &line); err != nil {
		t.Fatalf("output is not one JSON line: %q", buf.String())
	}
	for field, want := range map[string]string{"env": "staging", "component": "pool", "pool": "db", "message": "acquired"} {
		if line[field] != want {
			t.Errorf("%s = %v, want %q", field, line[field], want)
		}
	}
	if _, ok := line["time"]; !ok {
		t.Error("record has no timestamp")
	}
}

func TestSetup_NoEnvironmentField(t *testing.T) {
	restoreGlobal(t)
	buf := &bytes.Buffer{}
	Setup(Config{Level: zerolog.InfoLevel, Output: buf})

	logger := NewLogger("retry")
	logger.Info().Msg("ok")
	if strings.Contains(buf.String(), `"env"`) {
		t.Errorf("unexpected env field: %s", buf.String())
	}
}

func TestSetup_Pretty(t *testing.T) {
	restoreGlobal(t)
	buf := &bytes.Buffer{}
	Setup(Config{Level: zerolog.InfoLevel, Pretty: true, Output: buf})

	logger := NewLogger("token")
	logger.Info().Msg("refreshed")
	out := buf.String()
	if strings.HasPrefix(out, "{") {
		t.Errorf("pretty output should not be JSON: %q", out)
	}
	if !strings.Contains(out, "refreshed") {
		t.Errorf("message missing: %q", out)
	}
}

func TestSetup_NilOutput(t *testing.T) {
	restoreGlobal(t)
	logger := Setup(Config{Level: zerolog.ErrorLevel})
	logger.Debug().Msg("discarded")
}

func TestSetup_LevelFiltering(t *testing.T) {
	restoreGlobal(t)
	buf := &bytes.Buffer{}
	Setup(Config{Level: zerolog.WarnLevel, Output: buf})

	logger := NewLogger("aggregator")
	logger.Debug().Msg("page fetched")
	logger.Info().Msg("aggregation finished")
	logger.Warn().Msg("partial aggregation")
	logger.Error().Msg("retries exhausted")

	out := buf.String()
	for _, dropped := range []string{"page fetched", "aggregation finished"} {
		if strings.Contains(out, dropped) {
			t.Errorf("%q should be filtered at warn", dropped)
		}
	}
	for _, kept := range []string{"partial aggregation", "retries exhausted"} {
		if !strings.Contains(out, kept) {
			t.Errorf("%q should be written at warn", kept)
		}
	}
}
