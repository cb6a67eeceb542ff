package obslog

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"go.uber.org/zap/zapcore"

	"github.com/park285/cheese-chess-server/internal/config"
)

func TestParseLevel(t *testing.T) {
	cases := map[string]zapcore.Level{
		"debug":   zapcore.DebugLevel,
		"WARN":    zapcore.WarnLevel,
		"warning": zapcore.WarnLevel,
		" error ": zapcore.ErrorLevel,
		"bogus":   zapcore.InfoLevel,
		"":        zapcore.InfoLevel,
	}
	for in, want := range cases {
		if got := parseLevel(in); got != want {
			t.Fatalf("parseLevel(%q) = %v, want %v", in, got, want)
		}
	}
}

func TestInitWritesJSONFile(t *testing.T) {
	t.Cleanup(Replace(L()))
	path := filepath.Join(t.TempDir(), "nested", "server.log")
	if err := Init(config.LogConfig{Level: "info", Format: "json", File: path, ToFile: true}); err != nil {
		t.Fatalf("Init: %v", err)
	}

	L().Info("game_create")
	Sync()

	raw, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read log: %v", err)
	}
	if !strings.Contains(string(raw), `"msg":"game_create"`) {
		t.Fatalf("log file missing event: %s", raw)
	}
}
