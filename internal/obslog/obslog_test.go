package obslog

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

func TestConfigFromEnv_Defaults(t *testing.T) {
	for _, k := range []string{"LOG_LEVEL", "LOG_FORMAT", "LOG_TO_CONSOLE", "LOG_TO_FILE", "LOG_FILE", "LOG_CALLER"} {
		t.Setenv(k, "")
	}
	cfg := ConfigFromEnv()
	if cfg.Level != "info" || cfg.Format != "legacy" || !cfg.Console || cfg.ToFile || cfg.Caller {
		t.Fatalf("unexpected defaults: %+v", cfg)
	}
}

func TestInit_WritesJSONToFile(t *testing.T) {
	t.Cleanup(func() { Set(nil) })
	path := filepath.Join(t.TempDir(), "nested", "app.log")
	logger, err := Init(Config{Level: "debug", Format: "json", ToFile: true, File: path})
	if err != nil {
		t.Fatalf("Init: %v", err)
	}
	if L() != logger {
		t.Fatalf("Init did not install the logger globally")
	}
	L().Info("game_move", zap.String("game_id", "g1"))
	_ = L().Sync()

	raw, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read log: %v", err)
	}
	if !strings.Contains(string(raw), `"msg":"game_move"`) || !strings.Contains(string(raw), `"game_id":"g1"`) {
		t.Fatalf("unexpected log output: %s", raw)
	}
}

func TestParseLevel(t *testing.T) {
	cases := map[string]zapcore.Level{
		"debug":   zapcore.DebugLevel,
		"WARNING": zapcore.WarnLevel,
		"error":   zapcore.ErrorLevel,
		"":        zapcore.InfoLevel,
		"bogus":   zapcore.InfoLevel,
	}
	for in, want := range cases {
		if got := parseLevel(in); got != want {
			t.Errorf("parseLevel(%q) = %v, want %v", in, got, want)
		}
	}
}
