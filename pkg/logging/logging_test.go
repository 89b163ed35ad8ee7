package logging

import (
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestNewLogger_InvalidOptions(t *testing.T) {
	if _, err := NewLogger(Options{Level: "verbose"}); err == nil {
		t.Error("expected error for invalid level")
	}
	if _, err := NewLogger(Options{Format: "xml"}); err == nil {
		t.Error("expected error for invalid format")
	}
}

func TestNewLogger_WritesJSONWithFields(t *testing.T) {
	path := filepath.Join(t.TempDir(), "vtn.log")
	logger, err := NewLogger(Options{Level: LevelInfo, Format: FormatJSON, OutputPath: path})
	if err != nil {
		t.Fatalf("NewLogger failed: %v", err)
	}

	LoggerForNetwork(logger.WithName("store"), "net-1", 7).Info("Network created")
	logger.V(1).Info("dropped at info level")
	if err := logger.SetLevel(LevelDebug); err != nil {
		t.Fatal(err)
	}
	logger.V(1).Info("kept at debug level")
	_ = logger.Sync()

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	lines := strings.Split(strings.TrimSpace(string(data)), "\n")
	if len(lines) != 2 {
		t.Fatalf("got %d entries, want 2: %q", len(lines), data)
	}

	var entry map[string]interface{}
	if err := json.Unmarshal([]byte(lines[0]), &entry); err != nil {
		t.Fatalf("entry is not JSON: %v", err)
	}
	for key, want := range map[string]interface{}{
		"msg":     "Network created",
		"logger":  "store",
		"network": "net-1",
		"segment": float64(7),
		"app":     "org.zstack.vtn",
	} {
		if entry[key] != want {
			t.Errorf("%s = %v, want %v", key, entry[key], want)
		}
	}
}

func TestSetLevel_Invalid(t *testing.T) {
	if err := NewNopLogger().SetLevel("loud"); err == nil {
		t.Error("expected error")
	}
}
