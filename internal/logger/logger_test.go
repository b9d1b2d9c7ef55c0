package logger

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/sirupsen/logrus"
)

func TestInitLevelAndFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "logs", "finanalyzer.log")
	if err := Init("debug", path); err != nil {
		t.Fatalf("init failed: %v", err)
	}
	t.Cleanup(func() { _ = Init("info", "") })

	if Log.GetLevel() != logrus.DebugLevel {
		t.Errorf("expected debug level, got %v", Log.GetLevel())
	}

	Log.WithField("file", "q3.pdf").Info("analysis started")

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("reading log file: %v", err)
	}
	if !strings.Contains(string(data), "analysis started") || !strings.Contains(string(data), "file=q3.pdf") {
		t.Errorf("expected message and field in log file, got %q", string(data))
	}
}

func TestInitUnknownLevelFallsBackToInfo(t *testing.T) {
	if err := Init("loud", ""); err != nil {
		t.Fatalf("init failed: %v", err)
	}
	if Log.GetLevel() != logrus.InfoLevel {
		t.Errorf("expected info level, got %v", Log.GetLevel())
	}
}
