package logging

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/sirupsen/logrus"

	"reels-pipeline/config"
)

func TestSetupWritesToRotatingFile(t *testing.T) {
	dir := t.TempDir()
	closer, err := Setup(config.LogConfig{Level: "debug"}, dir)
	if err != nil {
		t.Fatalf("Setup: %v", err)
	}
	defer func() {
		logrus.SetOutput(os.Stderr)
		closer.Close()
	}()

	Stage("test").Info("hello")

	data, err := os.ReadFile(filepath.Join(dir, "reels.log"))
	if err != nil {
		t.Fatalf("read log: %v", err)
	}
	if len(data) == 0 {
		t.Fatal("log file is empty")
	}
	if logrus.GetLevel() != logrus.DebugLevel {
		t.Errorf("level = %v, want debug", logrus.GetLevel())
	}
}

func TestSetupFallsBackToInfo(t *testing.T) {
	closer, err := Setup(config.LogConfig{Level: "chatty"}, t.TempDir())
	if err != nil {
		t.Fatalf("Setup: %v", err)
	}
	defer func() {
		logrus.SetOutput(os.Stderr)
		closer.Close()
	}()
	if logrus.GetLevel() != logrus.InfoLevel {
		t.Errorf("level = %v, want info", logrus.GetLevel())
	}
}
