package logging

import (
	"bytes"
	"strings"
	"testing"
)

func TestLoggerLevelFiltering(t *testing.T) {
	var buf bytes.Buffer
	logger := NewLogger(&Config{Level: LevelWarn, Output: &buf})

	logger.Debug("should not appear")
	logger.Info("should not appear either")
	logger.Warn("this one shows", "region", 7)
	logger.Error("and this one", "shmId", "0000000000000042")

	out := buf.String()
	if strings.Contains(out, "should not appear") {
		t.Fatalf("debug/info lines leaked through a Warn-level logger: %q", out)
	}
	if !strings.Contains(out, "[WARN] this one shows region=7") {
		t.Errorf("missing warn line with args, got: %q", out)
	}
	if !strings.Contains(out, "[ERROR] and this one shmId=0000000000000042") {
		t.Errorf("missing error line with args, got: %q", out)
	}
}

func TestLoggerWithBakesInFields(t *testing.T) {
	var buf bytes.Buffer
	logger := NewLogger(&Config{Level: LevelInfo, Output: &buf})
	child := logger.With("region", "fmq_0000000000000042_rg_1")

	child.Info("ack send failed", "err", "would block")
	parentBuf := buf.String()
	if !strings.Contains(parentBuf, "[INFO] ack send failed region=fmq_0000000000000042_rg_1 err=would block") {
		t.Errorf("missing baked-in region field, got: %q", parentBuf)
	}

	buf.Reset()
	logger.Info("no baked-in fields here")
	if strings.Contains(buf.String(), "region=") {
		t.Errorf("With must not mutate the parent logger, got: %q", buf.String())
	}
}

func TestDefaultLoggerIsSingleton(t *testing.T) {
	a := Default()
	b := Default()
	if a != b {
		t.Fatalf("Default() returned distinct instances")
	}
}

func TestSetDefault(t *testing.T) {
	var buf bytes.Buffer
	custom := NewLogger(&Config{Level: LevelDebug, Output: &buf})
	SetDefault(custom)
	t.Cleanup(func() { SetDefault(NewLogger(nil)) })

	Info("via package func")
	if !strings.Contains(buf.String(), "via package func") {
		t.Errorf("package-level Info did not reach the configured default logger")
	}
}
