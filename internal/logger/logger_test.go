package logger

import (
	"testing"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
)

func TestStageField(t *testing.T) {
	core, logs := observer.New(zapcore.DebugLevel)
	restore := Replace(zap.New(core))
	defer restore()

	Stage("resolve").Info("Edges written", zap.Int("edges", 3))

	entries := logs.All()
	if len(entries) != 1 {
		t.Fatalf("entries = %d, want 1", len(entries))
	}
	fields := entries[0].ContextMap()
	if fields["stage"] != "resolve" || fields["edges"] != int64(3) {
		t.Errorf("fields = %v", fields)
	}
}

func TestReplaceRestores(t *testing.T) {
	before := Get()
	restore := Replace(zap.NewNop())
	if Get() == before {
		t.Error("Replace() did not swap the logger")
	}
	restore()
	if Get() != before {
		t.Error("restore did not bring back the previous logger")
	}
}
