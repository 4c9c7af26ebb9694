package logger

import (
	"testing"

	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"
)

func TestInitConfiguresGlobalLogger(t *testing.T) {
	t.Cleanup(func() {
		globalLogger = zap.NewNop()
	})

	if err := Init("debug", "json"); err != nil {
		t.Fatalf("Init returned error: %v", err)
	}

	if !Logger().Core().Enabled(zap.DebugLevel) {
		t.Fatal("expected logger to enable debug level")
	}
}

func TestInitFallsBackToInfo(t *testing.T) {
	t.Cleanup(func() {
		globalLogger = zap.NewNop()
	})

	if err := Init("verbose", "console"); err != nil {
		t.Fatalf("Init returned error: %v", err)
	}

	core := Logger().Core()
	if core.Enabled(zap.DebugLevel) {
		t.Fatal("unknown level should not enable debug")
	}
	if !core.Enabled(zap.InfoLevel) {
		t.Fatal("expected info level to be enabled")
	}
}

func TestReplaceRestoresPrevious(t *testing.T) {
	core, recorded := observer.New(zap.InfoLevel)
	restore := Replace(zap.New(core))

	Info("captured")
	restore()
	Info("dropped")

	if recorded.Len() != 1 {
		t.Fatalf("expected 1 entry, got %d", recorded.Len())
	}
}

func TestLoggingHelpersEmitEntries(t *testing.T) {
	core, recorded := observer.New(zap.DebugLevel)
	t.Cleanup(Replace(zap.New(core)))

	Info("info message", zap.String("k", "v"))
	Error("error message")
	Warn("warn message")
	Debug("debug message")

	messages := recorded.All()
	want := []string{"info message", "error message", "warn message", "debug message"}
	if len(messages) != len(want) {
		t.Fatalf("expected %d log entries, got %d", len(want), len(messages))
	}
	for i, entry := range messages {
		if entry.Message != want[i] {
			t.Fatalf("entry %d message = %q, want %q", i, entry.Message, want[i])
		}
	}
	if field := messages[0].ContextMap()["k"]; field != "v" {
		t.Fatalf("expected field \"k\" to equal \"v\", got %v", field)
	}
}

func TestWithSessionAttachesIdentity(t *testing.T) {
	core, recorded := observer.New(zap.InfoLevel)
	t.Cleanup(Replace(zap.New(core)))

	WithSession("oracle", "sess-1", "user-1").Info("refreshed")

	entries := recorded.All()
	if len(entries) != 1 {
		t.Fatalf("expected 1 entry, got %d", len(entries))
	}
	ctx := entries[0].ContextMap()
	if ctx["module"] != "oracle" || ctx["session_id"] != "sess-1" || ctx["user_id"] != "user-1" {
		t.Fatalf("unexpected context fields: %v", ctx)
	}
}
