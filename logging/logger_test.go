package logging

import (
	"context"
	"fmt"
	"log/slog"
	"testing"
	"time"

	"github.com/kinetra/sync-engine/errors"
)

func TestLogger(t *testing.T) {
	configs := []Config{
		{Level: "debug", Format: "text", Environment: "dev", AddSource: true},
		{Level: "info", Format: "json", Environment: "prod", AddSource: false},
	}

	for _, config := range configs {
		t.Run("Environment_"+config.Environment, func(t *testing.T) {
			logger := NewLogger(config)

			logger.Debug("Debug message", slog.String("key", "value"))
			logger.Info("Info message", slog.Int("count", 42))
			logger.Warn("Warning message", slog.Bool("enabled", true))

			testErr := errors.New(errors.OpPersist, fmt.Errorf("storage error"))
			logger.LogError(context.Background(), testErr, "Operation failed")

			childLogger := logger.WithComponent(Component("queue"))
			childLogger.Info("Child logger message")

			err := logger.LogOperation(
				context.Background(),
				"drain",
				Component("service"),
				func() error {
					time.Sleep(10 * time.Millisecond)
					return nil
				},
			)
			if err != nil {
				t.Errorf("Unexpected error: %v", err)
			}
		})
	}
}

func TestLogOperation_PropagatesError(t *testing.T) {
	logger := NewLogger(Config{Level: "debug", Format: "text", Environment: "test"})

	want := fmt.Errorf("operation broke")
	got := logger.LogOperation(context.Background(), "send", Component("transport"), func() error {
		return want
	})
	if got != want {
		t.Errorf("expected %v, got %v", want, got)
	}
}

func TestSyncErrorValuer(t *testing.T) {
	syncErr := &errors.SyncError{
		Op:        errors.OpSend,
		Component: "transport",
		Code:      errors.ErrCodeNetworkFailure,
		Err:       fmt.Errorf("underlying error"),
		Retryable: true,
		Metadata: map[string]interface{}{
			"retry_count": 3,
			"timeout":     "30s",
		},
	}

	valuer := SyncErrorValuer{SyncError: syncErr}
	logValue := valuer.LogValue()

	if logValue.Kind() != slog.KindGroup {
		t.Errorf("Expected group value, got %v", logValue.Kind())
	}
}

func TestDiscard(t *testing.T) {
	logger := Discard()
	// Must not panic and must swallow output.
	logger.Info("dropped")
	logger.LogError(context.Background(), fmt.Errorf("dropped too"), "also dropped")
}
