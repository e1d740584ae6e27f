package seriallink

import (
	"bytes"
	"strings"
	"testing"

	"avaneesh/seriallink-go/pkg/internal/logger"
)

func TestLogHelpersUseDefaultLogger(t *testing.T) {
	prev := logger.GetDefault()
	defer logger.SetDefault(prev)

	var buf bytes.Buffer
	logger.SetDefault(logger.NewLogger(&buf, logger.LevelInfo))

	LogInfo("serving on %s", "127.0.0.1:9100")
	LogWarn("peer %d lost", 1)
	LogError("metrics server: %v", "boom")

	out := buf.String()
	for _, want := range []string{"serving on 127.0.0.1:9100", "peer 1 lost", "metrics server: boom"} {
		if !strings.Contains(out, want) {
			t.Errorf("Expected %q in output, got %q", want, out)
		}
	}
}

func TestSetLogLevelFiltersDebug(t *testing.T) {
	prev := logger.GetDefault()
	defer logger.SetDefault(prev)

	SetLogLevel(LevelError)
	if _, ok := logger.GetDefault().(*logger.DefaultLogger); !ok {
		t.Fatalf("Expected a DefaultLogger, got %T", logger.GetDefault())
	}
}
