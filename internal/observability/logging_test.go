package observability

import (
	"bytes"
	"errors"
	"strings"
	"testing"

	"github.com/rs/zerolog"
)

func TestWithSessionAndRequestID(t *testing.T) {
	var buf bytes.Buffer
	logger := zerolog.New(&buf)

	logger = WithSessionID(logger, "s1")
	logger = WithRequestID(logger, "req-1")
	logger.Info().Msg("hit")

	out := buf.String()
	if !strings.Contains(out, `"session_id":"s1"`) {
		t.Errorf("missing session_id: %s", out)
	}
	if !strings.Contains(out, `"request_id":"req-1"`) {
		t.Errorf("missing request_id: %s", out)
	}
}

func TestLogEvent(t *testing.T) {
	var buf bytes.Buffer
	logger := zerolog.New(&buf)

	LogEvent(logger, EventTurnStarted, map[string]interface{}{"query": "수소"})

	out := buf.String()
	if !strings.Contains(out, `"event":"turn_started"`) || !strings.Contains(out, `"query":"수소"`) {
		t.Errorf("event not logged: %s", out)
	}
}

func TestLogError(t *testing.T) {
	var buf bytes.Buffer
	logger := zerolog.New(&buf)

	LogError(logger, errors.New("boom"), "backend failed", map[string]interface{}{"backend": "sql"})

	out := buf.String()
	if !strings.Contains(out, `"error":"boom"`) {
		t.Errorf("missing error: %s", out)
	}
	if !strings.Contains(out, "backend failed") || !strings.Contains(out, `"backend":"sql"`) {
		t.Errorf("missing context: %s", out)
	}
}
