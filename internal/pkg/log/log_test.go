package log

import (
	"bytes"
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
)

func capture(t *testing.T, level Level) *bytes.Buffer {
	t.Helper()
	var buf bytes.Buffer
	prev := SetOutput(&buf)
	SetLevel(level)
	t.Cleanup(func() {
		SetOutput(prev)
		SetLevel(LevelInfo)
	})
	return &buf
}

func TestLevels(t *testing.T) {
	buf := capture(t, LevelWarn)

	Info("hidden %d", 1)
	Debug("hidden too")
	Warn("missing path %q", "owner.id")
	Error("boom")

	out := buf.String()
	assert.NotContains(t, out, "hidden")
	assert.Contains(t, out, `missing path "owner.id"`)
	assert.Contains(t, out, "boom")
}

func TestWithContext(t *testing.T) {
	buf := capture(t, LevelDebug)

	ctx := WithRequestID(context.Background(), "abc")
	WarnWithContext(ctx, "count failed: %v", "timeout")
	InfoWithContext(context.Background(), "plain")

	out := buf.String()
	assert.Contains(t, out, "[WARN] [req_id=abc] count failed: timeout")
	assert.Contains(t, out, "[INFO] plain")
}

func TestDump(t *testing.T) {
	buf := capture(t, LevelInfo)
	Dump("where", map[string]int{"a": 1})
	assert.Empty(t, buf.String())

	SetLevel(LevelDebug)
	Dump("where", map[string]int{"a": 1})
	assert.Contains(t, buf.String(), "where")
	assert.Contains(t, buf.String(), `"a": (int) 1`)
}

func TestParseLevel(t *testing.T) {
	assert.Equal(t, LevelDebug, ParseLevel("DEBUG"))
	assert.Equal(t, LevelWarn, ParseLevel("warning"))
	assert.Equal(t, LevelError, ParseLevel("error"))
	assert.Equal(t, LevelInfo, ParseLevel(""))
}
