//go:build go1.21

package slog

import (
	"bytes"
	"encoding/json"
	stdslog "log/slog"
	"testing"

	"github.com/unkn0wn-root/tiercache"
)

func TestFieldsAndLevels(t *testing.T) {
	var buf bytes.Buffer
	l := Logger{L: stdslog.New(stdslog.NewJSONHandler(&buf, &stdslog.HandlerOptions{Level: stdslog.LevelInfo}))}

	l.Debug("hidden", tiercache.Fields{"key": "k"})
	l.Info("serving previous value after refresh failure", tiercache.Fields{"key": "k"})

	var rec map[string]any
	if err := json.Unmarshal(bytes.TrimSpace(buf.Bytes()), &rec); err != nil {
		t.Fatalf("decode %q: %v", buf.String(), err)
	}
	if rec["level"] != "INFO" || rec["key"] != "k" {
		t.Fatalf("record=%v", rec)
	}
}
