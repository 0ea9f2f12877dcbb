package logging

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/rs/zerolog"
)

func TestRequestLoggerPicksLevelFromStatus(t *testing.T) {
	var buf bytes.Buffer
	InitWriter(&buf, "debug", "json")
	t.Cleanup(func() { zerolog.SetGlobalLevel(zerolog.InfoLevel) })

	cases := map[int]string{
		http.StatusOK:                  "info",
		http.StatusNotFound:            "warn",
		http.StatusInternalServerError: "error",
	}
	for status, level := range cases {
		buf.Reset()
		handler := RequestLogger(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
			w.WriteHeader(status)
		}))
		handler.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/api/v1/sales", nil))

		var entry map[string]any
		if err := json.Unmarshal(buf.Bytes(), &entry); err != nil {
			t.Fatalf("decode log line %q: %v", buf.String(), err)
		}
		if entry["level"] != level {
			t.Fatalf("status %d: expected level %s, got %v", status, level, entry["level"])
		}
		if entry["path"] != "/api/v1/sales" || int(entry["status"].(float64)) != status {
			t.Fatalf("unexpected fields: %#v", entry)
		}
	}
}

func TestInitFallsBackToInfo(t *testing.T) {
	var buf bytes.Buffer
	InitWriter(&buf, "chatty", "json")
	t.Cleanup(func() { zerolog.SetGlobalLevel(zerolog.InfoLevel) })

	if zerolog.GlobalLevel() != zerolog.InfoLevel {
		t.Fatalf("expected info level, got %s", zerolog.GlobalLevel())
	}
}
