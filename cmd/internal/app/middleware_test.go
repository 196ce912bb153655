package app

import (
	"bufio"
	"bytes"
	"encoding/json"
	"net"
	"net/http"
	"net/http/httptest"
	"testing"

	"log/slog"
)

func TestWithRequestLogging_RecordsStatusAndBytes(t *testing.T) {
	t.Parallel()

	var buf bytes.Buffer
	log := slog.New(slog.NewJSONHandler(&buf, nil))

	h := WithRequestLogging(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusCreated)
		_, _ = w.Write([]byte("hello"))
	}), log)

	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/healthz", nil))

	if rr.Code != http.StatusCreated || rr.Body.String() != "hello" {
		t.Fatalf("downstream response mangled: code=%d body=%q", rr.Code, rr.Body.String())
	}

	var line map[string]any
	if err := json.Unmarshal(buf.Bytes(), &line); err != nil {
		t.Fatalf("unmarshal log line: %v (%s)", err, buf.String())
	}
	if line["msg"] != "http.request" {
		t.Fatalf("log msg=%v want http.request", line["msg"])
	}
	if line["status"] != float64(http.StatusCreated) {
		t.Fatalf("logged status=%v want %d", line["status"], http.StatusCreated)
	}
	if line["bytes"] != float64(len("hello")) {
		t.Fatalf("logged bytes=%v want %d", line["bytes"], len("hello"))
	}
	if line["path"] != "/healthz" {
		t.Fatalf("logged path=%v want /healthz", line["path"])
	}
}

type hijackableWriter struct {
	http.ResponseWriter
	hijacked bool
}

func (w *hijackableWriter) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	w.hijacked = true
	return nil, nil, nil
}

func TestResponseRecorder_PreservesHijacker(t *testing.T) {
	t.Parallel()

	inner := &hijackableWriter{ResponseWriter: httptest.NewRecorder()}
	rec := newResponseRecorder(inner)

	if _, _, err := rec.Hijack(); err != nil {
		t.Fatalf("hijack through recorder: %v", err)
	}
	if !inner.hijacked {
		t.Fatalf("hijack did not reach the underlying writer")
	}

	// A writer without Hijacker support reports a plain error.
	plain := newResponseRecorder(httptest.NewRecorder())
	if _, _, err := plain.Hijack(); err == nil {
		t.Fatalf("expected error hijacking a non-hijackable writer")
	}
}
