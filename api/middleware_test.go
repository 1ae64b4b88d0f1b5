package api

import (
	"bytes"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	qt "github.com/frankban/quicktest"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/vocdoni/cypherpoll/log"
)

func TestLoggingMiddlewarePreservesBody(t *testing.T) {
	c := qt.New(t)
	log.Init(log.LogLevelDebug, "stderr", nil)
	c.Cleanup(func() { log.Init(log.LogLevelError, "stderr", nil) })

	handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		_, _ = w.Write(body)
	})
	wrapped := loggingMiddleware(8)(handler)

	for _, body := range []string{
		`{"key": "a value longer than the log limit"}`,
		`  [1, 2, 3]`,
		"\x00\x01\x02\x03",
		"plain text",
		"",
	} {
		req := httptest.NewRequest(http.MethodPost, RegisterEndpoint, bytes.NewBufferString(body))
		rec := httptest.NewRecorder()
		wrapped.ServeHTTP(rec, req)
		c.Assert(rec.Code, qt.Equals, http.StatusOK)
		c.Assert(rec.Body.String(), qt.Equals, body)
	}
}

func TestLoggingExclusions(t *testing.T) {
	c := qt.New(t)
	log.Init(log.LogLevelDebug, "stderr", nil)
	c.Cleanup(func() { log.Init(log.LogLevelError, "stderr", nil) })

	conf := DefaultLoggingConfig()
	for path, skip := range map[string]bool{
		PingEndpoint:    true,
		MetricsEndpoint: true,
		VoteEndpoint:    false,
		InfoEndpoint:    false,
	} {
		req := httptest.NewRequest(http.MethodGet, path, nil)
		c.Assert(conf.shouldSkipLogging(req), qt.Equals, skip, qt.Commentf("path %s", path))
	}

	log.Init(log.LogLevelInfo, "stderr", nil)
	req := httptest.NewRequest(http.MethodGet, VoteEndpoint, nil)
	c.Assert(conf.shouldSkipLogging(req), qt.IsTrue)
}

func TestResponseWriterCapture(t *testing.T) {
	c := qt.New(t)
	tests := []struct {
		name    string
		handler func(w http.ResponseWriter)
		status  int
	}{
		{"WriteHeader before Write", func(w http.ResponseWriter) {
			w.WriteHeader(http.StatusCreated)
			_, _ = w.Write([]byte("test"))
		}, http.StatusCreated},
		{"Write without WriteHeader", func(w http.ResponseWriter) {
			_, _ = w.Write([]byte("test"))
		}, http.StatusOK},
		{"Multiple WriteHeader calls", func(w http.ResponseWriter) {
			w.WriteHeader(http.StatusConflict)
			w.WriteHeader(http.StatusAccepted)
		}, http.StatusConflict},
		{"Nothing written", func(http.ResponseWriter) {}, http.StatusOK},
	}
	for _, test := range tests {
		c.Run(test.name, func(c *qt.C) {
			rw := &responseWriter{ResponseWriter: httptest.NewRecorder()}
			test.handler(rw)
			c.Assert(rw.status(), qt.Equals, test.status)
		})
	}
}

func TestMetricsMiddleware(t *testing.T) {
	c := qt.New(t)
	m := newMetrics()
	handler := metricsMiddleware(m)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ErrNullifierUsed.Write(w)
	}))
	handler.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodPost, VoteEndpoint, nil))
	c.Assert(testutil.ToFloat64(m.requests.WithLabelValues("unknown", "409")), qt.Equals, float64(1))
}
