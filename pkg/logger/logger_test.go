package logger

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
)

func TestForCall_AddsIDs(t *testing.T) {
	var buf bytes.Buffer
	l := ForCall(NewWriter("production", &buf), "t1", "c1")
	l.Info("hello")

	var line map[string]any
	if err := json.Unmarshal(buf.Bytes(), &line); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if line["tenant_id"] != "t1" || line["call_id"] != "c1" || line["service"] != "contact-center" {
		t.Fatalf("unexpected attrs: %v", line)
	}
}

func TestMiddleware_RequestID(t *testing.T) {
	gin.SetMode(gin.TestMode)
	var buf bytes.Buffer

	r := gin.New()
	r.Use(Middleware(NewWriter("production", &buf)))
	r.GET("/calls/:call_id", func(c *gin.Context) {
		if From(c.Request.Context()) != FromGin(c) {
			t.Errorf("context logger should match gin logger")
		}
		c.Status(http.StatusNoContent)
	})

	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/calls/c9", nil)
	req.Header.Set("X-Request-Id", "rid-1")
	r.ServeHTTP(w, req)

	if w.Header().Get("X-Request-Id") != "rid-1" {
		t.Fatalf("expected request id echoed, got %q", w.Header().Get("X-Request-Id"))
	}
	var line map[string]any
	if err := json.Unmarshal(buf.Bytes(), &line); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if line["request_id"] != "rid-1" || line["call_id"] != "c9" || line["path"] != "/calls/:call_id" {
		t.Fatalf("unexpected log line: %v", line)
	}
}

func TestFrom_DefaultsWhenMissing(t *testing.T) {
	if From(context.Background()) == nil {
		t.Fatalf("expected default logger")
	}
}
