package health

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/korjavin/whenwemeet/pkg/clock"
)

func get(t *testing.T, s *Server, path string) map[string]interface{} {
	t.Helper()
	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, path, nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("GET %s = %d", path, rec.Code)
	}
	var body map[string]interface{}
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("GET %s: %v", path, err)
	}
	return body
}

func TestStatus(t *testing.T) {
	gin.SetMode(gin.TestMode)
	clk := clock.NewFake(time.Date(2025, 1, 9, 10, 0, 0, 0, time.UTC))
	s := New(":0", clk, func() int { return 3 })
	clk.Advance(90 * time.Second)

	body := get(t, s, "/")
	if body["status"] != "Bot is running" || body["uptime"] != 90.0 || body["pending_reminders"] != 3.0 {
		t.Errorf("status body = %v", body)
	}
	if body["timestamp"] != "2025-01-09T10:01:30Z" {
		t.Errorf("timestamp = %v", body["timestamp"])
	}
}

func TestHealth(t *testing.T) {
	gin.SetMode(gin.TestMode)
	s := New(":0", clock.NewFake(time.Now()), nil)

	body := get(t, s, "/health")
	if body["status"] != "healthy" {
		t.Errorf("health body = %v", body)
	}
	if _, ok := get(t, s, "/")["pending_reminders"]; ok {
		t.Error("pending_reminders reported without a source")
	}
}
