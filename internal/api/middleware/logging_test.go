package middleware

import (
	"bytes"
	"encoding/json"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
)

// TestRequestLogger проверяет уровень и поля записи лога.
func TestRequestLogger(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(slog.NewJSONHandler(&buf, &slog.HandlerOptions{Level: slog.LevelDebug}))

	handler := RequestLogger(logger)(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("X-Cache", "MISS")
		w.WriteHeader(http.StatusBadRequest)
		_, _ = w.Write([]byte("bad"))
	}))

	handler.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/characters?sort=x", http.NoBody))

	var entry map[string]any
	if err := json.Unmarshal(buf.Bytes(), &entry); err != nil {
		t.Fatalf("ошибка разбора записи лога: %v (%s)", err, buf.String())
	}
	if entry["level"] != "WARN" {
		t.Errorf("level = %v, ожидался WARN", entry["level"])
	}
	if entry["path"] != "/characters" || entry["query"] != "sort=x" {
		t.Errorf("path/query = %v/%v", entry["path"], entry["query"])
	}
	if entry["status"] != float64(http.StatusBadRequest) {
		t.Errorf("status = %v, ожидался 400", entry["status"])
	}
	if entry["bytes"] != float64(3) {
		t.Errorf("bytes = %v, ожидалось 3", entry["bytes"])
	}
	if entry["cache"] != "MISS" {
		t.Errorf("cache = %v, ожидался MISS", entry["cache"])
	}
}
