// cache.go: middleware кэширования ответов GET-запросов.
// Ключ: путь + query-параметры в каноническом порядке (url.Values.Encode).
// Сохраняются только ответы 200.
package middleware

import (
	"bytes"
	"net/http"

	"github.com/bigkaa/character-module/internal/service"
)

// cacheHeader сообщает клиенту результат обращения к кэшу.
const cacheHeader = "X-Cache"

// ResponseCache возвращает middleware, отдающий сохранённый ответ при
// совпадении ключа и сохраняющий новые ответы 200.
func ResponseCache(cache *service.ResponseCache) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if r.Method != http.MethodGet {
				next.ServeHTTP(w, r)
				return
			}

			key := cacheKey(r)
			if cached, ok := cache.Get(key); ok {
				w.Header().Set(cacheHeader, "HIT")
				if cached.ContentType != "" {
					w.Header().Set("Content-Type", cached.ContentType)
				}
				w.WriteHeader(http.StatusOK)
				_, _ = w.Write(cached.Body)
				return
			}

			w.Header().Set(cacheHeader, "MISS")
			capture := newCaptureWriter(w)
			next.ServeHTTP(capture, r)

			if capture.statusCode == http.StatusOK {
				cache.Set(key, service.CachedResponse{
					ContentType: capture.Header().Get("Content-Type"),
					Body:        capture.body.Bytes(),
				})
			}
		})
	}
}

// cacheKey строит ключ кэша из пути и канонизированных query-параметров.
func cacheKey(r *http.Request) string {
	query := r.URL.Query().Encode()
	if query == "" {
		return r.URL.Path
	}
	return r.URL.Path + "?" + query
}

// captureWriter пишет ответ клиенту и одновременно копирует тело.
type captureWriter struct {
	http.ResponseWriter
	statusCode  int
	wroteHeader bool
	body        bytes.Buffer
}

func newCaptureWriter(w http.ResponseWriter) *captureWriter {
	return &captureWriter{ResponseWriter: w, statusCode: http.StatusOK}
}

func (cw *captureWriter) WriteHeader(code int) {
	if cw.wroteHeader {
		return
	}
	cw.wroteHeader = true
	cw.statusCode = code
	cw.ResponseWriter.WriteHeader(code)
}

func (cw *captureWriter) Write(b []byte) (int, error) {
	if !cw.wroteHeader {
		cw.WriteHeader(http.StatusOK)
	}
	if cw.statusCode == http.StatusOK {
		cw.body.Write(b)
	}
	return cw.ResponseWriter.Write(b)
}

// Unwrap позволяет http.ResponseController получить доступ к оригинальному ResponseWriter.
func (cw *captureWriter) Unwrap() http.ResponseWriter {
	return cw.ResponseWriter
}
