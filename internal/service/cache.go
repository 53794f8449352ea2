// cache.go: ResponseCache, LRU-кэш готовых HTTP-ответов списка персонажей с TTL.
// Обёртка над hashicorp/golang-lru/v2/expirable.
package service

import (
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Prometheus-метрики кэша.
var (
	cacheHitsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "cm_cache_hits_total",
		Help: "Общее количество попаданий в кэш ответов.",
	})
	cacheMissesTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "cm_cache_misses_total",
		Help: "Общее количество промахов кэша ответов.",
	})
)

// CachedResponse: сохранённый ответ 200.
type CachedResponse struct {
	ContentType string
	Body        []byte
}

// ResponseCache: кэш ответов с автоматическим TTL.
// Кэш локален для процесса, между экземплярами не разделяется.
type ResponseCache struct {
	cache *expirable.LRU[string, CachedResponse]
}

// NewResponseCache создаёт кэш с указанным максимальным размером и TTL.
func NewResponseCache(maxSize int, ttl time.Duration) *ResponseCache {
	return &ResponseCache{
		cache: expirable.NewLRU[string, CachedResponse](maxSize, nil, ttl),
	}
}

// Get возвращает ответ по ключу и обновляет метрики hit/miss.
func (c *ResponseCache) Get(key string) (CachedResponse, bool) {
	val, ok := c.cache.Get(key)
	if ok {
		cacheHitsTotal.Inc()
		return val, true
	}
	cacheMissesTotal.Inc()
	return CachedResponse{}, false
}

// Set сохраняет ответ. TTL отсчитывается от момента сохранения.
func (c *ResponseCache) Set(key string, resp CachedResponse) {
	c.cache.Add(key, resp)
}

// Purge очищает кэш. Вызывается после синхронизации со вставками:
// ответы, собранные во время прохода, могли видеть неполное хранилище.
func (c *ResponseCache) Purge() {
	c.cache.Purge()
}
