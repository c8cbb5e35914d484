package middleware

import (
	"time"

	"github.com/gin-gonic/gin"
)

const (
	responseMetaKey  = "response_meta"
	requestStartKey  = "request_started_at"
	processingTimeMs = "processing_time_ms"
	cacheHitKey      = "cache_hit"
)

// WithResponseMeta stamps the request start so handlers can report timing in
// the response envelope.
func WithResponseMeta() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Set(requestStartKey, time.Now())
		c.Set(responseMetaKey, map[string]interface{}{})
		c.Next()
	}
}

// SetMeta attaches a key to the response metadata of the current request.
func SetMeta(c *gin.Context, key string, value interface{}) {
	meta := ensureMeta(c)
	meta[key] = value
}

// SetCacheHit records whether the response was served from cache.
func SetCacheHit(c *gin.Context, hit bool) {
	SetMeta(c, cacheHitKey, hit)
}

// ExtractMeta returns the metadata for the current response, including the
// elapsed processing time. It returns nil when WithResponseMeta is not installed.
func ExtractMeta(c *gin.Context) map[string]interface{} {
	if c == nil {
		return nil
	}
	value, exists := c.Get(responseMetaKey)
	if !exists {
		return nil
	}
	meta, ok := value.(map[string]interface{})
	if !ok {
		return nil
	}
	if started, ok := c.Get(requestStartKey); ok {
		if ts, ok := started.(time.Time); ok {
			meta[processingTimeMs] = time.Since(ts).Milliseconds()
		}
	}
	return meta
}

func ensureMeta(c *gin.Context) map[string]interface{} {
	if value, exists := c.Get(responseMetaKey); exists {
		if typed, ok := value.(map[string]interface{}); ok {
			return typed
		}
	}
	meta := make(map[string]interface{})
	c.Set(responseMetaKey, meta)
	return meta
}
