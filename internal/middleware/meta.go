package middleware

import (
	"time"

	"github.com/gin-gonic/gin"
)

const (
	metaStartKey    = "meta_start"
	metaCacheHitKey = "meta_cache_hit"
)

// WithResponseMeta marks the request start so handlers that attach metadata
// to their envelope can report processing time.
func WithResponseMeta() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Set(metaStartKey, time.Now())
		c.Next()
	}
}

// SetCacheHit records whether the response was served from cache.
func SetCacheHit(c *gin.Context, hit bool) {
	c.Set(metaCacheHitKey, hit)
}

// ExtractMeta builds the meta block for the response being written. The
// timing covers work done up to this call.
func ExtractMeta(c *gin.Context) map[string]interface{} {
	if c == nil {
		return nil
	}
	meta := make(map[string]interface{}, 2)
	if v, ok := c.Get(metaStartKey); ok {
		if start, ok := v.(time.Time); ok {
			meta["processing_time_ms"] = time.Since(start).Milliseconds()
		}
	}
	if v, ok := c.Get(metaCacheHitKey); ok {
		if hit, ok := v.(bool); ok {
			meta["cache_hit"] = hit
		}
	}
	if len(meta) == 0 {
		return nil
	}
	return meta
}
