package middleware

import (
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"
)

// CacheConfig represents cache control configuration
type CacheConfig struct {
	MaxAge         int
	Private        bool
	NoStore        bool
	MustRevalidate bool
	NoCache        bool
	Vary           []string
}

// DefaultCacheConfig keeps patient data out of shared caches.
func DefaultCacheConfig() CacheConfig {
	return CacheConfig{
		Private: true,
		NoCache: true,
		Vary:    []string{"Accept"},
	}
}

// NoStoreConfig is for responses that must never be written to disk.
func NoStoreConfig() CacheConfig {
	return CacheConfig{NoStore: true}
}

// CacheControl renders the Cache-Control header value.
func (config CacheConfig) CacheControl() string {
	if config.NoStore {
		return "no-store"
	}

	directives := make([]string, 0, 4)
	if config.Private {
		directives = append(directives, "private")
	} else {
		directives = append(directives, "public")
	}
	if config.MaxAge > 0 {
		directives = append(directives, "max-age="+strconv.Itoa(config.MaxAge))
	}
	if config.NoCache {
		directives = append(directives, "no-cache")
	}
	if config.MustRevalidate {
		directives = append(directives, "must-revalidate")
	}
	return strings.Join(directives, ", ")
}

// Cache adds cache control headers to responses
func Cache(config CacheConfig) gin.HandlerFunc {
	value := config.CacheControl()
	vary := strings.Join(config.Vary, ", ")
	return func(c *gin.Context) {
		if c.Request.Method != "GET" && c.Request.Method != "HEAD" {
			c.Header("Cache-Control", "no-store")
			c.Next()
			return
		}

		c.Header("Cache-Control", value)
		if vary != "" {
			c.Header("Vary", vary)
		}
		c.Next()
	}
}
