package middleware

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
)

// CheckOrigin returns a websocket origin check. An empty allow list or "*"
// accepts everything; requests without an Origin header (native miner
// clients) are always accepted.
func CheckOrigin(allowed []string) func(r *http.Request) bool {
	set := make(map[string]struct{}, len(allowed))
	for _, o := range allowed {
		o = strings.TrimSpace(o)
		if o == "*" {
			return func(*http.Request) bool { return true }
		}
		if o != "" {
			set[strings.ToLower(o)] = struct{}{}
		}
	}
	return func(r *http.Request) bool {
		if len(set) == 0 {
			return true
		}
		origin := r.Header.Get("Origin")
		if origin == "" {
			return true
		}
		_, ok := set[strings.ToLower(origin)]
		return ok
	}
}

// Origin rejects the /ws upgrade early when the origin is not allowed.
func Origin(path string, allowed []string) gin.HandlerFunc {
	check := CheckOrigin(allowed)
	return func(c *gin.Context) {
		if c.Request.Method == http.MethodGet && c.Request.URL.Path == path && !check(c.Request) {
			c.AbortWithStatus(http.StatusForbidden)
		}
	}
}
