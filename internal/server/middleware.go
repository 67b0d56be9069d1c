package server

import (
	"net/http"
	"net/url"

	"github.com/gin-gonic/gin"
)

// sameOrigin rejects browser requests from pages outside the app. A request
// without Origin comes from a non-browser client (the CLI) and passes. The
// allowed origins are the navigation policy's internal pages. POST bodies
// must be application/json: a cross-site page cannot send that without a
// preflight, which this bridge never answers.
func (r *Router) sameOrigin() gin.HandlerFunc {
	policy := r.shell.Guard().Policy()
	return func(c *gin.Context) {
		if origin := c.GetHeader("Origin"); origin != "" {
			u, err := url.Parse(origin)
			if err != nil || origin == "null" || !policy.Allow(u) {
				writeJSON(c, http.StatusForbidden, errorResp{Error: "origin not allowed"})
				c.Abort()
				return
			}
		}
		if c.Request.Method == http.MethodPost && c.ContentType() != "application/json" {
			writeJSON(c, http.StatusUnsupportedMediaType, errorResp{Error: "content type must be application/json"})
			c.Abort()
			return
		}
		c.Next()
	}
}
