package middleware

import (
	"net"
	"strings"

	"github.com/gin-gonic/gin"
)

// clientIP returns the caller's address for rate limiting. The first
// parseable X-Forwarded-For entry wins, then X-Real-IP, then the socket peer.
// Malformed header values are skipped so they cannot mint fresh limiter keys.
func clientIP(c *gin.Context) string {
	for _, part := range strings.Split(c.GetHeader("X-Forwarded-For"), ",") {
		if ip := net.ParseIP(strings.TrimSpace(part)); ip != nil {
			return ip.String()
		}
	}
	if ip := net.ParseIP(strings.TrimSpace(c.GetHeader("X-Real-IP"))); ip != nil {
		return ip.String()
	}

	addr := c.Request.RemoteAddr
	if host, _, err := net.SplitHostPort(addr); err == nil {
		return host
	}
	return addr
}
