package server

import (
	"strings"

	"github.com/gin-gonic/gin"
	resourcedomain "github.com/smallbiznis/telemetry/internal/resource/domain"
)

// linkBase roots issued links at the configured public URL, or at the scheme
// and host the client used to reach this request.
func (s *Server) linkBase(c *gin.Context) resourcedomain.LinkBase {
	if s.cfg.PublicURL != "" {
		return resourcedomain.LinkBase(s.cfg.PublicURL)
	}

	scheme := "http"
	if c.Request.TLS != nil {
		scheme = "https"
	}
	if proto := firstHeaderValue(c.GetHeader("X-Forwarded-Proto")); proto != "" {
		scheme = proto
	}

	host := c.Request.Host
	if forwarded := firstHeaderValue(c.GetHeader("X-Forwarded-Host")); forwarded != "" {
		host = forwarded
	}
	return resourcedomain.LinkBase(scheme + "://" + host)
}

func firstHeaderValue(value string) string {
	if idx := strings.IndexByte(value, ','); idx >= 0 {
		value = value[:idx]
	}
	return strings.TrimSpace(value)
}
