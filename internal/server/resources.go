package server

import (
	"net/http"

	"github.com/gin-gonic/gin"
	obscontext "github.com/smallbiznis/telemetry/internal/observability/context"
)

func (s *Server) ListResources(c *gin.Context) {
	filter, err := resourceFilterFromQuery(c)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	views, err := s.resourceSvc.ListResources(c.Request.Context(), s.linkBase(c), filter)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, views)
}

// GetResource dereferences the request URL itself, so any issued self link
// resolves regardless of the prefix it was mounted under.
func (s *Server) GetResource(c *gin.Context) {
	if id := c.Param("resource_id"); id != "" {
		c.Set(obscontext.KeyResourceID, id)
	}
	view, err := s.resourceSvc.ResolveLink(c.Request.Context(), s.linkBase(c), c.Request.URL.EscapedPath())
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, view)
}
