package api

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/ottdwire/ottdwire/internal/db"
)

// handleServers lists the registry, or returns the one server named by
// ?addr.
func (s *Server) handleServers(c *gin.Context) {
	if s.registry == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "storage is not enabled"})
		return
	}

	if addr := c.Query("addr"); addr != "" {
		server, err := s.registry.Get(c.Request.Context(), addr)
		switch {
		case errors.Is(err, db.ErrNotFound):
			c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
		case err != nil:
			s.logger.Error().Err(err).Msg("failed to read registry")
			c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to read registry"})
		default:
			c.JSON(http.StatusOK, server)
		}
		return
	}

	servers, err := s.registry.List(c.Request.Context())
	if err != nil {
		s.logger.Error().Err(err).Msg("failed to read registry")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to read registry"})
		return
	}
	if servers == nil {
		servers = []db.Server{}
	}
	c.JSON(http.StatusOK, gin.H{"count": len(servers), "servers": servers})
}
