package api

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/ottdwire/ottdwire/internal/protocol"
	"github.com/ottdwire/ottdwire/internal/util"
)

// handlePing returns a health check with host and process details.
func (s *Server) handlePing(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status":  "ok",
		"service": "ottdwire",
		"version": Version,
		"system":  util.GetSystemInfo(),
		"process": util.GetProcessInfo(),
	})
}

// handlePacketTypes lists the type byte of every packet the codec knows.
func (s *Server) handlePacketTypes(c *gin.Context) {
	udp := make(map[string]uint8)
	for t := protocol.UDPPacketType(0); t.Valid(); t++ {
		udp[t.String()] = uint8(t)
	}
	coordinator := make(map[string]uint8)
	for t := protocol.CoordinatorPacketType(0); t.Valid(); t++ {
		coordinator[t.String()] = uint8(t)
	}
	c.JSON(http.StatusOK, gin.H{
		"udp":         udp,
		"coordinator": coordinator,
	})
}
