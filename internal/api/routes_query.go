package api

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	intnet "github.com/ottdwire/ottdwire/internal/network"
	"github.com/ottdwire/ottdwire/internal/protocol"
)

// queryTimeout bounds a single query request including retries.
const queryTimeout = 15 * time.Second

// handleQueryServer sends CLIENT_FIND_SERVER to ?addr.
func (s *Server) handleQueryServer(c *gin.Context) {
	addr, ok := s.queryTarget(c)
	if !ok {
		return
	}
	ctx, cancel := context.WithTimeout(c.Request.Context(), queryTimeout)
	defer cancel()

	info, rtt, err := s.querier.FindServer(ctx, addr)
	if err != nil {
		s.queryError(c, addr, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"address": addr,
		"rtt_ms":  rtt.Milliseconds(),
		"server":  info,
	})
}

// handleQueryDetails sends CLIENT_DETAIL_INFO to ?addr.
func (s *Server) handleQueryDetails(c *gin.Context) {
	addr, ok := s.queryTarget(c)
	if !ok {
		return
	}
	ctx, cancel := context.WithTimeout(c.Request.Context(), queryTimeout)
	defer cancel()

	detail, err := s.querier.DetailInfo(ctx, addr)
	if err != nil {
		s.queryError(c, addr, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"address": addr,
		"details": detail,
	})
}

// handleQueryMaster asks the master server for its list. ?type selects
// ipv4, ipv6 or autodetect.
func (s *Server) handleQueryMaster(c *gin.Context) {
	if s.querier == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "querying is not enabled"})
		return
	}
	typ, err := protocol.ParseServerListRequestType(c.DefaultQuery("type", "ipv4"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	ctx, cancel := context.WithTimeout(c.Request.Context(), queryTimeout)
	defer cancel()

	list, err := s.querier.MasterList(ctx, typ)
	if err != nil {
		s.queryError(c, "master", err)
		return
	}

	addrs := make([]string, 0, list.Len())
	for _, a := range list.Addrs() {
		addrs = append(addrs, a.String())
	}
	c.JSON(http.StatusOK, gin.H{
		"list":    list.ListType().String(),
		"count":   len(addrs),
		"servers": addrs,
	})
}

func (s *Server) queryTarget(c *gin.Context) (string, bool) {
	if s.querier == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "querying is not enabled"})
		return "", false
	}
	addr := c.Query("addr")
	if addr == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "addr is required"})
		return "", false
	}
	return addr, true
}

func (s *Server) queryError(c *gin.Context, target string, err error) {
	s.logger.Debug().Err(err).Str("target", target).Msg("query failed")
	switch {
	case errors.Is(err, intnet.ErrNoReply), errors.Is(err, context.DeadlineExceeded):
		c.JSON(http.StatusGatewayTimeout, gin.H{"error": err.Error()})
	default:
		c.JSON(http.StatusBadGateway, gin.H{"error": err.Error(), "reason": protocol.FailureReason(err)})
	}
}
