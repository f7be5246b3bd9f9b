package api

import (
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"mime"
	"net/http"
	"slices"
	"strconv"
	"strings"
	"unicode"

	"github.com/gin-gonic/gin"

	"github.com/ottdwire/ottdwire/internal/events"
	intnet "github.com/ottdwire/ottdwire/internal/network"
	"github.com/ottdwire/ottdwire/internal/protocol"
)

type hexRequest struct {
	Hex string `json:"hex" binding:"required"`
}

// readPacketBytes returns the packet bytes of a decode request. JSON
// bodies carry {"hex": "..."}, text/plain bodies and ?format=hex carry hex
// text, anything else is taken as raw bytes.
func readPacketBytes(c *gin.Context) ([]byte, error) {
	mediaType, _, _ := mime.ParseMediaType(c.ContentType())

	switch {
	case mediaType == "application/json":
		var req hexRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			return nil, fmt.Errorf("invalid request: %w", err)
		}
		return decodeHex(req.Hex)
	case mediaType == "text/plain" || c.Query("format") == "hex":
		body, err := io.ReadAll(c.Request.Body)
		if err != nil {
			return nil, err
		}
		return decodeHex(string(body))
	default:
		return io.ReadAll(c.Request.Body)
	}
}

// decodeHex accepts hex with any whitespace between the digits.
func decodeHex(s string) ([]byte, error) {
	s = strings.Map(func(r rune) rune {
		if unicode.IsSpace(r) {
			return -1
		}
		return r
	}, s)
	b, err := hex.DecodeString(s)
	if err != nil {
		return nil, fmt.Errorf("invalid hex: %w", err)
	}
	return b, nil
}

// handleDecode decodes every packet in the request body.
func (s *Server) handleDecode(family events.Family) gin.HandlerFunc {
	return func(c *gin.Context) {
		data, err := readPacketBytes(c)
		if err != nil {
			var tooLarge *http.MaxBytesError
			if errors.As(err, &tooLarge) {
				c.JSON(http.StatusRequestEntityTooLarge, gin.H{"error": "request body too large", "limit": tooLarge.Limit})
				return
			}
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		if len(data) == 0 {
			c.JSON(http.StatusBadRequest, gin.H{"error": "empty body"})
			return
		}

		source := c.ClientIP()
		decoded, err := s.parser.ParseAll(family, data, source)

		packets := make([]events.PacketPayload, 0, len(decoded))
		consumed := 0
		for _, ev := range decoded {
			s.emit(c, ev)
			pp := ev.Payload.(events.PacketPayload)
			packets = append(packets, pp)
			consumed += pp.Size
		}

		if err != nil {
			failed := protocol.FailureEvent(family, len(data)-consumed, source, err)
			s.emit(c, failed)

			resp := gin.H{
				"family":  family,
				"packets": packets,
				"error":   err.Error(),
				"reason":  protocol.FailureReason(err),
			}
			var de *protocol.DecodeError
			if errors.As(err, &de) {
				resp["offset"] = consumed + de.Offset
				resp["field"] = de.Field
			}
			c.JSON(http.StatusUnprocessableEntity, resp)
			return
		}

		c.JSON(http.StatusOK, gin.H{
			"family":  family,
			"count":   len(packets),
			"packets": packets,
		})
	}
}

// handleEncode builds a request packet. get_list reads ?type, listing reads
// ?revision and ?cursor. ?format=raw returns the bytes themselves instead of
// JSON.
func (s *Server) handleEncode(c *gin.Context) {
	name := c.Param("packet")
	if !slices.Contains(intnet.RequestNames(), name) {
		c.JSON(http.StatusNotFound, gin.H{"error": fmt.Sprintf("unknown packet %q", name)})
		return
	}

	listType, err := protocol.ParseServerListRequestType(c.DefaultQuery("type", "autodetect"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	cursor, err := strconv.ParseUint(c.DefaultQuery("cursor", "0"), 10, 32)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid cursor: " + err.Error()})
		return
	}

	req, err := intnet.BuildRequest(name, intnet.RequestOptions{
		ListType: listType,
		Revision: c.Query("revision"),
		Cursor:   uint32(cursor),
	})
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	family, data, err := s.parser.Encode(req)
	if err != nil {
		c.JSON(http.StatusUnprocessableEntity, gin.H{"error": err.Error(), "reason": protocol.FailureReason(err)})
		return
	}

	if c.Query("format") == "raw" {
		c.Data(http.StatusOK, "application/octet-stream", data)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"family": family,
		"packet": name,
		"size":   len(data),
		"hex":    hex.EncodeToString(data),
	})
}
