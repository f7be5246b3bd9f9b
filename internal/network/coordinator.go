package network

import (
	"context"
	"errors"
	"fmt"
	"maps"
	"net"

	"github.com/rs/zerolog"

	"github.com/ottdwire/ottdwire/internal/config"
	"github.com/ottdwire/ottdwire/internal/events"
	"github.com/ottdwire/ottdwire/internal/protocol"
	"github.com/ottdwire/ottdwire/internal/util"
)

// ErrCoordinatorRefused is returned when the coordinator answers a listing
// request with GC_ERROR.
var ErrCoordinatorRefused = errors.New("coordinator refused the request")

// Listing is the public server list as received from a Game Coordinator.
type Listing struct {
	Servers []protocol.ListedServer
	// NewGRFs is the lookup table the servers' NewGRFLookupIDs index into.
	NewGRFs map[uint32]protocol.NewGRFLookupEntry
	// Cursor is the lookup table position to send with the next request.
	Cursor uint32
}

// Resolve expands the active NewGRFs of s into full details. Lookup ids
// are resolved through the table; ids missing from it are returned
// separately.
func (l *Listing) Resolve(s protocol.ListedServer) (protocol.NewGRFDetails, []uint32) {
	out := make(protocol.NewGRFDetails)
	var missing []uint32

	switch grfs := s.Info.ActiveNewGRF.(type) {
	case protocol.NewGRFDetails:
		maps.Copy(out, grfs)
	case protocol.NewGRFIdentifiers:
		for id, md5 := range grfs {
			out[id] = protocol.NewGRFInfo{MD5: md5}
		}
	case protocol.NewGRFLookupIDs:
		for index := range grfs {
			e, ok := l.NewGRFs[index]
			if !ok {
				missing = append(missing, index)
				continue
			}
			out[e.GRFID] = protocol.NewGRFInfo{MD5: e.MD5, Name: e.Name}
		}
	}
	return out, missing
}

// CoordinatorClient requests the public server listing from a Game
// Coordinator.
type CoordinatorClient struct {
	cfg    config.QueryConfig
	parser *protocol.Parser
	bus    *events.EventBus
	logger zerolog.Logger
}

// NewCoordinatorClient creates a client for cfg.Coordinator. bus may be nil.
func NewCoordinatorClient(cfg config.QueryConfig, parser *protocol.Parser, bus *events.EventBus) *CoordinatorClient {
	return &CoordinatorClient{
		cfg:    cfg,
		parser: parser,
		bus:    bus,
		logger: util.ComponentLogger("coordinator_client"),
	}
}

// Listing connects, sends CLIENT_LISTING and collects GC_NEWGRF_LOOKUP and
// GC_LISTING packets until the empty listing that ends the stream. Every
// listed server is published as a discovered server.
func (c *CoordinatorClient) Listing(ctx context.Context, revision string) (*Listing, error) {
	dialer := net.Dialer{Timeout: c.cfg.Timeout()}
	raw, err := dialer.DialContext(ctx, "tcp", c.cfg.Coordinator)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to coordinator %s: %w", c.cfg.Coordinator, err)
	}
	conn := NewConnection(raw, c.parser)
	defer conn.Close()

	stop := context.AfterFunc(ctx, func() { conn.Close() })
	defer stop()

	if err := conn.WritePacket(protocol.ClientListing{Revision: revision}); err != nil {
		return nil, err
	}

	listing := &Listing{NewGRFs: make(map[uint32]protocol.NewGRFLookupEntry)}
	for {
		ev, err := conn.ReadPacket(c.cfg.Timeout())
		if err != nil {
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			return nil, fmt.Errorf("failed to read listing from %s: %w", c.cfg.Coordinator, err)
		}
		c.emit(ctx, ev)

		switch m := ev.Payload.(events.PacketPayload).Packet.(type) {
		case protocol.GCNewGRFLookup:
			maps.Copy(listing.NewGRFs, m.NewGRFs)
			listing.Cursor = m.Cursor
		case protocol.GCListing:
			if len(m.Servers) == 0 {
				c.logger.Info().
					Str("coordinator", c.cfg.Coordinator).
					Int("servers", len(listing.Servers)).
					Int("newgrfs", len(listing.NewGRFs)).
					Msg("received server listing")
				return listing, nil
			}
			for _, s := range m.Servers {
				c.emit(ctx, discoveredEvent(s.Address, s.Info, 0))
			}
			listing.Servers = append(listing.Servers, m.Servers...)
		case protocol.GCError:
			return nil, ErrCoordinatorRefused
		default:
			c.logger.Debug().Str("type", fmt.Sprintf("%T", m)).Msg("ignoring coordinator packet")
		}
	}
}

func (c *CoordinatorClient) emit(ctx context.Context, ev *events.Event) {
	if c.bus != nil {
		c.bus.Emit(ctx, *ev)
	}
}
