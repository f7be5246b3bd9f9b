// Package network sends and answers OpenTTD discovery packets over UDP and
// reads the Game Coordinator listing over TCP.
package network

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/netip"
	"os"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"github.com/ottdwire/ottdwire/internal/config"
	"github.com/ottdwire/ottdwire/internal/events"
	"github.com/ottdwire/ottdwire/internal/protocol"
	"github.com/ottdwire/ottdwire/internal/util"
)

// MasterServerVersion is the master server protocol version sent with
// CLIENT_GET_LIST. Version 2 understands the request type byte.
const MasterServerVersion = 2

// ErrNoReply is returned when every attempt of a query timed out.
var ErrNoReply = errors.New("no reply")

// Querier sends discovery requests and waits for the matching reply.
// It is safe for concurrent use; every query uses its own socket.
type Querier struct {
	cfg    config.QueryConfig
	parser *protocol.Parser
	bus    *events.EventBus
	logger zerolog.Logger
}

// NewQuerier creates a querier. bus may be nil.
func NewQuerier(cfg config.QueryConfig, parser *protocol.Parser, bus *events.EventBus) *Querier {
	return &Querier{
		cfg:    cfg,
		parser: parser,
		bus:    bus,
		logger: util.ComponentLogger("udp_query"),
	}
}

// Query sends req to addr and waits for a reply of type want from the same
// peer. Other datagrams are decoded, published and otherwise ignored. Each
// attempt waits cfg.Timeout(); the request is resent cfg.Retries times.
// The returned duration is measured from the last send.
func (q *Querier) Query(ctx context.Context, addr string, req protocol.UDPPayload, want protocol.UDPPacketType) (protocol.UDPPayload, time.Duration, error) {
	raddr, err := net.ResolveUDPAddr("udp", addr)
	if err != nil {
		return nil, 0, fmt.Errorf("failed to resolve %s: %w", addr, err)
	}
	peer := raddr.AddrPort()

	data, err := q.parser.EncodeUDP(req)
	if err != nil {
		return nil, 0, err
	}

	bind := q.cfg.BindAddress
	if bind == "" {
		bind = ":0"
	}
	lc := ReuseAddrListenConfig()
	pc, err := lc.ListenPacket(ctx, "udp", bind)
	if err != nil {
		return nil, 0, fmt.Errorf("failed to open query socket on %s: %w", bind, err)
	}
	defer pc.Close()

	stop := context.AfterFunc(ctx, func() { pc.Close() })
	defer stop()

	logger := q.logger.With().Str("remote", addr).Str("request", req.UDPType().String()).Logger()
	buf := make([]byte, protocol.MaxPacketSize)

	for attempt := 0; attempt <= q.cfg.Retries; attempt++ {
		sent := time.Now()
		if _, err := pc.WriteTo(data, raddr); err != nil {
			if ctx.Err() != nil {
				return nil, 0, ctx.Err()
			}
			return nil, 0, fmt.Errorf("failed to send to %s: %w", addr, err)
		}
		logger.Trace().Int("attempt", attempt+1).Msg("query sent")

		deadline := sent.Add(q.cfg.Timeout())
		ctxBound := false
		if d, ok := ctx.Deadline(); ok && d.Before(deadline) {
			deadline, ctxBound = d, true
		}
		pc.SetReadDeadline(deadline)

		for {
			n, from, err := pc.ReadFrom(buf)
			if err != nil {
				if ctx.Err() != nil {
					return nil, 0, ctx.Err()
				}
				if errors.Is(err, os.ErrDeadlineExceeded) {
					if ctxBound {
						// the socket deadline can fire just before ctx does
						<-ctx.Done()
						return nil, 0, ctx.Err()
					}
					logger.Debug().Int("attempt", attempt+1).Msg("query timed out")
					break
				}
				return nil, 0, fmt.Errorf("failed to read from %s: %w", addr, err)
			}

			if !samePeer(from, peer) {
				logger.Trace().Str("from", from.String()).Msg("ignoring datagram from unexpected peer")
				continue
			}

			ev, _, err := q.parser.ParseUDP(buf[:n], addr)
			if err != nil {
				q.emit(ctx, protocol.FailureEvent(events.FamilyUDP, n, addr, err))
				continue
			}
			q.emit(ctx, ev)

			reply := ev.Payload.(events.PacketPayload).Packet.(protocol.UDPPayload)
			if reply.UDPType() != want {
				logger.Debug().Str("reply", reply.UDPType().String()).Msg("ignoring unexpected reply")
				continue
			}
			return reply, time.Since(sent), nil
		}
	}

	q.emit(ctx, &events.Event{
		Type:   events.EventQueryTimeout,
		Source: addr,
		Payload: events.QueryTimeoutPayload{
			Address: addr,
			Timeout: q.cfg.Timeout(),
		},
	})
	return nil, 0, fmt.Errorf("query %s to %s: %w after %d attempts", req.UDPType(), addr, ErrNoReply, q.cfg.Retries+1)
}

// FindServer asks addr for its game information.
func (q *Querier) FindServer(ctx context.Context, addr string) (protocol.ServerResponse, time.Duration, error) {
	info, rtt, err := queryAs[protocol.ServerResponse](ctx, q, addr, protocol.ClientFindServer{})
	if err != nil {
		return info, 0, err
	}
	q.emit(ctx, discoveredEvent(addr, info, rtt))
	return info, rtt, nil
}

// DetailInfo asks addr for its company details.
func (q *Querier) DetailInfo(ctx context.Context, addr string) (protocol.ServerDetailInfo, error) {
	detail, _, err := queryAs[protocol.ServerDetailInfo](ctx, q, addr, protocol.ClientDetailInfo{})
	return detail, err
}

// NewGRFs asks addr for the names of the given NewGRFs.
func (q *Querier) NewGRFs(ctx context.Context, addr string, ids protocol.NewGRFIdentifiers) (protocol.NewGRFDetails, error) {
	reply, _, err := queryAs[protocol.ServerNewGRFs](ctx, q, addr, protocol.ClientGetNewGRFs{NewGRFs: ids})
	if err != nil {
		return nil, err
	}
	return reply.NewGRFs, nil
}

// MasterList asks the configured master server for its server list. With
// RequestAutodetect the master answers once per family; only the first
// list to arrive is returned.
func (q *Querier) MasterList(ctx context.Context, typ protocol.ServerListRequestType) (protocol.ServerList, error) {
	if q.cfg.MasterServer == "" {
		return nil, errors.New("no master server configured")
	}
	req := protocol.ClientGetList{MasterServerVersion: MasterServerVersion, RequestType: typ}
	reply, _, err := queryAs[protocol.MasterResponseList](ctx, q, q.cfg.MasterServer, req)
	if err != nil {
		return nil, err
	}
	q.logger.Info().
		Str("master", q.cfg.MasterServer).
		Str("list", reply.Servers.ListType().String()).
		Int("servers", reply.Servers.Len()).
		Msg("received server list")
	return reply.Servers, nil
}

// ScanResult is the outcome of querying one server during a Scan.
type ScanResult struct {
	Addr      netip.AddrPort
	Info      protocol.ServerResponse
	RoundTrip time.Duration
	Err       error
}

// Scan sends CLIENT_FIND_SERVER to every address, at most cfg.Concurrency
// at a time. Results are returned in the order of addrs; unreachable
// servers carry their error.
func (q *Querier) Scan(ctx context.Context, addrs []netip.AddrPort) []ScanResult {
	results := make([]ScanResult, len(addrs))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(max(q.cfg.Concurrency, 1))

	for i, addr := range addrs {
		results[i].Addr = addr
		g.Go(func() error {
			info, rtt, err := q.FindServer(gctx, addr.String())
			results[i].Info = info
			results[i].RoundTrip = rtt
			results[i].Err = err
			return nil
		})
	}
	g.Wait()

	answered := 0
	for _, r := range results {
		if r.Err == nil {
			answered++
		}
	}
	q.logger.Info().Int("queried", len(addrs)).Int("answered", answered).Msg("scan complete")
	return results
}

func queryAs[T protocol.UDPPayload](ctx context.Context, q *Querier, addr string, req protocol.UDPPayload) (T, time.Duration, error) {
	var zero T
	reply, rtt, err := q.Query(ctx, addr, req, zero.UDPType())
	if err != nil {
		return zero, 0, err
	}
	v, ok := reply.(T)
	if !ok {
		return zero, 0, fmt.Errorf("unexpected reply %T from %s", reply, addr)
	}
	return v, rtt, nil
}

func (q *Querier) emit(ctx context.Context, ev *events.Event) {
	if q.bus != nil {
		q.bus.Emit(ctx, *ev)
	}
}

// samePeer compares a datagram source with the queried address, treating
// IPv4-mapped IPv6 addresses as their IPv4 form.
func samePeer(from net.Addr, peer netip.AddrPort) bool {
	ua, ok := from.(*net.UDPAddr)
	if !ok {
		return false
	}
	got := ua.AddrPort()
	return got.Addr().Unmap() == peer.Addr().Unmap() && got.Port() == peer.Port()
}

func discoveredEvent(addr string, info protocol.ServerResponse, rtt time.Duration) *events.Event {
	grfs := 0
	if info.ActiveNewGRF != nil {
		grfs = info.ActiveNewGRF.Len()
	}
	return &events.Event{
		Type:   events.EventServerDiscovered,
		Source: addr,
		Payload: events.ServerDiscoveredPayload{
			Address:     addr,
			Name:        info.ServerName,
			Revision:    info.ServerRevision,
			MapName:     info.MapName,
			ClientsOn:   info.ClientsOn,
			ClientsMax:  info.ClientsMax,
			Companies:   info.CurrentCompanies,
			Dedicated:   info.Dedicated,
			HasPassword: info.UsePassword,
			NewGRFCount: grfs,
			RoundTripMs: rtt.Milliseconds(),
		},
	}
}
