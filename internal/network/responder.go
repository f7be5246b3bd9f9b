package network

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strconv"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/ottdwire/ottdwire/internal/config"
	"github.com/ottdwire/ottdwire/internal/events"
	"github.com/ottdwire/ottdwire/internal/protocol"
	"github.com/ottdwire/ottdwire/internal/util"
)

// Responder answers discovery queries the way a game server does. It
// replies to CLIENT_FIND_SERVER, CLIENT_DETAIL_INFO and CLIENT_GET_NEWGRFS
// from a fixed description and publishes every datagram it receives.
type Responder struct {
	addr   string
	parser *protocol.Parser
	bus    *events.EventBus
	logger zerolog.Logger

	mu      sync.RWMutex
	info    protocol.ServerResponse
	detail  protocol.ServerDetailInfo
	newgrfs protocol.NewGRFDetails
	conn    net.PacketConn

	ready chan struct{}
}

// NewResponder creates a responder that will listen on addr. bus may be nil.
func NewResponder(addr string, parser *protocol.Parser, bus *events.EventBus) *Responder {
	return &Responder{
		addr:   addr,
		parser: parser,
		bus:    bus,
		logger: util.ComponentLogger("udp_responder"),
		info: protocol.ServerResponse{
			ActiveNewGRF: protocol.NewGRFIdentifiers{},
		},
		detail: protocol.ServerDetailInfo{Version: protocol.CompanyInfoVersion},
		ready:  make(chan struct{}),
	}
}

// SetServer replaces the advertised game information. The active NewGRF
// set of info is derived from newgrfs and sent in the short id form.
func (r *Responder) SetServer(info protocol.ServerResponse, detail protocol.ServerDetailInfo, newgrfs protocol.NewGRFDetails) {
	ids := make(protocol.NewGRFIdentifiers, len(newgrfs))
	for id, grf := range newgrfs {
		ids[id] = grf.MD5
	}
	info.ActiveNewGRF = ids

	r.mu.Lock()
	defer r.mu.Unlock()
	r.info = info
	r.detail = detail
	r.newgrfs = newgrfs
}

// Start listens and answers queries until ctx is cancelled.
func (r *Responder) Start(ctx context.Context) error {
	lc := ReuseAddrListenConfig()
	pc, err := lc.ListenPacket(ctx, "udp", r.addr)
	if err != nil {
		return fmt.Errorf("failed to start UDP responder on %s: %w", r.addr, err)
	}

	r.mu.Lock()
	r.conn = pc
	r.mu.Unlock()
	close(r.ready)

	r.logger.Info().Str("addr", pc.LocalAddr().String()).Msg("UDP responder started")

	go func() {
		<-ctx.Done()
		pc.Close()
	}()

	buf := make([]byte, protocol.MaxPacketSize)
	for {
		n, remote, err := pc.ReadFrom(buf)
		if err != nil {
			select {
			case <-ctx.Done():
				r.logger.Info().Msg("UDP responder stopping")
				return nil
			default:
				if errors.Is(err, net.ErrClosed) {
					r.logger.Info().Msg("UDP responder closed")
					return nil
				}
				r.logger.Error().Err(err).Msg("UDP read error")
				continue
			}
		}
		r.handle(ctx, pc, buf[:n], remote)
	}
}

func (r *Responder) handle(ctx context.Context, pc net.PacketConn, data []byte, remote net.Addr) {
	source := remote.String()
	ev, _, err := r.parser.ParseUDP(data, source)
	if err != nil {
		r.emit(ctx, protocol.FailureEvent(events.FamilyUDP, len(data), source, err))
		return
	}
	r.emit(ctx, ev)

	reply := r.reply(ev.Payload.(events.PacketPayload).Packet.(protocol.UDPPayload))
	if reply == nil {
		return
	}

	out, err := r.parser.EncodeUDP(reply)
	if err != nil {
		r.logger.Error().Err(err).Str("reply", reply.UDPType().String()).Msg("failed to encode reply")
		return
	}
	if _, err := pc.WriteTo(out, remote); err != nil {
		r.logger.Warn().Err(err).Str("remote", source).Msg("failed to send reply")
		return
	}

	r.logger.Trace().
		Str("remote", source).
		Str("reply", reply.UDPType().String()).
		Msg("answered query")
}

// reply returns the answer to req, or nil for packets a server ignores.
func (r *Responder) reply(req protocol.UDPPayload) protocol.UDPPayload {
	r.mu.RLock()
	defer r.mu.RUnlock()

	switch m := req.(type) {
	case protocol.ClientFindServer:
		return r.info
	case protocol.ClientDetailInfo:
		return r.detail
	case protocol.ClientGetNewGRFs:
		// only NewGRFs the server runs with the exact checksum are named
		found := make(protocol.NewGRFDetails, len(m.NewGRFs))
		for id, md5 := range m.NewGRFs {
			if grf, ok := r.newgrfs[id]; ok && grf.MD5 == md5 {
				found[id] = grf
			}
		}
		return protocol.ServerNewGRFs{NewGRFs: found}
	}
	return nil
}

// Ready is closed once the responder is listening.
func (r *Responder) Ready() <-chan struct{} {
	return r.ready
}

// Addr returns the bound address, or nil before Start has bound.
func (r *Responder) Addr() net.Addr {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if r.conn == nil {
		return nil
	}
	return r.conn.LocalAddr()
}

// SelfTest queries the responder through the loopback interface and checks
// that it answers with the advertised server name.
func (r *Responder) SelfTest(ctx context.Context) error {
	addr, ok := r.Addr().(*net.UDPAddr)
	if !ok {
		return fmt.Errorf("self-test: responder is not listening")
	}
	host := "127.0.0.1"
	if !addr.IP.IsUnspecified() {
		host = addr.IP.String()
	}
	target := net.JoinHostPort(host, strconv.Itoa(addr.Port))

	q := NewQuerier(config.QueryConfig{TimeoutMs: int((5 * time.Second).Milliseconds())}, r.parser, nil)
	info, _, err := q.FindServer(ctx, target)
	if err != nil {
		return fmt.Errorf("self-test failed: %w", err)
	}

	r.mu.RLock()
	want := r.info.ServerName
	r.mu.RUnlock()
	if info.ServerName != want {
		return fmt.Errorf("self-test: got server name %q, want %q", info.ServerName, want)
	}

	r.logger.Debug().Str("target", target).Msg("responder self-test passed")
	return nil
}

// Stop closes the listening socket.
func (r *Responder) Stop() error {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if r.conn != nil {
		return r.conn.Close()
	}
	return nil
}

func (r *Responder) emit(ctx context.Context, ev *events.Event) {
	if r.bus != nil {
		r.bus.Emit(ctx, *ev)
	}
}
