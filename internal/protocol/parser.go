package protocol

import (
	"fmt"

	"github.com/rs/zerolog"

	"github.com/ottdwire/ottdwire/internal/events"
	"github.com/ottdwire/ottdwire/internal/util"
)

// Parser wraps the codec for callers that handle live traffic. It logs each
// packet, updates the protocol metrics and turns decoded payloads into
// events. The package level Decode and Encode functions do none of this.
type Parser struct {
	logger zerolog.Logger
}

// NewParser creates a parser with its own component logger.
func NewParser() *Parser {
	return &Parser{
		logger: util.ComponentLogger("packet_parser"),
	}
}

// ParseUDP decodes one UDP packet from the front of data. source names the
// peer and is copied into the event.
func (p *Parser) ParseUDP(data []byte, source string) (*events.Event, []byte, error) {
	payload, rest, err := DecodeUDPPacket(data)
	if err != nil {
		p.fail(events.FamilyUDP, data, source, err)
		return nil, nil, fmt.Errorf("failed to decode udp packet from %s: %w", source, err)
	}

	size := len(data) - len(rest)
	t := payload.UDPType().String()
	metricPacketsDecoded.WithLabelValues(events.FamilyUDP.String(), t).Inc()
	metricDecodedBytes.WithLabelValues(events.FamilyUDP.String()).Add(float64(size))

	p.logger.Debug().
		Str("source", source).
		Str("type", t).
		Int("size", size).
		Msg("udp packet")

	return &events.Event{
		Type:   events.EventUDPPacket,
		Source: source,
		Payload: events.PacketPayload{
			Family:     events.FamilyUDP,
			PacketType: t,
			Size:       size,
			Packet:     payload,
		},
	}, rest, nil
}

// ParseCoordinator decodes one Game Coordinator packet from the front of data.
func (p *Parser) ParseCoordinator(data []byte, source string) (*events.Event, []byte, error) {
	payload, rest, err := DecodeCoordinatorPacket(data)
	if err != nil {
		p.fail(events.FamilyCoordinator, data, source, err)
		return nil, nil, fmt.Errorf("failed to decode coordinator packet from %s: %w", source, err)
	}

	size := len(data) - len(rest)
	t := payload.CoordinatorType().String()
	metricPacketsDecoded.WithLabelValues(events.FamilyCoordinator.String(), t).Inc()
	metricDecodedBytes.WithLabelValues(events.FamilyCoordinator.String()).Add(float64(size))

	p.logger.Debug().
		Str("source", source).
		Str("type", t).
		Int("size", size).
		Msg("coordinator packet")

	return &events.Event{
		Type:   events.EventCoordinatorPacket,
		Source: source,
		Payload: events.PacketPayload{
			Family:     events.FamilyCoordinator,
			PacketType: t,
			Size:       size,
			Packet:     payload,
		},
	}, rest, nil
}

// ParseAll decodes every packet in data. Decoding stops at the first error;
// the events decoded before it are returned along with the error.
func (p *Parser) ParseAll(family events.Family, data []byte, source string) ([]*events.Event, error) {
	var out []*events.Event
	for len(data) > 0 {
		var (
			ev  *events.Event
			err error
		)
		switch family {
		case events.FamilyUDP:
			ev, data, err = p.ParseUDP(data, source)
		case events.FamilyCoordinator:
			ev, data, err = p.ParseCoordinator(data, source)
		default:
			return nil, fmt.Errorf("unknown packet family %q", family)
		}
		if err != nil {
			return out, err
		}
		out = append(out, ev)
	}
	return out, nil
}

// FailureEvent builds the event published for a packet that failed to decode.
func FailureEvent(family events.Family, size int, source string, err error) *events.Event {
	return &events.Event{
		Type:   events.EventDecodeFailed,
		Source: source,
		Payload: events.DecodeFailedPayload{
			Family: family,
			Size:   size,
			Reason: FailureReason(err),
			Error:  err.Error(),
		},
	}
}

func (p *Parser) fail(family events.Family, data []byte, source string, err error) {
	reason := FailureReason(err)
	metricDecodeFailures.WithLabelValues(family.String(), reason).Inc()

	ev := p.logger.Warn()
	if reason == "unknown_variant" && len(data) >= HeaderSize {
		ev = ev.Uint8("type", data[2])
	}
	ev.Err(err).
		Str("source", source).
		Str("family", family.String()).
		Str("reason", reason).
		Int("size", len(data)).
		Msg("failed to decode packet")
}

// EncodeUDP frames payload for sending and counts it.
func (p *Parser) EncodeUDP(payload UDPPayload) ([]byte, error) {
	data, err := EncodeUDPPacket(payload)
	if err != nil {
		return nil, fmt.Errorf("failed to encode udp packet: %w", err)
	}
	t := payload.UDPType().String()
	metricPacketsEncoded.WithLabelValues(events.FamilyUDP.String(), t).Inc()
	p.logger.Debug().Str("type", t).Int("size", len(data)).Msg("encoded udp packet")
	return data, nil
}

// EncodeCoordinator frames payload for sending and counts it.
func (p *Parser) EncodeCoordinator(payload CoordinatorPayload) ([]byte, error) {
	data, err := EncodeCoordinatorPacket(payload)
	if err != nil {
		return nil, fmt.Errorf("failed to encode coordinator packet: %w", err)
	}
	t := payload.CoordinatorType().String()
	metricPacketsEncoded.WithLabelValues(events.FamilyCoordinator.String(), t).Inc()
	p.logger.Debug().Str("type", t).Int("size", len(data)).Msg("encoded coordinator packet")
	return data, nil
}

// Encode frames a UDP or coordinator payload and reports which family it
// belongs to.
func (p *Parser) Encode(payload Payload) (events.Family, []byte, error) {
	switch v := payload.(type) {
	case UDPPayload:
		data, err := p.EncodeUDP(v)
		return events.FamilyUDP, data, err
	case CoordinatorPayload:
		data, err := p.EncodeCoordinator(v)
		return events.FamilyCoordinator, data, err
	}
	return events.FamilyUnknown, nil, &EncodeError{Field: "payload", Err: ErrNilPayload}
}
