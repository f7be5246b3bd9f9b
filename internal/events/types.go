// Package events defines the event types published when packets are decoded.
package events

import "time"

// EventType represents the type of event emitted through the EventBus.
type EventType string

const (
	// Decoded packet events
	EventUDPPacket         EventType = "udp_packet"
	EventCoordinatorPacket EventType = "coordinator_packet"
	EventDecodeFailed      EventType = "decode_failed"

	// Discovery events
	EventServerDiscovered EventType = "server_discovered"
	EventQueryTimeout     EventType = "query_timeout"

	// System events
	EventShutdown EventType = "shutdown"
)

// Family identifies which protocol a packet belongs to.
type Family int

const (
	FamilyUnknown Family = iota
	FamilyUDP
	FamilyCoordinator
)

var familyStrings = map[Family]string{
	FamilyUnknown:     "unknown",
	FamilyUDP:         "udp",
	FamilyCoordinator: "coordinator",
}

// String returns the string representation of Family.
func (f Family) String() string {
	if str, ok := familyStrings[f]; ok {
		return str
	}
	return "unknown"
}

// MarshalJSON serializes Family as a JSON string (e.g. "udp").
func (f Family) MarshalJSON() ([]byte, error) {
	return []byte(`"` + f.String() + `"`), nil
}

// ParseFamily is the inverse of Family.String.
func ParseFamily(s string) Family {
	for f, str := range familyStrings {
		if str == s {
			return f
		}
	}
	return FamilyUnknown
}

// Event represents a single event in the system.
type Event struct {
	Type    EventType
	Source  string
	Time    time.Time
	Payload interface{}
}

// PacketPayload carries one successfully decoded packet. Packet holds the
// typed protocol value.
type PacketPayload struct {
	Family     Family `json:"family"`
	PacketType string `json:"packet_type"`
	Size       int    `json:"size"`
	Packet     any    `json:"packet"`
}

// DecodeFailedPayload describes a packet that could not be decoded.
type DecodeFailedPayload struct {
	Family Family `json:"family"`
	Size   int    `json:"size"`
	Reason string `json:"reason"`
	Error  string `json:"error"`
}

// ServerDiscoveredPayload summarizes a server that answered a query.
type ServerDiscoveredPayload struct {
	Address     string `json:"address"`
	Name        string `json:"name"`
	Revision    string `json:"revision"`
	MapName     string `json:"map_name"`
	ClientsOn   uint8  `json:"clients_on"`
	ClientsMax  uint8  `json:"clients_max"`
	Companies   uint8  `json:"companies"`
	Dedicated   bool   `json:"dedicated"`
	HasPassword bool   `json:"has_password"`
	NewGRFCount int    `json:"newgrf_count"`
	RoundTripMs int64  `json:"round_trip_ms"`
}

// QueryTimeoutPayload is emitted when a queried server did not answer.
type QueryTimeoutPayload struct {
	Address string        `json:"address"`
	Timeout time.Duration `json:"timeout"`
}
