// Package protocol implements the binary codec for the OpenTTD server
// discovery protocol (UDP) and the Game Coordinator protocol. All integers
// are little-endian, strings are NUL-terminated and every packet starts with
// a 2-byte length prefix that counts itself, followed by a 1-byte type.
//
// The codec is stateless: every call works on the buffer it is handed and
// the values it returns are owned by the caller.
package protocol

import "fmt"

// UDPPacketType is the message type byte of a UDP discovery packet.
type UDPPacketType uint8

// UDP discovery packet types.
const (
	PacketUDPClientFindServer   UDPPacketType = iota // Queries a game server for game information
	PacketUDPServerResponse                          // Reply of the game server with game information
	PacketUDPClientDetailInfo                        // Queries a game server about details of the game, such as companies
	PacketUDPServerDetailInfo                        // Reply of the game server about details of the game, such as companies
	PacketUDPServerRegister                          // Packet to register itself to the master server
	PacketUDPMasterAckRegister                       // Packet indicating registration has succeeded
	PacketUDPClientGetList                           // Request for serverlist from master server
	PacketUDPMasterResponseList                      // Response from master server with server ip's + port's
	PacketUDPServerUnregister                        // Request to be removed from the server-list
	PacketUDPClientGetNewGRFs                        // Requests the name for a list of GRFs (GRF_ID and MD5)
	PacketUDPServerNewGRFs                           // Sends the list of NewGRF's requested
	PacketUDPMasterSessionKey                        // Sends a fresh session key to the client

	udpPacketTypeEnd
)

var udpPacketTypeNames = [...]string{
	"CLIENT_FIND_SERVER",
	"SERVER_RESPONSE",
	"CLIENT_DETAIL_INFO",
	"SERVER_DETAIL_INFO",
	"SERVER_REGISTER",
	"MASTER_ACK_REGISTER",
	"CLIENT_GET_LIST",
	"MASTER_RESPONSE_LIST",
	"SERVER_UNREGISTER",
	"CLIENT_GET_NEWGRFS",
	"SERVER_NEWGRFS",
	"MASTER_SESSION_KEY",
}

// Valid reports whether t is a known UDP packet type.
func (t UDPPacketType) Valid() bool { return t < udpPacketTypeEnd }

func (t UDPPacketType) String() string {
	if !t.Valid() {
		return fmt.Sprintf("UDPPacketType(%d)", uint8(t))
	}
	return udpPacketTypeNames[t]
}

// CoordinatorPacketType is the message type byte of a Game Coordinator packet.
// The numbering is unrelated to UDPPacketType.
type CoordinatorPacketType uint8

// Game Coordinator packet types.
const (
	PacketGCError             CoordinatorPacketType = iota // Game Coordinator indicates there was an error
	PacketServerRegister                                   // Server registration
	PacketGCRegisterAck                                    // Game Coordinator accepts the registration
	PacketServerUpdate                                     // Server sends a set intervals an update of the server
	PacketClientListing                                    // Client is requesting a listing of all public servers
	PacketGCListing                                        // Game Coordinator returns a listing of all public servers
	PacketClientConnect                                    // Client wants to connect to a server based on an invite code
	PacketGCConnecting                                     // Game Coordinator informs the client of the token assigned to the connection attempt
	PacketSerCliConnectFailed                              // Client/server tells the Game Coordinator the current connection attempt failed
	PacketGCConnectFailed                                  // Game Coordinator informs client/server it has given up on the connection attempt
	PacketClientConnected                                  // Client informs the Game Coordinator the connection with the server is established
	PacketGCDirectConnect                                  // Game Coordinator tells client to directly connect to the hostname:port of the server
	PacketGCStunRequest                                    // Game Coordinator tells client/server to initiate a STUN request
	PacketSerCliStunResult                                 // Client/server informs the Game Coordinator of the result of the STUN request
	PacketGCStunConnect                                    // Game Coordinator tells client/server to connect() reusing the STUN local address
	PacketGCNewGRFLookup                                   // Game Coordinator informs client about NewGRF lookup table updates needed for GC_LISTING
	PacketGCTurnConnect                                    // Game Coordinator tells client/server to connect to a specific TURN server

	coordinatorPacketTypeEnd
)

var coordinatorPacketTypeNames = [...]string{
	"GC_ERROR",
	"SERVER_REGISTER",
	"GC_REGISTER_ACK",
	"SERVER_UPDATE",
	"CLIENT_LISTING",
	"GC_LISTING",
	"CLIENT_CONNECT",
	"GC_CONNECTING",
	"SERCLI_CONNECT_FAILED",
	"GC_CONNECT_FAILED",
	"CLIENT_CONNECTED",
	"GC_DIRECT_CONNECT",
	"GC_STUN_REQUEST",
	"SERCLI_STUN_RESULT",
	"GC_STUN_CONNECT",
	"GC_NEWGRF_LOOKUP",
	"GC_TURN_CONNECT",
}

// Valid reports whether t is a known coordinator packet type.
func (t CoordinatorPacketType) Valid() bool { return t < coordinatorPacketTypeEnd }

func (t CoordinatorPacketType) String() string {
	if !t.Valid() {
		return fmt.Sprintf("CoordinatorPacketType(%d)", uint8(t))
	}
	return coordinatorPacketTypeNames[t]
}

// ProtocolVersion is the version tag that opens a server response.
type ProtocolVersion uint8

// Supported server response versions.
const (
	ProtocolV6 ProtocolVersion = 6
)

// Valid reports whether v is a server response version this codec understands.
func (v ProtocolVersion) Valid() bool { return v == ProtocolV6 }

func (v ProtocolVersion) String() string { return fmt.Sprintf("v%d", uint8(v)) }

// Size limits of the wire format.
const (
	// MaxPacketSize is the largest value the 2-byte length prefix can hold.
	MaxPacketSize = 0xFFFF

	// HeaderSize is the length prefix plus the type byte.
	HeaderSize = 3

	// MaxCount8 is the capacity of a one byte count prefix.
	MaxCount8 = 0xFF

	// MaxCount16 is the capacity of a two byte count prefix.
	MaxCount16 = 0xFFFF
)
