// Package wire defines the JSON message envelope and opcodes exchanged with
// clients over the websocket gateway.
package wire

import "encoding/json"

// Opcode identifies the message type in an envelope.
type Opcode string

// Client-originated opcodes.
const (
	OpHello          Opcode = "hello"
	OpJoinRoom       Opcode = "join_room"
	OpLeaveRoom      Opcode = "leave_room"
	OpListRooms      Opcode = "list_rooms"
	OpPing           Opcode = "ping"
	OpMove           Opcode = "move"
	OpAdmin          Opcode = "admin"
	OpSetTarget      Opcode = "set_target"
	OpCast           Opcode = "cast"
	OpObjectRequest  Opcode = "object_request"
	OpTerrainRequest Opcode = "terrain_request"
	OpHeartbeat      Opcode = "heartbeat"
	OpWhereAmI       Opcode = "whereami"
)

// Server-originated opcodes. OpChat and OpTerrain flow both ways.
const (
	OpWelcome        Opcode = "welcome"
	OpHelloAck       Opcode = "hello_ack"
	OpRoomJoined     Opcode = "room_joined"
	OpRoomLeft       Opcode = "room_left"
	OpRoomList       Opcode = "room_list"
	OpError          Opcode = "error"
	OpPong           Opcode = "pong"
	OpEntityList     Opcode = "entity_list"
	OpEntitySpawn    Opcode = "entity_spawn"
	OpEntityUpdate   Opcode = "entity_update"
	OpEntityDespawn  Opcode = "entity_despawn"
	OpChat           Opcode = "chat"
	OpTerrain        Opcode = "terrain"
	OpWorldBlueprint Opcode = "world_blueprint"
	OpTargetSet      Opcode = "target_set"
	OpAbilityCast    Opcode = "ability_cast"
	OpObjectChunk    Opcode = "object_chunk"
	OpWhereAmIResult Opcode = "whereami_result"
	OpMudResult      Opcode = "mud_result"
	OpActionResult   Opcode = "action_result"
)

// Message is the envelope for every frame on the wire.
type Message struct {
	Op      Opcode          `json:"op"`
	Payload json.RawMessage `json:"payload,omitempty"`
	Nonce   string          `json:"nonce,omitempty"`
}

// NewMessage marshals payload into an envelope with the given opcode.
//
// Postcondition: Returns a Message whose Payload is valid JSON, or an error.
func NewMessage(op Opcode, payload any) (Message, error) {
	if payload == nil {
		return Message{Op: op}, nil
	}
	raw, err := json.Marshal(payload)
	if err != nil {
		return Message{}, err
	}
	return Message{Op: op, Payload: raw}, nil
}

// EntityView is the client-visible projection of an entity.
type EntityView struct {
	ID      string  `json:"id"`
	Kind    string  `json:"kind"`
	Name    string  `json:"name,omitempty"`
	Model   string  `json:"model,omitempty"`
	RoomID  string  `json:"roomId"`
	X       float64 `json:"x"`
	Y       float64 `json:"y"`
	Z       float64 `json:"z"`
	RotY    float64 `json:"rotY"`
	HP      int     `json:"hp"`
	MaxHP   int     `json:"maxHp"`
	Alive   bool    `json:"alive"`
	OwnerID string  `json:"ownerId,omitempty"`
}

// EntityListPayload carries the initial room roster on join.
type EntityListPayload struct {
	RoomID   string       `json:"roomId"`
	Entities []EntityView `json:"entities"`
}

// EntityUpdatePayload carries a partial entity delta.
type EntityUpdatePayload struct {
	ID    string   `json:"id"`
	HP    *int     `json:"hp,omitempty"`
	MaxHP *int     `json:"maxHp,omitempty"`
	Alive *bool    `json:"alive,omitempty"`
	X     *float64 `json:"x,omitempty"`
	Y     *float64 `json:"y,omitempty"`
	Z     *float64 `json:"z,omitempty"`
	RotY  *float64 `json:"rotY,omitempty"`
}

// EntityDespawnPayload announces entity removal.
type EntityDespawnPayload struct {
	ID string `json:"id"`
}

// ChatPayload carries a chat or combat line.
type ChatPayload struct {
	From string `json:"from,omitempty"`
	Text string `json:"text"`
}

// ErrorPayload carries a client-facing error.
type ErrorPayload struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// RoomJoinedPayload confirms a room join.
type RoomJoinedPayload struct {
	RoomID string `json:"roomId"`
}

// RoomLeftPayload confirms a room leave.
type RoomLeftPayload struct {
	RoomID string `json:"roomId"`
}

// HelloPayload introduces the client.
type HelloPayload struct {
	Name string `json:"name"`
}

// WelcomePayload greets a new session.
type WelcomePayload struct {
	ServerName string `json:"serverName"`
	SessionID  string `json:"sessionId"`
}

// JoinRoomPayload requests a room change.
type JoinRoomPayload struct {
	RoomID string `json:"roomId"`
}

// LeaveRoomPayload requests leaving a room.
type LeaveRoomPayload struct {
	RoomID string `json:"roomId"`
}

// RoomListPayload enumerates occupied rooms.
type RoomListPayload struct {
	Rooms []RoomInfo `json:"rooms"`
}

// RoomInfo is one occupied room in a room_list.
type RoomInfo struct {
	RoomID  string `json:"roomId"`
	Members int    `json:"members"`
}

// MovePayload carries a client pose update.
type MovePayload struct {
	X    float64 `json:"x"`
	Y    float64 `json:"y"`
	Z    float64 `json:"z"`
	RotY float64 `json:"rotY"`
}

// WhereAmIPayload reports the session's current room and position.
type WhereAmIPayload struct {
	RoomID string  `json:"roomId"`
	X      float64 `json:"x"`
	Y      float64 `json:"y"`
	Z      float64 `json:"z"`
}
