package gameserver

import (
	"encoding/json"
	"sort"

	"go.uber.org/zap"

	"github.com/piratewind/worldcore/internal/game/clock"
	"github.com/piratewind/worldcore/internal/game/entity"
	"github.com/piratewind/worldcore/internal/game/room"
	"github.com/piratewind/worldcore/internal/game/session"
	"github.com/piratewind/worldcore/internal/game/wire"
)

// Handler dispatches client messages. One Handler serves all sessions; per
// message it resolves the session and routes on the opcode.
type Handler struct {
	world      *WorldHandler
	sessions   *session.Table
	registry   *entity.Registry
	rooms      *room.Table
	clk        clock.Clock
	log        *zap.Logger
	serverName string
}

// NewHandler creates the message Handler.
func NewHandler(world *WorldHandler, sessions *session.Table, registry *entity.Registry, rooms *room.Table, clk clock.Clock, log *zap.Logger, serverName string) *Handler {
	return &Handler{
		world:      world,
		sessions:   sessions,
		registry:   registry,
		rooms:      rooms,
		clk:        clk,
		log:        log,
		serverName: serverName,
	}
}

// Handle routes one inbound envelope. Unknown opcodes answer with an error
// envelope; malformed payloads are rejected without mutation.
func (h *Handler) Handle(s *session.Session, msg wire.Message) {
	h.sessions.Touch(s.ID, h.clk.Now())

	switch msg.Op {
	case wire.OpHello:
		h.handleHello(s, msg)
	case wire.OpJoinRoom:
		h.handleJoinRoom(s, msg)
	case wire.OpLeaveRoom:
		h.handleLeaveRoom(s, msg)
	case wire.OpListRooms:
		h.handleListRooms(s)
	case wire.OpPing, wire.OpHeartbeat:
		h.send(s, wire.OpPong, nil)
	case wire.OpMove:
		h.handleMove(s, msg)
	case wire.OpChat:
		h.handleChat(s, msg)
	case wire.OpWhereAmI:
		h.handleWhereAmI(s)
	default:
		h.send(s, wire.OpError, wire.ErrorPayload{
			Code:    "unknown_op",
			Message: "unsupported opcode: " + string(msg.Op),
		})
	}
}

func (h *Handler) handleHello(s *session.Session, msg wire.Message) {
	var p wire.HelloPayload
	if len(msg.Payload) > 0 {
		if err := json.Unmarshal(msg.Payload, &p); err != nil {
			h.reject(s, "bad_payload", "hello payload malformed")
			return
		}
	}
	if p.Name != "" {
		s.Name = p.Name
	}
	h.send(s, wire.OpHelloAck, nil)
	h.send(s, wire.OpWelcome, wire.WelcomePayload{ServerName: h.serverName, SessionID: s.ID})
}

func (h *Handler) handleJoinRoom(s *session.Session, msg wire.Message) {
	var p wire.JoinRoomPayload
	if err := json.Unmarshal(msg.Payload, &p); err != nil || p.RoomID == "" {
		h.reject(s, "bad_payload", "join_room requires a roomId")
		return
	}
	h.world.JoinRoom(s, p.RoomID)
}

func (h *Handler) handleLeaveRoom(s *session.Session, msg wire.Message) {
	var p wire.LeaveRoomPayload
	if err := json.Unmarshal(msg.Payload, &p); err != nil || p.RoomID == "" {
		h.reject(s, "bad_payload", "leave_room requires a roomId")
		return
	}
	h.world.LeaveRoom(s, p.RoomID)
}

func (h *Handler) handleListRooms(s *session.Session) {
	ids := h.rooms.RoomIDs()
	sort.Strings(ids)
	infos := make([]wire.RoomInfo, 0, len(ids))
	for _, id := range ids {
		infos = append(infos, wire.RoomInfo{RoomID: id, Members: h.rooms.MemberCount(id)})
	}
	h.send(s, wire.OpRoomList, wire.RoomListPayload{Rooms: infos})
}

// handleMove updates the player pose. Non-finite coordinates are rejected
// by the registry; dead players cannot move.
func (h *Handler) handleMove(s *session.Session, msg wire.Message) {
	var p wire.MovePayload
	if err := json.Unmarshal(msg.Payload, &p); err != nil {
		h.reject(s, "bad_payload", "move payload malformed")
		return
	}
	e, ok := h.registry.PlayerForSession(s.ID)
	if !ok {
		h.reject(s, "no_body", "join a world room first")
		return
	}
	if !e.Alive {
		h.send(s, wire.OpChat, wire.ChatPayload{Text: BlockedLine(BlockDead)})
		return
	}
	if err := h.registry.SetPosition(e.ID, p.X, p.Y, p.Z); err != nil {
		h.reject(s, "bad_position", "position rejected")
		return
	}
	e.RotY = p.RotY
	x, y, z, rotY := e.X, e.Y, e.Z, e.RotY
	h.world.BroadcastExcept(e.RoomID, s.ID, wire.OpEntityUpdate, wire.EntityUpdatePayload{
		ID: e.ID, X: &x, Y: &y, Z: &z, RotY: &rotY,
	})
	if char := s.Character; char != nil {
		char.X, char.Y, char.Z, char.RotY = p.X, p.Y, p.Z, p.RotY
	}
}

func (h *Handler) handleChat(s *session.Session, msg wire.Message) {
	var p wire.ChatPayload
	if err := json.Unmarshal(msg.Payload, &p); err != nil || p.Text == "" {
		h.reject(s, "bad_payload", "chat requires text")
		return
	}
	from := s.Name
	if from == "" {
		from = s.ID
	}
	h.world.Broadcast(s.RoomID, wire.OpChat, wire.ChatPayload{From: from, Text: p.Text})
}

func (h *Handler) handleWhereAmI(s *session.Session) {
	out := wire.WhereAmIPayload{RoomID: s.RoomID}
	if e, ok := h.registry.PlayerForSession(s.ID); ok {
		out.RoomID = e.RoomID
		out.X, out.Y, out.Z = e.X, e.Y, e.Z
	}
	h.send(s, wire.OpWhereAmIResult, out)
}

func (h *Handler) send(s *session.Session, op wire.Opcode, payload any) {
	if err := h.sessions.Send(s.ID, op, payload); err != nil {
		h.log.Debug("send failed",
			zap.String("session_id", s.ID),
			zap.String("op", string(op)),
			zap.Error(err),
		)
	}
}

func (h *Handler) reject(s *session.Session, code, message string) {
	h.send(s, wire.OpError, wire.ErrorPayload{Code: code, Message: message})
}
