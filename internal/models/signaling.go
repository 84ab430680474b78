package models

import (
	"encoding/json"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/sirupsen/logrus"
)

// Client-to-server signaling event types.
const (
	EventJoinMeeting       = "join-meeting"
	EventOffer             = "offer"
	EventAnswer            = "answer"
	EventICECandidate      = "ice-candidate"
	EventToggleAudio       = "toggle-audio"
	EventToggleVideo       = "toggle-video"
	EventScreenShare       = "screen-share"
	EventChatMessage       = "chat-message"
	EventMuteParticipant   = "mute-participant"
	EventRemoveParticipant = "remove-participant"
	EventRaiseHand         = "raise-hand"
	EventReaction          = "reaction"
	EventLeaveMeeting      = "leave-meeting"
)

// Server-to-client signaling event types.
const (
	EventUserJoined           = "user-joined"
	EventUserLeft             = "user-left"
	EventExistingParticipants = "existing-participants"
	EventAudioToggled         = "audio-toggled"
	EventVideoToggled         = "video-toggled"
	EventMutedByHost          = "muted-by-host"
	EventRemovedFromMeeting   = "removed-from-meeting"
	EventHandRaised           = "hand-raised"
	EventMeetingEnded         = "meeting-ended"
	EventError                = "error"
)

// SignalingMessage is the wire envelope for all WebSocket traffic. To
// addresses a single peer (by user ID, socket ID as fallback); an empty
// To means the whole room.
type SignalingMessage struct {
	Type      string          `json:"type"`
	MeetingID string          `json:"meetingId,omitempty"`
	From      string          `json:"from,omitempty"`
	To        string          `json:"to,omitempty"`
	Data      json.RawMessage `json:"data,omitempty"`
	Timestamp int64           `json:"timestamp,omitempty"`
}

// SignalingClient is one WebSocket connection registered with the hub.
type SignalingClient struct {
	// SocketID is unique per connection; UserID may repeat across tabs.
	SocketID  string
	UserID    string
	Username  string
	MeetingID string
	Role      ParticipantRole
	Conn      *websocket.Conn
	Send      chan []byte

	sendMu     sync.Mutex
	sendClosed bool
}

// TrySend enqueues a payload without blocking. It returns false when
// the buffer is full or the send channel has been closed; a leave and
// rejoin over the same socket must never hit a closed channel.
func (c *SignalingClient) TrySend(payload []byte) bool {
	c.sendMu.Lock()
	defer c.sendMu.Unlock()
	if c.sendClosed {
		return false
	}
	select {
	case c.Send <- payload:
		return true
	default:
		return false
	}
}

// CloseSend closes the send channel exactly once. Call only when the
// underlying connection is going away for good.
func (c *SignalingClient) CloseSend() {
	c.sendMu.Lock()
	defer c.sendMu.Unlock()
	if !c.sendClosed {
		c.sendClosed = true
		close(c.Send)
	}
}

// SignalingHub routes messages between clients grouped by meeting. All
// map access happens on the Run goroutine or under mu for readers.
type SignalingHub struct {
	// Clients is keyed by socket ID.
	Clients map[string]*SignalingClient
	// Meetings maps meeting public ID to the sockets in that room.
	Meetings map[string]map[string]*SignalingClient

	Register   chan *SignalingClient
	Unregister chan *SignalingClient
	Broadcast  chan *HubMessage

	mu sync.RWMutex
}

// HubMessage is a routed payload: To selects unicast by user ID or
// socket ID, empty To fans out to the room. ExceptSocket excludes one
// socket from a room fanout.
type HubMessage struct {
	MeetingID    string
	To           string
	ExceptSocket string
	Payload      []byte
}

func NewSignalingHub() *SignalingHub {
	return &SignalingHub{
		Clients:    make(map[string]*SignalingClient),
		Meetings:   make(map[string]map[string]*SignalingClient),
		Register:   make(chan *SignalingClient),
		Unregister: make(chan *SignalingClient),
		Broadcast:  make(chan *HubMessage, 256),
	}
}

// Run owns the hub maps. Start it once, in its own goroutine.
func (h *SignalingHub) Run() {
	for {
		select {
		case client := <-h.Register:
			h.addClient(client)

		case client := <-h.Unregister:
			h.removeClient(client)

		case msg := <-h.Broadcast:
			h.route(msg)
		}
	}
}

func (h *SignalingHub) addClient(client *SignalingClient) {
	h.mu.Lock()
	defer h.mu.Unlock()

	h.Clients[client.SocketID] = client
	room := h.Meetings[client.MeetingID]
	if room == nil {
		room = make(map[string]*SignalingClient)
		h.Meetings[client.MeetingID] = room
	}
	room[client.SocketID] = client

	logrus.WithFields(logrus.Fields{
		"socket_id":  client.SocketID,
		"user_id":    client.UserID,
		"meeting_id": client.MeetingID,
	}).Debug("Client registered")
}

func (h *SignalingHub) removeClient(client *SignalingClient) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if _, ok := h.Clients[client.SocketID]; !ok {
		return
	}
	delete(h.Clients, client.SocketID)
	// The caller may have cleared client.MeetingID already, so locate
	// the socket by scanning rather than trusting the field. The send
	// channel stays open: the socket may leave one room and join
	// another on the same connection.
	for meetingID, room := range h.Meetings {
		if _, ok := room[client.SocketID]; ok {
			delete(room, client.SocketID)
			if len(room) == 0 {
				delete(h.Meetings, meetingID)
			}
		}
	}

	logrus.WithFields(logrus.Fields{
		"socket_id":  client.SocketID,
		"user_id":    client.UserID,
		"meeting_id": client.MeetingID,
	}).Debug("Client unregistered")
}

func (h *SignalingHub) route(msg *HubMessage) {
	h.mu.RLock()
	defer h.mu.RUnlock()

	room, ok := h.Meetings[msg.MeetingID]
	if !ok {
		return
	}

	if msg.To != "" {
		// Unicast. Prefer a user ID match, fall back to socket ID.
		// Silently dropped when no peer matches.
		for _, client := range room {
			if client.UserID == msg.To {
				h.deliver(client, msg.Payload)
				return
			}
		}
		if client, ok := room[msg.To]; ok {
			h.deliver(client, msg.Payload)
		}
		return
	}

	for _, client := range room {
		if msg.ExceptSocket != "" && client.SocketID == msg.ExceptSocket {
			continue
		}
		h.deliver(client, msg.Payload)
	}
}

// deliver enqueues for a slow-consumer-safe write: a full or closed
// send channel drops the client rather than blocking the hub.
func (h *SignalingHub) deliver(client *SignalingClient, payload []byte) {
	if client.TrySend(payload) {
		return
	}
	logrus.WithFields(logrus.Fields{
		"socket_id": client.SocketID,
		"user_id":   client.UserID,
	}).Warn("Send buffer full, dropping client")
	client.CloseSend()
	go func() { h.Unregister <- client }()
}

// RoomClients returns a snapshot of the clients in a meeting room.
func (h *SignalingHub) RoomClients(meetingID string) []*SignalingClient {
	h.mu.RLock()
	defer h.mu.RUnlock()

	room := h.Meetings[meetingID]
	clients := make([]*SignalingClient, 0, len(room))
	for _, c := range room {
		clients = append(clients, c)
	}
	return clients
}

// RoomSize returns the number of sockets in a meeting room.
func (h *SignalingHub) RoomSize(meetingID string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.Meetings[meetingID])
}

// ClientByUser returns the first socket for a user in a room, if any.
func (h *SignalingHub) ClientByUser(meetingID, userID string) *SignalingClient {
	h.mu.RLock()
	defer h.mu.RUnlock()

	for _, c := range h.Meetings[meetingID] {
		if c.UserID == userID {
			return c
		}
	}
	return nil
}

// NewSignalingMessage builds an envelope with the current timestamp.
func NewSignalingMessage(msgType, meetingID, from, to string, data interface{}) (*SignalingMessage, error) {
	var raw json.RawMessage
	if data != nil {
		b, err := json.Marshal(data)
		if err != nil {
			return nil, err
		}
		raw = b
	}
	return &SignalingMessage{
		Type:      msgType,
		MeetingID: meetingID,
		From:      from,
		To:        to,
		Data:      raw,
		Timestamp: time.Now().UnixMilli(),
	}, nil
}
