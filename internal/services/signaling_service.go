package services

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/sirupsen/logrus"

	"github.com/confera-app/backend/internal/cache"
	"github.com/confera-app/backend/internal/models"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = 54 * time.Second
	maxMessageSize = 512 * 1024
)

// SignalingService upgrades sockets, authenticates them, and dispatches
// signaling traffic through the hub. WebRTC payloads pass through
// opaque; the server never inspects SDP or ICE bodies.
type SignalingService struct {
	hub            *models.SignalingHub
	jwtService     *JWTService
	meetingService *MeetingService
	chatService    *ChatService
	presence       *cache.PresenceStore
	upgrader       websocket.Upgrader
}

func NewSignalingService(hub *models.SignalingHub, jwtService *JWTService, meetingService *MeetingService, chatService *ChatService, presence *cache.PresenceStore, allowedOrigin string) *SignalingService {
	return &SignalingService{
		hub:            hub,
		jwtService:     jwtService,
		meetingService: meetingService,
		chatService:    chatService,
		presence:       presence,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
			CheckOrigin: func(r *http.Request) bool {
				origin := r.Header.Get("Origin")
				return origin == "" || origin == allowedOrigin
			},
		},
	}
}

// participantInfo is the shape of user-joined and existing-participants
// entries.
type participantInfo struct {
	SocketID string `json:"socketId"`
	OdID     string `json:"odId"`
	Username string `json:"username"`
}

// HandleConnection upgrades the request and runs the socket until it
// closes. The token travels as a query parameter because browsers
// cannot set WebSocket headers.
func (s *SignalingService) HandleConnection(c *gin.Context) {
	token := c.Query("token")
	if token == "" {
		token, _ = s.jwtService.ExtractTokenFromHeader(c.GetHeader("Authorization"))
	}

	claims, err := s.jwtService.ValidateAccessToken(token)
	if err != nil {
		c.JSON(http.StatusUnauthorized, gin.H{"success": false, "message": "Authentication error"})
		return
	}

	conn, err := s.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		logrus.WithError(err).Warn("WebSocket upgrade failed")
		return
	}

	client := &models.SignalingClient{
		SocketID: uuid.New().String(),
		UserID:   claims.UserID.String(),
		Username: claims.Username,
		Conn:     conn,
		Send:     make(chan []byte, 256),
	}

	go s.writePump(client)
	s.readPump(client)
}

func (s *SignalingService) readPump(client *models.SignalingClient) {
	defer func() {
		s.handleDisconnect(client)
		client.CloseSend()
		client.Conn.Close()
	}()

	client.Conn.SetReadLimit(maxMessageSize)
	client.Conn.SetReadDeadline(time.Now().Add(pongWait))
	client.Conn.SetPongHandler(func(string) error {
		client.Conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		_, raw, err := client.Conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				logrus.WithError(err).WithField("socket_id", client.SocketID).Debug("Unexpected socket close")
			}
			return
		}

		var msg models.SignalingMessage
		if err := json.Unmarshal(raw, &msg); err != nil {
			s.sendError(client, "invalid message format")
			continue
		}
		s.dispatch(client, &msg)
	}
}

func (s *SignalingService) writePump(client *models.SignalingClient) {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		client.Conn.Close()
	}()

	for {
		select {
		case payload, ok := <-client.Send:
			client.Conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				client.Conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := client.Conn.WriteMessage(websocket.TextMessage, payload); err != nil {
				return
			}

		case <-ticker.C:
			client.Conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := client.Conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

func (s *SignalingService) dispatch(client *models.SignalingClient, msg *models.SignalingMessage) {
	switch msg.Type {
	case models.EventJoinMeeting:
		s.handleJoin(client, msg)

	case models.EventOffer, models.EventAnswer, models.EventICECandidate:
		s.relaySignal(client, msg)

	case models.EventToggleAudio:
		s.handleMediaToggle(client, msg, models.EventAudioToggled, "audioEnabled")
	case models.EventToggleVideo:
		s.handleMediaToggle(client, msg, models.EventVideoToggled, "videoEnabled")
	case models.EventScreenShare:
		// Screen share re-broadcasts under its inbound name.
		s.handleMediaToggle(client, msg, models.EventScreenShare, "screenSharing")

	case models.EventRaiseHand:
		s.handleRaiseHand(client, msg)
	case models.EventReaction:
		s.handleReaction(client, msg)

	case models.EventChatMessage:
		s.handleChat(client, msg)

	case models.EventMuteParticipant:
		s.handleHostControl(client, msg, models.EventMutedByHost)
	case models.EventRemoveParticipant:
		s.handleHostControl(client, msg, models.EventRemovedFromMeeting)

	case models.EventLeaveMeeting:
		s.handleLeave(client)

	default:
		s.sendError(client, fmt.Sprintf("unknown event type %q", msg.Type))
	}
}

// handleJoin attaches the socket to a room after the meeting admits the
// user, then runs the bootstrap exchange: the room learns user-joined,
// the joiner alone receives the existing-participants snapshot and is
// responsible for initiating offers.
func (s *SignalingService) handleJoin(client *models.SignalingClient, msg *models.SignalingMessage) {
	meetingID := msg.MeetingID
	if meetingID == "" {
		s.sendError(client, "meetingId is required")
		return
	}

	ctx := context.Background()
	meeting, err := s.meetingService.GetMeeting(ctx, meetingID)
	if err != nil {
		s.sendError(client, "meeting not found")
		return
	}
	if meeting.Status.Terminal() {
		s.sendError(client, "meeting is no longer active")
		return
	}

	userID, err := uuid.Parse(client.UserID)
	if err != nil {
		s.sendError(client, "invalid user id")
		return
	}
	if p := meeting.FindParticipant(userID); p != nil {
		client.Role = p.Role
	}

	client.MeetingID = meetingID
	s.hub.Register <- client

	logrus.WithFields(logrus.Fields{
		"meeting_id": meetingID,
		"user_id":    client.UserID,
		"socket_id":  client.SocketID,
		"room_size":  s.hub.RoomSize(meetingID),
	}).Info("Socket joined room")

	s.presence.AddOnlineUser(meetingID, cache.OnlineUser{
		UserID:   client.UserID,
		Username: client.Username,
		SocketID: client.SocketID,
		JoinedAt: time.Now(),
	})

	joined := participantInfo{
		SocketID: client.SocketID,
		OdID:     client.UserID,
		Username: client.Username,
	}
	s.broadcast(meetingID, models.EventUserJoined, client.UserID, "", joined, client.SocketID)

	// Snapshot for the joiner only.
	var existing []participantInfo
	for _, peer := range s.hub.RoomClients(meetingID) {
		if peer.SocketID == client.SocketID {
			continue
		}
		existing = append(existing, participantInfo{
			SocketID: peer.SocketID,
			OdID:     peer.UserID,
			Username: peer.Username,
		})
	}
	s.sendTo(client, models.EventExistingParticipants, meetingID, "", existing)
}

// relaySignal forwards offer/answer/ice-candidate. With a target it is
// unicast and stamped with from; without one it falls back to a room
// broadcast excluding the sender.
func (s *SignalingService) relaySignal(client *models.SignalingClient, msg *models.SignalingMessage) {
	if client.MeetingID == "" {
		s.sendError(client, "join a meeting first")
		return
	}

	out := &models.SignalingMessage{
		Type:      msg.Type,
		MeetingID: client.MeetingID,
		From:      client.UserID,
		To:        msg.To,
		Data:      msg.Data,
		Timestamp: time.Now().UnixMilli(),
	}
	payload, err := json.Marshal(out)
	if err != nil {
		return
	}

	s.hub.Broadcast <- &models.HubMessage{
		MeetingID:    client.MeetingID,
		To:           msg.To,
		ExceptSocket: client.SocketID,
		Payload:      payload,
	}
}

func (s *SignalingService) handleMediaToggle(client *models.SignalingClient, msg *models.SignalingMessage, outEvent, flagKey string) {
	if client.MeetingID == "" {
		return
	}

	var body map[string]interface{}
	if len(msg.Data) > 0 {
		if err := json.Unmarshal(msg.Data, &body); err != nil {
			s.sendError(client, "invalid payload")
			return
		}
	}
	enabled, _ := body[flagKey].(bool)

	s.broadcast(client.MeetingID, outEvent, client.UserID, "", map[string]interface{}{
		"meetingId": client.MeetingID,
		flagKey:     enabled,
		"userId":    client.UserID,
	}, "")
}

func (s *SignalingService) handleRaiseHand(client *models.SignalingClient, msg *models.SignalingMessage) {
	if client.MeetingID == "" {
		return
	}

	var body struct {
		Raised bool   `json:"raised"`
		OdID   string `json:"odId"`
		UserID string `json:"userId"`
	}
	if len(msg.Data) > 0 {
		if err := json.Unmarshal(msg.Data, &body); err != nil {
			s.sendError(client, "invalid payload")
			return
		}
	}

	odID := body.OdID
	if odID == "" {
		odID = body.UserID
	}
	if odID == "" {
		odID = client.UserID
	}

	s.broadcast(client.MeetingID, models.EventHandRaised, client.UserID, "", map[string]interface{}{
		"meetingId": client.MeetingID,
		"raised":    body.Raised,
		"odId":      odID,
		"username":  client.Username,
	}, "")
}

func (s *SignalingService) handleReaction(client *models.SignalingClient, msg *models.SignalingMessage) {
	if client.MeetingID == "" {
		return
	}

	var body struct {
		Emoji string `json:"emoji"`
	}
	if len(msg.Data) > 0 {
		if err := json.Unmarshal(msg.Data, &body); err != nil {
			s.sendError(client, "invalid payload")
			return
		}
	}

	s.broadcast(client.MeetingID, models.EventReaction, client.UserID, "", map[string]interface{}{
		"meetingId": client.MeetingID,
		"emoji":     body.Emoji,
		"userId":    client.UserID,
	}, "")
}

// handleChat persists first, then fans out to the full room including
// the sender, whose copy doubles as a delivery receipt.
func (s *SignalingService) handleChat(client *models.SignalingClient, msg *models.SignalingMessage) {
	if client.MeetingID == "" {
		s.sendError(client, "join a meeting first")
		return
	}

	var body struct {
		Message string `json:"message"`
	}
	if err := json.Unmarshal(msg.Data, &body); err != nil || body.Message == "" {
		s.sendError(client, "message is required")
		return
	}

	userID, err := uuid.Parse(client.UserID)
	if err != nil {
		return
	}

	stored, err := s.chatService.SendMessage(context.Background(), client.MeetingID, userID, body.Message)
	if err != nil {
		s.sendError(client, "failed to send message")
		return
	}

	s.BroadcastChatMessage(client.MeetingID, stored)
}

// BroadcastChatMessage fans a persisted chat message out to the room.
// Shared with the HTTP chat endpoint so both paths emit identically.
func (s *SignalingService) BroadcastChatMessage(meetingID string, message *models.ChatMessage) {
	s.broadcast(meetingID, models.EventChatMessage, message.SenderID.String(), "", message, "")
}

// NotifyMeetingEnded tells every socket still in the room that the
// meeting reached a terminal state. Clients disconnect on receipt.
func (s *SignalingService) NotifyMeetingEnded(meetingID string) {
	s.broadcast(meetingID, models.EventMeetingEnded, "", "", map[string]string{
		"meetingId": meetingID,
	}, "")
}

// handleHostControl relays mute/remove to the target socket after the
// caller passes the host check.
func (s *SignalingService) handleHostControl(client *models.SignalingClient, msg *models.SignalingMessage, outEvent string) {
	if client.MeetingID == "" {
		return
	}

	ctx := context.Background()
	meeting, err := s.meetingService.GetMeeting(ctx, client.MeetingID)
	if err != nil {
		return
	}
	callerID, err := uuid.Parse(client.UserID)
	if err != nil {
		return
	}

	allowed := false
	switch outEvent {
	case models.EventMutedByHost:
		allowed = meeting.CanMuteOthers(callerID)
	case models.EventRemovedFromMeeting:
		allowed = meeting.CanRemoveOthers(callerID)
	}
	if !allowed {
		s.sendError(client, "not permitted")
		return
	}

	var body struct {
		ParticipantID string `json:"participantId"`
	}
	if err := json.Unmarshal(msg.Data, &body); err != nil || body.ParticipantID == "" {
		s.sendError(client, "participantId is required")
		return
	}
	if s.hub.ClientByUser(client.MeetingID, body.ParticipantID) == nil {
		s.sendError(client, "participant is not connected")
		return
	}

	s.broadcast(client.MeetingID, outEvent, client.UserID, body.ParticipantID, map[string]interface{}{
		"meetingId": client.MeetingID,
		"by":        client.UserID,
	}, "")

	logrus.WithFields(logrus.Fields{
		"meeting_id": client.MeetingID,
		"caller_id":  client.UserID,
		"target_id":  body.ParticipantID,
		"action":     outEvent,
	}).Info("Host control action")
}

func (s *SignalingService) handleLeave(client *models.SignalingClient) {
	s.handleDisconnect(client)
}

// handleDisconnect detaches the socket from its room and notifies the
// remaining peers. Safe to call twice.
func (s *SignalingService) handleDisconnect(client *models.SignalingClient) {
	meetingID := client.MeetingID
	if meetingID == "" {
		return
	}
	client.MeetingID = ""

	s.presence.RemoveOnlineUser(meetingID, client.UserID)
	s.hub.Unregister <- client

	s.broadcast(meetingID, models.EventUserLeft, client.UserID, "", map[string]interface{}{
		"socketId": client.SocketID,
		"odId":     client.UserID,
	}, client.SocketID)
}

func (s *SignalingService) broadcast(meetingID, eventType, from, to string, data interface{}, exceptSocket string) {
	msg, err := models.NewSignalingMessage(eventType, meetingID, from, to, data)
	if err != nil {
		logrus.WithError(err).WithField("type", eventType).Error("Failed to build signaling message")
		return
	}
	payload, err := json.Marshal(msg)
	if err != nil {
		return
	}

	s.hub.Broadcast <- &models.HubMessage{
		MeetingID:    meetingID,
		To:           to,
		ExceptSocket: exceptSocket,
		Payload:      payload,
	}
}

// sendTo delivers a message to one socket directly, bypassing the hub's
// room routing.
func (s *SignalingService) sendTo(client *models.SignalingClient, eventType, meetingID, to string, data interface{}) {
	msg, err := models.NewSignalingMessage(eventType, meetingID, "", to, data)
	if err != nil {
		return
	}
	payload, err := json.Marshal(msg)
	if err != nil {
		return
	}
	client.TrySend(payload)
}

func (s *SignalingService) sendError(client *models.SignalingClient, message string) {
	s.sendTo(client, models.EventError, client.MeetingID, "", map[string]string{"message": message})
}
