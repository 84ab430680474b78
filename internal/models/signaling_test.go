package models

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func hubClient(socketID, userID, meetingID string) *SignalingClient {
	return &SignalingClient{
		SocketID:  socketID,
		UserID:    userID,
		MeetingID: meetingID,
		Send:      make(chan []byte, 8),
	}
}

func drain(c *SignalingClient) [][]byte {
	var out [][]byte
	for {
		select {
		case msg := <-c.Send:
			out = append(out, msg)
		default:
			return out
		}
	}
}

func TestHubRoomFanout(t *testing.T) {
	h := NewSignalingHub()
	a := hubClient("sock-a", "user-a", "AAA-BBB-CCC")
	b := hubClient("sock-b", "user-b", "AAA-BBB-CCC")
	other := hubClient("sock-c", "user-c", "DDD-EEE-FFF")
	h.addClient(a)
	h.addClient(b)
	h.addClient(other)

	h.route(&HubMessage{MeetingID: "AAA-BBB-CCC", Payload: []byte("hello")})

	assert.Len(t, drain(a), 1)
	assert.Len(t, drain(b), 1)
	assert.Empty(t, drain(other), "other rooms must not receive the message")
}

func TestHubFanoutExceptSender(t *testing.T) {
	h := NewSignalingHub()
	a := hubClient("sock-a", "user-a", "AAA-BBB-CCC")
	b := hubClient("sock-b", "user-b", "AAA-BBB-CCC")
	h.addClient(a)
	h.addClient(b)

	h.route(&HubMessage{MeetingID: "AAA-BBB-CCC", ExceptSocket: "sock-a", Payload: []byte("joined")})

	assert.Empty(t, drain(a))
	assert.Len(t, drain(b), 1)
}

func TestHubUnicastPrefersUserID(t *testing.T) {
	h := NewSignalingHub()
	// A socket whose ID equals another client's user ID forces the
	// priority decision.
	byUser := hubClient("sock-1", "peer", "AAA-BBB-CCC")
	bySocket := hubClient("peer", "user-x", "AAA-BBB-CCC")
	h.addClient(byUser)
	h.addClient(bySocket)

	h.route(&HubMessage{MeetingID: "AAA-BBB-CCC", To: "peer", Payload: []byte("offer")})

	assert.Len(t, drain(byUser), 1, "user ID match wins")
	assert.Empty(t, drain(bySocket))
}

func TestHubUnicastSocketFallbackAndSilentDrop(t *testing.T) {
	h := NewSignalingHub()
	c := hubClient("sock-a", "user-a", "AAA-BBB-CCC")
	h.addClient(c)

	h.route(&HubMessage{MeetingID: "AAA-BBB-CCC", To: "sock-a", Payload: []byte("answer")})
	assert.Len(t, drain(c), 1)

	// Unknown target: dropped without disturbing anyone.
	h.route(&HubMessage{MeetingID: "AAA-BBB-CCC", To: "ghost", Payload: []byte("ice")})
	assert.Empty(t, drain(c))
}

func TestHubRemoveClient(t *testing.T) {
	h := NewSignalingHub()
	a := hubClient("sock-a", "user-a", "AAA-BBB-CCC")
	h.addClient(a)

	assert.Equal(t, 1, h.RoomSize("AAA-BBB-CCC"))
	h.removeClient(a)
	assert.Equal(t, 0, h.RoomSize("AAA-BBB-CCC"))
	assert.Nil(t, h.ClientByUser("AAA-BBB-CCC", "user-a"))

	// Removing twice is a no-op.
	h.removeClient(a)
}

func TestHubRemoveClientWithClearedMeetingID(t *testing.T) {
	h := NewSignalingHub()
	a := hubClient("sock-a", "user-a", "AAA-BBB-CCC")
	h.addClient(a)

	// Disconnect handling clears the field before the hub processes the
	// unregister; the socket must still come out of its room.
	a.MeetingID = ""
	h.removeClient(a)
	assert.Equal(t, 0, h.RoomSize("AAA-BBB-CCC"))
}

func receiveOne(t *testing.T, c *SignalingClient) []byte {
	t.Helper()
	select {
	case msg := <-c.Send:
		return msg
	case <-time.After(time.Second):
		t.Fatal("no message delivered")
		return nil
	}
}

func TestHubSurvivesLeaveThenRejoin(t *testing.T) {
	h := NewSignalingHub()
	go h.Run()

	a := hubClient("sock-a", "user-a", "AAA-BBB-CCC")
	b := hubClient("sock-b", "user-b", "AAA-BBB-CCC")
	h.Register <- a
	h.Register <- b

	// A leave followed by a rejoin reuses the same socket and the same
	// send channel; the next fanout must reach it normally.
	h.Unregister <- b
	h.Register <- b

	h.Broadcast <- &HubMessage{MeetingID: "AAA-BBB-CCC", Payload: []byte("state")}

	assert.Equal(t, []byte("state"), receiveOne(t, a))
	assert.Equal(t, []byte("state"), receiveOne(t, b))
}

func TestHubSkipsClosedClientWithoutPanic(t *testing.T) {
	h := NewSignalingHub()
	go h.Run()

	a := hubClient("sock-a", "user-a", "AAA-BBB-CCC")
	b := hubClient("sock-b", "user-b", "AAA-BBB-CCC")
	h.Register <- a
	h.Register <- b

	b.CloseSend()
	h.Broadcast <- &HubMessage{MeetingID: "AAA-BBB-CCC", Payload: []byte("x")}

	// Routing past the dead socket must not bring the hub down.
	assert.Equal(t, []byte("x"), receiveOne(t, a))
}

func TestTrySendAfterClose(t *testing.T) {
	c := hubClient("sock-a", "user-a", "AAA-BBB-CCC")
	assert.True(t, c.TrySend([]byte("one")))

	c.CloseSend()
	assert.False(t, c.TrySend([]byte("two")))
	c.CloseSend()
}

func TestRoomClientsSnapshot(t *testing.T) {
	h := NewSignalingHub()
	h.addClient(hubClient("sock-a", "user-a", "AAA-BBB-CCC"))
	h.addClient(hubClient("sock-b", "user-b", "AAA-BBB-CCC"))

	clients := h.RoomClients("AAA-BBB-CCC")
	assert.Len(t, clients, 2)
	assert.Empty(t, h.RoomClients("no-such-room"))
}

func TestNewSignalingMessage(t *testing.T) {
	msg, err := NewSignalingMessage(EventUserJoined, "AAA-BBB-CCC", "user-a", "", map[string]string{"username": "alice"})
	require.NoError(t, err)

	assert.Equal(t, EventUserJoined, msg.Type)
	assert.NotZero(t, msg.Timestamp)

	var data map[string]string
	require.NoError(t, json.Unmarshal(msg.Data, &data))
	assert.Equal(t, "alice", data["username"])

	empty, err := NewSignalingMessage(EventUserLeft, "AAA-BBB-CCC", "user-a", "", nil)
	require.NoError(t, err)
	assert.Nil(t, empty.Data)
}
