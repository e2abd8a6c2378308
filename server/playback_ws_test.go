package server

import (
	"encoding/json"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"soundproof/core/playback"
	"soundproof/core/taco"
	"soundproof/model"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type wsConn struct {
	t    *testing.T
	conn *websocket.Conn
}

func dialPlayback(t *testing.T, env *testEnv, token string) (*wsConn, func()) {
	t.Helper()
	srv := httptest.NewServer(NewRouter(env.h))
	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws/playback"
	if token != "" {
		url += "?token=" + token
	}
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	return &wsConn{t: t, conn: conn}, func() {
		conn.Close()
		srv.Close()
	}
}

func (c *wsConn) send(msgType MessageType, data interface{}) {
	c.t.Helper()
	msg := map[string]interface{}{"type": msgType}
	if data != nil {
		msg["data"] = data
	}
	require.NoError(c.t, c.conn.WriteJSON(msg))
}

// next reads until a message of msgType arrives.
func (c *wsConn) next(msgType MessageType, match func(json.RawMessage) bool) json.RawMessage {
	c.t.Helper()
	deadline := time.Now().Add(3 * time.Second)
	for {
		require.NoError(c.t, c.conn.SetReadDeadline(deadline))
		var msg WSMessage
		require.NoError(c.t, c.conn.ReadJSON(&msg), "waiting for %s", msgType)
		if msg.Type == msgType && (match == nil || match(msg.Data)) {
			return msg.Data
		}
	}
}

func stateIs(want playback.State) func(json.RawMessage) bool {
	return func(raw json.RawMessage) bool {
		var s playback.Session
		return json.Unmarshal(raw, &s) == nil && s.State == want
	}
}

func TestPlaybackSessionPublicTrack(t *testing.T) {
	env := newTestEnv(&model.Track{ID: 1, Title: "Short", CID: "bafy1", Duration: 0.05})
	c, done := dialPlayback(t, env, env.token(42, "alice"))
	defer done()

	c.next(MsgTypeState, stateIs(playback.StateIdle))

	c.send(MsgTypePing, nil)
	c.next(MsgTypePong, nil)

	c.send(MsgTypePlay, PlayData{TrackID: 1})
	raw := c.next(MsgTypeState, stateIs(playback.StatePlaying))
	var s playback.Session
	require.NoError(t, json.Unmarshal(raw, &s))
	require.NotNil(t, s.CurrentTrack)
	assert.Equal(t, int64(1), s.CurrentTrack.ID)

	// the clock runs the short track to its end
	c.next(MsgTypeState, stateIs(playback.StateIdle))

	assert.Eventually(t, func() bool {
		return len(env.plays.recorded()) == 1
	}, time.Second, 10*time.Millisecond)
	assert.Equal(t, playRecord{1, 42}, env.plays.recorded()[0])
	assert.Eventually(t, func() bool {
		return env.plays.listenedFor(1) > 0
	}, time.Second, 10*time.Millisecond)
	assert.InDelta(t, 0.05, env.plays.listenedFor(1), 1e-6, "listened up to the end of the track")
}

func TestPlaybackSessionEncryptedNeedsSigner(t *testing.T) {
	gated := &model.Track{
		ID: 2, CID: "bafy2", Duration: 10, IsEncrypted: true,
		AccessRule: model.AccessRule{Type: model.AccessERC721, ContractAddress: "0x5aaeb6053f3e94c9b9a09f33669435e7ef1beaed"},
	}
	env := newTestEnv(gated)
	c, done := dialPlayback(t, env, "")
	defer done()
	c.next(MsgTypeState, nil)

	c.send(MsgTypePlay, PlayData{TrackID: 2})
	raw := c.next(MsgTypeNotification, nil)
	var n playback.Notification
	require.NoError(t, json.Unmarshal(raw, &n))
	assert.Equal(t, playback.KindAuthRequired, n.Kind)

	c.send(MsgTypePlay, PlayData{TrackID: 404})
	raw = c.next(MsgTypeNotification, nil)
	require.NoError(t, json.Unmarshal(raw, &n))
	assert.Equal(t, playback.KindNotFound, n.Kind)
}

func TestPlaybackSessionBlobRevokedOnDisconnect(t *testing.T) {
	gated := &model.Track{
		ID: 3, CID: "bafy3", Duration: 30, IsEncrypted: true,
		AccessRule: model.AccessRule{Type: model.AccessERC20, ContractAddress: "0x5aaeb6053f3e94c9b9a09f33669435e7ef1beaed", MinBalance: "1"},
	}
	env := newTestEnv(gated)
	c, done := dialPlayback(t, env, "")
	c.next(MsgTypeState, nil)

	signer := &taco.Signer{Address: aliceWallet, SIWEMessage: "msg", Signature: "0xsig"}
	c.send(MsgTypePlay, PlayData{TrackID: 3, Signer: signer})
	c.next(MsgTypeState, stateIs(playback.StatePlaying))
	assert.Equal(t, 1, env.h.Blobs.Len())

	// out of range volume is clamped
	c.send(MsgTypeVolume, VolumeData{Level: -3})
	c.next(MsgTypeState, func(raw json.RawMessage) bool {
		var s playback.Session
		return json.Unmarshal(raw, &s) == nil && s.Volume == 0
	})

	c.send(MsgTypePause, nil)
	c.next(MsgTypeState, stateIs(playback.StatePaused))

	done()
	assert.Eventually(t, func() bool { return env.h.Blobs.Len() == 0 }, 2*time.Second, 10*time.Millisecond)
}

func TestPlaybackSessionRejectsBadMessages(t *testing.T) {
	env := newTestEnv()
	c, done := dialPlayback(t, env, "")
	defer done()
	c.next(MsgTypeState, nil)

	c.send(MsgTypePlay, map[string]interface{}{"cid": "x"})
	c.next(MsgTypeError, nil)

	c.send(MsgTypePlay, PlayData{TrackID: 1, Signer: &taco.Signer{Address: "0x12"}})
	c.next(MsgTypeError, nil)

	c.send("shuffle", nil)
	c.next(MsgTypeError, nil)

	require.NoError(t, c.conn.WriteMessage(websocket.TextMessage, []byte("{")))
	c.next(MsgTypeError, nil)
}
