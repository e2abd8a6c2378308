package server

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"sync"
	"time"

	"soundproof/core/playback"
	"soundproof/core/taco"
	"soundproof/logger"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
)

// MessageType 消息类型
type MessageType string

const (
	// 客户端 -> 服务端
	MsgTypePlay   MessageType = "play"
	MsgTypePause  MessageType = "pause"
	MsgTypeResume MessageType = "resume"
	MsgTypeSeek   MessageType = "seek"
	MsgTypeVolume MessageType = "volume"
	MsgTypePing   MessageType = "ping"

	// 服务端 -> 客户端
	MsgTypeState        MessageType = "state"
	MsgTypeNotification MessageType = "notification"
	MsgTypePong         MessageType = "pong"
	MsgTypeError        MessageType = "error"
)

const (
	pongWait       = 60 * time.Second
	pingPeriod     = 30 * time.Second
	writeWait      = 10 * time.Second
	maxMessageSize = 8192 // signers carry a full SIWE message
	sendBuffer     = 64
)

// WSMessage WebSocket 消息结构
type WSMessage struct {
	Type      MessageType     `json:"type"`
	Data      json.RawMessage `json:"data,omitempty"`
	Timestamp int64           `json:"timestamp"`
}

// PlayData selects a track. CID overrides the track's own content id.
type PlayData struct {
	TrackID int64        `json:"trackId"`
	CID     string       `json:"cid,omitempty"`
	Signer  *taco.Signer `json:"signer,omitempty"`
}

// SeekData 跳转数据
type SeekData struct {
	Time float64 `json:"time"`
}

// VolumeData 音量数据
type VolumeData struct {
	Level float64 `json:"level"`
}

var wsUpgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

// playbackClient is one websocket connection and the session it owns.
type playbackClient struct {
	id          string
	conn        *websocket.Conn
	send        chan []byte
	done        chan struct{}
	closeOnce   sync.Once
	listenerFID int64

	orch *playback.Orchestrator
	// in-flight play/resume calls
	work sync.WaitGroup
}

func (c *playbackClient) close() {
	c.closeOnce.Do(func() { close(c.done) })
}

// SendMessage queues msg; a full buffer drops it.
func (c *playbackClient) SendMessage(msgType MessageType, data interface{}) {
	msg := WSMessage{Type: msgType, Timestamp: time.Now().UnixMilli()}
	if data != nil {
		raw, err := json.Marshal(data)
		if err != nil {
			logger.Warn("failed to encode websocket payload", logger.ErrorField(err))
			return
		}
		msg.Data = raw
	}
	out, err := json.Marshal(msg)
	if err != nil {
		return
	}
	select {
	case <-c.done:
	case c.send <- out:
	default:
		logger.Warn("playback send buffer full, dropping message",
			logger.String("session", c.id),
			logger.String("type", string(msgType)))
	}
}

// PlaybackWSHandler upgrades the connection and runs one playback session
// for its lifetime. The listener is identified by an optional token.
func (h *APIHandler) PlaybackWSHandler(w http.ResponseWriter, r *http.Request) {
	var listener int64
	if claims := h.optionalClaims(r); claims != nil {
		listener = claims.FID
	}

	conn, err := wsUpgrader.Upgrade(w, r, nil)
	if err != nil {
		logger.Error("websocket upgrade failed", logger.ErrorField(err))
		return
	}

	c := &playbackClient{
		id:          uuid.NewString(),
		conn:        conn,
		send:        make(chan []byte, sendBuffer),
		done:        make(chan struct{}),
		listenerFID: listener,
	}
	c.orch = playback.NewOrchestrator(playback.Config{
		Gateway:     h.Gateway,
		Decrypter:   h.Decrypter,
		Tracks:      h.Tracks,
		Plays:       h.Plays,
		Blobs:       h.Blobs,
		Elements:    h.Elements,
		ChainID:     h.ChainID,
		ListenerFID: listener,
		LoadTimeout: h.LoadTimeout,
		OnState: func(s playback.Session) {
			c.SendMessage(MsgTypeState, s)
		},
		OnNotify: func(n playback.Notification) {
			c.SendMessage(MsgTypeNotification, n)
		},
	})

	logger.Info("playback session opened", logger.String("session", c.id), logger.Int64("listenerFid", listener))

	ctx, cancel := context.WithCancel(context.Background())
	go c.WritePump()
	c.SendMessage(MsgTypeState, c.orch.Snapshot())

	c.ReadPump(ctx)

	cancel()
	c.orch.Close()
	c.work.Wait()
	c.close()
	logger.Info("playback session closed", logger.String("session", c.id))
}

// ReadPump 读取消息循环
func (c *playbackClient) ReadPump(ctx context.Context) {
	defer c.conn.Close()

	c.conn.SetReadLimit(maxMessageSize)
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		_, message, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				logger.Warn("websocket read error", logger.ErrorField(err), logger.String("session", c.id))
			}
			return
		}

		var msg WSMessage
		if err := json.Unmarshal(message, &msg); err != nil {
			logger.Warn("invalid message format", logger.ErrorField(err), logger.String("session", c.id))
			c.SendMessage(MsgTypeError, map[string]string{"error": "invalid message format"})
			continue
		}
		c.handle(ctx, &msg)
	}
}

func (c *playbackClient) handle(ctx context.Context, msg *WSMessage) {
	switch msg.Type {
	case MsgTypePing:
		c.SendMessage(MsgTypePong, nil)

	case MsgTypePlay:
		var data PlayData
		if err := json.Unmarshal(msg.Data, &data); err != nil || data.TrackID <= 0 {
			c.SendMessage(MsgTypeError, map[string]string{"error": "play requires a trackId"})
			return
		}
		if data.Signer != nil {
			if err := data.Signer.Validate(); err != nil {
				c.SendMessage(MsgTypeError, map[string]string{"error": err.Error()})
				return
			}
		}
		// 加载可能较慢，放到后台执行；新的 play 会取代旧的
		c.work.Add(1)
		go func() {
			defer c.work.Done()
			err := c.orch.PlayTrackByID(ctx, data.TrackID, playback.Options{CID: data.CID, Signer: data.Signer})
			if err != nil && !errors.Is(err, playback.ErrSuperseded) && !errors.Is(err, playback.ErrClosed) {
				logger.Debug("play request ended with error",
					logger.String("session", c.id),
					logger.Int64("trackId", data.TrackID),
					logger.ErrorField(err))
			}
		}()

	case MsgTypePause:
		c.orch.PauseTrack()

	case MsgTypeResume:
		c.work.Add(1)
		go func() {
			defer c.work.Done()
			if err := c.orch.ResumeTrack(ctx); err != nil {
				logger.Debug("resume failed", logger.String("session", c.id), logger.ErrorField(err))
			}
		}()

	case MsgTypeSeek:
		var data SeekData
		if err := json.Unmarshal(msg.Data, &data); err != nil {
			c.SendMessage(MsgTypeError, map[string]string{"error": "seek requires a time"})
			return
		}
		c.orch.SeekTo(data.Time)

	case MsgTypeVolume:
		var data VolumeData
		if err := json.Unmarshal(msg.Data, &data); err != nil {
			c.SendMessage(MsgTypeError, map[string]string{"error": "volume requires a level"})
			return
		}
		c.orch.SetVolume(data.Level)

	default:
		c.SendMessage(MsgTypeError, map[string]string{"error": "unknown message type " + string(msg.Type)})
	}
}

// WritePump 写入消息循环
func (c *playbackClient) WritePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case <-c.done:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			c.conn.WriteMessage(websocket.CloseMessage, []byte{})
			return

		case message := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.TextMessage, message); err != nil {
				return
			}

		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
