package server

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/gorilla/websocket"

	"github.com/voicebridge/stream-service/internal/models"
	"github.com/voicebridge/stream-service/internal/session"
)

const maxFrameBytes = 1 << 20

// handleStream upgrades the connection and runs the streaming protocol:
// binary frames carry raw audio, text frames carry JSON control messages,
// and everything outbound flows through the session's ordered channel.
func (s *Server) handleStream(w http.ResponseWriter, r *http.Request) {
	if token := s.cfg.Service.AuthToken; token != "" && r.URL.Query().Get("token") != token {
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return
	}

	upgrader := websocket.Upgrader{
		ReadBufferSize:  s.cfg.Server.ReadBufferSize,
		WriteBufferSize: s.cfg.Server.WriteBufferSize,
		CheckOrigin:     func(*http.Request) bool { return true },
	}
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.log.Warn().Err(err).Str("remote", r.RemoteAddr).Msg("websocket upgrade failed")
		return
	}
	defer conn.Close()
	conn.SetReadLimit(maxFrameBytes)

	clientKey := r.URL.Query().Get("clientId")
	if clientKey == "" {
		clientKey = r.RemoteAddr
	}

	sess, err := s.manager.Open(clientKey)
	if err != nil {
		_ = conn.WriteJSON(models.ErrorMessage{
			Type:      models.TypeError,
			Message:   "capacity exceeded, try again later",
			Timestamp: time.Now().UnixMilli(),
		})
		_ = conn.WriteMessage(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseTryAgainLater, "capacity exceeded"))
		return
	}

	sess.Send(models.ConnectionEstablished{
		Type:      models.TypeConnectionEstablished,
		SessionID: sess.ID,
		Timestamp: time.Now().UnixMilli(),
	})

	writerDone := make(chan struct{})
	go s.writeLoop(conn, sess, writerDone)

	s.readLoop(conn, sess)

	// Close drains the session, which closes the outbound channel and lets
	// the writer finish sending buffered results first.
	s.manager.Close(sess.ID)
	<-writerDone
}

// readLoop consumes frames until the client disconnects or closes.
func (s *Server) readLoop(conn *websocket.Conn, sess *session.Session) {
	for {
		kind, payload, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				s.log.Debug().Err(err).Str("sessionId", sess.ID).Msg("connection dropped")
			}
			return
		}

		switch kind {
		case websocket.BinaryMessage:
			if err := s.manager.Ingest(sess.ID, payload); err != nil {
				if errors.Is(err, session.ErrThrottled) {
					sess.Send(models.ErrorMessage{
						Type:      models.TypeError,
						SessionID: sess.ID,
						Message:   "audio rate limit exceeded, frame dropped",
						Timestamp: time.Now().UnixMilli(),
					})
					continue
				}
				return
			}
			sess.Send(models.AudioReceived{
				Type:      models.TypeAudioReceived,
				SessionID: sess.ID,
				ChunkSize: len(payload),
				Timestamp: time.Now().UnixMilli(),
			})

		case websocket.TextMessage:
			if done := s.handleControl(sess, payload); done {
				return
			}
		}
	}
}

// handleControl dispatches one JSON control message. It returns true when
// the client asked to close.
func (s *Server) handleControl(sess *session.Session, payload []byte) bool {
	var msg models.ClientMessage
	if err := json.Unmarshal(payload, &msg); err != nil {
		sess.Send(models.ErrorMessage{
			Type:      models.TypeError,
			SessionID: sess.ID,
			Message:   "malformed control message",
			Timestamp: time.Now().UnixMilli(),
		})
		return false
	}

	switch msg.Type {
	case models.TypePing:
		sess.Send(models.Pong{Type: models.TypePong, Timestamp: time.Now().UnixMilli()})
	case models.TypeGetStatus:
		sess.Send(sess.Status())
	case models.TypeClose:
		return true
	default:
		sess.Send(models.ErrorMessage{
			Type:      models.TypeError,
			SessionID: sess.ID,
			Message:   "unknown message type: " + msg.Type,
			Timestamp: time.Now().UnixMilli(),
		})
	}
	return false
}

// writeLoop is the single writer for the connection. It drains the session's
// outbound channel and emits keepalives while the channel is quiet.
func (s *Server) writeLoop(conn *websocket.Conn, sess *session.Session, done chan<- struct{}) {
	defer close(done)

	keepalive := time.NewTicker(s.cfg.Server.KeepaliveEvery)
	defer keepalive.Stop()

	for {
		select {
		case msg, ok := <-sess.Outbound():
			if !ok {
				_ = conn.WriteMessage(websocket.CloseMessage,
					websocket.FormatCloseMessage(websocket.CloseNormalClosure, "session closed"))
				return
			}
			if err := conn.WriteJSON(msg); err != nil {
				s.log.Debug().Err(err).Str("sessionId", sess.ID).Msg("write failed, abandoning connection")
				return
			}
			keepalive.Reset(s.cfg.Server.KeepaliveEvery)

		case <-keepalive.C:
			err := conn.WriteJSON(models.Keepalive{
				Type:      models.TypeKeepalive,
				Timestamp: time.Now().UnixMilli(),
			})
			if err != nil {
				return
			}
		}
	}
}
