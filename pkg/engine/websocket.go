package engine

import (
	"fmt"
	"sync"

	"github.com/gorilla/websocket"
)

// WebsocketSession adapts a gorilla websocket connection to the registry's
// Session contract. Gorilla connections support only one concurrent writer, so
// sends serialise on a mutex.
type WebsocketSession struct {
	conn    *websocket.Conn
	writeMu sync.Mutex
}

func NewWebsocketSession(conn *websocket.Conn) *WebsocketSession {
	return &WebsocketSession{conn: conn}
}

func (s *WebsocketSession) Send(message []byte) error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	if err := s.conn.WriteMessage(websocket.TextMessage, message); err != nil {
		return fmt.Errorf("failed to write message: %w", err)
	}
	return nil
}

func (s *WebsocketSession) Close() error {
	return s.conn.Close()
}

func (s *WebsocketSession) String() string {
	return s.conn.RemoteAddr().String()
}

// Serve registers the session and pumps its inbound messages into the engine
// until the connection fails or closes. It blocks for the lifetime of the
// connection and always leaves the session unregistered and closed.
func (e *Engine) Serve(session *WebsocketSession) {
	e.Connect(session)
	defer func() {
		e.Disconnect(session)
		_ = session.Close()
	}()
	for {
		messageType, raw, err := session.conn.ReadMessage()
		if err != nil {
			return
		}
		switch messageType {
		case websocket.TextMessage, websocket.BinaryMessage:
			e.HandleMessage(session, raw)
		default:
		}
	}
}
