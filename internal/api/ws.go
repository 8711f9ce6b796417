package api

import (
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

// WebSocket transport for live desk updates, framed like graphql-transport-ws:
// connection_init/connection_ack, subscribe/next/complete and ping/pong.

var upgrader = websocket.Upgrader{CheckOrigin: func(_ *http.Request) bool { return true }}

const wsIdle = 60 * time.Second

type wsMessage struct {
	Type    string          `json:"type"`
	ID      string          `json:"id,omitempty"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

// WSHandler handles GET /v1/ws. Every subscription streams the tenant's
// route updates, starting with a snapshot of the current view.
func (s *Server) WSHandler(w http.ResponseWriter, r *http.Request) {
	d, ok := s.desk(w, r)
	if !ok {
		return
	}
	tenant := d.TenantID()

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}
	defer func() { _ = conn.Close() }()

	var wmu sync.Mutex
	write := func(v wsMessage) error {
		wmu.Lock()
		defer wmu.Unlock()
		_ = conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
		return conn.WriteJSON(v)
	}

	subs := map[string]chan SSEEvent{}
	done := make(chan struct{})
	defer func() {
		close(done)
		for id, ch := range subs {
			s.Broker.Unsubscribe(tenant, ch)
			delete(subs, id)
		}
	}()

	conn.SetReadLimit(1 << 20)
	_ = conn.SetReadDeadline(time.Now().Add(wsIdle))
	conn.SetPongHandler(func(string) error { return conn.SetReadDeadline(time.Now().Add(wsIdle)) })

	initialised := false
	for {
		var msg wsMessage
		if err := conn.ReadJSON(&msg); err != nil {
			return
		}
		_ = conn.SetReadDeadline(time.Now().Add(wsIdle))

		switch msg.Type {
		case "connection_init":
			if initialised {
				continue
			}
			initialised = true
			_ = write(wsMessage{Type: "connection_ack"})
			go func() {
				ticker := time.NewTicker(20 * time.Second)
				defer ticker.Stop()
				for {
					select {
					case <-done:
						return
					case <-ticker.C:
						if err := write(wsMessage{Type: "ping"}); err != nil {
							return
						}
					}
				}
			}()
		case "ping":
			_ = write(wsMessage{Type: "pong"})
		case "pong":
		case "subscribe":
			if !initialised {
				_ = write(wsMessage{Type: "error", ID: msg.ID, Payload: errorPayload("connection_init required")})
				return
			}
			if msg.ID == "" {
				_ = write(wsMessage{Type: "error", Payload: errorPayload("subscription id required")})
				continue
			}
			if _, dup := subs[msg.ID]; dup {
				_ = write(wsMessage{Type: "error", ID: msg.ID, Payload: errorPayload("subscription id already in use")})
				continue
			}
			ch := s.Broker.Subscribe(tenant)
			subs[msg.ID] = ch

			v, err := d.View(r.Context())
			if err != nil {
				_ = write(wsMessage{Type: "error", ID: msg.ID, Payload: errorPayload(err.Error())})
				continue
			}
			snap, _ := json.Marshal(v)
			_ = write(wsMessage{Type: "next", ID: msg.ID, Payload: nextPayload(SSEEvent{Type: eventSnapshot, Data: snap})})

			go func(id string, c chan SSEEvent) {
				for evt := range c {
					if err := write(wsMessage{Type: "next", ID: id, Payload: nextPayload(evt)}); err != nil {
						return
					}
				}
				_ = write(wsMessage{Type: "complete", ID: id})
			}(msg.ID, ch)
		case "complete":
			if ch, ok := subs[msg.ID]; ok {
				s.Broker.Unsubscribe(tenant, ch)
				delete(subs, msg.ID)
			}
		default:
			// ignore
		}
	}
}

func nextPayload(evt SSEEvent) json.RawMessage {
	b, _ := json.Marshal(map[string]any{"data": evt})
	return b
}

func errorPayload(msg string) json.RawMessage {
	b, _ := json.Marshal([]map[string]string{{"message": msg}})
	return b
}
