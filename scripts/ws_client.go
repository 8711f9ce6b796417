// Command ws_client adds a few demo stops to a running routedesk server and
// prints the live route updates it receives over the WebSocket endpoint.
//
//	go run ./scripts
package main

import (
	"bytes"
	"encoding/json"
	"fmt"
	"log"
	"net/http"
	"net/url"
	"os"
	"time"

	"github.com/gorilla/websocket"
)

type wsMessage struct {
	Type    string          `json:"type"`
	ID      string          `json:"id,omitempty"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

func main() {
	port := os.Getenv("PORT")
	if port == "" {
		port = "8080"
	}
	tenant := os.Getenv("TENANT_ID")
	if tenant == "" {
		tenant = "t_demo"
	}
	base := fmt.Sprintf("http://localhost:%s", port)

	u := url.URL{Scheme: "ws", Host: "localhost:" + port, Path: "/v1/ws", RawQuery: "tenantId=" + url.QueryEscape(tenant)}
	conn, _, err := websocket.DefaultDialer.Dial(u.String(), nil)
	if err != nil {
		log.Fatal(err)
	}
	defer func() { _ = conn.Close() }()

	must(conn.WriteJSON(wsMessage{Type: "connection_init"}))
	var ack wsMessage
	must(conn.ReadJSON(&ack))
	if ack.Type != "connection_ack" {
		log.Fatalf("unexpected %q", ack.Type)
	}
	must(conn.WriteJSON(wsMessage{Type: "subscribe", ID: "1"}))

	go func() {
		stops := []string{
			`{"name":"Bakery","priority":"high","coords":{"lat":40.7306,"lng":-73.9866}}`,
			`{"name":"Library","coords":{"lat":40.7532,"lng":-73.9822}}`,
			`{"name":"Harbor","priority":"low","coords":{"lat":40.7003,"lng":-74.0122}}`,
		}
		for _, body := range stops {
			req, _ := http.NewRequest(http.MethodPost, base+"/v1/desk/stops", bytes.NewReader([]byte(body)))
			req.Header.Set("Content-Type", "application/json")
			req.Header.Set("X-Tenant-Id", tenant)
			resp, err := http.DefaultClient.Do(req)
			if err != nil {
				log.Printf("add stop: %v", err)
				return
			}
			_ = resp.Body.Close()
			time.Sleep(500 * time.Millisecond)
		}
	}()

	deadline := time.Now().Add(30 * time.Second)
	for time.Now().Before(deadline) {
		_ = conn.SetReadDeadline(deadline)
		var msg wsMessage
		if err := conn.ReadJSON(&msg); err != nil {
			log.Fatal(err)
		}
		switch msg.Type {
		case "ping":
			_ = conn.WriteJSON(wsMessage{Type: "pong"})
		case "next":
			fmt.Println(string(msg.Payload))
		case "complete", "error":
			fmt.Println(msg.Type, string(msg.Payload))
			return
		}
	}
}

func must(err error) {
	if err != nil {
		log.Fatal(err)
	}
}
