package main

import (
	"encoding/json"
	"net/http"
	"sort"
	"time"

	"github.com/gorilla/websocket"
	"github.com/sireax/presence"
)

const (
	// DefaultWebsocketPingInterval ...
	DefaultWebsocketPingInterval = 25 * time.Second

	// DefaultWebsocketWriteTimeout ...
	DefaultWebsocketWriteTimeout = 1 * time.Second
)

// onlineMessage is the JSON frame pushed to websocket clients whenever a
// team's online set changes.
type onlineMessage struct {
	Team   string   `json:"team"`
	Online []string `json:"online"`
}

// websocketHandler streams online set updates for one team to each
// connected client. Every client is registered as an engine subscriber for
// the lifetime of its connection.
type websocketHandler struct {
	engine   *presence.Engine
	upgrader websocket.Upgrader
}

func newWebsocketHandler(engine *presence.Engine) *websocketHandler {
	return &websocketHandler{
		engine: engine,
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool {
				return true
			},
		},
	}
}

func (h *websocketHandler) ServeHTTP(rw http.ResponseWriter, r *http.Request) {
	teamID := r.URL.Query().Get(":id")
	if teamID == "" {
		http.Error(rw, "team id required", http.StatusBadRequest)
		return
	}

	conn, err := h.upgrader.Upgrade(rw, r, nil)
	if err != nil {
		return
	}

	h.engine.Open(teamID, presence.PresencePayload{TeamID: teamID})

	w := newWriter(func(data []byte) error {
		_ = conn.SetWriteDeadline(time.Now().Add(DefaultWebsocketWriteTimeout))
		return conn.WriteMessage(websocket.TextMessage, data)
	}, func(error) {
		conn.Close()
	})

	unsubscribe := h.engine.Subscribe(teamID, func(online map[string]struct{}) {
		ids := make([]string, 0, len(online))
		for id := range online {
			ids = append(ids, id)
		}
		sort.Strings(ids)

		data, err := json.Marshal(onlineMessage{Team: teamID, Online: ids})
		if err != nil {
			return
		}
		w.enqueue(data)
	})

	pingTicker := time.NewTicker(DefaultWebsocketPingInterval)
	done := make(chan struct{})

	go func() {
		defer pingTicker.Stop()
		for {
			select {
			case <-done:
				return
			case <-pingTicker.C:
				deadline := time.Now().Add(DefaultWebsocketPingInterval / 2)
				if err := conn.WriteControl(websocket.PingMessage, []byte("ping"), deadline); err != nil {
					conn.Close()
					return
				}
			}
		}
	}()

	// Inbound frames are ignored, the read loop only detects disconnect.
	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			break
		}
	}

	close(done)
	unsubscribe()
	w.close()
	conn.Close()
}
