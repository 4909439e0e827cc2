package httpapi

import (
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"

	"github.com/xtxerr/rigwatch/config"
)

const (
	wsWriteDeadline = 10 * time.Second
	wsReadDeadline  = config.DefaultLivePongWait
	wsPingInterval  = wsReadDeadline / 2
)

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool {
		// No Origin header means a non-browser client.
		origin := r.Header.Get("Origin")
		return origin == "" || origin == "http://"+r.Host || origin == "https://"+r.Host
	},
	ReadBufferSize:  1024,
	WriteBufferSize: 4096,
}

// handleLiveList returns the latest snapshot of every machine.
func (h *Handler) handleLiveList(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, h.backend.Live().All())
}

// handleLive streams the latest snapshot of one machine over a WebSocket.
// The latest snapshot is sent once per interval, changed or not.
func (h *Handler) handleLive(w http.ResponseWriter, r *http.Request) {
	machineID := mux.Vars(r)["id"]

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Warn("websocket upgrade failed", "machine", machineID, "error", err)
		return
	}
	defer conn.Close()

	hub := h.backend.Live()
	unwatch := hub.Watch(machineID)
	defer unwatch()

	log.Debug("live watcher connected", "machine", machineID, "remote", remoteHost(r))

	// The read loop only handles control frames and detects the close.
	done := make(chan struct{})
	go func() {
		defer close(done)
		conn.SetReadDeadline(time.Now().Add(wsReadDeadline))
		conn.SetPongHandler(func(string) error {
			conn.SetReadDeadline(time.Now().Add(wsReadDeadline))
			return nil
		})
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
					log.Debug("live watcher read error", "machine", machineID, "error", err)
				}
				return
			}
		}
	}()

	push := time.NewTicker(h.opts.LiveInterval)
	defer push.Stop()
	ping := time.NewTicker(wsPingInterval)
	defer ping.Stop()

	send := func() error {
		snap, ok := hub.Latest(machineID)
		if !ok {
			return nil
		}
		conn.SetWriteDeadline(time.Now().Add(wsWriteDeadline))
		return conn.WriteJSON(snap)
	}

	if err := send(); err != nil {
		return
	}

	for {
		select {
		case <-done:
			return
		case <-r.Context().Done():
			return
		case <-push.C:
			if err := send(); err != nil {
				log.Debug("live push failed", "machine", machineID, "error", err)
				return
			}
		case <-ping.C:
			conn.SetWriteDeadline(time.Now().Add(wsWriteDeadline))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
