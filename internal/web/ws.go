package web

import (
	"net/http"
	"sync"

	"github.com/gorilla/websocket"
)

// upgrader has permissive origin checking: the dashboard is a same-origin
// development tool, not a public multi-tenant service.
var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

// serveWS implements spec.md §6's "WS /ws/": the client sends run keys
// (`<case>/<cb>/<opts>/<eb>`) as text messages, and the server echoes each
// key back, once, after that run's Result has completed -- letting the
// dashboard repaint a cell the moment its computation finishes instead of
// polling.
func (s *Server) serveWS(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.Log.Printf("ws upgrade: %v", err)
		return
	}
	defer conn.Close()

	// gorilla/websocket permits at most one concurrent writer per
	// connection; each subscribed key replies from its own goroutine, so
	// writes are serialized through writeMu.
	var writeMu sync.Mutex
	ctx := r.Context()
	for {
		_, msg, err := conn.ReadMessage()
		if err != nil {
			return
		}
		key := string(msg)
		go func() {
			if err := waitForRun(ctx, s.Report, key); err != nil {
				s.Log.Printf("ws run %q: %v", key, err)
				return
			}
			writeMu.Lock()
			defer writeMu.Unlock()
			if err := conn.WriteMessage(websocket.TextMessage, []byte(key)); err != nil {
				s.Log.Printf("ws write %q: %v", key, err)
			}
		}()
	}
}
