package transport

import (
	"net/http"

	"github.com/gorilla/websocket"
)

// PresentationWatch streams the current request and defer notifications to the
// presentation layer. The latest current request is sent first, followed by every
// change until the client disconnects or the service shuts down.
func (h *HTTPHandler) PresentationWatch(w http.ResponseWriter, r *http.Request) {
	conn, done, err := h.upgrade(w, r)
	if err != nil {
		h.log.Warn("watch upgrade failed", "error", err)
		return
	}
	defer done()

	current, defers, unsubscribe := h.service.Watch()
	defer unsubscribe()

	// The watcher sends nothing; reading detects the disconnect
	doneCh := make(chan struct{})
	go func() {
		defer close(doneCh)
		for {
			if _, _, err := conn.NextReader(); err != nil {
				return
			}
		}
	}()

	out := wsWriter{conn: conn}
	for {
		select {
		case rec, ok := <-current:
			if !ok {
				out.close(websocket.CloseGoingAway, "shutting down")
				return
			}
			e := Envelope{Type: EnvelopeCurrent}
			if rec.ID != "" {
				e.Record = &rec
			}
			if err := out.send(e); err != nil {
				return
			}
		case id, ok := <-defers:
			if !ok {
				out.close(websocket.CloseGoingAway, "shutting down")
				return
			}
			if err := out.send(Envelope{Type: EnvelopeDefer, ID: id}); err != nil {
				return
			}
		case <-doneCh:
			return
		}
	}
}
