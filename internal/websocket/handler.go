package websocket

import (
	"net/http"

	ws "github.com/coder/websocket"
)

// Handler upgrades connections and runs them as hub clients. Origin
// checks are skipped: the daemon serves the household LAN only.
func Handler(hub *Hub) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		conn, err := ws.Accept(w, r, &ws.AcceptOptions{
			InsecureSkipVerify: true,
		})
		if err != nil {
			hub.logger.Error("websocket accept", "error", err)
			return
		}
		newClient(hub, conn).run(r.Context())
	}
}
