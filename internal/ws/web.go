package ws

import (
	"errors"
	"net/http"

	"github.com/rs/zerolog/log"
)

var errMissingToken = errors.New("missing or invalid token")

// ServeWeb handles the dashboard socket. The connection is registered under
// the account id and only ever receives pushes; inbound frames are drained
// and ignored.
func (h *Handler) ServeWeb(w http.ResponseWriter, r *http.Request) {
	raw, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Error().Err(err).Str("remoteAddr", r.RemoteAddr).Msg("websocket upgrade failed")
		return
	}
	conn := newConn(raw)

	account, err := h.authenticate(r)
	if err != nil {
		conn.sendError("invalid token")
		conn.Close()
		return
	}

	h.registry.RegisterWeb(account.ID, conn)
	log.Info().Str("accountId", account.ID).Msg("web client connected")

	defer func() {
		h.registry.DisconnectWeb(account.ID)
		log.Info().Str("accountId", account.ID).Msg("web client disconnected")
	}()

	for {
		if _, _, err := raw.ReadMessage(); err != nil {
			return
		}
	}
}
