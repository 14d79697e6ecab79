package ws

import (
	"context"
	"encoding/json"
	"net"
	"net/http"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"

	"github.com/scriptfleet/fleet-server-go/internal/model"
	"github.com/scriptfleet/fleet-server-go/internal/registry"
	"github.com/scriptfleet/fleet-server-go/internal/repository"
	"github.com/scriptfleet/fleet-server-go/internal/service"
	"github.com/scriptfleet/fleet-server-go/internal/util"
)

type Handler struct {
	accountRepo repository.AccountRepository
	devices     *service.DeviceService
	commands    *service.CommandService
	logs        *service.LogService
	registry    *registry.Registry
	upgrader    websocket.Upgrader
}

func NewHandler(
	accountRepo repository.AccountRepository,
	devices *service.DeviceService,
	commands *service.CommandService,
	logs *service.LogService,
	reg *registry.Registry,
) *Handler {
	return &Handler{
		accountRepo: accountRepo,
		devices:     devices,
		commands:    commands,
		logs:        logs,
		registry:    reg,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			// Devices connect from apps, not browsers; origin is meaningless.
			CheckOrigin: func(r *http.Request) bool { return true },
		},
	}
}

// deviceSession is the per-connection state. It is owned by the single read
// loop and never shared.
type deviceSession struct {
	conn     *wsConn
	username string
	ready    bool
	deviceID string
}

type sessionInitPayload struct {
	DeviceID       string                  `json:"device_id"`
	DeviceName     *string                 `json:"device_name,omitempty"`
	DeviceModel    *string                 `json:"device_model,omitempty"`
	AndroidVersion *string                 `json:"android_version,omitempty"`
	LocalIP        *string                 `json:"local_ip,omitempty"`
	Capabilities   []model.CapabilityEntry `json:"capabilities,omitempty"`
}

// ServeDevice handles the device protocol socket. The account token is
// validated after the upgrade so the handshake itself never races the HTTP
// error path.
func (h *Handler) ServeDevice(w http.ResponseWriter, r *http.Request) {
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

	session := &deviceSession{conn: conn, username: account.Username}
	defer h.cleanup(r.Context(), session)

	remoteIP := remoteHost(r.RemoteAddr)

	for {
		_, data, err := raw.ReadMessage()
		if err != nil {
			log.Info().
				Str("deviceId", session.deviceID).
				Str("username", session.username).
				Msg("device socket closed")
			return
		}
		if !h.handleMessage(r.Context(), session, data, remoteIP) {
			return
		}
	}
}

func (h *Handler) authenticate(r *http.Request) (*model.Account, error) {
	token := r.URL.Query().Get("token")
	if token == "" {
		return nil, errMissingToken
	}
	account, err := h.accountRepo.FindByTokenHash(r.Context(), util.HashToken(token))
	if err != nil {
		log.Error().Err(err).Msg("websocket auth: database error")
		return nil, err
	}
	if account == nil {
		log.Warn().Str("remoteAddr", r.RemoteAddr).Msg("websocket auth: invalid token")
		return nil, errMissingToken
	}
	return account, nil
}

// handleMessage dispatches one inbound frame. Returning false ends the read
// loop and closes the connection.
func (h *Handler) handleMessage(ctx context.Context, session *deviceSession, data []byte, remoteIP string) bool {
	var msg Message
	if err := json.Unmarshal(data, &msg); err != nil {
		log.Error().Err(err).Str("username", session.username).Msg("invalid websocket payload")
		session.conn.sendError("invalid json")
		return true
	}
	if msg.Type == "" {
		session.conn.sendError("message missing type")
		return true
	}

	if !session.ready {
		if msg.Type != typeSessionInit {
			session.conn.sendError("session not initialized")
			return true
		}
		return h.handleInit(ctx, session, msg.Data, remoteIP)
	}

	switch msg.Type {
	case typeSessionInit:
		// Re-init on an established session just re-acknowledges.
		session.conn.Send(Message{Type: typeSessionReady, Data: mustJSON(map[string]any{"device_id": session.deviceID})})

	case typeHeartbeat:
		h.registry.UpdateHeartbeat(session.deviceID)

	case typeResult:
		var update model.CommandResultUpdate
		if err := json.Unmarshal(msg.Data, &update); err != nil || update.CommandID == "" {
			log.Error().Str("deviceId", session.deviceID).Msg("invalid result payload")
			return true
		}
		if err := h.commands.HandleResult(ctx, session.deviceID, update); err != nil {
			log.Error().Err(err).Str("commandId", update.CommandID).Msg("result handling failed")
			return true
		}
		session.conn.Send(Message{Type: typeCommandAck, Data: mustJSON(map[string]any{"command_id": update.CommandID})})

	case typeProgress:
		var payload map[string]any
		if err := json.Unmarshal(msg.Data, &payload); err != nil {
			log.Error().Str("deviceId", session.deviceID).Msg("invalid progress payload")
			return true
		}
		h.commands.HandleProgress(ctx, session.deviceID, payload, h.logs)

	case typeLog:
		var payload map[string]any
		if err := json.Unmarshal(msg.Data, &payload); err != nil {
			payload = map[string]any{}
		}
		logType, _ := payload["type"].(string)
		message, _ := payload["message"].(string)
		h.logs.Record(ctx, session.deviceID, logType, message, payload)

	default:
		log.Warn().
			Str("type", msg.Type).
			Str("deviceId", session.deviceID).
			Msg("unknown websocket message type")
	}
	return true
}

func (h *Handler) handleInit(ctx context.Context, session *deviceSession, data json.RawMessage, remoteIP string) bool {
	var payload sessionInitPayload
	if err := json.Unmarshal(data, &payload); err != nil || payload.DeviceID == "" {
		session.conn.sendError("session_init requires device_id")
		return false
	}

	var publicIP *string
	if remoteIP != "" {
		publicIP = &remoteIP
	}
	_, err := h.devices.EnsureForConnection(ctx, model.EnsureDeviceParams{
		DeviceID:       payload.DeviceID,
		Username:       session.username,
		DeviceName:     payload.DeviceName,
		DeviceModel:    payload.DeviceModel,
		AndroidVersion: payload.AndroidVersion,
		LocalIP:        payload.LocalIP,
		PublicIP:       publicIP,
	})
	if err != nil {
		// Ownership rejection closes the handshake; there is no silent rebind.
		session.conn.sendError(err.Error())
		return false
	}

	h.registry.Register(payload.DeviceID, session.conn)
	h.registry.UpdateCapabilities(payload.DeviceID, payload.Capabilities)
	session.ready = true
	session.deviceID = payload.DeviceID

	session.conn.Send(Message{Type: typeSessionReady, Data: mustJSON(map[string]any{"device_id": payload.DeviceID})})

	h.logs.Record(ctx, payload.DeviceID, "info", "device connected", payload)
	if len(payload.Capabilities) > 0 {
		h.logs.Record(ctx, payload.DeviceID, "capabilities", "capabilities advertised", map[string]any{
			"capabilities": payload.Capabilities,
		})
	}

	log.Info().
		Str("deviceId", payload.DeviceID).
		Str("username", session.username).
		Int("capabilities", len(payload.Capabilities)).
		Msg("device session ready")

	return true
}

func (h *Handler) cleanup(ctx context.Context, session *deviceSession) {
	session.conn.Close()
	if session.deviceID == "" {
		return
	}
	// Release only tears down the registry binding while it still belongs to
	// this session. If the device reconnected and a newer session owns the id,
	// leave the fresh binding alone and do not mark the device offline.
	if !h.registry.Release(session.deviceID, session.conn) {
		return
	}
	// The request context dies with the handler; the offline mark must not.
	ctx = context.WithoutCancel(ctx)
	if err := h.devices.MarkOffline(ctx, session.deviceID); err != nil {
		log.Error().Err(err).Str("deviceId", session.deviceID).Msg("failed to mark device offline")
	}
}

func remoteHost(remoteAddr string) string {
	host, _, err := net.SplitHostPort(remoteAddr)
	if err != nil {
		return remoteAddr
	}
	return host
}

func mustJSON(v any) json.RawMessage {
	data, _ := json.Marshal(v)
	return data
}
