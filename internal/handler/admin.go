package handler

import (
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog/log"

	"github.com/scriptfleet/fleet-server-go/internal/audit"
	apperrors "github.com/scriptfleet/fleet-server-go/internal/errors"
	"github.com/scriptfleet/fleet-server-go/internal/middleware"
	"github.com/scriptfleet/fleet-server-go/internal/model"
	"github.com/scriptfleet/fleet-server-go/internal/service"
)

type AdminHandler struct {
	accounts *service.AccountService
	devices  *service.DeviceService
	commands *service.CommandService
	jobs     *service.JobService
	topups   *service.TopupService
	logs     *service.LogService
	auditor  *audit.Logger
}

func NewAdminHandler(
	accounts *service.AccountService,
	devices *service.DeviceService,
	commands *service.CommandService,
	jobs *service.JobService,
	topups *service.TopupService,
	logs *service.LogService,
	auditor *audit.Logger,
) *AdminHandler {
	return &AdminHandler{
		accounts: accounts,
		devices:  devices,
		commands: commands,
		jobs:     jobs,
		topups:   topups,
		logs:     logs,
		auditor:  auditor,
	}
}

func (h *AdminHandler) Routes() chi.Router {
	r := chi.NewRouter()

	r.Post("/accounts", h.CreateAccount)
	r.Get("/devices", h.ListDevices)
	r.Get("/devices/{id}/logs", h.ListDeviceLogs)
	r.Post("/devices/{id}/commands", h.DispatchCommand)
	r.Get("/jobs", h.ListJobs)
	r.Get("/wallet/topups", h.ListTopups)
	r.Post("/wallet/topups/{id}/review", h.ReviewTopup)

	return r
}

// POST /accounts
func (h *AdminHandler) CreateAccount(w http.ResponseWriter, r *http.Request) {
	admin := middleware.GetAccount(r.Context())

	var req struct {
		Username        string            `json:"username"`
		Role            model.AccountRole `json:"role,omitempty"`
		RateLimitPerMin int               `json:"rateLimitPerMinute,omitempty"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, apperrors.ValidationError("invalid request body"))
		return
	}

	account, token, err := h.accounts.Provision(r.Context(), req.Username, req.Role, req.RateLimitPerMin)
	if err != nil {
		writeError(w, err)
		return
	}

	h.auditor.AccountCreated(admin.ID, account.ID, string(account.Role))
	// The plaintext token appears only in this response.
	writeJSON(w, http.StatusCreated, map[string]any{
		"account": account,
		"token":   token,
	})
}

// GET /devices
func (h *AdminHandler) ListDevices(w http.ResponseWriter, r *http.Request) {
	page := ParsePagination(r)
	onlineOnly := r.URL.Query().Get("online") == "true"

	devices, total, err := h.devices.ListAll(r.Context(), page.Limit, page.Offset, onlineOnly)
	if err != nil {
		log.Error().Err(err).Msg("failed to list devices")
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"devices": devices,
		"total":   total,
	})
}

// GET /devices/{id}/logs
func (h *AdminHandler) ListDeviceLogs(w http.ResponseWriter, r *http.Request) {
	page := ParsePagination(r)
	logs, err := h.logs.ListByDevice(r.Context(), chi.URLParam(r, "id"), page.Limit, page.Offset)
	if err != nil {
		log.Error().Err(err).Msg("failed to list device logs")
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"logs": logs})
}

// POST /devices/{id}/commands
func (h *AdminHandler) DispatchCommand(w http.ResponseWriter, r *http.Request) {
	account := middleware.GetAccount(r.Context())
	deviceID := chi.URLParam(r, "id")

	var req struct {
		Action string          `json:"action"`
		Params json.RawMessage `json:"params,omitempty"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, apperrors.ValidationError("invalid request body"))
		return
	}
	if req.Action == "" {
		writeError(w, apperrors.MissingRequired("action"))
		return
	}

	cmd, err := h.commands.Dispatch(r.Context(), model.CreateCommandParams{
		DeviceID: deviceID,
		Action:   req.Action,
		Params:   req.Params,
		UserID:   &account.ID,
	})
	if err != nil {
		writeError(w, err)
		return
	}

	h.auditor.AdminDispatch(account.ID, deviceID, req.Action)
	writeJSON(w, http.StatusCreated, cmd)
}

// GET /jobs
func (h *AdminHandler) ListJobs(w http.ResponseWriter, r *http.Request) {
	page := ParsePagination(r)
	views, err := h.jobs.ListAll(r.Context(), page.Limit, page.Offset)
	if err != nil {
		log.Error().Err(err).Msg("failed to list jobs")
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"jobs": views})
}

// GET /wallet/topups
func (h *AdminHandler) ListTopups(w http.ResponseWriter, r *http.Request) {
	page := ParsePagination(r)

	var status *model.TopupStatus
	if raw := r.URL.Query().Get("status"); raw != "" {
		s := model.TopupStatus(raw)
		status = &s
	}

	orders, err := h.topups.ListAll(r.Context(), status, page.Limit, page.Offset)
	if err != nil {
		log.Error().Err(err).Msg("failed to list topups")
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"topups": orders})
}

// POST /wallet/topups/{id}/review
func (h *AdminHandler) ReviewTopup(w http.ResponseWriter, r *http.Request) {
	account := middleware.GetAccount(r.Context())
	orderID := chi.URLParam(r, "id")

	var req struct {
		Approve bool `json:"approve"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, apperrors.ValidationError("invalid request body"))
		return
	}

	order, err := h.topups.Review(r.Context(), orderID, req.Approve)
	if err != nil {
		writeError(w, err)
		return
	}

	h.auditor.TopupReview(orderID, account.ID, req.Approve)
	writeJSON(w, http.StatusOK, order)
}
