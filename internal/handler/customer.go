package handler

import (
	"encoding/json"
	"io"
	"net/http"
	"sort"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog/log"

	"github.com/scriptfleet/fleet-server-go/internal/capability"
	apperrors "github.com/scriptfleet/fleet-server-go/internal/errors"
	"github.com/scriptfleet/fleet-server-go/internal/middleware"
	"github.com/scriptfleet/fleet-server-go/internal/model"
	"github.com/scriptfleet/fleet-server-go/internal/registry"
	"github.com/scriptfleet/fleet-server-go/internal/service"
)

type CustomerHandler struct {
	devices   *service.DeviceService
	templates *service.TemplateService
	jobs      *service.JobService
	wallets   *service.WalletService
	topups    *service.TopupService
	assets    *service.AssetService
	registry  *registry.Registry
}

func NewCustomerHandler(
	devices *service.DeviceService,
	templates *service.TemplateService,
	jobs *service.JobService,
	wallets *service.WalletService,
	topups *service.TopupService,
	assets *service.AssetService,
	reg *registry.Registry,
) *CustomerHandler {
	return &CustomerHandler{
		devices:   devices,
		templates: templates,
		jobs:      jobs,
		wallets:   wallets,
		topups:    topups,
		assets:    assets,
		registry:  reg,
	}
}

func (h *CustomerHandler) Routes() chi.Router {
	r := chi.NewRouter()

	r.Get("/devices", h.ListDevices)
	r.Get("/scripts", h.ListScripts)
	r.Get("/scripts/{name}/devices", h.ListScriptDevices)

	r.Post("/templates", h.CreateTemplate)
	r.Get("/templates", h.ListTemplates)
	r.Get("/templates/{id}", h.GetTemplate)
	r.Patch("/templates/{id}", h.UpdateTemplate)
	r.Delete("/templates/{id}", h.DeleteTemplate)

	r.Post("/script-jobs", h.CreateJob)
	r.Get("/script-jobs", h.ListJobs)
	r.Get("/script-jobs/{id}", h.GetJob)
	r.Post("/script-jobs/{id}/retry", h.RetryJob)

	r.Get("/wallet", h.GetWallet)
	r.Get("/wallet/transactions", h.ListTransactions)
	r.Post("/wallet/topups", h.CreateTopup)
	r.Get("/wallet/topups", h.ListTopups)

	r.Post("/assets", h.UploadAsset)
	r.Get("/assets/{id}", h.DownloadAsset)

	return r
}

// GET /devices
func (h *CustomerHandler) ListDevices(w http.ResponseWriter, r *http.Request) {
	account := middleware.GetAccount(r.Context())
	devices, err := h.devices.ListForAccount(r.Context(), account.Username)
	if err != nil {
		log.Error().Err(err).Msg("failed to list devices")
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"devices": devices})
}

// scriptInfo is one entry in the live capability catalog.
type scriptInfo struct {
	ScriptName    string           `json:"script_name"`
	ScriptTitle   string           `json:"script_title,omitempty"`
	Description   string           `json:"description,omitempty"`
	Version       any              `json:"version,omitempty"`
	SchemaHash    string           `json:"schema_hash"`
	Parameters    []map[string]any `json:"parameters"`
	SourceDevices []string         `json:"source_devices"`
	UnitPrice     *int64           `json:"unit_price,omitempty"`
	Currency      string           `json:"currency,omitempty"`
	Pricing       map[string]any   `json:"pricing,omitempty"`
}

// GET /scripts
func (h *CustomerHandler) ListScripts(w http.ResponseWriter, r *http.Request) {
	caps := h.templates.Capabilities()

	names := make([]string, 0, len(caps))
	for name := range caps {
		names = append(names, name)
	}
	sort.Strings(names)

	scripts := make([]scriptInfo, 0, len(names))
	for _, name := range names {
		scripts = append(scripts, toScriptInfo(name, caps[name]))
	}
	writeJSON(w, http.StatusOK, map[string]any{"scripts": scripts})
}

func toScriptInfo(name string, cap *capability.Capability) scriptInfo {
	sources := make([]string, 0, len(cap.SourceDevices))
	for deviceID := range cap.SourceDevices {
		sources = append(sources, deviceID)
	}
	sort.Strings(sources)

	return scriptInfo{
		ScriptName:    name,
		ScriptTitle:   cap.Schema.ScriptTitle,
		Description:   cap.Schema.Description,
		Version:       cap.Schema.Version,
		SchemaHash:    cap.SchemaHash,
		Parameters:    cap.Schema.Parameters,
		SourceDevices: sources,
		UnitPrice:     capability.UnitPriceCents(cap.Pricing),
		Currency:      capability.Currency(cap.Pricing),
		Pricing:       cap.Pricing,
	}
}

// GET /scripts/{name}/devices
func (h *CustomerHandler) ListScriptDevices(w http.ResponseWriter, r *http.Request) {
	account := middleware.GetAccount(r.Context())
	scriptName := chi.URLParam(r, "name")
	cap := h.templates.CapabilityFor(scriptName)

	devices, err := h.devices.ListForAccount(r.Context(), account.Username)
	if err != nil {
		log.Error().Err(err).Msg("failed to list devices")
		writeError(w, err)
		return
	}

	type scriptDevice struct {
		DeviceID      string              `json:"device_id"`
		DeviceName    *string             `json:"device_name,omitempty"`
		DeviceModel   *string             `json:"device_model,omitempty"`
		IsOnline      bool                `json:"is_online"`
		Compatibility model.Compatibility `json:"compatibility"`
	}
	result := make([]scriptDevice, 0, len(devices))
	for _, device := range devices {
		result = append(result, scriptDevice{
			DeviceID:      device.ID,
			DeviceName:    device.DeviceName,
			DeviceModel:   device.DeviceModel,
			IsOnline:      h.registry.IsOnline(device.ID),
			Compatibility: service.DeviceCompatibility(device.ID, cap),
		})
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"script_name": scriptName,
		"devices":     result,
	})
}

// POST /templates
func (h *CustomerHandler) CreateTemplate(w http.ResponseWriter, r *http.Request) {
	account := middleware.GetAccount(r.Context())

	var req service.CreateTemplateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, apperrors.ValidationError("invalid request body"))
		return
	}
	if req.ScriptName == "" {
		writeError(w, apperrors.MissingRequired("script_name"))
		return
	}

	view, err := h.templates.Create(r.Context(), account.ID, req)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, view)
}

// GET /templates
func (h *CustomerHandler) ListTemplates(w http.ResponseWriter, r *http.Request) {
	account := middleware.GetAccount(r.Context())
	views, err := h.templates.List(r.Context(), account.ID)
	if err != nil {
		log.Error().Err(err).Msg("failed to list templates")
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"templates": views})
}

// GET /templates/{id}
func (h *CustomerHandler) GetTemplate(w http.ResponseWriter, r *http.Request) {
	account := middleware.GetAccount(r.Context())
	view, err := h.templates.GetView(r.Context(), account.ID, chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, view)
}

// PATCH /templates/{id}
func (h *CustomerHandler) UpdateTemplate(w http.ResponseWriter, r *http.Request) {
	account := middleware.GetAccount(r.Context())

	var req service.UpdateTemplateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, apperrors.ValidationError("invalid request body"))
		return
	}

	view, err := h.templates.Update(r.Context(), account.ID, chi.URLParam(r, "id"), req)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, view)
}

// DELETE /templates/{id}
func (h *CustomerHandler) DeleteTemplate(w http.ResponseWriter, r *http.Request) {
	account := middleware.GetAccount(r.Context())
	if err := h.templates.Delete(r.Context(), account.ID, chi.URLParam(r, "id")); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"success": true})
}

// POST /script-jobs
func (h *CustomerHandler) CreateJob(w http.ResponseWriter, r *http.Request) {
	account := middleware.GetAccount(r.Context())

	var req struct {
		TemplateID string   `json:"template_id"`
		DeviceIDs  []string `json:"device_ids"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, apperrors.ValidationError("invalid request body"))
		return
	}
	if req.TemplateID == "" {
		writeError(w, apperrors.MissingRequired("template_id"))
		return
	}
	if len(req.DeviceIDs) == 0 {
		writeError(w, apperrors.MissingRequired("device_ids"))
		return
	}

	view, err := h.jobs.Create(r.Context(), account, req.TemplateID, req.DeviceIDs)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, view)
}

// GET /script-jobs
func (h *CustomerHandler) ListJobs(w http.ResponseWriter, r *http.Request) {
	account := middleware.GetAccount(r.Context())
	page := ParsePagination(r)
	views, err := h.jobs.ListForOwner(r.Context(), account.ID, page.Limit, page.Offset)
	if err != nil {
		log.Error().Err(err).Msg("failed to list jobs")
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"jobs": views})
}

// GET /script-jobs/{id}
func (h *CustomerHandler) GetJob(w http.ResponseWriter, r *http.Request) {
	account := middleware.GetAccount(r.Context())
	view, err := h.jobs.Get(r.Context(), account.ID, chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, view)
}

// POST /script-jobs/{id}/retry
func (h *CustomerHandler) RetryJob(w http.ResponseWriter, r *http.Request) {
	account := middleware.GetAccount(r.Context())
	view, err := h.jobs.Retry(r.Context(), account, chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, view)
}

// GET /wallet
func (h *CustomerHandler) GetWallet(w http.ResponseWriter, r *http.Request) {
	account := middleware.GetAccount(r.Context())
	wallet, err := h.wallets.EnsureWallet(r.Context(), account.ID)
	if err != nil {
		log.Error().Err(err).Msg("failed to load wallet")
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, wallet)
}

// GET /wallet/transactions
func (h *CustomerHandler) ListTransactions(w http.ResponseWriter, r *http.Request) {
	account := middleware.GetAccount(r.Context())
	page := ParsePagination(r)
	txns, err := h.wallets.ListTransactions(r.Context(), account.ID, page.Limit, page.Offset)
	if err != nil {
		log.Error().Err(err).Msg("failed to list transactions")
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"transactions": txns})
}

// POST /wallet/topups
func (h *CustomerHandler) CreateTopup(w http.ResponseWriter, r *http.Request) {
	account := middleware.GetAccount(r.Context())

	var req struct {
		AmountCents    int64   `json:"amount_cents"`
		PaymentChannel *string `json:"payment_channel,omitempty"`
		ReferenceNo    *string `json:"reference_no,omitempty"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, apperrors.ValidationError("invalid request body"))
		return
	}

	order, err := h.topups.Create(r.Context(), account.ID, req.AmountCents, req.PaymentChannel, req.ReferenceNo)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, order)
}

// GET /wallet/topups
func (h *CustomerHandler) ListTopups(w http.ResponseWriter, r *http.Request) {
	account := middleware.GetAccount(r.Context())
	page := ParsePagination(r)
	orders, err := h.topups.ListByAccount(r.Context(), account.ID, page.Limit, page.Offset)
	if err != nil {
		log.Error().Err(err).Msg("failed to list topups")
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"topups": orders})
}

// POST /assets
func (h *CustomerHandler) UploadAsset(w http.ResponseWriter, r *http.Request) {
	account := middleware.GetAccount(r.Context())

	file, header, err := r.FormFile("file")
	if err != nil {
		writeError(w, apperrors.MissingRequired("file"))
		return
	}
	defer file.Close()

	var contentType *string
	if ct := header.Header.Get("Content-Type"); ct != "" {
		contentType = &ct
	}

	asset, err := h.assets.StoreUpload(r.Context(), account.ID, header.Filename, contentType, file)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, asset)
}

// GET /assets/{id}
func (h *CustomerHandler) DownloadAsset(w http.ResponseWriter, r *http.Request) {
	account := middleware.GetAccount(r.Context())

	asset, err := h.assets.GetForOwner(r.Context(), chi.URLParam(r, "id"), account.ID)
	if err != nil {
		writeError(w, err)
		return
	}

	reader, err := h.assets.Open(asset)
	if err != nil {
		log.Error().Err(err).Str("assetId", asset.ID).Msg("failed to open asset")
		writeError(w, apperrors.Internal("asset unavailable"))
		return
	}
	defer reader.Close()

	if asset.ContentType != nil {
		w.Header().Set("Content-Type", *asset.ContentType)
	} else {
		w.Header().Set("Content-Type", "application/octet-stream")
	}
	w.Header().Set("Content-Disposition", `attachment; filename="`+asset.FileName+`"`)
	io.Copy(w, reader)
}
