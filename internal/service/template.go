package service

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"

	"github.com/rs/zerolog/log"

	"github.com/scriptfleet/fleet-server-go/internal/capability"
	apperrors "github.com/scriptfleet/fleet-server-go/internal/errors"
	"github.com/scriptfleet/fleet-server-go/internal/model"
	"github.com/scriptfleet/fleet-server-go/internal/registry"
	"github.com/scriptfleet/fleet-server-go/internal/repository"
)

// fileParamTypes are the declared parameter types whose values carry blobs
// and go through the asset sanitizer.
var fileParamTypes = map[string]bool{
	"file":  true,
	"image": true,
}

type CreateTemplateRequest struct {
	ScriptName    string         `json:"script_name"`
	ScriptTitle   *string        `json:"script_title,omitempty"`
	ScriptVersion *string        `json:"script_version,omitempty"`
	Config        map[string]any `json:"config"`
	Notes         *string        `json:"notes,omitempty"`
}

type UpdateTemplateRequest struct {
	Config map[string]any `json:"config,omitempty"`
	Notes  *string        `json:"notes,omitempty"`
}

// TemplateView pairs a stored template with its compatibility against the
// live capability aggregate, which is recomputed on every read.
type TemplateView struct {
	model.ScriptTemplate
	Compatibility model.Compatibility `json:"compatibility"`
}

type TemplateService struct {
	templateRepo repository.TemplateRepository
	registry     *registry.Registry
	assets       *AssetService
}

func NewTemplateService(
	templateRepo repository.TemplateRepository,
	reg *registry.Registry,
	assets *AssetService,
) *TemplateService {
	return &TemplateService{
		templateRepo: templateRepo,
		registry:     reg,
		assets:       assets,
	}
}

// Capabilities aggregates script capabilities from currently online devices.
func (s *TemplateService) Capabilities() map[string]*capability.Capability {
	return capability.Collect(s.registry.CapabilitiesSnapshot())
}

func (s *TemplateService) CapabilityFor(scriptName string) *capability.Capability {
	return s.Capabilities()[scriptName]
}

// TemplateCompatibility compares a template's frozen schema hash against the
// current aggregate for its script.
func TemplateCompatibility(templateHash string, cap *capability.Capability) model.Compatibility {
	if cap == nil {
		return model.CompatibilityUnavailable
	}
	if templateHash == cap.SchemaHash {
		return model.CompatibilityActive
	}
	return model.CompatibilityStale
}

// DeviceCompatibility compares one device's advertised hash against the
// aggregate: a device that never advertised the script is unsupported even
// when the script exists fleet-wide.
func DeviceCompatibility(deviceID string, cap *capability.Capability) model.Compatibility {
	if cap == nil {
		return model.CompatibilityUnavailable
	}
	deviceHash, ok := cap.SourceDevices[deviceID]
	if !ok {
		return model.CompatibilityUnsupported
	}
	if deviceHash == cap.SchemaHash {
		return model.CompatibilityActive
	}
	return model.CompatibilityStale
}

func (s *TemplateService) Create(ctx context.Context, ownerID string, req CreateTemplateRequest) (*TemplateView, error) {
	cap := s.CapabilityFor(req.ScriptName)
	if cap == nil {
		return nil, apperrors.NotFound("script")
	}

	normalized, err := NormalizeConfig(cap.Schema.Parameters, req.Config, false)
	if err != nil {
		return nil, err
	}
	normalized, err = s.sanitizeConfig(ctx, normalized, cap.Schema.Parameters, ownerID)
	if err != nil {
		return nil, err
	}

	schemaJSON, err := json.Marshal(cap.Schema)
	if err != nil {
		return nil, fmt.Errorf("marshal schema: %w", err)
	}
	defaultsJSON, err := json.Marshal(normalized)
	if err != nil {
		return nil, fmt.Errorf("marshal defaults: %w", err)
	}

	title := req.ScriptTitle
	if title == nil && cap.Schema.ScriptTitle != "" {
		title = &cap.Schema.ScriptTitle
	}
	version := req.ScriptVersion
	if version == nil {
		if v := versionString(cap.Schema.Version); v != "" {
			version = &v
		}
	}

	template, err := s.templateRepo.Create(ctx, model.CreateTemplateParams{
		OwnerID:       ownerID,
		ScriptName:    req.ScriptName,
		ScriptTitle:   title,
		ScriptVersion: version,
		SchemaHash:    cap.SchemaHash,
		Schema:        schemaJSON,
		Defaults:      defaultsJSON,
		Notes:         req.Notes,
	})
	if err != nil {
		return nil, fmt.Errorf("create template: %w", err)
	}

	log.Info().
		Str("templateId", template.ID).
		Str("ownerId", ownerID).
		Str("scriptName", req.ScriptName).
		Str("schemaHash", cap.SchemaHash).
		Msg("template created")

	return &TemplateView{ScriptTemplate: *template, Compatibility: model.CompatibilityActive}, nil
}

// Get returns an owned, non-deleted template; anything else is a not-found,
// so callers cannot probe other accounts' template ids.
func (s *TemplateService) Get(ctx context.Context, ownerID, templateID string) (*model.ScriptTemplate, error) {
	template, err := s.templateRepo.FindByID(ctx, templateID)
	if err != nil {
		return nil, fmt.Errorf("find template: %w", err)
	}
	if template == nil || template.OwnerID != ownerID || template.Status == model.TemplateStatusDeleted {
		return nil, apperrors.NotFound("template")
	}
	return template, nil
}

func (s *TemplateService) GetView(ctx context.Context, ownerID, templateID string) (*TemplateView, error) {
	template, err := s.Get(ctx, ownerID, templateID)
	if err != nil {
		return nil, err
	}
	cap := s.CapabilityFor(template.ScriptName)
	return &TemplateView{
		ScriptTemplate: *template,
		Compatibility:  TemplateCompatibility(template.SchemaHash, cap),
	}, nil
}

func (s *TemplateService) List(ctx context.Context, ownerID string) ([]TemplateView, error) {
	templates, err := s.templateRepo.ListByOwner(ctx, ownerID)
	if err != nil {
		return nil, fmt.Errorf("list templates: %w", err)
	}

	caps := s.Capabilities()
	views := make([]TemplateView, 0, len(templates))
	for _, template := range templates {
		views = append(views, TemplateView{
			ScriptTemplate: template,
			Compatibility:  TemplateCompatibility(template.SchemaHash, caps[template.ScriptName]),
		})
	}
	return views, nil
}

// Update applies a partial config merge. The incoming partial is validated
// against the template's frozen schema, then deep-merged into the stored
// defaults: nested objects merge key by key, any non-object value replaces
// wholesale. Schema and hash never change on update.
func (s *TemplateService) Update(ctx context.Context, ownerID, templateID string, req UpdateTemplateRequest) (*TemplateView, error) {
	template, err := s.Get(ctx, ownerID, templateID)
	if err != nil {
		return nil, err
	}

	var defaultsJSON json.RawMessage
	if req.Config != nil {
		params := schemaParameters(template.Schema)
		partial, err := NormalizeConfig(params, req.Config, true)
		if err != nil {
			return nil, err
		}
		partial, err = s.sanitizeConfig(ctx, partial, params, ownerID)
		if err != nil {
			return nil, err
		}

		merged := DecodeParams(template.Defaults)
		DeepMerge(merged, partial)
		defaultsJSON, err = json.Marshal(merged)
		if err != nil {
			return nil, fmt.Errorf("marshal defaults: %w", err)
		}
	}

	updated, err := s.templateRepo.Update(ctx, templateID, model.UpdateTemplateParams{
		Defaults: defaultsJSON,
		Notes:    req.Notes,
	})
	if err != nil {
		return nil, fmt.Errorf("update template: %w", err)
	}
	if updated == nil {
		return nil, apperrors.NotFound("template")
	}

	cap := s.CapabilityFor(updated.ScriptName)
	return &TemplateView{
		ScriptTemplate: *updated,
		Compatibility:  TemplateCompatibility(updated.SchemaHash, cap),
	}, nil
}

func (s *TemplateService) Delete(ctx context.Context, ownerID, templateID string) error {
	if _, err := s.Get(ctx, ownerID, templateID); err != nil {
		return err
	}
	if err := s.templateRepo.SoftDelete(ctx, templateID); err != nil {
		return fmt.Errorf("delete template: %w", err)
	}
	log.Info().Str("templateId", templateID).Str("ownerId", ownerID).Msg("template deleted")
	return nil
}

// ResolveExecutionConfig rewrites file-typed parameter values into concrete
// download descriptors right before dispatch.
func (s *TemplateService) ResolveExecutionConfig(ctx context.Context, config map[string]any, parameters []map[string]any, ownerID string) (map[string]any, error) {
	if len(parameters) == 0 {
		return config, nil
	}
	types := paramTypeMap(parameters)
	flat := FlattenConfig(config, "")
	resolved := map[string]any{}
	for path, value := range flat {
		if fileParamTypes[types[path]] {
			fileValue, err := s.resolveFileValue(ctx, value, ownerID, types[path])
			if err != nil {
				return nil, err
			}
			AssignPath(resolved, path, fileValue)
		} else {
			AssignPath(resolved, path, value)
		}
	}
	return resolved, nil
}

func (s *TemplateService) sanitizeConfig(ctx context.Context, config map[string]any, parameters []map[string]any, ownerID string) (map[string]any, error) {
	if len(parameters) == 0 {
		return config, nil
	}
	types := paramTypeMap(parameters)
	flat := FlattenConfig(config, "")
	sanitized := map[string]any{}
	for path, value := range flat {
		if fileParamTypes[types[path]] {
			fileValue, err := s.sanitizeFileValue(ctx, value, ownerID, types[path])
			if err != nil {
				return nil, err
			}
			AssignPath(sanitized, path, fileValue)
		} else {
			AssignPath(sanitized, path, value)
		}
	}
	return sanitized, nil
}

func (s *TemplateService) sanitizeFileValue(ctx context.Context, raw any, ownerID, paramType string) (any, error) {
	if raw == nil {
		return nil, nil
	}
	if str, ok := raw.(string); ok {
		raw = map[string]any{"source": "base64", "value": str}
	}
	payload, ok := raw.(map[string]any)
	if !ok {
		return nil, apperrors.ValidationError("file parameter must be an object")
	}

	source := strings.ToLower(asStringValue(payload["source"]))
	if source == "" && payload["asset_id"] != nil {
		source = "asset"
	}

	switch source {
	case "asset":
		assetID := asStringValue(payload["asset_id"])
		if assetID == "" {
			return nil, apperrors.MissingRequired("asset_id")
		}
		asset, err := s.assets.GetForOwner(ctx, assetID, ownerID)
		if err != nil {
			return nil, err
		}
		downloadPath := asStringValue(payload["download_path"])
		if downloadPath == "" {
			downloadPath = s.assets.DownloadPath(asset)
		}
		sanitized := map[string]any{
			"type":          paramType,
			"source":        "asset",
			"asset_id":      asset.ID,
			"name":          firstNonNil(payload["name"], asset.FileName),
			"mime":          firstNonNil(payload["mime"], derefString(asset.ContentType)),
			"size":          asset.SizeBytes,
			"checksum":      firstNonNil(payload["checksum"], asset.Checksum),
			"download_path": downloadPath,
		}
		if payload["download_url"] != nil {
			sanitized["download_url"] = payload["download_url"]
		}
		return sanitized, nil

	case "url", "path", "base64":
		if payload["value"] == nil || payload["value"] == "" {
			return nil, apperrors.MissingRequired("value")
		}
		sanitized := map[string]any{
			"type":   paramType,
			"source": source,
			"value":  payload["value"],
		}
		for _, key := range []string{"name", "mime", "checksum", "size"} {
			if payload[key] != nil {
				sanitized[key] = payload[key]
			}
		}
		return sanitized, nil
	}

	return nil, apperrors.ValidationError("unsupported file source")
}

func (s *TemplateService) resolveFileValue(ctx context.Context, raw any, ownerID, paramType string) (any, error) {
	if raw == nil {
		return nil, nil
	}
	payload, ok := raw.(map[string]any)
	if !ok {
		return raw, nil
	}

	source := strings.ToLower(asStringValue(payload["source"]))
	if source == "" && payload["asset_id"] != nil {
		source = "asset"
	}

	if source == "asset" {
		return s.sanitizeFileValue(ctx, raw, ownerID, paramType)
	}

	resolved := make(map[string]any, len(payload))
	for key, value := range payload {
		resolved[key] = value
	}
	if resolved["type"] == nil {
		resolved["type"] = paramType
	}
	return resolved, nil
}

// NormalizeConfig validates an incoming nested config against declared
// parameter specs. Both sides are flattened to dotted paths; a supplied
// value wins over a declared default; a required parameter with neither is
// accumulated so one error names every missing parameter. The result is
// reassembled into nested form.
func NormalizeConfig(parameters []map[string]any, incoming map[string]any, allowPartial bool) (map[string]any, error) {
	flattened := FlattenConfig(incoming, "")
	config := map[string]any{}
	var missing []string

	for _, spec := range parameters {
		name := asStringValue(spec["name"])
		if name == "" {
			continue
		}
		required, _ := spec["required"].(bool)

		value, provided := flattened[name]
		if !provided {
			if spec["default"] != nil {
				value = spec["default"]
			} else if required && !allowPartial {
				missing = append(missing, name)
				continue
			} else {
				continue
			}
		}
		AssignPath(config, name, value)
	}

	if len(missing) > 0 {
		return nil, apperrors.MissingParameters(missing)
	}
	return config, nil
}

// FlattenConfig collapses nested maps into dotted paths.
func FlattenConfig(data map[string]any, prefix string) map[string]any {
	flattened := map[string]any{}
	for key, value := range data {
		path := key
		if prefix != "" {
			path = prefix + "." + key
		}
		if nested, ok := value.(map[string]any); ok {
			for nestedPath, nestedValue := range FlattenConfig(nested, path) {
				flattened[nestedPath] = nestedValue
			}
		} else {
			flattened[path] = value
		}
	}
	return flattened
}

// AssignPath writes a value at a dotted path, creating intermediate maps and
// overwriting non-map intermediates.
func AssignPath(target map[string]any, path string, value any) {
	parts := strings.Split(path, ".")
	cursor := target
	for i, part := range parts {
		if i == len(parts)-1 {
			cursor[part] = value
			return
		}
		next, ok := cursor[part].(map[string]any)
		if !ok {
			next = map[string]any{}
			cursor[part] = next
		}
		cursor = next
	}
}

// DeepMerge merges updates into target: nested objects merge key by key,
// any non-object value replaces wholesale.
func DeepMerge(target, updates map[string]any) {
	for key, value := range updates {
		existing, existingIsMap := target[key].(map[string]any)
		update, updateIsMap := value.(map[string]any)
		if existingIsMap && updateIsMap {
			DeepMerge(existing, update)
		} else {
			target[key] = value
		}
	}
}

// schemaParameters extracts the parameter specs from a stored schema
// document.
func schemaParameters(raw json.RawMessage) []map[string]any {
	var schema struct {
		Parameters []map[string]any `json:"parameters"`
	}
	if err := json.Unmarshal(raw, &schema); err != nil {
		return nil
	}
	return schema.Parameters
}

func paramTypeMap(parameters []map[string]any) map[string]string {
	types := map[string]string{}
	for _, spec := range parameters {
		name := asStringValue(spec["name"])
		if name == "" {
			continue
		}
		types[name] = strings.ToLower(asStringValue(spec["type"]))
	}
	return types
}

func asStringValue(v any) string {
	s, _ := v.(string)
	return s
}

func versionString(v any) string {
	switch t := v.(type) {
	case nil:
		return ""
	case string:
		return t
	case float64:
		return strconv.FormatFloat(t, 'f', -1, 64)
	default:
		return fmt.Sprintf("%v", t)
	}
}

func firstNonNil(v any, fallback string) any {
	if v != nil {
		return v
	}
	return fallback
}

func derefString(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}
