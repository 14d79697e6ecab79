// Package capability derives the canonical script-capability catalog from
// the advertisements of currently-registered devices. Nothing here is
// persisted; the aggregate is recomputed from a registry snapshot on every
// read.
package capability

import (
	"math"
	"strconv"
	"strings"

	"github.com/scriptfleet/fleet-server-go/internal/model"
)

// startTaskPrefix is the naming convention for "start a named script"
// actions; entries following it get a synthesized descriptor even when the
// device did not embed an explicit one.
const startTaskPrefix = "start_task:"

// Schema is the canonical descriptor of one script.
type Schema struct {
	ScriptName  string           `json:"script_name"`
	ScriptTitle string           `json:"script_title,omitempty"`
	Version     any              `json:"version,omitempty"`
	Description string           `json:"description,omitempty"`
	Parameters  []map[string]any `json:"parameters"`
}

// Capability is the aggregate view of one script across all online devices.
type Capability struct {
	Schema Schema `json:"schema"`
	// SchemaHash reflects the most recently processed device when devices
	// disagree.
	SchemaHash string `json:"schema_hash"`
	// SourceDevices maps device id to the hash that device advertised, so a
	// single device can be compared against the aggregate independently.
	SourceDevices map[string]string `json:"source_devices"`
	Pricing       map[string]any    `json:"pricing,omitempty"`
}

// Collect aggregates script capabilities from a registry snapshot, keyed by
// script name. When two devices advertise differing schemas for the same
// script, the last one processed wins; snapshot iteration order is not
// defined, so callers must not assume which device that is.
func Collect(snapshot map[string][]model.CapabilityEntry) map[string]*Capability {
	aggregated := make(map[string]*Capability)
	for deviceID, entries := range snapshot {
		for _, entry := range entries {
			for _, script := range scriptDescriptors(entry) {
				merge(aggregated, deviceID, entry, script)
			}
		}
	}
	return aggregated
}

// scriptDescriptors extracts the script descriptors one advertised entry
// contributes: explicit ones from meta.scripts, or a synthesized one when
// the action follows the start_task naming convention.
func scriptDescriptors(entry model.CapabilityEntry) []map[string]any {
	if scripts, ok := entry.Meta["scripts"].([]any); ok && len(scripts) > 0 {
		descriptors := make([]map[string]any, 0, len(scripts))
		for _, raw := range scripts {
			if script, ok := raw.(map[string]any); ok {
				descriptors = append(descriptors, script)
			}
		}
		return descriptors
	}

	if strings.HasPrefix(entry.Action, startTaskPrefix) {
		name := strings.TrimSpace(strings.TrimPrefix(entry.Action, startTaskPrefix))
		if name == "" {
			return nil
		}
		synthetic := map[string]any{
			"name":        name,
			"version":     entry.Meta["version"],
			"description": entry.Description,
			"parameters":  paramsAsAny(entry.Params),
		}
		return []map[string]any{synthetic}
	}

	return nil
}

func merge(aggregated map[string]*Capability, deviceID string, entry model.CapabilityEntry, script map[string]any) {
	name := asString(script["name"])
	if name == "" {
		return
	}

	parameters := descriptorParameters(script, entry)
	schema := Schema{
		ScriptName:  name,
		ScriptTitle: firstNonEmpty(asString(script["title"]), name),
		Version:     script["version"],
		Description: asString(script["description"]),
		Parameters:  parameters,
	}
	hash := ComputeSchemaHash(schema)

	var pricing map[string]any
	if p, ok := script["pricing"].(map[string]any); ok {
		pricing = NormalizePricing(p)
	} else if p, ok := entry.Meta["pricing"].(map[string]any); ok {
		pricing = NormalizePricing(p)
	}

	record, ok := aggregated[name]
	if !ok {
		aggregated[name] = &Capability{
			Schema:        schema,
			SchemaHash:    hash,
			SourceDevices: map[string]string{deviceID: hash},
			Pricing:       pricing,
		}
		return
	}

	record.SourceDevices[deviceID] = hash
	if pricing != nil {
		record.Pricing = pricing
	}
	if record.SchemaHash != hash {
		record.Schema = schema
		record.SchemaHash = hash
	}
}

func descriptorParameters(script map[string]any, entry model.CapabilityEntry) []map[string]any {
	if raw, ok := script["parameters"].([]any); ok {
		params := make([]map[string]any, 0, len(raw))
		for _, item := range raw {
			if spec, ok := item.(map[string]any); ok {
				params = append(params, spec)
			}
		}
		return params
	}
	if params, ok := script["parameters"].([]map[string]any); ok {
		return params
	}
	if len(entry.Params) > 0 {
		return entry.Params
	}
	return []map[string]any{}
}

// NormalizePricing reduces a loosely shaped pricing descriptor to the
// fields the orchestrator understands.
func NormalizePricing(pricing map[string]any) map[string]any {
	if pricing == nil {
		return nil
	}
	normalized := make(map[string]any)
	if currency, ok := pricing["currency"]; ok {
		normalized["currency"] = currency
	} else if unit, ok := pricing["unit"]; ok {
		normalized["currency"] = unit
	}
	if pricing["unit_price"] != nil {
		normalized["unit_price"] = pricing["unit_price"]
	} else if pricing["price"] != nil {
		normalized["unit_price"] = pricing["price"]
	}
	if tiers, ok := pricing["tiers"].([]any); ok {
		normalizedTiers := make([]map[string]any, 0, len(tiers))
		for _, raw := range tiers {
			tier, ok := raw.(map[string]any)
			if !ok {
				continue
			}
			normalizedTiers = append(normalizedTiers, map[string]any{
				"threshold": tier["threshold"],
				"price":     tier["price"],
				"label":     tier["label"],
			})
		}
		if len(normalizedTiers) > 0 {
			normalized["tiers"] = normalizedTiers
		}
	}
	if billing := pricing["billing"]; billing != nil {
		normalized["billing"] = billing
	}
	if description := pricing["description"]; description != nil {
		normalized["description"] = description
	}
	return normalized
}

// UnitPriceCents extracts the per-device price as integer minor units:
// round(major price * 100). Returns nil when the descriptor carries no
// usable price.
func UnitPriceCents(pricing map[string]any) *int64 {
	if pricing == nil {
		return nil
	}
	value := pricing["unit_price"]
	if value == nil {
		value = pricing["price"]
	}
	if value == nil {
		return nil
	}

	var major float64
	switch v := value.(type) {
	case float64:
		major = v
	case int:
		major = float64(v)
	case int64:
		major = float64(v)
	case string:
		parsed, err := strconv.ParseFloat(v, 64)
		if err != nil {
			return nil
		}
		major = parsed
	default:
		return nil
	}

	cents := int64(math.Round(major * 100))
	return &cents
}

// Currency extracts the upper-cased currency code, or "" when absent.
func Currency(pricing map[string]any) string {
	if pricing == nil {
		return ""
	}
	currency := pricing["currency"]
	if currency == nil {
		currency = pricing["unit"]
	}
	if s, ok := currency.(string); ok {
		return strings.ToUpper(s)
	}
	return ""
}

func paramsAsAny(params []map[string]any) []any {
	out := make([]any, 0, len(params))
	for _, p := range params {
		out = append(out, p)
	}
	return out
}

func asString(v any) string {
	if s, ok := v.(string); ok {
		return s
	}
	return ""
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}
