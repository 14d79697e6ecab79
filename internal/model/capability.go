package model

// CapabilityEntry is one action a device advertises during session_init.
// Parameter specs and metadata are kept as loose maps: devices on different
// software versions advertise drifting shapes, and the aggregator hashes
// them as-is.
type CapabilityEntry struct {
	Action      string           `json:"action"`
	Description string           `json:"description,omitempty"`
	Params      []map[string]any `json:"params,omitempty"`
	Meta        map[string]any   `json:"meta,omitempty"`
}
