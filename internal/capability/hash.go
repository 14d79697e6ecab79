package capability

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
)

// canonicalJSON serializes v with all object keys sorted, so that two
// content-equal values always produce identical bytes regardless of the
// key order they arrived in. Round-tripping through map[string]any lets
// encoding/json do the sorting.
func canonicalJSON(v any) ([]byte, error) {
	raw, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	var generic any
	if err := json.Unmarshal(raw, &generic); err != nil {
		return nil, err
	}
	return json.Marshal(generic)
}

// ComputeSchemaHash hashes the identity-relevant parts of a script schema:
// name, version and parameter specs. Hash equality is the proxy for schema
// equality everywhere in the system.
func ComputeSchemaHash(schema Schema) string {
	payload := map[string]any{
		"script_name": schema.ScriptName,
		"version":     schema.Version,
		"parameters":  schema.Parameters,
	}
	canonical, err := canonicalJSON(payload)
	if err != nil {
		// Marshal of plain maps and JSON-derived values cannot fail; an
		// empty hash would silently match nothing, which is the safe side.
		return ""
	}
	sum := sha256.Sum256(canonical)
	return hex.EncodeToString(sum[:])
}
