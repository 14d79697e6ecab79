package capability

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/scriptfleet/fleet-server-go/internal/model"
)

func entryWithScript(script map[string]any) model.CapabilityEntry {
	return model.CapabilityEntry{
		Action: "capabilities",
		Meta:   map[string]any{"scripts": []any{script}},
	}
}

func TestComputeSchemaHash(t *testing.T) {
	t.Run("stable under parameter key reordering", func(t *testing.T) {
		a := Schema{
			ScriptName: "follow_users",
			Version:    "1.2.0",
			Parameters: []map[string]any{
				{"name": "count", "type": "int", "required": true, "default": float64(5)},
			},
		}
		b := Schema{
			ScriptName: "follow_users",
			Version:    "1.2.0",
			Parameters: []map[string]any{
				{"default": float64(5), "required": true, "type": "int", "name": "count"},
			},
		}
		assert.Equal(t, ComputeSchemaHash(a), ComputeSchemaHash(b))
	})

	t.Run("differs when parameters change", func(t *testing.T) {
		base := Schema{ScriptName: "s", Parameters: []map[string]any{{"name": "a"}}}
		changed := Schema{ScriptName: "s", Parameters: []map[string]any{{"name": "b"}}}
		assert.NotEqual(t, ComputeSchemaHash(base), ComputeSchemaHash(changed))
	})

	t.Run("differs when version changes", func(t *testing.T) {
		base := Schema{ScriptName: "s", Version: "1", Parameters: []map[string]any{}}
		changed := Schema{ScriptName: "s", Version: "2", Parameters: []map[string]any{}}
		assert.NotEqual(t, ComputeSchemaHash(base), ComputeSchemaHash(changed))
	})

	t.Run("title and description do not affect the hash", func(t *testing.T) {
		base := Schema{ScriptName: "s", ScriptTitle: "One", Description: "x", Parameters: []map[string]any{}}
		other := Schema{ScriptName: "s", ScriptTitle: "Two", Description: "y", Parameters: []map[string]any{}}
		assert.Equal(t, ComputeSchemaHash(base), ComputeSchemaHash(other))
	})
}

func TestCollectExplicitDescriptors(t *testing.T) {
	snapshot := map[string][]model.CapabilityEntry{
		"dev-1": {entryWithScript(map[string]any{
			"name":    "follow_users",
			"title":   "Follow Users",
			"version": "1.0.0",
			"parameters": []any{
				map[string]any{"name": "count", "type": "int", "required": true},
			},
			"pricing": map[string]any{"price": 1.5, "currency": "cny"},
		})},
	}

	aggregated := Collect(snapshot)
	require.Contains(t, aggregated, "follow_users")

	cap := aggregated["follow_users"]
	assert.Equal(t, "Follow Users", cap.Schema.ScriptTitle)
	assert.NotEmpty(t, cap.SchemaHash)
	assert.Equal(t, map[string]string{"dev-1": cap.SchemaHash}, cap.SourceDevices)

	price := UnitPriceCents(cap.Pricing)
	require.NotNil(t, price)
	assert.Equal(t, int64(150), *price)
	assert.Equal(t, "CNY", Currency(cap.Pricing))
}

func TestCollectSynthesizedFromAction(t *testing.T) {
	snapshot := map[string][]model.CapabilityEntry{
		"dev-1": {{
			Action:      "start_task:warmup",
			Description: "warm the account up",
			Params:      []map[string]any{{"name": "minutes", "type": "int"}},
			Meta:        map[string]any{"version": "2.1"},
		}},
	}

	aggregated := Collect(snapshot)
	require.Contains(t, aggregated, "warmup")

	cap := aggregated["warmup"]
	assert.Equal(t, "warmup", cap.Schema.ScriptName)
	assert.Equal(t, "warm the account up", cap.Schema.Description)
	require.Len(t, cap.Schema.Parameters, 1)
	assert.Equal(t, "minutes", cap.Schema.Parameters[0]["name"])
}

func TestCollectIgnoresBlankSyntheticName(t *testing.T) {
	snapshot := map[string][]model.CapabilityEntry{
		"dev-1": {{Action: "start_task: "}},
	}
	assert.Empty(t, Collect(snapshot))
}

func TestCollectMergeAcrossDevices(t *testing.T) {
	script := func(version string) map[string]any {
		return map[string]any{
			"name":       "follow_users",
			"version":    version,
			"parameters": []any{map[string]any{"name": "count"}},
		}
	}

	t.Run("matching schemas share one hash", func(t *testing.T) {
		snapshot := map[string][]model.CapabilityEntry{
			"dev-1": {entryWithScript(script("1.0"))},
			"dev-2": {entryWithScript(script("1.0"))},
		}
		aggregated := Collect(snapshot)
		cap := aggregated["follow_users"]
		require.Len(t, cap.SourceDevices, 2)
		assert.Equal(t, cap.SchemaHash, cap.SourceDevices["dev-1"])
		assert.Equal(t, cap.SchemaHash, cap.SourceDevices["dev-2"])
	})

	t.Run("conflicting schemas keep per-device hashes", func(t *testing.T) {
		snapshot := map[string][]model.CapabilityEntry{
			"dev-1": {entryWithScript(script("1.0"))},
			"dev-2": {entryWithScript(script("2.0"))},
		}
		aggregated := Collect(snapshot)
		cap := aggregated["follow_users"]
		require.Len(t, cap.SourceDevices, 2)
		assert.NotEqual(t, cap.SourceDevices["dev-1"], cap.SourceDevices["dev-2"])
		// the aggregate hash always matches one of the contributors
		assert.Contains(t, []string{cap.SourceDevices["dev-1"], cap.SourceDevices["dev-2"]}, cap.SchemaHash)
	})
}

func TestUnitPriceCents(t *testing.T) {
	t.Run("rounds major units to cents", func(t *testing.T) {
		price := UnitPriceCents(map[string]any{"unit_price": 0.999})
		require.NotNil(t, price)
		assert.Equal(t, int64(100), *price)
	})

	t.Run("accepts string prices", func(t *testing.T) {
		price := UnitPriceCents(map[string]any{"price": "2.50"})
		require.NotNil(t, price)
		assert.Equal(t, int64(250), *price)
	})

	t.Run("nil when absent or malformed", func(t *testing.T) {
		assert.Nil(t, UnitPriceCents(nil))
		assert.Nil(t, UnitPriceCents(map[string]any{}))
		assert.Nil(t, UnitPriceCents(map[string]any{"price": "abc"}))
	})
}

func TestNormalizePricing(t *testing.T) {
	normalized := NormalizePricing(map[string]any{
		"unit":  "usd",
		"price": 3.0,
		"tiers": []any{
			map[string]any{"threshold": float64(10), "price": 2.5, "label": "bulk"},
			"not-a-tier",
		},
		"billing": "per_device",
	})

	assert.Equal(t, "usd", normalized["currency"])
	assert.Equal(t, 3.0, normalized["unit_price"])
	assert.Equal(t, "per_device", normalized["billing"])
	tiers, ok := normalized["tiers"].([]map[string]any)
	require.True(t, ok)
	assert.Len(t, tiers, 1)
}
