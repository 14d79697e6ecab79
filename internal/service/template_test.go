package service

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/scriptfleet/fleet-server-go/internal/capability"
	apperrors "github.com/scriptfleet/fleet-server-go/internal/errors"
	"github.com/scriptfleet/fleet-server-go/internal/model"
)

func TestNormalizeConfig(t *testing.T) {
	parameters := []map[string]any{
		{"name": "account.username", "type": "string", "required": true},
		{"name": "account.password", "type": "string", "required": true},
		{"name": "retries", "type": "number", "default": float64(3)},
		{"name": "comment", "type": "string"},
	}

	t.Run("accepts nested input and applies defaults", func(t *testing.T) {
		config, err := NormalizeConfig(parameters, map[string]any{
			"account": map[string]any{
				"username": "alice",
				"password": "secret",
			},
		}, false)

		require.NoError(t, err)
		account := config["account"].(map[string]any)
		assert.Equal(t, "alice", account["username"])
		assert.Equal(t, "secret", account["password"])
		assert.Equal(t, float64(3), config["retries"])
		_, hasComment := config["comment"]
		assert.False(t, hasComment)
	})

	t.Run("accepts dotted-path input", func(t *testing.T) {
		config, err := NormalizeConfig(parameters, map[string]any{
			"account.username": "alice",
			"account.password": "secret",
		}, false)

		require.NoError(t, err)
		account := config["account"].(map[string]any)
		assert.Equal(t, "alice", account["username"])
	})

	t.Run("reports every missing parameter in one error", func(t *testing.T) {
		_, err := NormalizeConfig(parameters, map[string]any{}, false)

		require.Error(t, err)
		appErr, ok := apperrors.AsAppError(err)
		require.True(t, ok)
		assert.Equal(t, apperrors.ErrCodeValidation, appErr.Code)
		details := appErr.Details.(map[string]any)
		missing := details["missing"].([]string)
		assert.ElementsMatch(t, []string{"account.username", "account.password"}, missing)
	})

	t.Run("partial mode skips missing required parameters", func(t *testing.T) {
		config, err := NormalizeConfig(parameters, map[string]any{
			"account.username": "alice",
		}, true)

		require.NoError(t, err)
		account := config["account"].(map[string]any)
		assert.Equal(t, "alice", account["username"])
		_, hasPassword := account["password"]
		assert.False(t, hasPassword)
	})

	t.Run("drops undeclared keys", func(t *testing.T) {
		config, err := NormalizeConfig(parameters, map[string]any{
			"account.username": "alice",
			"account.password": "secret",
			"rogue":            "value",
		}, false)

		require.NoError(t, err)
		_, hasRogue := config["rogue"]
		assert.False(t, hasRogue)
	})
}

func TestFlattenConfig(t *testing.T) {
	flattened := FlattenConfig(map[string]any{
		"a": map[string]any{
			"b": map[string]any{"c": 1},
			"d": "x",
		},
		"e": true,
	}, "")

	assert.Equal(t, map[string]any{
		"a.b.c": 1,
		"a.d":   "x",
		"e":     true,
	}, flattened)
}

func TestAssignPath(t *testing.T) {
	t.Run("creates intermediate maps", func(t *testing.T) {
		target := map[string]any{}
		AssignPath(target, "a.b.c", 1)
		assert.Equal(t, map[string]any{"a": map[string]any{"b": map[string]any{"c": 1}}}, target)
	})

	t.Run("overwrites non-map intermediates", func(t *testing.T) {
		target := map[string]any{"a": "scalar"}
		AssignPath(target, "a.b", 1)
		assert.Equal(t, map[string]any{"a": map[string]any{"b": 1}}, target)
	})
}

func TestDeepMerge(t *testing.T) {
	target := map[string]any{
		"account": map[string]any{"username": "alice", "password": "old"},
		"retries": 3,
	}
	DeepMerge(target, map[string]any{
		"account": map[string]any{"password": "new"},
		"retries": 5,
	})

	account := target["account"].(map[string]any)
	assert.Equal(t, "alice", account["username"])
	assert.Equal(t, "new", account["password"])
	assert.Equal(t, 5, target["retries"])
}

func TestTemplateCompatibility(t *testing.T) {
	cap := &capability.Capability{SchemaHash: "abc"}

	assert.Equal(t, model.CompatibilityUnavailable, TemplateCompatibility("abc", nil))
	assert.Equal(t, model.CompatibilityActive, TemplateCompatibility("abc", cap))
	assert.Equal(t, model.CompatibilityStale, TemplateCompatibility("old", cap))
}

func TestDeviceCompatibility(t *testing.T) {
	cap := &capability.Capability{
		SchemaHash: "abc",
		SourceDevices: map[string]string{
			"dev-current": "abc",
			"dev-stale":   "old",
		},
	}

	assert.Equal(t, model.CompatibilityUnavailable, DeviceCompatibility("dev-current", nil))
	assert.Equal(t, model.CompatibilityActive, DeviceCompatibility("dev-current", cap))
	assert.Equal(t, model.CompatibilityStale, DeviceCompatibility("dev-stale", cap))
	assert.Equal(t, model.CompatibilityUnsupported, DeviceCompatibility("dev-unknown", cap))
}
