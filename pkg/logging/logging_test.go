// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package logging

import (
	"bytes"
	"encoding/json"
	"testing"

	"github.com/prometheus/common/model"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Thermoquad/rff60emu/pkg/config"
)

func TestSetup_JSON(t *testing.T) {
	var buf bytes.Buffer
	logger, cleanup, err := Setup(config.LoggingConfig{Level: "debug", Format: "json"}, &buf)
	require.NoError(t, err)
	defer cleanup()

	logger.Debug().Str("device", "0x21").Msg("settings applied")

	var entry map[string]interface{}
	require.NoError(t, json.Unmarshal(buf.Bytes(), &entry))
	assert.Equal(t, "debug", entry["level"])
	assert.Equal(t, "0x21", entry["device"])
	assert.Equal(t, "settings applied", entry["message"])
	assert.Contains(t, entry, "time")
}

func TestSetup_LevelFilters(t *testing.T) {
	var buf bytes.Buffer
	logger, cleanup, err := Setup(config.LoggingConfig{Level: "WARN"}, &buf)
	require.NoError(t, err)
	defer cleanup()

	logger.Info().Msg("hidden")
	assert.Zero(t, buf.Len())
	logger.Warn().Msg("shown")
	assert.Contains(t, buf.String(), "shown")
}

func TestSetup_Text(t *testing.T) {
	var buf bytes.Buffer
	logger, cleanup, err := Setup(config.LoggingConfig{Format: "text"}, &buf)
	require.NoError(t, err)
	defer cleanup()

	logger.Info().Msg("engine started")
	assert.Contains(t, buf.String(), "engine started")
	assert.NotContains(t, buf.String(), `"message"`)
}

func TestSetup_BadLevel(t *testing.T) {
	_, _, err := Setup(config.LoggingConfig{Level: "chatty"}, nil)
	assert.Error(t, err)
}

func TestSetup_LokiNeedsURL(t *testing.T) {
	_, _, err := Setup(config.LoggingConfig{Loki: config.LokiConfig{Enabled: true}}, nil)
	assert.Error(t, err)
}

func TestLokiLabels(t *testing.T) {
	assert.Equal(t, model.LabelSet{"app": "rff60emu"}, lokiLabels(nil))
	assert.Equal(t, model.LabelSet{"site": "cellar"}, lokiLabels(map[string]string{"site": "cellar"}))
}
