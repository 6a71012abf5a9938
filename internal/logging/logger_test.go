package logging

import (
	"bytes"
	"encoding/json"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestInitLevel(t *testing.T) {
	defer Init(DefaultConfig())

	Init(Config{Level: "warn", Pretty: false})
	assert.Equal(t, zerolog.WarnLevel, Logger.GetLevel())

	Init(Config{Level: "nonsense", Pretty: false})
	assert.Equal(t, zerolog.InfoLevel, Logger.GetLevel())
}

func TestForRun(t *testing.T) {
	defer Init(DefaultConfig())

	var buf bytes.Buffer
	Logger = zerolog.New(&buf)

	log := ForRun("user", "3f2c1a4e-8d3b-4c55-9a8e-1c2d3e4f5a6b")
	log.Info().Int("keys_issued", 2).Msg("Dimension upserted")

	var line map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &line))
	assert.Equal(t, "user", line["entity"])
	assert.Equal(t, "3f2c1a4e-8d3b-4c55-9a8e-1c2d3e4f5a6b", line["run_id"])
	assert.Equal(t, "Dimension upserted", line["message"])
}
