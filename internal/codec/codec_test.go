package codec

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEncodeNonFiniteFloats(t *testing.T) {
	in := map[string]any{
		"loss": math.NaN(),
		"grad": math.Inf(1),
		"neg":  math.Inf(-1),
		"acc":  0.97,
	}

	out, err := Encode(in)
	require.NoError(t, err)

	m := out.(map[string]any)
	assert.Equal(t, "NaN", m["loss"])
	assert.Equal(t, "Infinity", m["grad"])
	assert.Equal(t, "-Infinity", m["neg"])
	assert.Equal(t, 0.97, m["acc"])
}

func TestDecodeRoundTrip(t *testing.T) {
	in := map[string]any{
		"loss":  math.NaN(),
		"grad":  math.Inf(1),
		"steps": []any{1, 2, 3},
	}

	encoded, err := Encode(in)
	require.NoError(t, err)

	decoded := Decode(encoded).(map[string]any)
	assert.True(t, math.IsNaN(decoded["loss"].(float64)))
	assert.True(t, math.IsInf(decoded["grad"].(float64), 1))
	assert.Equal(t, []any{1, 2, 3}, decoded["steps"])
}

func TestEncodeArtifactDescriptorPassesThrough(t *testing.T) {
	desc := map[string]any{
		"_type":     "image",
		"file_path": "proj/run/0/abc.png",
		"caption":   "a picture",
	}

	out, err := Encode(desc)
	require.NoError(t, err)
	assert.Equal(t, desc, out)
	assert.True(t, IsArtifactDescriptor(desc))
	assert.False(t, IsArtifactDescriptor(map[string]any{"loss": 1.0}))
}

func TestEncodeStructFlattensExportedFields(t *testing.T) {
	type hyperparams struct {
		LR     float64
		Epochs int
		label  string
	}

	out, err := Encode(map[string]any{
		"config": hyperparams{LR: 0.01, Epochs: 5, label: "internal"},
	})
	require.NoError(t, err)

	cfg := out.(map[string]any)["config"].(map[string]any)
	assert.Equal(t, 0.01, cfg["LR"])
	assert.Equal(t, 5, cfg["Epochs"])
	_, hasUnexported := cfg["label"]
	assert.False(t, hasUnexported, "unexported fields are dropped")
}

func TestEncodeStructPointerAndNonFiniteField(t *testing.T) {
	type result struct {
		Best float64
	}

	out, err := Encode(map[string]any{"result": &result{Best: math.Inf(1)}})
	require.NoError(t, err)

	res := out.(map[string]any)["result"].(map[string]any)
	assert.Equal(t, "Infinity", res["Best"])
}

func TestEncodeCycleFails(t *testing.T) {
	self := map[string]any{}
	self["self"] = self

	_, err := Encode(self)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "encoding cycle")
}
