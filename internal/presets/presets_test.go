package presets

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestGet_KnownPreset(t *testing.T) {
	p, err := Get("paris-strut")
	require.NoError(t, err)
	require.Equal(t, "Paris Strut", p.Name)
	require.Equal(t, "static", p.CameraMove)
	require.Equal(t, 8, p.Duration)
}

func TestGet_UnknownPresetErrors(t *testing.T) {
	_, err := Get("not-a-preset")
	require.Error(t, err)
}

func TestPrompt_ReturnsUnderlyingPromptText(t *testing.T) {
	prompt, err := Prompt("runway")
	require.NoError(t, err)
	require.Contains(t, prompt, "runway walk")
}

func TestAll_ReturnsEveryEntry(t *testing.T) {
	all := All()
	require.Len(t, all, len(catalog))
}
