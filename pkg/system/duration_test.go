package system

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gopkg.in/yaml.v3"
)

func TestDuration_Decode(t *testing.T) {
	var cfg struct {
		Timeout Duration `yaml:"timeout"`
	}

	require.NoError(t, yaml.Unmarshal([]byte("timeout: 5s"), &cfg))
	assert.Equal(t, 5*time.Second, cfg.Timeout.Std())

	require.NoError(t, yaml.Unmarshal([]byte("timeout: 1500000000"), &cfg))
	assert.Equal(t, 1500*time.Millisecond, cfg.Timeout.Std())

	err := yaml.Unmarshal([]byte("timeout: soon"), &cfg)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "invalid duration")
}

func TestDuration_RoundTrip(t *testing.T) {
	in := struct {
		Timeout Duration `yaml:"timeout"`
	}{Timeout: Duration(250 * time.Millisecond)}

	raw, err := yaml.Marshal(in)
	require.NoError(t, err)
	assert.Contains(t, string(raw), "250ms")

	var out struct {
		Timeout Duration `yaml:"timeout"`
	}
	require.NoError(t, yaml.Unmarshal(raw, &out))
	assert.Equal(t, in.Timeout, out.Timeout)
}
