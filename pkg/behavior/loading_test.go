package behavior

import (
	"testing"

	"github.com/spf13/pflag"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseLoading(t *testing.T) {
	t.Parallel()

	tests := []struct {
		in   string
		want LoadingBehavior
	}{
		{"none", LoadingNone},
		{"pre-loop", LoadingPreLoop},
		{"first-loop", LoadingFirstLoop},
		{"threaded", LoadingThreaded},
		{" Threaded ", LoadingThreaded},
	}
	for _, tt := range tests {
		got, err := ParseLoading(tt.in)
		require.NoError(t, err, tt.in)
		assert.Equal(t, tt.want, got)
		assert.Equal(t, loadingNames[tt.want], got.String())
	}

	_, err := ParseLoading("sometimes")
	assert.ErrorContains(t, err, "invalid loading behavior")
}

func TestLoadingBehavior_DefaultIsNone(t *testing.T) {
	t.Parallel()

	var b LoadingBehavior
	assert.Equal(t, LoadingNone, b)
	assert.Equal(t, "none", b.String())
}

func TestLoadingBehavior_Flag(t *testing.T) {
	t.Parallel()

	var b LoadingBehavior
	fs := pflag.NewFlagSet("test", pflag.ContinueOnError)
	fs.Var(&b, "loading", "")

	require.NoError(t, fs.Parse([]string{"--loading", "first-loop"}))
	assert.Equal(t, LoadingFirstLoop, b)

	assert.Error(t, fs.Parse([]string{"--loading", "bogus"}))
	assert.Equal(t, LoadingFirstLoop, b, "failed Set must not change the value")
}

func TestLoadingBehavior_Text(t *testing.T) {
	t.Parallel()

	text, err := LoadingPreLoop.MarshalText()
	require.NoError(t, err)
	assert.Equal(t, "pre-loop", string(text))

	var b LoadingBehavior
	require.NoError(t, b.UnmarshalText([]byte("threaded")))
	assert.Equal(t, LoadingThreaded, b)
}
