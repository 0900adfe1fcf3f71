package console

import (
	"bytes"
	"flag"
	"io"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sleroq/web.cum.army/internal/environment"
)

func TestParsePlay(t *testing.T) {
	t.Setenv(environment.APIPath, "http://example.com/api/")
	t.Setenv(environment.PlaybackVideoAddress, "127.0.0.1:5004")
	t.Setenv(environment.PlaybackPreferSound, "")

	options, err := ParseArgs([]string{"play", "-layer", "low", "-chat", "my_stream"}, io.Discard)
	require.NoError(t, err)

	assert.Equal(t, CommandPlay, options.Command)
	assert.Equal(t, "my_stream", options.StreamKey)
	assert.Equal(t, "http://example.com/api", options.APIPath)
	assert.Equal(t, "127.0.0.1:5004", options.VideoAddress)
	assert.Equal(t, "low", options.Layer)
	assert.True(t, options.Chat)
	assert.True(t, options.PreferSound)
}

func TestParsePublishSplitsVideoAddresses(t *testing.T) {
	t.Setenv(environment.PublishVideoAddress, "127.0.0.1:6000, 127.0.0.1:6002,,127.0.0.1:6004")
	t.Setenv(environment.PublishScreenShare, "1")

	options, err := ParseArgs([]string{"publish", "-stream", "key"}, io.Discard)
	require.NoError(t, err)

	assert.Equal(t, []string{"127.0.0.1:6000", "127.0.0.1:6002", "127.0.0.1:6004"}, options.PublishVideoAddress)
	assert.True(t, options.ScreenShare)
}

func TestParseSoundPreference(t *testing.T) {
	t.Setenv(environment.PlaybackPreferSound, "false")

	options, err := ParseArgs([]string{"play", "key"}, io.Discard)
	require.NoError(t, err)
	assert.False(t, options.PreferSound)
}

func TestParseErrors(t *testing.T) {
	t.Setenv(environment.StreamKey, "")

	_, err := ParseArgs(nil, io.Discard)
	assert.ErrorIs(t, err, ErrUnknownCommand)

	_, err = ParseArgs([]string{"record"}, io.Discard)
	assert.ErrorIs(t, err, ErrUnknownCommand)

	_, err = ParseArgs([]string{"chat"}, io.Discard)
	assert.ErrorIs(t, err, ErrMissingStreamKey)

	options, err := ParseArgs([]string{"status", "-once"}, io.Discard)
	require.NoError(t, err)
	assert.True(t, options.Once)
	assert.Empty(t, options.StreamKey)
}

func TestPublishHelpExplainsSimulcastAddresses(t *testing.T) {
	var output bytes.Buffer

	_, err := ParseArgs([]string{"publish", "-h"}, &output)
	assert.ErrorIs(t, err, flag.ErrHelp)
	assert.Contains(t, output.String(), "simulcast needs three (high,med,low)")
	assert.Contains(t, output.String(), "a single address publishes one encoding")
}
