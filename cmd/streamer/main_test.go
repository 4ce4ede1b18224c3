package main

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseAudioFlagAcceptsValidRateAndChannels(t *testing.T) {
	cfg, err := parseAudioFlag("48000:FL,FR")
	require.NoError(t, err)
	assert.Equal(t, 48000, cfg.SampleRate)
	assert.Equal(t, 2, cfg.Channels)
	assert.Equal(t, "48000:FL,FR", cfg.WireLine)
}

func TestParseAudioFlagAcceptsMonoAnd44100(t *testing.T) {
	cfg, err := parseAudioFlag("44100:FC")
	require.NoError(t, err)
	assert.Equal(t, 44100, cfg.SampleRate)
	assert.Equal(t, 1, cfg.Channels)
}

func TestParseAudioFlagRejectsUnsupportedRate(t *testing.T) {
	_, err := parseAudioFlag("96000:FL,FR")
	assert.Error(t, err)
}

func TestParseAudioFlagRejectsUnknownChannelPosition(t *testing.T) {
	_, err := parseAudioFlag("48000:FL,BOGUS")
	assert.Error(t, err)
}

func TestParseAudioFlagRejectsMissingColon(t *testing.T) {
	_, err := parseAudioFlag("48000")
	assert.Error(t, err)
}
