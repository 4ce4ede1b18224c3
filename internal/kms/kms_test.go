//go:build linux

package kms

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestProbeNodesListsCardsInOrder(t *testing.T) {
	require.Len(t, probeNodes, 3)
	assert.Equal(t, "/dev/dri/card0", probeNodes[0])
	assert.Equal(t, "/dev/dri/card1", probeNodes[1])
}

func TestOpenRWRejectsMissingPath(t *testing.T) {
	_, err := openRW("/nonexistent/kms-probe-path")
	assert.Error(t, err)
}
