//go:build linux

package uhidinject

import (
	"os"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDescriptorFitsReportDescMax(t *testing.T) {
	assert.Less(t, len(absolutePointerKeyboardDescriptor), reportDescMax)
}

func TestInjectReportRejectsOversizedPayload(t *testing.T) {
	u := &Injector{f: os.NewFile(0, "stub")}
	_, err := os.Pipe()
	require.NoError(t, err)

	err = u.InjectReport(make([]byte, dataMax+1))
	assert.Error(t, err)
}

func TestOpenFailsWithoutUhidDevice(t *testing.T) {
	if _, err := os.Stat("/dev/uhid"); err == nil {
		t.Skip("/dev/uhid present in this environment, not exercising the failure path")
	}
	_, err := Open("streamer-test")
	assert.Error(t, err)
}
