package whip

import (
	"errors"
	"fmt"
	"net"
	"syscall"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMapListenError(t *testing.T) {
	denied := mapListenError(fmt.Errorf("listen udp 0.0.0.0:5004: %w", syscall.EACCES))
	assert.ErrorIs(t, denied, ErrNotAllowed)
	assert.ErrorIs(t, denied, syscall.EACCES)

	missing := mapListenError(&net.AddrError{Err: "invalid port", Addr: "127.0.0.1:99999"})
	assert.ErrorIs(t, missing, ErrNotFound)

	other := mapListenError(errors.New("boom"))
	var mediaErr *MediaAccessError
	require.ErrorAs(t, other, &mediaErr)
	assert.Equal(t, "Could not access your media device", mediaErr.Message())
	assert.Equal(t, "boom", mediaErr.Error())
}

func TestMediaAccessErrorMessages(t *testing.T) {
	for _, reason := range []error{ErrNoMediaDevices, ErrNotFound, ErrNotAllowed} {
		mediaErr := &MediaAccessError{Reason: reason}
		assert.NotEqual(t, "Could not access your media device", mediaErr.Message(), reason.Error())
		assert.ErrorIs(t, mediaErr, reason)
	}

	wrapped := &MediaAccessError{Reason: ErrNotAllowed, Err: syscall.EPERM}
	assert.Contains(t, wrapped.Error(), ErrNotAllowed.Error())
	assert.ErrorIs(t, wrapped, syscall.EPERM)
}

func TestSimulcastLayers(t *testing.T) {
	require.Len(t, SimulcastLayers, 3)
	assert.Equal(t, Layer{RID: "high", ScaleResolutionDownBy: 1}, SimulcastLayers[0])
	assert.Equal(t, Layer{RID: "med", ScaleResolutionDownBy: 2}, SimulcastLayers[1])
	assert.Equal(t, Layer{RID: "low", ScaleResolutionDownBy: 4}, SimulcastLayers[2])
}
