package radio

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestIsTimeout(t *testing.T) {
	assert.True(t, IsTimeout(ErrTimeout))
	assert.True(t, IsTimeout(ErrNoAcknowledgement))
	assert.True(t, IsTimeout(fmt.Errorf("set target power: %w", ErrTimeout)))
	assert.True(t, IsTimeout(errors.New("Timed out while waiting for message 0x4F")))
	assert.True(t, IsTimeout(errors.New("Failed to get acknowledgement from device")))

	assert.False(t, IsTimeout(nil))
	assert.False(t, IsTimeout(ErrChannelClosed))
	assert.False(t, IsTimeout(errors.New("usb device disconnected")))
}

func TestDeviceTypeString(t *testing.T) {
	assert.Equal(t, "HeartRate", DeviceTypeHeartRate.String())
	assert.Equal(t, "FitnessEquipment", DeviceTypeFitnessEquipment.String())
	assert.Equal(t, "Unknown42", DeviceType(42).String())
}

func TestParseNetworkKey(t *testing.T) {
	key, err := ParseNetworkKey("B9A521FBBD72C345")
	require.NoError(t, err)
	assert.Equal(t, ANTPlusNetworkKey, key)

	key, err = ParseNetworkKey("0xb9a521fbbd72c345")
	require.NoError(t, err)
	assert.Equal(t, ANTPlusNetworkKey, key)

	_, err = ParseNetworkKey("b9a521")
	assert.Error(t, err)

	_, err = ParseNetworkKey("not-hex-at-all!!")
	assert.Error(t, err)
}
