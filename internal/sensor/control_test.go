package sensor

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lowaak/smart-trainer/ant-bridge/internal/antsim"
	"github.com/lowaak/smart-trainer/ant-bridge/internal/radio"
)

func targetPowerCommands(cmds []antsim.Command) []antsim.Command {
	out := make([]antsim.Command, 0, len(cmds))
	for _, c := range cmds {
		if c.Op == antsim.OpSetTargetPower {
			out = append(out, c)
		}
	}
	return out
}

func TestSetTargetPower_Success(t *testing.T) {
	rig := newRig(t, trainerID)
	rig.scan(t)
	info := rig.connect(t, trainerID)

	result, err := rig.hub.SetTargetPower(info.Key, 200)
	require.NoError(t, err)
	assert.Equal(t, ControlResult{Session: info.Key, TargetWatts: 200}, result)

	cmds := rig.node.Commands()
	require.Len(t, cmds, 2)
	assert.Equal(t, antsim.OpSetBasicResistance, cmds[0].Op)
	assert.Equal(t, float64(0), cmds[0].Value)
	assert.Equal(t, antsim.OpSetTargetPower, cmds[1].Op)
	assert.Equal(t, float64(200), cmds[1].Value)
	assert.Empty(t, rig.sleep.Delays())
}

func TestSetTargetPower_NegativeWatts(t *testing.T) {
	rig := newRig(t, trainerID)
	rig.scan(t)
	info := rig.connect(t, trainerID)

	_, err := rig.hub.SetTargetPower(info.Key, -5)
	assert.ErrorIs(t, err, ErrInvalidArgument)
	assert.Empty(t, rig.node.Commands())
}

func TestSetTargetPower_AboveCommandRange(t *testing.T) {
	rig := newRig(t, trainerID)
	rig.scan(t)
	info := rig.connect(t, trainerID)

	_, err := rig.hub.SetTargetPower(info.Key, MaxTargetWatts+1)
	assert.ErrorIs(t, err, ErrInvalidArgument)
	assert.Empty(t, rig.node.Commands())

	result, err := rig.hub.SetTargetPower(info.Key, MaxTargetWatts)
	require.NoError(t, err)
	assert.Equal(t, MaxTargetWatts, result.TargetWatts)
}

func TestSetTargetPower_RetriesTimeouts(t *testing.T) {
	rig := newRig(t, trainerID)
	rig.scan(t)
	info := rig.connect(t, trainerID)

	rig.node.QueueControlErrors(trainerID.Number,
		radio.ErrTimeout,
		errors.New("Failed to get acknowledgement"),
		nil,
	)

	result, err := rig.hub.SetTargetPower(info.Key, 250)
	require.NoError(t, err)
	assert.Equal(t, 250, result.TargetWatts)
	assert.Equal(t, []time.Duration{400 * time.Millisecond, 800 * time.Millisecond}, rig.sleep.Delays())

	cmds := rig.node.Commands()
	// One clear resistance before the first attempt only
	require.Len(t, cmds, 4)
	assert.Equal(t, antsim.OpSetBasicResistance, cmds[0].Op)
	assert.Len(t, targetPowerCommands(cmds), 3)
}

func TestSetTargetPower_RealBackoff(t *testing.T) {
	if testing.Short() {
		t.Skip("sleeps for the full backoff")
	}
	rig := newRig(t, trainerID)
	rig.hub.opts.Sleep = time.Sleep
	rig.scan(t)
	info := rig.connect(t, trainerID)

	rig.node.QueueControlErrors(trainerID.Number, radio.ErrTimeout, radio.ErrTimeout)
	start := time.Now()
	_, err := rig.hub.SetTargetPower(info.Key, 180)
	require.NoError(t, err)
	assert.GreaterOrEqual(t, time.Since(start), 1200*time.Millisecond)
}

func TestSetTargetPower_NonTimeoutFailsImmediately(t *testing.T) {
	rig := newRig(t, trainerID)
	rig.scan(t)
	info := rig.connect(t, trainerID)

	boom := errors.New("invalid data page")
	rig.node.QueueControlErrors(trainerID.Number, boom)

	_, err := rig.hub.SetTargetPower(info.Key, 250)
	assert.ErrorIs(t, err, ErrControlFailure)
	assert.ErrorIs(t, err, boom)
	assert.Empty(t, rig.sleep.Delays())
	assert.Len(t, targetPowerCommands(rig.node.Commands()), 1)
}

func TestSetTargetPower_TimeoutOnFinalAttempt(t *testing.T) {
	rig := newRig(t, trainerID)
	rig.scan(t)
	info := rig.connect(t, trainerID)

	rig.node.QueueControlErrors(trainerID.Number, radio.ErrTimeout, radio.ErrTimeout, radio.ErrTimeout, nil)

	_, err := rig.hub.SetTargetPower(info.Key, 250)
	assert.ErrorIs(t, err, ErrControlFailure)
	assert.ErrorIs(t, err, radio.ErrTimeout)
	assert.Equal(t, []time.Duration{400 * time.Millisecond, 800 * time.Millisecond}, rig.sleep.Delays())
	assert.Len(t, targetPowerCommands(rig.node.Commands()), 3)
}

func TestSetTargetPower_ClearResistanceFailureIgnored(t *testing.T) {
	rig := newRig(t, trainerID)
	rig.scan(t)
	info := rig.connect(t, trainerID)

	rig.node.FailResistance(trainerID.Number, radio.ErrNoAcknowledgement)
	result, err := rig.hub.SetTargetPower(info.Key, 150)
	require.NoError(t, err)
	assert.Equal(t, 150, result.TargetWatts)
}

func TestSetTargetPower_ConfiguredAttempts(t *testing.T) {
	rig := newRig(t, trainerID)
	rig.hub.opts.ControlAttempts = 1
	rig.scan(t)
	info := rig.connect(t, trainerID)

	rig.node.QueueControlErrors(trainerID.Number, radio.ErrTimeout)
	_, err := rig.hub.SetTargetPower(info.Key, 150)
	assert.ErrorIs(t, err, ErrControlFailure)
	assert.Empty(t, rig.sleep.Delays())
}

func TestSetTargetPower_Resolution(t *testing.T) {
	rig := newRig(t, hrID, trainerID)
	rig.scan(t)
	rig.connect(t, hrID)
	trainer := rig.connect(t, trainerID)

	for _, identifier := range []string{
		Key(trainerID),
		Label(trainerID),
		"300",
		// Heart rate strap cannot take the command; the trainer does
		Key(hrID),
		"100",
	} {
		result, err := rig.hub.SetTargetPower(identifier, 120)
		require.NoError(t, err, identifier)
		assert.Equal(t, trainer.Key, result.Session, identifier)
	}

	_, err := rig.hub.SetTargetPower("FitnessEquipment_5_999", 120)
	assert.ErrorIs(t, err, ErrNotFound)
	_, err = rig.hub.SetTargetPower("999", 120)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestSetTargetPower_Unsupported(t *testing.T) {
	rig := newRig(t, hrID, powerID)
	rig.scan(t)
	rig.connect(t, hrID)
	rig.connect(t, powerID)

	_, err := rig.hub.SetTargetPower(Key(powerID), 120)
	assert.ErrorIs(t, err, ErrUnsupported)
	assert.Empty(t, rig.node.Commands())
}
