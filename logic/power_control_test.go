package logic

import (
	"errors"
	"io"
	"os"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/aluiziotomazelli/power-control/hal"
	"github.com/aluiziotomazelli/power-control/util"
)

const testPin = hal.Pin(4)

func TestMain(m *testing.M) {
	util.Logger.Out = io.Discard
	os.Exit(m.Run())
}

func expectInit(m *hal.MockGpioHAL, pin hal.Pin, initialLevel bool) {
	m.On("ResetPin", pin).Return(nil).Once()
	m.On("Config", mock.AnythingOfType("hal.PinConfig")).Return(nil).Once()
	m.On("SetLevel", pin, initialLevel).Return(nil).Once()
}

func TestPowerControl_Init(t *testing.T) {
	ass := assert.New(t)

	m := hal.NewMockGpioHAL()
	pc := NewPowerControl("test", m, testPin, false, false)

	ass.False(pc.IsInitialized())
	ass.Equal(testPin, pc.Pin())

	expectInit(m, testPin, false)
	require.NoError(t, pc.Init())
	ass.True(pc.IsInitialized())
	ass.False(pc.IsOn())
	m.AssertExpectations(t)

	// second init must not touch hardware
	require.NoError(t, pc.Init())
	m.AssertNumberOfCalls(t, "ResetPin", 1)
	m.AssertNumberOfCalls(t, "Config", 1)
	m.AssertNumberOfCalls(t, "SetLevel", 1)
}

func TestPowerControl_InitConfiguresOutput(t *testing.T) {
	ass := assert.New(t)

	m := hal.NewMockGpioHAL()
	pc := NewPowerControl("test", m, testPin, false, false)

	m.On("ResetPin", testPin).Return(nil).Once()
	m.On("Config", mock.MatchedBy(func(cfg hal.PinConfig) bool {
		return cfg.Mode == hal.ModeOutput &&
			!cfg.PullUpEn && !cfg.PullDownEn &&
			cfg.IntrType == hal.IntrDisable &&
			cfg.PinBitMask == 1<<uint(testPin)
	})).Return(nil).Once()
	m.On("SetLevel", testPin, false).Return(nil).Once()

	require.NoError(t, pc.Init())
	ass.True(pc.IsInitialized())
	m.AssertExpectations(t)
}

func TestPowerControl_InitInitialOn(t *testing.T) {
	ass := assert.New(t)

	m := hal.NewMockGpioHAL()
	pc := NewPowerControl("test", m, testPin, false, true)

	expectInit(m, testPin, true)
	require.NoError(t, pc.Init())
	ass.True(pc.IsOn())
	ass.True(m.Level(testPin))
	m.AssertExpectations(t)
}

func TestPowerControl_InitResetFails(t *testing.T) {
	ass := assert.New(t)

	m := hal.NewMockGpioHAL()
	pc := NewPowerControl("test", m, testPin, false, false)

	resetErr := errors.New("bad pin")
	m.On("ResetPin", testPin).Return(resetErr).Once()

	ass.Equal(resetErr, pc.Init())
	ass.False(pc.IsInitialized())
	m.AssertNotCalled(t, "Config", mock.Anything)
	m.AssertNotCalled(t, "SetLevel", mock.Anything, mock.Anything)
}

func TestPowerControl_InitConfigFails(t *testing.T) {
	ass := assert.New(t)

	m := hal.NewMockGpioHAL()
	pc := NewPowerControl("test", m, testPin, false, false)

	configErr := errors.New("config failed")
	m.On("ResetPin", testPin).Return(nil).Once()
	m.On("Config", mock.AnythingOfType("hal.PinConfig")).Return(configErr).Once()

	ass.Equal(configErr, pc.Init())
	ass.False(pc.IsInitialized())
	m.AssertNotCalled(t, "SetLevel", mock.Anything, mock.Anything)
}

func TestPowerControl_InitInitialLevelFails(t *testing.T) {
	ass := assert.New(t)

	m := hal.NewMockGpioHAL()
	pc := NewPowerControl("test", m, testPin, false, true)

	// configuration success is the success criterion: a failed initial
	// level write is swallowed
	m.On("ResetPin", testPin).Return(nil).Once()
	m.On("Config", mock.AnythingOfType("hal.PinConfig")).Return(nil).Once()
	m.On("SetLevel", testPin, true).Return(errors.New("write failed")).Once()

	ass.NoError(pc.Init())
	ass.True(pc.IsInitialized())
	ass.False(pc.IsOn())
	m.AssertExpectations(t)
}

func TestPowerControl_TurnOnOff(t *testing.T) {
	ass := assert.New(t)

	m := hal.NewMockGpioHAL()
	pc := NewPowerControl("test", m, testPin, false, false)

	expectInit(m, testPin, false)
	require.NoError(t, pc.Init())

	m.On("SetLevel", testPin, true).Return(nil).Once()
	ass.NoError(pc.TurnOn())
	ass.True(pc.IsOn())
	ass.True(m.Level(testPin))

	m.On("SetLevel", testPin, false).Return(nil).Once()
	ass.NoError(pc.TurnOff())
	ass.False(pc.IsOn())
	ass.False(m.Level(testPin))

	m.AssertExpectations(t)
}

func TestPowerControl_InvertedLogic(t *testing.T) {
	ass := assert.New(t)

	m := hal.NewMockGpioHAL()
	pc := NewPowerControl("test", m, testPin, true, false)

	// OFF under inversion is physical HIGH
	expectInit(m, testPin, true)
	require.NoError(t, pc.Init())
	ass.False(pc.IsOn())
	ass.True(m.Level(testPin))

	// ON under inversion is physical LOW
	m.On("SetLevel", testPin, false).Return(nil).Once()
	ass.NoError(pc.TurnOn())
	ass.True(pc.IsOn())
	ass.False(m.Level(testPin))

	m.On("SetLevel", testPin, true).Return(nil).Once()
	ass.NoError(pc.TurnOff())
	ass.False(pc.IsOn())
	ass.True(m.Level(testPin))

	m.AssertExpectations(t)
}

func TestPowerControl_Toggle(t *testing.T) {
	ass := assert.New(t)

	m := hal.NewMockGpioHAL()
	pc := NewPowerControl("test", m, testPin, false, false)

	expectInit(m, testPin, false)
	require.NoError(t, pc.Init())

	m.On("SetLevel", testPin, true).Return(nil).Once()
	ass.NoError(pc.Toggle())
	ass.True(pc.IsOn())

	m.On("SetLevel", testPin, false).Return(nil).Once()
	ass.NoError(pc.Toggle())
	ass.False(pc.IsOn())

	m.AssertExpectations(t)
}

func TestPowerControl_NotInitialized(t *testing.T) {
	ass := assert.New(t)

	m := hal.NewMockGpioHAL()
	pc := NewPowerControl("test", m, testPin, false, false)

	checkInvalidState := func(err error) {
		ass.Error(err)
		ass.Equal(util.ErrorCode(util.EC_InvalidState), util.ErrorCodeOf(err))
	}

	checkInvalidState(pc.TurnOn())
	checkInvalidState(pc.TurnOff())
	checkInvalidState(pc.Toggle())
	checkInvalidState(pc.SetDriveCapability(hal.DriveCap2))

	m.AssertNotCalled(t, "SetLevel", mock.Anything, mock.Anything)
	m.AssertNotCalled(t, "SetDriveCapability", mock.Anything, mock.Anything)
}

func TestPowerControl_TurnOnFailureKeepsState(t *testing.T) {
	ass := assert.New(t)

	m := hal.NewMockGpioHAL()
	pc := NewPowerControl("test", m, testPin, false, false)

	expectInit(m, testPin, false)
	require.NoError(t, pc.Init())

	writeErr := errors.New("write failed")
	m.On("SetLevel", testPin, true).Return(writeErr).Once()

	ass.Equal(writeErr, pc.TurnOn())
	ass.False(pc.IsOn())
	ass.True(pc.IsInitialized())
}

func TestPowerControl_Deinit(t *testing.T) {
	ass := assert.New(t)

	m := hal.NewMockGpioHAL()
	pc := NewPowerControl("test", m, testPin, false, false)

	// deinit before init must not touch hardware
	ass.NoError(pc.Deinit())
	m.AssertNotCalled(t, "SetLevel", mock.Anything, mock.Anything)
	m.AssertNotCalled(t, "ResetPin", mock.Anything)

	expectInit(m, testPin, false)
	require.NoError(t, pc.Init())

	m.On("SetLevel", testPin, true).Return(nil).Once()
	require.NoError(t, pc.TurnOn())

	m.On("SetLevel", testPin, false).Return(nil).Once()
	m.On("ResetPin", testPin).Return(nil).Once()
	ass.NoError(pc.Deinit())
	ass.False(pc.IsInitialized())
	ass.False(pc.IsOn())
	m.AssertExpectations(t)

	// second deinit must not touch hardware
	ass.NoError(pc.Deinit())
	m.AssertNumberOfCalls(t, "ResetPin", 2)
}

func TestPowerControl_DeinitLevelFails(t *testing.T) {
	ass := assert.New(t)

	m := hal.NewMockGpioHAL()
	pc := NewPowerControl("test", m, testPin, false, false)

	expectInit(m, testPin, false)
	require.NoError(t, pc.Init())

	levelErr := errors.New("level failed")
	m.On("SetLevel", testPin, false).Return(levelErr).Once()
	m.On("ResetPin", testPin).Return(nil).Once()

	// the reset is still attempted and the output still goes down
	ass.Equal(levelErr, pc.Deinit())
	ass.False(pc.IsInitialized())
	ass.False(pc.IsOn())
	m.AssertExpectations(t)
}

func TestPowerControl_DeinitResetFails(t *testing.T) {
	ass := assert.New(t)

	m := hal.NewMockGpioHAL()
	pc := NewPowerControl("test", m, testPin, false, false)

	expectInit(m, testPin, false)
	require.NoError(t, pc.Init())

	resetErr := errors.New("reset failed")
	m.On("SetLevel", testPin, false).Return(nil).Once()
	m.On("ResetPin", testPin).Return(resetErr).Once()

	ass.Equal(resetErr, pc.Deinit())
	ass.False(pc.IsInitialized())
	ass.False(pc.IsOn())
}

func TestPowerControl_DeinitBothFail(t *testing.T) {
	ass := assert.New(t)

	m := hal.NewMockGpioHAL()
	pc := NewPowerControl("test", m, testPin, false, false)

	expectInit(m, testPin, false)
	require.NoError(t, pc.Init())

	levelErr := errors.New("level failed")
	resetErr := errors.New("reset failed")
	m.On("SetLevel", testPin, false).Return(levelErr).Once()
	m.On("ResetPin", testPin).Return(resetErr).Once()

	// the level-set error takes precedence
	ass.Equal(levelErr, pc.Deinit())
	ass.False(pc.IsInitialized())
}

func TestPowerControl_Reinit(t *testing.T) {
	ass := assert.New(t)

	m := hal.NewMockGpioHAL()
	pc := NewPowerControl("test", m, testPin, false, true)

	m.SetupReturns(testPin)

	require.NoError(t, pc.Init())
	require.NoError(t, pc.Deinit())
	ass.NoError(pc.Init())
	ass.True(pc.IsInitialized())
	ass.True(pc.IsOn())
}

func TestPowerControl_SetDriveCapability(t *testing.T) {
	ass := assert.New(t)

	m := hal.NewMockGpioHAL()
	pc := NewPowerControl("test", m, testPin, false, false)

	expectInit(m, testPin, false)
	require.NoError(t, pc.Init())

	m.On("SetDriveCapability", testPin, hal.DriveCap3).Return(nil).Once()
	ass.NoError(pc.SetDriveCapability(hal.DriveCap3))

	driveErr := errors.New("bad strength")
	m.On("SetDriveCapability", testPin, hal.DriveCap1).Return(driveErr).Once()
	ass.Equal(driveErr, pc.SetDriveCapability(hal.DriveCap1))

	m.AssertExpectations(t)
}

func TestPowerControl_Update(t *testing.T) {
	ass := assert.New(t)

	m := hal.NewMockGpioHAL()
	pc := NewPowerControl("test", m, testPin, false, false)
	m.SetupReturns(testPin)

	onUpdate := make(chan OutputUpdate, 6)
	pc.SetOnUpdate(onUpdate)

	require.NoError(t, pc.Init())
	require.NoError(t, pc.TurnOn())

	// one update from the initial state apply, one from TurnOn
	require.Len(t, onUpdate, 2)
	u := <-onUpdate
	ass.Equal(pc, u.Output)
	ass.Equal(OutputUpdateState, u.Type)
	u = <-onUpdate
	ass.Equal(pc, u.Output)
	ass.Equal(OutputUpdateState, u.Type)
}

func TestPowerControl_UpdateChannelFull(t *testing.T) {
	ass := assert.New(t)

	m := hal.NewMockGpioHAL()
	pc := NewPowerControl("test", m, testPin, false, false)
	m.SetupReturns(testPin)

	// nobody draining: state changes must not block once the buffer fills
	onUpdate := make(chan OutputUpdate, 1)
	pc.SetOnUpdate(onUpdate)

	require.NoError(t, pc.Init())
	ass.NoError(pc.TurnOn())
	ass.NoError(pc.Toggle())
	ass.NoError(pc.Deinit())

	ass.Len(onUpdate, 1)
	ass.False(pc.IsOn())
	ass.False(pc.IsInitialized())
}
