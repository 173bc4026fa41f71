package hal

import (
	"github.com/stretchr/testify/mock"
)

// MockGpioHAL is a GpioHAL for tests, backed by testify mock. Pin levels
// written through it are remembered so tests can inspect the last
// physical level.
type MockGpioHAL struct {
	mock.Mock
	levels map[Pin]bool
}

var _ GpioHAL = (*MockGpioHAL)(nil)

func NewMockGpioHAL() *MockGpioHAL {
	return &MockGpioHAL{mock.Mock{}, make(map[Pin]bool)}
}

func (m *MockGpioHAL) Name() string {
	return "mock"
}

func (m *MockGpioHAL) ResetPin(pin Pin) error {
	args := m.Called(pin)
	return args.Error(0)
}

func (m *MockGpioHAL) Config(cfg PinConfig) error {
	args := m.Called(cfg)
	return args.Error(0)
}

func (m *MockGpioHAL) SetLevel(pin Pin, level bool) error {
	args := m.Called(pin, level)
	if err := args.Error(0); err != nil {
		return err
	}
	m.levels[pin] = level
	return nil
}

func (m *MockGpioHAL) SetDriveCapability(pin Pin, strength DriveCap) error {
	args := m.Called(pin, strength)
	return args.Error(0)
}

// Level returns the last physical level successfully written to pin
func (m *MockGpioHAL) Level(pin Pin) bool {
	return m.levels[pin]
}

// SetupReturns sets up all hardware operations on pin to succeed
func (m *MockGpioHAL) SetupReturns(pin Pin) {
	m.On("ResetPin", pin).Return(nil)
	m.On("Config", mock.AnythingOfType("hal.PinConfig")).Return(nil)
	m.On("SetLevel", pin, true).Return(nil)
	m.On("SetLevel", pin, false).Return(nil)
	m.On("SetDriveCapability", pin, mock.AnythingOfType("hal.DriveCap")).Return(nil)
}
