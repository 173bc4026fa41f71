package logic

import (
	"github.com/sirupsen/logrus"

	"github.com/aluiziotomazelli/power-control/hal"
	"github.com/aluiziotomazelli/power-control/util"
)

// OutputUpdateType is the type of an OutputUpdate
type OutputUpdateType int

const (
	// OutputUpdateData means an OutputUpdate was only to the output data (ie. name)
	OutputUpdateData OutputUpdateType = iota
	// OutputUpdateState means an OutputUpdate was only to the logical state
	OutputUpdateState
)

// OutputUpdate is an update made to a PowerControl
type OutputUpdate struct {
	Output *PowerControl
	Type   OutputUpdateType
}

// PowerControl owns the logical ON/OFF lifecycle of a single GPIO pin,
// translating logical intent into physical levels through a GpioHAL.
// Supports inverted wiring (logical ON = physical LOW).
//
// Not safe for concurrent use from multiple goroutines; callers must
// provide external mutual exclusion. The GpioHAL must outlive the
// PowerControl.
type PowerControl struct {
	name          string
	hal           hal.GpioHAL
	pin           hal.Pin
	invertedLogic bool
	initialOn     bool

	initialized bool
	isOn        bool

	onUpdate chan<- OutputUpdate
	log      *logrus.Entry
}

// NewPowerControl creates a new PowerControl for pin driven through h.
// invertedLogic selects active-low wiring; initialOn is the logical state
// applied by Init. The output is not usable until Init is called.
func NewPowerControl(name string, h hal.GpioHAL, pin hal.Pin, invertedLogic bool, initialOn bool) *PowerControl {
	return &PowerControl{
		name, h, pin, invertedLogic, initialOn,
		false, false,
		nil,
		util.Logger.WithField("output", name),
	}
}

// SetOnUpdate sets the update handler chan for this PowerControl
func (pc *PowerControl) SetOnUpdate(onUpdate chan<- OutputUpdate) {
	pc.onUpdate = onUpdate
}

// update notifies the update chan without blocking. Dropping an update
// when the chan is full is safe: consumers read the current state when
// they drain, and state changes before the consumer is running must not
// stall the caller.
func (pc *PowerControl) update(t OutputUpdateType) {
	if pc.onUpdate == nil {
		return
	}
	select {
	case pc.onUpdate <- OutputUpdate{Output: pc, Type: t}:
	default:
		pc.log.Warn("update channel full, dropping update")
	}
}

// Init resets and configures the pin as an output and applies the initial
// logical state. Idempotent: when already initialized it returns nil
// without touching hardware.
//
// Initialization is reported successful once the pin configuration
// succeeds; a failure applying the initial level is logged but not
// returned.
func (pc *PowerControl) Init() (err error) {
	if pc.initialized {
		return
	}

	pc.log.WithFields(logrus.Fields{
		"pin": pc.pin, "invertedLogic": pc.invertedLogic, "initialOn": pc.initialOn,
	}).Info("initializing power control")

	if err = pc.hal.ResetPin(pc.pin); err != nil {
		pc.log.WithError(err).Error("failed to reset pin")
		return
	}

	cfg := hal.PinConfig{
		Mode:       hal.ModeOutput,
		PullUpEn:   false,
		PullDownEn: false,
		IntrType:   hal.IntrDisable,
		PinBitMask: 1 << uint(pc.pin),
	}
	if err = pc.hal.Config(cfg); err != nil {
		pc.log.WithError(err).Error("failed to configure pin")
		return
	}

	pc.initialized = true
	if aerr := pc.applyOutput(pc.initialOn); aerr != nil {
		pc.log.WithError(aerr).Error("failed to apply initial state")
	}

	pc.log.Info("power control initialized")
	return
}

// Deinit forces the pin low and resets it to its high-impedance default.
// Both hardware operations are attempted even if the first fails, and the
// first error encountered is returned. The output is always marked
// uninitialized with logical state off, so teardown cannot get stuck on a
// failing pin. Idempotent: when already uninitialized it returns nil
// without touching hardware.
//
// The pin may float after Deinit; this component applies no pull resistor.
func (pc *PowerControl) Deinit() (err error) {
	if !pc.initialized {
		return
	}

	pc.log.Info("deinitializing power control")

	err = pc.hal.SetLevel(pc.pin, false)
	if err != nil {
		pc.log.WithError(err).Error("failed to set pin low during deinit")
	}
	if rerr := pc.hal.ResetPin(pc.pin); rerr != nil {
		pc.log.WithError(rerr).Error("failed to reset pin during deinit")
		if err == nil {
			err = rerr
		}
	}

	pc.initialized = false
	pc.isOn = false
	pc.update(OutputUpdateState)

	pc.log.Info("power control deinitialized")
	return
}

// applyOutput writes the physical level for the logical state on,
// applying the inverted logic transform. isOn is updated only when the
// hardware write succeeds.
func (pc *PowerControl) applyOutput(on bool) (err error) {
	if !pc.initialized {
		return util.NewInvalidStateError("power control")
	}

	level := on != pc.invertedLogic // xor
	if err = pc.hal.SetLevel(pc.pin, level); err != nil {
		pc.log.WithError(err).WithFields(logrus.Fields{
			"on": on, "level": level,
		}).Error("failed to set pin level")
		return
	}

	pc.isOn = on
	pc.log.WithFields(logrus.Fields{
		"on": on, "level": level,
	}).Debug("output applied")
	pc.update(OutputUpdateState)
	return
}

// TurnOn sets the output to logical ON
func (pc *PowerControl) TurnOn() error {
	return pc.applyOutput(true)
}

// TurnOff sets the output to logical OFF
func (pc *PowerControl) TurnOff() error {
	return pc.applyOutput(false)
}

// Toggle inverts the current logical state
func (pc *PowerControl) Toggle() error {
	return pc.applyOutput(!pc.isOn)
}

// SetDriveCapability sets the output current strength of the pin. The
// configured value is forwarded to the hardware and not cached.
func (pc *PowerControl) SetDriveCapability(strength hal.DriveCap) error {
	if !pc.initialized {
		return util.NewInvalidStateError("power control")
	}
	return pc.hal.SetDriveCapability(pc.pin, strength)
}

// IsOn gets the last commanded logical state of this output
func (pc *PowerControl) IsOn() bool {
	return pc.isOn
}

// IsInitialized reports whether Init has succeeded without a later Deinit
func (pc *PowerControl) IsInitialized() bool {
	return pc.initialized
}

// Pin gets the pin controlled by this output. Valid before Init.
func (pc *PowerControl) Pin() hal.Pin {
	return pc.pin
}

// Name gets the name of this output
func (pc *PowerControl) Name() string {
	return pc.name
}
