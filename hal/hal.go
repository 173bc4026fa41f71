package hal

// Pin is a platform GPIO pin number
type Pin = uint8

// PinMode is the direction configuration of a pin
type PinMode int

const (
	// ModeInput configures pins as high-impedance inputs
	ModeInput PinMode = iota
	// ModeOutput configures pins as push-pull outputs
	ModeOutput
)

// IntrMode is the interrupt trigger configuration of a pin
type IntrMode int

const (
	// IntrDisable disables interrupts for the pin
	IntrDisable IntrMode = iota
	// IntrRisingEdge triggers on low to high transitions
	IntrRisingEdge
	// IntrFallingEdge triggers on high to low transitions
	IntrFallingEdge
	// IntrAnyEdge triggers on any transition
	IntrAnyEdge
)

// DriveCap is the output drive capability (current strength) of a pin,
// from weakest (DriveCap0) to strongest (DriveCap3)
type DriveCap int

const (
	DriveCap0 DriveCap = iota
	DriveCap1
	DriveCap2
	DriveCap3
	// DriveCapMax is one past the strongest valid drive capability
	DriveCapMax
)

// PinConfig describes the configuration applied to a set of pins.
// PinBitMask selects the pins: bit n set means pin n is configured.
type PinConfig struct {
	Mode       PinMode
	PullUpEn   bool
	PullDownEn bool
	IntrType   IntrMode
	PinBitMask uint64
}

// Pins returns the pins selected by the PinBitMask, in ascending order
func (c *PinConfig) Pins() (pins []Pin) {
	for n := 0; n < 64; n++ {
		if c.PinBitMask&(1<<uint(n)) != 0 {
			pins = append(pins, Pin(n))
		}
	}
	return
}

// GpioHAL is an interface implemented by structs which are able to access
// GPIO hardware. It is not necessarily backed by real hardware (as in
// MockGpioHAL).
type GpioHAL interface {
	Name() string

	// ResetPin returns the pin to its default high-impedance state
	ResetPin(pin Pin) error
	// Config applies cfg to all pins selected by its PinBitMask
	Config(cfg PinConfig) error
	// SetLevel sets the physical output level of the pin
	SetLevel(pin Pin, level bool) error
	// SetDriveCapability sets the output current strength of the pin
	SetDriveCapability(pin Pin, strength DriveCap) error
}
