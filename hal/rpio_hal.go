package hal

import (
	"fmt"

	"github.com/sirupsen/logrus"
	rpio "github.com/stianeikeland/go-rpio/v4"

	"github.com/aluiziotomazelli/power-control/util"
)

// RpioHAL is a GpioHAL which uses raspberry pi gpio pins, backed by go-rpio
type RpioHAL struct {
	opened bool
	log    *logrus.Entry
}

var _ GpioHAL = (*RpioHAL)(nil)

// NewRpioHAL creates a new RpioHAL. Open must be called before any pin
// operation is used.
func NewRpioHAL() *RpioHAL {
	return &RpioHAL{
		false,
		util.Logger.WithField("hal", "rpio"),
	}
}

func (h *RpioHAL) Name() string {
	return "rpio"
}

// Open memory-maps the gpio registers. Must be called once before pins
// are accessed.
func (h *RpioHAL) Open() (err error) {
	h.log.Info("opening rpio")
	err = rpio.Open()
	if err != nil {
		err = fmt.Errorf("error opening rpio: %v", err)
		return
	}
	h.opened = true
	return
}

// Close unmaps the gpio registers. Pin operations fail after Close.
func (h *RpioHAL) Close() (err error) {
	if !h.opened {
		return
	}
	h.opened = false
	return rpio.Close()
}

func (h *RpioHAL) checkOpened(op string) error {
	if !h.opened {
		return util.NewHardwareError(op, fmt.Errorf("rpio is not open"))
	}
	return nil
}

func (h *RpioHAL) ResetPin(pin Pin) (err error) {
	if err = h.checkOpened("resetPin"); err != nil {
		return
	}
	h.log.WithField("pin", pin).Debug("resetting pin")
	p := rpio.Pin(pin)
	p.Detect(rpio.NoEdge)
	p.PullOff()
	p.Input()
	return
}

func (h *RpioHAL) Config(cfg PinConfig) (err error) {
	if err = h.checkOpened("config"); err != nil {
		return
	}
	for _, pin := range cfg.Pins() {
		h.log.WithFields(logrus.Fields{
			"pin": pin, "mode": cfg.Mode,
		}).Debug("configuring pin")
		p := rpio.Pin(pin)
		switch {
		case cfg.PullUpEn:
			p.PullUp()
		case cfg.PullDownEn:
			p.PullDown()
		default:
			p.PullOff()
		}
		switch cfg.IntrType {
		case IntrRisingEdge:
			p.Detect(rpio.RiseEdge)
		case IntrFallingEdge:
			p.Detect(rpio.FallEdge)
		case IntrAnyEdge:
			p.Detect(rpio.AnyEdge)
		default:
			p.Detect(rpio.NoEdge)
		}
		if cfg.Mode == ModeOutput {
			p.Output()
		} else {
			p.Input()
		}
	}
	return
}

func (h *RpioHAL) SetLevel(pin Pin, level bool) (err error) {
	if err = h.checkOpened("setLevel"); err != nil {
		return
	}
	h.log.WithFields(logrus.Fields{
		"pin": pin, "level": level,
	}).Debug("setting pin level")
	p := rpio.Pin(pin)
	if level {
		p.High()
	} else {
		p.Low()
	}
	return
}

// SetDriveCapability validates strength but otherwise does nothing:
// go-rpio does not expose the bcm2835 pad drive strength registers.
func (h *RpioHAL) SetDriveCapability(pin Pin, strength DriveCap) (err error) {
	if err = h.checkOpened("setDriveCapability"); err != nil {
		return
	}
	if strength < DriveCap0 || strength >= DriveCapMax {
		return util.NewInvalidArgumentError("strength",
			fmt.Sprintf("invalid drive capability: %d", strength))
	}
	h.log.WithFields(logrus.Fields{
		"pin": pin, "strength": strength,
	}).Debug("drive capability not supported by rpio, ignoring")
	return
}
