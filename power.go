package main

import (
	"fmt"
	"time"

	"github.com/warthog618/go-gpiocdev"

	"ledstrip/logger"
)

// PowerRail switches the LED supply via a GPIO control line, with an
// optional status line that reports healthy power. Strips at any real
// length draw too much for the Pi's own rail, so deployments gate an
// external supply on a control pin.
type PowerRail struct {
	chip       *gpiocdev.Chip
	ctrl       *gpiocdev.Line
	status     *gpiocdev.Line
	statusWait time.Duration
	log        *logger.Logger
}

// NewPowerRail requests the control line (initially low) and, if
// statusLine is >= 0, the status line as input. statusWait bounds how
// long On waits for the status line to report healthy power.
func NewPowerRail(chipName string, ctrlLine, statusLine int, statusWait time.Duration, log *logger.Logger) (*PowerRail, error) {
	chip, err := gpiocdev.NewChip(chipName)
	if err != nil {
		return nil, fmt.Errorf("couldn't open GPIO chip %s: %w", chipName, err)
	}
	ctrl, err := chip.RequestLine(ctrlLine,
		gpiocdev.AsOutput(0),
		gpiocdev.WithConsumer("ledstripd"))
	if err != nil {
		chip.Close() // Ignore error
		return nil, fmt.Errorf("couldn't request power control line %d: %w", ctrlLine, err)
	}
	r := &PowerRail{chip: chip, ctrl: ctrl, statusWait: statusWait, log: log}
	if statusLine >= 0 {
		r.status, err = chip.RequestLine(statusLine,
			gpiocdev.AsInput,
			gpiocdev.WithConsumer("ledstripd"))
		if err != nil {
			ctrl.Close() // Ignore error
			chip.Close() // Ignore error
			return nil, fmt.Errorf("couldn't request power status line %d: %w", statusLine, err)
		}
	}
	return r, nil
}

// On raises the control line and, if a status line is configured,
// polls it until the supply reports healthy or statusWait elapses.
func (r *PowerRail) On() error {
	if r == nil {
		return nil
	}
	r.log.Infof("Power on")
	if err := r.ctrl.SetValue(1); err != nil {
		return fmt.Errorf("couldn't set power control high: %w", err)
	}
	if r.status == nil {
		return nil
	}
	start := time.Now()
	for {
		val, err := r.status.Value()
		if err != nil {
			return fmt.Errorf("couldn't query power status: %w", err)
		}
		if val != 0 {
			r.log.Infof("Power stabilized after %v", time.Since(start))
			return nil
		}
		if time.Since(start) > r.statusWait {
			return fmt.Errorf("timed out after %v waiting for healthy power", r.statusWait)
		}
		time.Sleep(50 * time.Millisecond)
	}
}

// Off drops the control line. The status line isn't consulted; there's
// nothing useful to do with a slow discharge.
func (r *PowerRail) Off() error {
	if r == nil {
		return nil
	}
	r.log.Infof("Power off")
	if err := r.ctrl.SetValue(0); err != nil {
		return fmt.Errorf("couldn't set power control low: %w", err)
	}
	return nil
}

// Close releases the lines and the chip. The control line reverts to
// the kernel's default state, which leaves the supply off.
func (r *PowerRail) Close() error {
	if r == nil {
		return nil
	}
	if r.status != nil {
		r.status.Close() // Ignore error
	}
	r.ctrl.Close() // Ignore error
	return r.chip.Close()
}
