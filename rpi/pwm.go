package rpi

import (
	"fmt"
	"time"
)

// The PWM block in serializer mode clocks the DMA'd words out of the
// FIFO bit by bit, which is what turns our symbol stream into pulses
// on the pin. See p138 onwards.

type pwmPin struct {
	channel int
	pin     int
}

// Which "alt" function makes a pin a PWM output, per channel (p102).
var pwmPinToAlt = map[pwmPin]int{
	{0, 12}: 0,
	{0, 18}: 5,
	{0, 40}: 0,
	{1, 13}: 0,
	{1, 19}: 5,
	{1, 41}: 0,
	{1, 45}: 0,
}

// PWMChannelForPin returns the PWM channel a GPIO pin is served by,
// or an error if the pin can't do hardware PWM.
func PWMChannelForPin(pin int) (int, error) {
	for pp := range pwmPinToAlt {
		if pp.pin == pin {
			return pp.channel, nil
		}
	}
	return 0, fmt.Errorf("pin %d has no PWM function", pin)
}

const (
	pwmCtlUsef2 = 1 << 13
	pwmCtlMode2 = 1 << 9
	pwmCtlPwen2 = 1 << 8
	pwmCtlClrf1 = 1 << 6
	pwmCtlUsef1 = 1 << 5
	pwmCtlMode1 = 1 << 1
	pwmCtlPwen1 = 1 << 0
	pwmDmacEnab = uint32(1 << 31)

	cmClkCtlPasswd = 0x5a << 24
	cmClkCtlBusy   = 1 << 7
	cmClkCtlKill   = 1 << 5
	cmClkCtlEnab   = 1 << 4
	cmClkCtlSrcOsc = 1 << 0
	cmClkDivPasswd = uint32(0x5a << 24)

	regSettle = 10 * time.Microsecond
)

// pwmT is the PWM register block (p141).
type pwmT struct {
	ctl       uint32
	sta       uint32
	dmac      uint32
	resvd0x0c uint32
	rng1      uint32
	dat1      uint32
	fif1      uint32
	resvd0x1c uint32
	rng2      uint32
	dat2      uint32
}

// cmClkT is the PWM clock-manager register pair.
type cmClkT struct {
	ctl uint32
	div uint32
}

func cmClkDivI(val uint32) uint32 {
	return (val & 0xfff) << 12
}

// PWMClockDiv returns the integer divider programmed into the clock
// manager for a requested tick rate, rounded to nearest.
func PWMClockDiv(oscFreq uint32, freq uint) uint32 {
	div := (oscFreq + uint32(freq)/2) / uint32(freq)
	if div < 1 {
		div = 1
	}
	return div
}

// PWMClockFreq returns the tick rate the clock actually achieves for a
// requested one. The divider is an integer, so the two can differ;
// anything deriving pulse widths from the tick rate must use this.
func PWMClockFreq(oscFreq uint32, freq uint) uint {
	return uint(oscFreq / PWMClockDiv(oscFreq, freq))
}

// PWMClockFreq returns the achievable tick rate on this board's
// oscillator.
func (rp *RPi) PWMClockFreq(freq uint) uint {
	return PWMClockFreq(rp.hw.oscFreq, freq)
}

func pwmDmacPanic(val uint32) uint32 {
	return (val & 0xff) << 8
}

func pwmDmacDreq(val uint32) uint32 {
	return (val & 0xff) << 0
}

// StartPWM routes the pin to its PWM function, programs the clock to
// tick at freq Hz from the crystal oscillator and starts the
// serializer on the pin's channel, fed from the FIFO.
func (rp *RPi) StartPWM(freq uint, pin int) error {
	channel, err := PWMChannelForPin(pin)
	if err != nil {
		return err
	}
	alt := pwmPinToAlt[pwmPin{channel, pin}]
	if err := rp.gpioSetAltFunction(pin, alt); err != nil {
		return fmt.Errorf("couldn't route pin %d to PWM: %w", pin, err)
	}

	rp.StopPWM()

	rp.cmClk.div = cmClkDivPasswd | cmClkDivI(PWMClockDiv(rp.hw.oscFreq, freq))
	rp.cmClk.ctl = cmClkCtlPasswd | cmClkCtlSrcOsc
	rp.cmClk.ctl = cmClkCtlPasswd | cmClkCtlSrcOsc | cmClkCtlEnab
	time.Sleep(regSettle)
	for rp.cmClk.ctl&cmClkCtlBusy == 0 {
	}

	// Delays between register writes: the block is rumored to lock
	// up without them.
	rp.pwm.rng1 = 32 // serialize 32 bits per FIFO word
	time.Sleep(regSettle)
	rp.pwm.ctl = pwmCtlClrf1
	time.Sleep(regSettle)
	rp.pwm.dmac = pwmDmacEnab | pwmDmacPanic(7) | pwmDmacDreq(3)
	time.Sleep(regSettle)
	if channel == 0 {
		rp.pwm.ctl = pwmCtlUsef1 | pwmCtlMode1
		time.Sleep(regSettle)
		rp.pwm.ctl |= pwmCtlPwen1
	} else {
		rp.pwm.rng2 = 32
		rp.pwm.ctl = pwmCtlUsef2 | pwmCtlMode2
		time.Sleep(regSettle)
		rp.pwm.ctl |= pwmCtlPwen2
	}
	return nil
}

// StopPWM turns off the serializer and kills its clock.
func (rp *RPi) StopPWM() {
	rp.pwm.ctl = 0
	time.Sleep(regSettle)

	rp.cmClk.ctl = cmClkCtlPasswd | cmClkCtlKill
	time.Sleep(regSettle)
	for rp.cmClk.ctl&cmClkCtlBusy != 0 {
	}
}
