package rpi

import (
	"fmt"
)

// gpioT is the GPIO register block (p90). Only the function-select
// registers are used here; plain input/output pins are better served
// by the character device interface than by register pokes.
type gpioT struct {
	fsel      [6]uint32 // GPIO Function Select
	resvd0x18 uint32
	set       [2]uint32 // GPIO Pin Output Set
	resvd0x24 uint32
	clr       [2]uint32 // GPIO Pin Output Clear
	resvd0x30 uint32
	lev       [2]uint32 // GPIO Pin Level
	resvd0x3c uint32
	eds       [2]uint32 // GPIO Pin Event Detect Status
	resvd0x48 uint32
	ren       [2]uint32 // GPIO Pin Rising Edge Detect Enable
	resvd0x54 uint32
	fen       [2]uint32 // GPIO Pin Falling Edge Detect Enable
	resvd0x60 uint32
	hen       [2]uint32 // GPIO Pin High Detect Enable
	resvd0x6c uint32
	len       [2]uint32 // GPIO Pin Low Detect Enable
	resvd0x78 uint32
	aren      [2]uint32 // GPIO Pin Async Rising Edge Detect
	resvd0x84 uint32
	afen      [2]uint32 // GPIO Pin Async Falling Edge Detect
	resvd0x90 uint32
	pud       uint32    // GPIO Pin Pull up/down Enable
	pudclk    [2]uint32 // GPIO Pin Pull up/down Enable Clock
	resvd0xa0 [4]uint32
	test      uint32
}

func (rp *RPi) gpioSetPinFunction(pin int, fnc uint32) error {
	if pin > 53 { // p94
		return fmt.Errorf("pin %d not supported", pin)
	}
	reg := pin / 10
	offset := uint((pin % 10) * 3)
	rp.gpio.fsel[reg] &= ^(uint32(0x7) << offset)
	rp.gpio.fsel[reg] |= fnc << offset
	return nil
}

func (rp *RPi) gpioSetAltFunction(pin int, alt int) error {
	funcs := []uint32{4, 5, 6, 7, 3, 2} // p92 - the alt functions only
	if alt >= len(funcs) {
		return fmt.Errorf("%d is an invalid alt function", alt)
	}
	return rp.gpioSetPinFunction(pin, funcs[alt])
}
