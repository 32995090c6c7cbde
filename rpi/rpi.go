// Package rpi talks to the Raspberry Pi peripherals that the pulse
// backend needs: the Videocore mailbox (for DMA-able physical
// memory), the DMA controller, the PWM serializer and its clock, and
// the GPIO function-select registers. Everything is reached by
// mmap-ing /dev/mem.
//
// Register details are from the BCM2835 reference at
// https://www.raspberrypi.org/app/uploads/2012/02/BCM2835-ARM-Peripherals.pdf
// (page numbers noted where relevant). The mailbox protocol is
// documented at
// https://github.com/raspberrypi/firmware/wiki/Mailbox-property-interface
package rpi

import (
	"encoding/binary"
	"errors"
	"fmt"
	"os"

	mmap "github.com/edsrzf/mmap-go"
)

type RPi struct {
	mbox     *os.File
	hw       hw
	dmaBuf   mmap.MMap
	dma      *dmaT
	pwmBuf   mmap.MMap
	pwm      *pwmT
	gpioBuf  mmap.MMap
	gpio     *gpioT
	cmClkBuf mmap.MMap
	cmClk    *cmClkT
}

// New detects the hardware revision and opens the mailbox. Register
// blocks are mapped separately via MapPeripherals.
func New() (*RPi, error) {
	hw, err := detectHardware()
	if err != nil {
		return nil, fmt.Errorf("couldn't detect RPi hardware: %w", err)
	}
	rp := RPi{hw: hw}
	if err := rp.mboxOpen(); err != nil {
		return nil, fmt.Errorf("couldn't open mailbox: %w", err)
	}
	return &rp, nil
}

// Close unmaps all register blocks and closes the mailbox.
func (rp *RPi) Close() error {
	var errs []error
	for _, m := range []*mmap.MMap{&rp.dmaBuf, &rp.pwmBuf, &rp.gpioBuf, &rp.cmClkBuf} {
		if *m != nil {
			errs = append(errs, (*m).Unmap())
			*m = nil
		}
	}
	rp.dma, rp.pwm, rp.gpio, rp.cmClk = nil, nil, nil, nil
	if rp.mbox != nil {
		errs = append(errs, rp.mbox.Close())
		rp.mbox = nil
	}
	return errors.Join(errs...)
}

func (rp *RPi) HardwareName() string {
	return rp.hw.name
}

type hw struct {
	periphBase uintptr
	vcBase     uintptr
	oscFreq    uint32
	name       string
}

const (
	periphBaseBCM2835 = 0x20000000
	periphBaseBCM2836 = 0x3f000000
	periphBaseBCM2711 = 0xfe000000

	vcBaseBCM2835 = 0x40000000
	vcBaseBCM2836 = 0xc0000000

	oscFreq     = 19200000 // crystal frequency
	oscFreqPi4  = 54000000 // BCM2711 crystal frequency
	revisionLoc = "/proc/device-tree/system/linux,revision"
)

// decodeRevision maps a board revision code to its SoC's address
// bases. New-style codes (bit 23 set) carry the processor in bits
// 12-15; everything with an old-style code is a BCM2835 board.
func decodeRevision(rev uint32) (hw, error) {
	if rev&(1<<23) == 0 {
		return hw{periphBaseBCM2835, vcBaseBCM2835, oscFreq, fmt.Sprintf("pre-2012 board (rev %04X)", rev)}, nil
	}
	switch proc := (rev >> 12) & 0xf; proc {
	case 0: // BCM2835
		return hw{periphBaseBCM2835, vcBaseBCM2835, oscFreq, "BCM2835 (Pi 1/Zero)"}, nil
	case 1, 2: // BCM2836, BCM2837
		return hw{periphBaseBCM2836, vcBaseBCM2836, oscFreq, "BCM2836/7 (Pi 2/3)"}, nil
	case 3: // BCM2711
		return hw{periphBaseBCM2711, vcBaseBCM2836, oscFreqPi4, "BCM2711 (Pi 4/400)"}, nil
	default:
		// BCM2712 (Pi 5) dropped the legacy PWM+DMA path.
		return hw{}, fmt.Errorf("unsupported processor %d in revision %08X", proc, rev)
	}
}

func detectHardware() (hw, error) {
	f, err := os.Open(revisionLoc)
	if err != nil {
		return hw{}, fmt.Errorf("couldn't open revision file: %w", err)
	}
	b := make([]byte, 4)
	n, err := f.Read(b)
	f.Close() // Ignore error
	if err != nil {
		return hw{}, fmt.Errorf("couldn't read revision: %w", err)
	}
	if n != 4 {
		return hw{}, fmt.Errorf("revision file got %d instead of 4 bytes", n)
	}
	return decodeRevision(binary.BigEndian.Uint32(b))
}

// MapPeripherals maps the DMA channel's registers plus the PWM,
// clock-manager and GPIO blocks.
func (rp *RPi) MapPeripherals(dmaChannel int) error {
	offset, ok := dmaOffsets[dmaChannel]
	if !ok {
		return fmt.Errorf("no register offset for DMA channel %d", dmaChannel)
	}
	if err := mapReg(rp, &rp.dmaBuf, offset, &rp.dma); err != nil {
		return err
	}
	if err := mapReg(rp, &rp.pwmBuf, pwmOffset, &rp.pwm); err != nil {
		return err
	}
	if err := mapReg(rp, &rp.cmClkBuf, cmPwmOffset, &rp.cmClk); err != nil {
		return err
	}
	return mapReg(rp, &rp.gpioBuf, gpioOffset, &rp.gpio)
}
