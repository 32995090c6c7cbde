// Package spidev is the SPI backend: the symbol stream is shifted out
// of the SPI MOSI pin by a spidev device clocked at the encoder's tick
// rate. No DMA setup or /dev/mem access is needed, which makes it the
// backend of choice on non-Pi hardware.
package spidev

import (
	"errors"
	"fmt"
	"os"
	"time"
	"unsafe"

	"golang.org/x/sys/unix"

	"ledstrip/strip"
)

// dev is the part of os.File we need. Narrow so tests can fake it.
type dev interface {
	Fd() uintptr
	Write(b []byte) (int, error)
}

// Channel drives a strip through a spidev device. Writes are
// synchronous, so there is never more than one transmission in flight.
type Channel struct {
	dev     dev
	closer  func() error
	enabled bool
	scratch []byte
}

// New opens the spidev device (e.g. /dev/spidev0.0) and sets its clock
// to speedHz. The encoder's resolution must match speedHz or the pulse
// widths come out wrong.
func New(devPath string, speedHz uint32) (*Channel, error) {
	f, err := os.OpenFile(devPath, os.O_RDWR, 0)
	if err != nil {
		return nil, fmt.Errorf("couldn't open %s: %w", devPath, err)
	}
	c := &Channel{dev: f, closer: f.Close}
	if speedHz != 0 {
		if err := c.setSpeed(speedHz); err != nil {
			f.Close() // Ignore error
			return nil, fmt.Errorf("couldn't set SPI speed: %w", err)
		}
	}
	return c, nil
}

const spiIocWrMaxSpeedHz = 0x40046B04

func (c *Channel) setSpeed(s uint32) error {
	_, _, errno := unix.Syscall(
		unix.SYS_IOCTL,
		c.dev.Fd(),
		uintptr(spiIocWrMaxSpeedHz),
		uintptr(unsafe.Pointer(&s)),
	)
	if errno == 0 {
		return nil
	}
	return errno
}

// Enable marks the channel active. The SPI clock only runs during
// writes, so there is no hardware to start.
func (c *Channel) Enable() error {
	if c.enabled {
		return errors.New("channel already enabled")
	}
	c.enabled = true
	return nil
}

// Transmit encodes the pixel bytes and writes the whole stream to the
// device. The write blocks until the kernel has shifted it out.
func (c *Channel) Transmit(enc strip.Encoder, pixels []byte, opts strip.TransmitOptions) error {
	if !c.enabled {
		return errors.New("channel not enabled")
	}
	if opts.LoopCount != 0 {
		return fmt.Errorf("loop count %d not supported: %w", opts.LoopCount, strip.ErrInvalidArgument)
	}
	stream, err := enc.Encode(c.scratch[:0], pixels)
	if err != nil {
		return fmt.Errorf("couldn't encode %d pixel bytes: %w", len(pixels), err)
	}
	c.scratch = stream
	n, err := c.dev.Write(stream)
	if err != nil {
		return fmt.Errorf("couldn't write to device: %w", err)
	}
	if n != len(stream) {
		return fmt.Errorf("short write: %d of %d bytes", n, len(stream))
	}
	return nil
}

// WaitAllDone is a no-op: Transmit doesn't return until the write has
// completed.
func (c *Channel) WaitAllDone(timeout time.Duration) error {
	return nil
}

func (c *Channel) Disable() error {
	if !c.enabled {
		return errors.New("channel not enabled")
	}
	c.enabled = false
	return nil
}

func (c *Channel) Close() error {
	c.enabled = false
	if c.closer != nil {
		return c.closer()
	}
	return nil
}
