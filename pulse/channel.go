package pulse

import (
	"encoding/binary"
	"errors"
	"fmt"
	"time"

	"ledstrip/rpi"
	"ledstrip/strip"
)

// ClockSource selects what feeds the PWM clock generator.
type ClockSource int

const (
	ClockDefault ClockSource = iota
	ClockOscillator
)

// ChannelConfig configures the transmission lane. Zero values mean
// platform defaults.
type ChannelConfig struct {
	// Resolution is the requested wire tick rate in Hz. Default 10MHz.
	// The PWM clock divides the crystal by an integer, so the achieved
	// rate can differ; Channel.Resolution reports it.
	Resolution uint
	// ClockSource defaults to the crystal oscillator, which is also
	// the only source this backend supports.
	ClockSource ClockSource
	// MemBlockWords is the allocation granularity of the DMA buffer
	// in 32-bit words. Default 64.
	MemBlockWords int
	// QueueDepth caps the transmissions submitted but not yet waited
	// for. Default 4.
	QueueDepth int
	// DMAChannel is the DMA channel the buffer is clocked out
	// through; the transfer is always DMA-driven. Default 10.
	DMAChannel int
}

const (
	defaultMemBlockWords = 64
	defaultQueueDepth    = 4
	defaultDMAChannel    = 10
)

func (c ChannelConfig) withDefaults() ChannelConfig {
	if c.Resolution == 0 {
		c.Resolution = DefaultResolution
	}
	if c.ClockSource == ClockDefault {
		c.ClockSource = ClockOscillator
	}
	if c.MemBlockWords == 0 {
		c.MemBlockWords = defaultMemBlockWords
	}
	if c.QueueDepth == 0 {
		c.QueueDepth = defaultQueueDepth
	}
	if c.DMAChannel == 0 {
		c.DMAChannel = defaultDMAChannel
	}
	return c
}

// Channel drives one GPIO pin through the PWM serializer, with the
// symbol stream DMA'd into the PWM FIFO. It implements strip.Channel.
type Channel struct {
	rp         *rpi.RPi
	buf        *rpi.DMABuf
	words      []uint32
	pin        int
	freq       uint
	invert     bool
	capacity   int // payload bytes the DMA buffer can hold
	queueDepth int
	pending    int
	enabled    bool
	scratch    []byte
}

// NewChannel acquires the peripherals and a DMA buffer big enough for
// capacity bytes of encoded symbol stream. Partially-acquired
// resources are released on any failure. Callers composing their own
// encoder must build it at Resolution(), not the requested rate.
func NewChannel(pin int, invert bool, capacity int, cfg ChannelConfig) (*Channel, error) {
	cfg = cfg.withDefaults()
	if err := validateChannel(pin, cfg); err != nil {
		return nil, err
	}
	rp, err := rpi.New()
	if err != nil {
		return nil, err
	}
	return newChannel(rp, pin, invert, capacity, cfg)
}

func validateChannel(pin int, cfg ChannelConfig) error {
	if cfg.ClockSource != ClockOscillator {
		return fmt.Errorf("unsupported clock source %d: %w", int(cfg.ClockSource), strip.ErrInvalidArgument)
	}
	if _, err := rpi.PWMChannelForPin(pin); err != nil {
		return fmt.Errorf("%v: %w", err, strip.ErrInvalidArgument)
	}
	return nil
}

// newChannel takes ownership of rp, closing it on any failure.
func newChannel(rp *rpi.RPi, pin int, invert bool, capacity int, cfg ChannelConfig) (*Channel, error) {
	if err := rp.MapPeripherals(cfg.DMAChannel); err != nil {
		rp.Close() // Ignore error
		return nil, err
	}
	buf, err := rp.GetDMABuf(uint(capacity), cfg.MemBlockWords)
	if err != nil {
		rp.Close() // Ignore error
		if errors.Is(err, rpi.ErrOutOfMemory) {
			return nil, fmt.Errorf("transmit buffer: %v: %w", err, strip.ErrOutOfMemory)
		}
		return nil, fmt.Errorf("transmit buffer: %w", err)
	}
	return &Channel{
		rp:         rp,
		buf:        buf,
		words:      buf.Words(),
		pin:        pin,
		freq:       rp.PWMClockFreq(cfg.Resolution),
		invert:     invert,
		capacity:   capacity,
		queueDepth: cfg.QueueDepth,
	}, nil
}

// Resolution returns the tick rate the PWM clock actually achieves,
// which is the rate encoders for this channel must use.
func (c *Channel) Resolution() uint {
	return c.freq
}

// Enable starts the PWM clock and serializer on the pin.
func (c *Channel) Enable() error {
	if c.enabled {
		return errors.New("channel already enabled")
	}
	if err := c.rp.StartPWM(c.freq, c.pin); err != nil {
		return err
	}
	c.enabled = true
	return nil
}

// Transmit encodes the pixel bytes into the DMA buffer and starts a
// one-shot transfer. Looping transmissions aren't supported by this
// backend.
func (c *Channel) Transmit(enc strip.Encoder, pixels []byte, opts strip.TransmitOptions) error {
	if !c.enabled {
		return errors.New("channel not enabled")
	}
	if opts.LoopCount != 0 {
		return fmt.Errorf("loop count %d not supported: %w", opts.LoopCount, strip.ErrInvalidArgument)
	}
	if c.pending >= c.queueDepth {
		return fmt.Errorf("transmission queue full (%d pending)", c.pending)
	}
	stream, err := enc.Encode(c.scratch[:0], pixels)
	if err != nil {
		return fmt.Errorf("couldn't encode %d pixel bytes: %w", len(pixels), err)
	}
	c.scratch = stream
	if len(stream) > c.capacity {
		return fmt.Errorf("encoded stream %d bytes exceeds buffer capacity %d: %w", len(stream), c.capacity, strip.ErrInvalidArgument)
	}

	// The serializer clocks each FIFO word MSB first, so the stream
	// packs big-endian. Inversion covers the zero padding too, which
	// is the idle level of an inverted line.
	nWords := (len(stream) + 3) / 4
	for i := 0; i < nWords; i++ {
		var quad [4]byte
		copy(quad[:], stream[i*4:min(i*4+4, len(stream))])
		w := binary.BigEndian.Uint32(quad[:])
		if c.invert {
			w = ^w
		}
		c.words[i] = w
	}

	c.rp.StartDMA(c.buf, uint32(nWords*4))
	c.pending++
	return nil
}

// WaitAllDone blocks until the submitted transfer has drained. A
// negative timeout waits forever.
func (c *Channel) WaitAllDone(timeout time.Duration) error {
	if c.pending == 0 {
		return nil
	}
	if err := c.rp.WaitForDMAEnd(timeout); err != nil {
		return err
	}
	c.pending = 0
	return nil
}

// Disable stops the serializer and its clock.
func (c *Channel) Disable() error {
	if !c.enabled {
		return errors.New("channel not enabled")
	}
	c.rp.StopPWM()
	c.enabled = false
	return nil
}

// Close releases the DMA buffer and the peripheral mappings. Both are
// attempted even if the first fails.
func (c *Channel) Close() error {
	if c.enabled {
		c.rp.StopPWM()
		c.enabled = false
	}
	var errs []error
	if c.buf != nil {
		errs = append(errs, c.rp.FreeDMABuf(c.buf))
		c.buf = nil
	}
	errs = append(errs, c.rp.Close())
	return errors.Join(errs...)
}
