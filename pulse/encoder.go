// Package pulse is the pulse-peripheral backend: it turns pixel
// bytes into a timed bitstream (BitEncoder) and clocks that stream
// out of a GPIO pin using the Raspberry Pi's PWM serializer fed by
// DMA (Channel).
package pulse

import (
	"fmt"
	"time"

	"ledstrip/strip"
)

// DefaultResolution is the wire tick rate used when the channel
// config doesn't specify one.
const DefaultResolution = 10000000 // 10MHz

// Per-model pulse widths. Each data bit is transmitted as a high
// pulse followed by a low pulse; their widths distinguish 0 from 1.
// The reset width is the low tail that latches the frame.
type timing struct {
	t0h, t0l time.Duration
	t1h, t1l time.Duration
	reset    time.Duration
}

var modelTimings = map[strip.Model]timing{
	strip.ModelWS2812: {300 * time.Nanosecond, 900 * time.Nanosecond, 900 * time.Nanosecond, 300 * time.Nanosecond, 280 * time.Microsecond},
	strip.ModelSK6812: {300 * time.Nanosecond, 900 * time.Nanosecond, 600 * time.Nanosecond, 600 * time.Nanosecond, 80 * time.Microsecond},
}

type EncoderConfig struct {
	Resolution uint // wire ticks per second
	Model      strip.Model
}

// BitEncoder expands each pixel bit into its high/low tick pattern at
// the configured resolution and appends the reset tail. At 2.4MHz a
// WS2812 bit comes out as the classic 3-tick 110/100 symbols.
type BitEncoder struct {
	hi0, lo0 int // ticks for a 0 bit
	hi1, lo1 int // ticks for a 1 bit
	reset    int
	period   int
}

func NewBitEncoder(cfg EncoderConfig) (*BitEncoder, error) {
	tm, ok := modelTimings[cfg.Model]
	if !ok {
		return nil, fmt.Errorf("unknown LED model %d: %w", int(cfg.Model), strip.ErrInvalidArgument)
	}
	if cfg.Resolution == 0 {
		cfg.Resolution = DefaultResolution
	}
	// Both bit symbols get the same period so the stream length
	// doesn't depend on pixel content.
	period := ticks(tm.t0h+tm.t0l, cfg.Resolution)
	e := &BitEncoder{
		hi0:    ticks(tm.t0h, cfg.Resolution),
		hi1:    ticks(tm.t1h, cfg.Resolution),
		reset:  ticks(tm.reset, cfg.Resolution),
		period: period,
	}
	e.lo0 = period - e.hi0
	e.lo1 = period - e.hi1
	if e.hi0 < 1 || e.hi1 < 1 || e.lo0 < 1 || e.lo1 < 1 {
		return nil, fmt.Errorf("resolution %dHz too coarse for model timing: %w", cfg.Resolution, strip.ErrInvalidArgument)
	}
	return e, nil
}

func ticks(d time.Duration, resolution uint) int {
	return int((d.Nanoseconds()*int64(resolution) + 500000000) / 1000000000)
}

// EncodedLen returns the length in bytes of the symbol stream for n
// pixel bytes. It is content-independent.
func (e *BitEncoder) EncodedLen(n int) int {
	bits := n*8*e.period + e.reset
	return (bits + 7) / 8
}

// Encode appends the symbol stream for pixels to dst: MSB-first per
// byte, one high/low pulse pair per bit, then the reset tail of
// zeros. The stream ends zero-padded to a byte boundary.
func (e *BitEncoder) Encode(dst, pixels []byte) ([]byte, error) {
	w := bitWriter{buf: dst}
	for _, b := range pixels {
		for k := 7; k >= 0; k-- {
			if b&(1<<uint(k)) != 0 {
				w.writeRun(e.hi1, true)
				w.writeRun(e.lo1, false)
			} else {
				w.writeRun(e.hi0, true)
				w.writeRun(e.lo0, false)
			}
		}
	}
	w.writeRun(e.reset, false)
	return w.finish(), nil
}

func (e *BitEncoder) Close() error {
	return nil
}

// bitWriter appends individual bits to a byte slice, MSB first.
type bitWriter struct {
	buf []byte
	cur byte
	n   uint
}

func (w *bitWriter) writeRun(count int, bit bool) {
	for ; count > 0; count-- {
		w.cur <<= 1
		if bit {
			w.cur |= 1
		}
		w.n++
		if w.n == 8 {
			w.buf = append(w.buf, w.cur)
			w.cur, w.n = 0, 0
		}
	}
}

// finish zero-pads the last partial byte and returns the stream.
func (w *bitWriter) finish() []byte {
	if w.n > 0 {
		w.buf = append(w.buf, w.cur<<(8-w.n))
		w.cur, w.n = 0, 0
	}
	return w.buf
}
