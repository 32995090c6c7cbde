package pulse

import (
	"fmt"

	"ledstrip/rpi"
	"ledstrip/strip"
)

// New builds a complete strip device on the pulse backend: validates
// the config, constructs the bit encoder and the channel (sized for a
// full frame at the configured resolution) and composes the strip.
// Any construction failure unwinds everything acquired before it.
func New(cfg strip.Config, chCfg ChannelConfig) (*strip.Strip, error) {
	if !cfg.Format.Valid() {
		return nil, fmt.Errorf("unsupported pixel format %d: %w", int(cfg.Format), strip.ErrInvalidArgument)
	}
	if cfg.MaxLEDs <= 0 {
		return nil, fmt.Errorf("strip needs at least one pixel, got %d: %w", cfg.MaxLEDs, strip.ErrInvalidArgument)
	}
	chCfg = chCfg.withDefaults()
	if err := validateChannel(cfg.GPIOPin, chCfg); err != nil {
		return nil, err
	}

	rp, err := rpi.New()
	if err != nil {
		return nil, &strip.ResourceError{Op: "create channel", Err: err}
	}
	// The PWM clock can only approximate the requested resolution, so
	// the encoder has to work from the rate the hardware will run at.
	enc, err := NewBitEncoder(EncoderConfig{Resolution: rp.PWMClockFreq(chCfg.Resolution), Model: cfg.Model})
	if err != nil {
		rp.Close() // Ignore error
		return nil, &strip.ResourceError{Op: "create encoder", Err: err}
	}
	capacity := enc.EncodedLen(cfg.MaxLEDs * cfg.Format.BytesPerPixel())
	ch, err := newChannel(rp, cfg.GPIOPin, cfg.InvertOut, capacity, chCfg)
	if err != nil {
		enc.Close() // Ignore error
		return nil, &strip.ResourceError{Op: "create channel", Err: err}
	}
	s, err := strip.New(cfg.MaxLEDs, cfg.Format, ch, enc)
	if err != nil {
		ch.Close()  // Ignore error
		enc.Close() // Ignore error
		return nil, err
	}
	return s, nil
}
