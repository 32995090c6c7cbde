// ledstripd drives a WS281x/SK6812 LED strip and serves a line
// protocol for setting pixels over TCP.
package main

import (
	"flag"
	"log"
	"os"
	"time"

	"ledstrip/logger"
	"ledstrip/pulse"
	"ledstrip/spidev"
	"ledstrip/strip"
)

var backend = flag.String("backend", "pulse", "How to reach the strip: pulse (PWM+DMA on a GPIO pin) or spi")
var numPixels = flag.Int("pixels", 160, "The number of pixels on the strip")
var pixelFormat = flag.String("format", "GRB", "The wire order of the pixels: RGB, GRB or GRBW")
var ledModel = flag.String("model", "WS2812", "The LED chip family: WS2812 or SK6812")
var gpioPin = flag.Int("pin", 18, "The GPIO pin the strip's data line is on (pulse backend)")
var resolution = flag.Uint("resolution", 0, "The wire tick rate in Hz, 0 for the default (pulse backend)")
var dmaChannel = flag.Int("dma", 10, "The DMA channel used to feed the serializer (pulse backend)")
var invertOut = flag.Bool("invert", false, "Invert the output, for strips behind an inverting level shifter")
var spiDevice = flag.String("dev", "/dev/spidev0.0", "The SPI device the strip is connected to (spi backend)")
var spiSpeed = flag.Uint("spispeed", 2400000, "The SPI clock in Hz; also the encoder tick rate (spi backend)")
var port = flag.Int("port", 24601, "The port that the server should listen on")
var powerChip = flag.String("powerchip", "gpiochip0", "The GPIO chip holding the power rail lines")
var powerCtrlLine = flag.Int("powerctrl", -1, "A GPIO line which, when set high, powers the LEDs. -1 for none")
var powerStatusLine = flag.Int("powerstatus", -1, "A GPIO line indicating healthy LED power. -1 for none")
var powerStatusWait = flag.Duration("powerwait", 2*time.Second, "How long to wait for healthy power after switch-on")
var logLevel = flag.String("loglevel", "info", "Log verbosity: none, error, warning, info or debug")

func main() {
	flag.Parse()

	lvl, err := logger.ParseLevel(*logLevel)
	if err != nil {
		log.Fatalf("%v", err)
	}
	lg := logger.New(log.New(os.Stderr, "", log.LstdFlags), lvl)

	format, ok := strip.StringFormats[*pixelFormat]
	if !ok {
		lg.Fatalf("Unrecognized pixel format: %s", *pixelFormat)
	}
	model, ok := strip.StringModels[*ledModel]
	if !ok {
		lg.Fatalf("Unrecognized LED model: %s", *ledModel)
	}

	var st *strip.Strip
	switch *backend {
	case "pulse":
		st, err = pulse.New(
			strip.Config{
				MaxLEDs:   *numPixels,
				Format:    format,
				GPIOPin:   *gpioPin,
				Model:     model,
				InvertOut: *invertOut,
			},
			pulse.ChannelConfig{
				Resolution: *resolution,
				DMAChannel: *dmaChannel,
			})
		if err != nil {
			lg.Fatalf("Failed creating pulse strip: %v", err)
		}
	case "spi":
		enc, err := pulse.NewBitEncoder(pulse.EncoderConfig{Resolution: *spiSpeed, Model: model})
		if err != nil {
			lg.Fatalf("Failed creating encoder: %v", err)
		}
		ch, err := spidev.New(*spiDevice, uint32(*spiSpeed))
		if err != nil {
			lg.Fatalf("Failed opening SPI: %v", err)
		}
		st, err = strip.New(*numPixels, format, ch, enc)
		if err != nil {
			lg.Fatalf("Failed creating SPI strip: %v", err)
		}
	default:
		lg.Fatalf("Unrecognized backend: %s", *backend)
	}
	defer st.Close()

	var power *PowerRail
	if *powerCtrlLine >= 0 {
		power, err = NewPowerRail(*powerChip, *powerCtrlLine, *powerStatusLine, *powerStatusWait, lg.WithTag("power"))
		if err != nil {
			lg.Fatalf("Failed setting up power rail: %v", err)
		}
		defer power.Close()
	}

	s, err := NewServer(*port, st, power, lg.WithTag("server"))
	if err != nil {
		lg.Fatalf("Failed creating server: %v", err)
	}
	s.handleConnections()
}
