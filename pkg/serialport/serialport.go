package serialport

import (
	"errors"
	"fmt"
	"io"
	"time"

	jserial "github.com/jacobsa/go-serial/serial"
	"github.com/tarm/serial"
)

// Supported serial drivers.
const (
	DriverTarm    = "tarm"
	DriverJacobsa = "jacobsa"
)

// Defaults used when a Config field is left empty.
const (
	DefaultBaudRate    = 9600
	DefaultRXPin       = 34
	DefaultTXPin       = 12
	DefaultReadTimeout = 100 * time.Millisecond
)

// Port is an open serial connection to the GPS receiver.
type Port interface {
	io.ReadWriteCloser
}

// Opener opens a port for the given configuration.
type Opener func(cfg Config) (Port, error)

// Config describes how the GPS receiver is wired and clocked.
type Config struct {
	Device      string        `yaml:"device"`       // Device node of the UART, e.g. /dev/ttyS1
	Driver      string        `yaml:"driver"`       // "tarm" or "jacobsa"
	BaudRate    int           `yaml:"baud_rate"`    // Line speed expected by the receiver
	RXPin       int           `yaml:"rx_pin"`       // Board pin wired to the receiver's TX line
	TXPin       int           `yaml:"tx_pin"`       // Board pin wired to the receiver's RX line
	ReadTimeout time.Duration `yaml:"read_timeout"` // Upper bound for a single read with no data
}

// WithDefaults returns a copy of c with empty fields filled in.
func (c Config) WithDefaults() Config {
	if c.Driver == "" {
		c.Driver = DriverTarm
	}
	if c.BaudRate == 0 {
		c.BaudRate = DefaultBaudRate
	}
	if c.RXPin == 0 && c.TXPin == 0 {
		c.RXPin = DefaultRXPin
		c.TXPin = DefaultTXPin
	}
	if c.ReadTimeout == 0 {
		c.ReadTimeout = DefaultReadTimeout
	}
	return c
}

// Validate checks that the configuration can be used to open a port.
func (c Config) Validate() error {
	if c.Device == "" {
		return errors.New("serial device is required")
	}
	if c.BaudRate <= 0 {
		return fmt.Errorf("invalid baud rate %d", c.BaudRate)
	}
	if c.RXPin < 0 || c.TXPin < 0 {
		return fmt.Errorf("invalid pin assignment rx=%d tx=%d", c.RXPin, c.TXPin)
	}
	if c.RXPin == c.TXPin {
		return fmt.Errorf("rx and tx pins must differ, both are %d", c.RXPin)
	}
	if c.ReadTimeout < 0 {
		return fmt.Errorf("invalid read timeout %s", c.ReadTimeout)
	}
	switch c.Driver {
	case DriverTarm, DriverJacobsa:
	default:
		return fmt.Errorf("unknown serial driver %q", c.Driver)
	}
	return nil
}

// Open opens the serial port described by cfg. Reads on the returned port
// give up after cfg.ReadTimeout and report io.EOF when nothing arrived.
func Open(cfg Config) (Port, error) {
	cfg = cfg.WithDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	switch cfg.Driver {
	case DriverJacobsa:
		port, err := jserial.Open(jacobsaOptions(cfg))
		if err != nil {
			return nil, fmt.Errorf("failed to open %s: %w", cfg.Device, err)
		}
		return port, nil
	default:
		port, err := serial.OpenPort(&serial.Config{
			Name:        cfg.Device,
			Baud:        cfg.BaudRate,
			ReadTimeout: cfg.ReadTimeout,
			Size:        8,
			Parity:      serial.ParityNone,
			StopBits:    serial.Stop1,
		})
		if err != nil {
			return nil, fmt.Errorf("failed to open %s: %w", cfg.Device, err)
		}
		return port, nil
	}
}

// jacobsaOptions maps cfg to non-blocking 8N1 options. The termios timer only
// counts in tenths of a second, so the timeout is rounded up to that grain.
func jacobsaOptions(cfg Config) jserial.OpenOptions {
	timeoutMs := uint(cfg.ReadTimeout.Milliseconds())
	if rem := timeoutMs % 100; rem != 0 {
		timeoutMs += 100 - rem
	}
	if timeoutMs == 0 {
		timeoutMs = 100
	}

	return jserial.OpenOptions{
		PortName:              cfg.Device,
		BaudRate:              uint(cfg.BaudRate),
		DataBits:              8,
		StopBits:              1,
		ParityMode:            jserial.PARITY_NONE,
		MinimumReadSize:       0,
		InterCharacterTimeout: timeoutMs,
	}
}
