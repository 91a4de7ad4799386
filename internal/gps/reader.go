package gps

import (
	"errors"
	"fmt"
	"io"
	"sync/atomic"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/benmeehan/gps-mapper/internal/packet"
	"github.com/benmeehan/gps-mapper/pkg/nmeastream"
	"github.com/benmeehan/gps-mapper/pkg/serialport"
	"github.com/rs/zerolog"
)

const (
	// DefaultMaxFixAge is how old a location may be and still count as a valid fix.
	DefaultMaxFixAge = 2 * time.Second

	// MaxBytesPerPoll bounds how much of the stream a single Encode consumes.
	MaxBytesPerPoll = 4096

	readChunkSize = 256
)

var (
	// ErrAlreadyInitialized is returned by a second call to Initialize.
	ErrAlreadyInitialized = errors.New("gps reader is already initialized")

	// ErrNotInitialized is returned by Close before Initialize.
	ErrNotInitialized = errors.New("gps reader is not initialized")
)

// Parser consumes raw receiver bytes and reports the latest fix.
type Parser interface {
	io.Writer
	Fix() nmeastream.Fix
	Stats() nmeastream.Stats
}

// Config holds the receiver wiring and the fix acceptance rules.
type Config struct {
	Serial    serialport.Config `yaml:",inline"`
	MaxFixAge time.Duration     `yaml:"max_fix_age"` // Oldest location accepted as a fix
	MaxHDOP   float64           `yaml:"max_hdop"`    // Reject fixes above this HDOP, 0 disables
	Sentences []string          `yaml:"sentences"`   // Sentence types folded into the fix
}

// WithDefaults returns a copy of c with empty fields filled in.
func (c Config) WithDefaults() Config {
	c.Serial = c.Serial.WithDefaults()
	if c.MaxFixAge == 0 {
		c.MaxFixAge = DefaultMaxFixAge
	}
	if len(c.Sentences) == 0 {
		c.Sentences = nmeastream.DefaultSentenceTypes
	}
	return c
}

// Validate checks the configuration.
func (c Config) Validate() error {
	if err := c.Serial.Validate(); err != nil {
		return err
	}
	if c.MaxFixAge < 0 {
		return fmt.Errorf("invalid max fix age %s", c.MaxFixAge)
	}
	if c.MaxHDOP < 0 {
		return fmt.Errorf("invalid max hdop %v", c.MaxHDOP)
	}
	return nil
}

// Reader polls a serial GPS receiver and packs its fix for transmission.
// A Reader is driven from a single loop; only Fix, Stats, FixCurrent and
// ReadErrors may be called from other goroutines.
type Reader struct {
	cfg    Config
	parser Parser
	open   serialport.Opener
	clock  clock.Clock
	logger zerolog.Logger

	port       serialport.Port
	chunk      []byte
	readErrors atomic.Uint64
}

// NewReader creates a Reader. A nil parser uses an nmeastream.Decoder, a nil
// opener uses serialport.Open and a nil clock uses the wall clock.
func NewReader(cfg Config, parser Parser, open serialport.Opener, clk clock.Clock, logger zerolog.Logger) *Reader {
	cfg = cfg.WithDefaults()
	if clk == nil {
		clk = clock.New()
	}
	if parser == nil {
		accept := make(map[string]struct{}, len(cfg.Sentences))
		for _, name := range cfg.Sentences {
			accept[name] = struct{}{}
		}
		parser = nmeastream.NewDecoder(clk, accept)
	}
	if open == nil {
		open = serialport.Open
	}

	return &Reader{
		cfg:    cfg,
		parser: parser,
		open:   open,
		clock:  clk,
		logger: logger,
		chunk:  make([]byte, readChunkSize),
	}
}

// Initialize opens the serial port. It must be called once before polling.
func (r *Reader) Initialize() error {
	if r.port != nil {
		r.logger.Warn().Msg("GPS reader is already initialized")
		return ErrAlreadyInitialized
	}

	port, err := r.open(r.cfg.Serial)
	if err != nil {
		return fmt.Errorf("failed to open GPS serial port: %w", err)
	}
	r.port = port

	r.logger.Info().
		Str("device", r.cfg.Serial.Device).
		Str("driver", r.cfg.Serial.Driver).
		Int("baud_rate", r.cfg.Serial.BaudRate).
		Int("rx_pin", r.cfg.Serial.RXPin).
		Int("tx_pin", r.cfg.Serial.TXPin).
		Msg("GPS serial port initialized")
	return nil
}

// HasValidFix feeds whatever the receiver has sent since the last poll into
// the parser and reports whether a usable fix is held.
func (r *Reader) HasValidFix() bool {
	if r.port == nil {
		return false
	}
	r.Encode()
	return r.FixCurrent()
}

// FixCurrent reports whether the parser's fix is valid, fresh and precise
// enough, without touching the serial port.
func (r *Reader) FixCurrent() bool {
	fix := r.parser.Fix()
	if !fix.LocationValid {
		return false
	}
	if r.cfg.MaxFixAge > 0 && fix.LocationAge(r.clock.Now()) > r.cfg.MaxFixAge {
		return false
	}
	if r.cfg.MaxHDOP > 0 && (!fix.HDOPValid || fix.HDOP > r.cfg.MaxHDOP) {
		return false
	}
	return true
}

// BuildPacket writes the parser's current fix into buf. The fix is not
// checked for freshness; call HasValidFix first.
func (r *Reader) BuildPacket(buf *packet.Buffer) {
	fix := r.parser.Fix()
	packet.Encode(packet.Fix{
		Latitude:  fix.Latitude,
		Longitude: fix.Longitude,
		Altitude:  fix.Altitude,
		HDOP:      fix.HDOP,
	}, buf)

	r.logger.Debug().
		Float64("lat", fix.Latitude).
		Float64("lng", fix.Longitude).
		Float64("alt", fix.Altitude).
		Float64("hdop", fix.HDOP).
		Hex("packet", buf.Bytes()).
		Msg("GPS packet built")
}

// Encode drains the bytes available on the serial port into the parser.
// It reads until the port has nothing more to give, a read fails or
// MaxBytesPerPoll bytes were consumed. Read failures are logged and counted.
func (r *Reader) Encode() {
	if r.port == nil {
		return
	}

	total := 0
	for total < MaxBytesPerPoll {
		n, err := r.port.Read(r.chunk)
		if n > 0 {
			_, _ = r.parser.Write(r.chunk[:n])
			total += n
		}
		if err != nil {
			if !errors.Is(err, io.EOF) {
				r.readErrors.Add(1)
				r.logger.Warn().Err(err).Msg("Failed to read from GPS serial port")
			}
			break
		}
		if n < len(r.chunk) {
			break
		}
	}

	fix := r.parser.Fix()
	r.logger.Debug().
		Int("bytes", total).
		Bool("location_valid", fix.LocationValid).
		Float64("lat", fix.Latitude).
		Float64("lng", fix.Longitude).
		Int64("satellites", fix.Satellites).
		Msg("GPS stream encoded")
}

// Fix returns the parser's current fix.
func (r *Reader) Fix() nmeastream.Fix {
	return r.parser.Fix()
}

// Stats returns the parser counters.
func (r *Reader) Stats() nmeastream.Stats {
	return r.parser.Stats()
}

// ReadErrors returns how many serial reads failed.
func (r *Reader) ReadErrors() uint64 {
	return r.readErrors.Load()
}

// Close releases the serial port.
func (r *Reader) Close() error {
	if r.port == nil {
		return ErrNotInitialized
	}

	err := r.port.Close()
	r.port = nil
	if err != nil {
		return fmt.Errorf("failed to close GPS serial port: %w", err)
	}

	r.logger.Info().Msg("GPS serial port closed")
	return nil
}
