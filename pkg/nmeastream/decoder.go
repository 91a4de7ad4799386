// Package nmeastream decodes a raw NMEA byte stream into the latest GPS fix.
//
// Bytes can arrive in arbitrary chunks. The Decoder assembles them into
// sentences, parses each sentence with go-nmea and folds the result into a
// single Fix snapshot that callers query between writes.
package nmeastream

import (
	"strings"
	"sync"
	"time"

	"github.com/adrianmo/go-nmea"
	"github.com/benbjohnson/clock"
	cmap "github.com/orcaman/concurrent-map/v2"
)

// MaxSentenceLength bounds the line buffer. NMEA 0183 caps sentences at 82
// characters; the extra room tolerates proprietary talkers.
const MaxSentenceLength = 120

// DefaultSentenceTypes are the sentence types folded into the fix when no
// explicit set is given.
var DefaultSentenceTypes = []string{nmea.TypeGGA, nmea.TypeRMC, nmea.TypeGSA, nmea.TypeVTG}

// Fix is a snapshot of everything the decoder knows about the receiver's
// position solution. Values stay cached after the fix is lost.
type Fix struct {
	Latitude   float64 // decimal degrees, south negative
	Longitude  float64 // decimal degrees, west negative
	Altitude   float64 // meters above mean sea level
	HDOP       float64
	PDOP       float64
	VDOP       float64
	Satellites int64
	FixQuality string // GGA fix quality, "0" means no fix
	FixType    string // GSA fix type: 1 none, 2 2D, 3 3D
	SpeedKnots float64
	CourseDeg  float64
	Time       time.Time // UTC time of the last RMC, zero until one is seen

	LocationValid bool
	AltitudeValid bool
	HDOPValid     bool

	LocationUpdated time.Time
	AltitudeUpdated time.Time
	HDOPUpdated     time.Time
}

// LocationAge returns how long ago the location was last committed, relative to now.
func (f Fix) LocationAge(now time.Time) time.Duration {
	if f.LocationUpdated.IsZero() {
		return 0
	}
	return now.Sub(f.LocationUpdated)
}

// Stats counts what went through the decoder.
type Stats struct {
	Chars     uint64            `json:"chars"`
	Passed    uint64            `json:"passed"`
	Failed    uint64            `json:"failed"`
	Ignored   uint64            `json:"ignored"`
	Overflow  uint64            `json:"overflow"`
	Sentences map[string]uint64 `json:"sentences,omitempty"`
}

// Decoder is an incremental NMEA decoder. It implements io.Writer.
type Decoder struct {
	clock  clock.Clock
	accept map[string]struct{}

	mu       sync.RWMutex
	line     []byte
	inLine   bool
	fix      Fix
	chars    uint64
	passed   uint64
	failed   uint64
	ignored  uint64
	overflow uint64

	sentences cmap.ConcurrentMap[string, uint64]
}

// NewDecoder creates a Decoder. A nil clock uses the wall clock; an empty
// accept set uses DefaultSentenceTypes.
func NewDecoder(clk clock.Clock, accept map[string]struct{}) *Decoder {
	if clk == nil {
		clk = clock.New()
	}
	if len(accept) == 0 {
		accept = make(map[string]struct{}, len(DefaultSentenceTypes))
		for _, t := range DefaultSentenceTypes {
			accept[t] = struct{}{}
		}
	}

	return &Decoder{
		clock:     clk,
		accept:    accept,
		line:      make([]byte, 0, MaxSentenceLength),
		sentences: cmap.New[uint64](),
	}
}

// Write feeds raw bytes from the receiver. It never fails; malformed input
// only shows up in Stats.
func (d *Decoder) Write(p []byte) (int, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	for _, b := range p {
		d.chars++
		switch b {
		case '$':
			d.line = append(d.line[:0], b)
			d.inLine = true
		case '\r', '\n':
			if d.inLine && len(d.line) > 1 {
				d.handleLine(string(d.line))
			}
			d.line = d.line[:0]
			d.inLine = false
		default:
			if !d.inLine {
				continue
			}
			if len(d.line) >= MaxSentenceLength {
				d.overflow++
				d.line = d.line[:0]
				d.inLine = false
				continue
			}
			d.line = append(d.line, b)
		}
	}

	return len(p), nil
}

// Fix returns the current fix snapshot.
func (d *Decoder) Fix() Fix {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.fix
}

// Stats returns the decoder counters.
func (d *Decoder) Stats() Stats {
	d.mu.RLock()
	s := Stats{
		Chars:     d.chars,
		Passed:    d.passed,
		Failed:    d.failed,
		Ignored:   d.ignored,
		Overflow:  d.overflow,
		Sentences: d.sentences.Items(),
	}
	d.mu.RUnlock()

	return s
}

// handleLine parses one complete sentence. d.mu must be held.
func (d *Decoder) handleLine(line string) {
	sentence, err := nmea.Parse(strings.TrimSpace(line))
	if err != nil {
		d.failed++
		return
	}
	d.passed++

	dataType := sentence.DataType()
	d.sentences.Upsert(dataType, 1, func(exist bool, valueInMap uint64, newValue uint64) uint64 {
		if exist {
			return valueInMap + newValue
		}
		return newValue
	})

	if _, ok := d.accept[dataType]; !ok {
		d.ignored++
		return
	}

	now := d.clock.Now()
	switch s := sentence.(type) {
	case nmea.GGA:
		d.applyGGA(s, now)
	case nmea.RMC:
		d.applyRMC(s, now)
	case nmea.GSA:
		d.applyGSA(s, now)
	case nmea.VTG:
		d.fix.SpeedKnots = s.GroundSpeedKnots
		d.fix.CourseDeg = s.TrueTrack
	default:
		d.ignored++
	}
}

// GGA, RMC and GSA field positions after the sentence type.
const (
	ggaLatitude  = 1
	ggaLongitude = 3
	ggaHDOP      = 7
	ggaAltitude  = 8

	rmcLatitude  = 2
	rmcLongitude = 4

	gsaHDOP = 15
)

// present reports whether every listed field is non-empty. go-nmea reads an
// empty numeric field as zero, so this is the only way to tell them apart.
func present(fields []string, idx ...int) bool {
	for _, i := range idx {
		if i >= len(fields) || fields[i] == "" {
			return false
		}
	}
	return true
}

func (d *Decoder) applyGGA(s nmea.GGA, now time.Time) {
	d.fix.FixQuality = s.FixQuality
	if s.FixQuality == nmea.Invalid || !present(s.Fields, ggaLatitude, ggaLongitude) {
		d.fix.LocationValid = false
		return
	}

	d.fix.Latitude = s.Latitude
	d.fix.Longitude = s.Longitude
	d.fix.LocationValid = true
	d.fix.LocationUpdated = now

	if present(s.Fields, ggaAltitude) {
		d.fix.Altitude = s.Altitude
		d.fix.AltitudeValid = true
		d.fix.AltitudeUpdated = now
	} else {
		d.fix.AltitudeValid = false
	}

	if present(s.Fields, ggaHDOP) {
		d.fix.HDOP = s.HDOP
		d.fix.HDOPValid = true
		d.fix.HDOPUpdated = now
	} else {
		d.fix.HDOPValid = false
	}

	d.fix.Satellites = s.NumSatellites
}

func (d *Decoder) applyRMC(s nmea.RMC, now time.Time) {
	if s.Validity != nmea.ValidRMC || !present(s.Fields, rmcLatitude, rmcLongitude) {
		d.fix.LocationValid = false
		return
	}

	d.fix.Latitude = s.Latitude
	d.fix.Longitude = s.Longitude
	d.fix.LocationValid = true
	d.fix.LocationUpdated = now
	d.fix.SpeedKnots = s.Speed
	d.fix.CourseDeg = s.Course

	if s.Date.Valid && s.Time.Valid {
		d.fix.Time = utcTime(s.Date, s.Time)
	}
}

func (d *Decoder) applyGSA(s nmea.GSA, now time.Time) {
	d.fix.FixType = s.FixType
	d.fix.PDOP = s.PDOP
	d.fix.VDOP = s.VDOP
	if s.FixType == nmea.FixNone || !present(s.Fields, gsaHDOP) {
		return
	}
	d.fix.HDOP = s.HDOP
	d.fix.HDOPValid = true
	d.fix.HDOPUpdated = now
}

// utcTime joins an RMC date and time. Two digit years from 80 up belong to
// the 1900s.
func utcTime(date nmea.Date, t nmea.Time) time.Time {
	year := 2000 + date.YY
	if date.YY >= 80 {
		year = 1900 + date.YY
	}
	return time.Date(year, time.Month(date.MM), date.DD,
		t.Hour, t.Minute, t.Second, t.Millisecond*int(time.Millisecond), time.UTC)
}
