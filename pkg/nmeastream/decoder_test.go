package nmeastream

import (
	"sync"
	"testing"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const (
	ggaFix    = "$GPGGA,123519,4807.038,N,01131.000,E,1,08,0.9,545.4,M,46.9,M,,*47\r\n"
	ggaNoFix  = "$GPGGA,123520,,,,,0,00,99.99,,,,,,*4F\r\n"
	ggaSouth  = "$GPGGA,123519,4807.038,S,01131.000,W,1,08,0.9,-12.0,M,46.9,M,,*56\r\n"
	rmcValid  = "$GPRMC,123519,A,4807.038,N,01131.000,E,022.4,084.4,230394,003.1,W*6A\r\n"
	gsa3D     = "$GPGSA,A,3,04,05,,09,12,,,24,,,,,2.5,1.3,2.1*39\r\n"
	vtgMoving = "$GPVTG,054.7,T,034.4,M,005.5,N,010.2,K*48\r\n"
)

func TestDecoder_GGAFix(t *testing.T) {
	clk := clock.NewMock()
	d := NewDecoder(clk, nil)

	n, err := d.Write([]byte(ggaFix))
	require.NoError(t, err)
	assert.Equal(t, len(ggaFix), n)

	fix := d.Fix()
	assert.True(t, fix.LocationValid)
	assert.InDelta(t, 48.1173, fix.Latitude, 1e-9)
	assert.InDelta(t, 11.516666, fix.Longitude, 1e-6)
	assert.True(t, fix.AltitudeValid)
	assert.InDelta(t, 545.4, fix.Altitude, 1e-9)
	assert.True(t, fix.HDOPValid)
	assert.InDelta(t, 0.9, fix.HDOP, 1e-9)
	assert.Equal(t, int64(8), fix.Satellites)
	assert.Equal(t, "1", fix.FixQuality)
	assert.Equal(t, clk.Now(), fix.LocationUpdated)

	stats := d.Stats()
	assert.Equal(t, uint64(1), stats.Passed)
	assert.Equal(t, uint64(0), stats.Failed)
	assert.Equal(t, uint64(1), stats.Sentences["GGA"])
}

func TestDecoder_SplitAcrossWrites(t *testing.T) {
	d := NewDecoder(clock.NewMock(), nil)

	for i := 0; i < len(ggaFix); i += 7 {
		end := i + 7
		if end > len(ggaFix) {
			end = len(ggaFix)
		}
		_, _ = d.Write([]byte(ggaFix[i:end]))
		if end < len(ggaFix) {
			assert.False(t, d.Fix().LocationValid, "fix committed before sentence was complete")
		}
	}

	assert.True(t, d.Fix().LocationValid)
}

func TestDecoder_SouthWestAndNegativeAltitude(t *testing.T) {
	d := NewDecoder(clock.NewMock(), nil)
	_, _ = d.Write([]byte(ggaSouth))

	fix := d.Fix()
	assert.True(t, fix.LocationValid)
	assert.InDelta(t, -48.1173, fix.Latitude, 1e-9)
	assert.InDelta(t, -11.516666, fix.Longitude, 1e-6)
	assert.InDelta(t, -12.0, fix.Altitude, 1e-9)
}

func TestDecoder_RejectsBadInput(t *testing.T) {
	inputs := []string{
		"",
		"garbage without dollar\r\n",
		// checksum off by one
		"$GPGGA,123519,4807.038,N,01131.000,E,1,08,0.9,545.4,M,46.9,M,,*48\r\n",
		// truncated sentence
		"$GPGGA,123519,4807.038,N,0113\r\n",
		// no terminator yet
		"$GPGGA,123519,4807.038,N,01131.000,E,1,08,0.9,545.4,M,46.9,M,,*47",
		ggaNoFix,
	}

	for _, in := range inputs {
		d := NewDecoder(clock.NewMock(), nil)
		_, _ = d.Write([]byte(in))
		assert.False(t, d.Fix().LocationValid, "input %q", in)
	}
}

func TestDecoder_ChecksumFailureCounted(t *testing.T) {
	d := NewDecoder(clock.NewMock(), nil)
	_, _ = d.Write([]byte("$GPGGA,123519,4807.038,N,01131.000,E,1,08,0.9,545.4,M,46.9,M,,*00\r\n"))

	stats := d.Stats()
	assert.Equal(t, uint64(1), stats.Failed)
	assert.Equal(t, uint64(0), stats.Passed)
}

func TestDecoder_LossOfFixKeepsCachedCoordinates(t *testing.T) {
	d := NewDecoder(clock.NewMock(), nil)
	_, _ = d.Write([]byte(ggaFix))
	require.True(t, d.Fix().LocationValid)

	_, _ = d.Write([]byte("$GPRMC,123520,V,4807.038,N,01131.000,E,022.4,084.4,230394,003.1,W*77\r\n"))

	fix := d.Fix()
	assert.False(t, fix.LocationValid)
	assert.InDelta(t, 48.1173, fix.Latitude, 1e-9)
}

func TestDecoder_GGAWithEmptyFields(t *testing.T) {
	tests := []struct {
		name          string
		sentence      string
		locationValid bool
		altitudeValid bool
		hdopValid     bool
	}{
		{"empty hdop", "$GPGGA,123519,4807.038,N,01131.000,E,1,08,,545.4,M,46.9,M,,*60\r\n", true, true, false},
		{"empty altitude", "$GPGGA,123519,4807.038,N,01131.000,E,1,08,0.9,,M,46.9,M,,*69\r\n", true, false, true},
		{"empty position", "$GPGGA,123519,,,,,1,08,0.9,545.4,M,46.9,M,,*7E\r\n", false, false, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			d := NewDecoder(clock.NewMock(), nil)
			_, _ = d.Write([]byte(tt.sentence))
			require.Equal(t, uint64(1), d.Stats().Passed)

			fix := d.Fix()
			assert.Equal(t, tt.locationValid, fix.LocationValid)
			assert.Equal(t, tt.altitudeValid, fix.AltitudeValid)
			assert.Equal(t, tt.hdopValid, fix.HDOPValid)
		})
	}
}

func TestDecoder_GGAWithEmptyHDOPDropsEarlierHDOP(t *testing.T) {
	d := NewDecoder(clock.NewMock(), nil)
	_, _ = d.Write([]byte(ggaFix))
	require.True(t, d.Fix().HDOPValid)

	_, _ = d.Write([]byte("$GPGGA,123519,4807.038,N,01131.000,E,1,08,,545.4,M,46.9,M,,*60\r\n"))

	fix := d.Fix()
	assert.True(t, fix.LocationValid)
	assert.False(t, fix.HDOPValid)
}

func TestDecoder_ValidRMCWithoutPosition(t *testing.T) {
	d := NewDecoder(clock.NewMock(), nil)
	_, _ = d.Write([]byte(ggaFix))
	_, _ = d.Write([]byte("$GPRMC,123519,A,,,,,022.4,084.4,230394,003.1,W*53\r\n"))

	fix := d.Fix()
	assert.False(t, fix.LocationValid)
	assert.InDelta(t, 48.1173, fix.Latitude, 1e-9)
}

func TestDecoder_GSAWithoutHDOP(t *testing.T) {
	d := NewDecoder(clock.NewMock(), nil)
	_, _ = d.Write([]byte("$GPGSA,A,3,04,05,,09,12,,,24,,,,,2.5,,2.1*15\r\n"))

	fix := d.Fix()
	assert.Equal(t, "3", fix.FixType)
	assert.InDelta(t, 2.5, fix.PDOP, 1e-9)
	assert.False(t, fix.HDOPValid)
}

func TestDecoder_RMCSetsTimeSpeedAndCourse(t *testing.T) {
	d := NewDecoder(clock.NewMock(), nil)
	_, _ = d.Write([]byte(rmcValid))

	fix := d.Fix()
	assert.True(t, fix.LocationValid)
	assert.InDelta(t, 22.4, fix.SpeedKnots, 1e-9)
	assert.InDelta(t, 84.4, fix.CourseDeg, 1e-9)
	assert.Equal(t, time.Date(1994, time.March, 23, 12, 35, 19, 0, time.UTC), fix.Time)
	assert.False(t, fix.AltitudeValid)
}

func TestDecoder_GSAAndVTG(t *testing.T) {
	d := NewDecoder(clock.NewMock(), nil)
	_, _ = d.Write([]byte(gsa3D + vtgMoving))

	fix := d.Fix()
	assert.Equal(t, "3", fix.FixType)
	assert.InDelta(t, 2.5, fix.PDOP, 1e-9)
	assert.InDelta(t, 1.3, fix.HDOP, 1e-9)
	assert.InDelta(t, 2.1, fix.VDOP, 1e-9)
	assert.True(t, fix.HDOPValid)
	assert.InDelta(t, 5.5, fix.SpeedKnots, 1e-9)
	assert.InDelta(t, 54.7, fix.CourseDeg, 1e-9)
	assert.False(t, fix.LocationValid)
}

func TestDecoder_IgnoresTypesOutsideAcceptSet(t *testing.T) {
	d := NewDecoder(clock.NewMock(), map[string]struct{}{"RMC": {}})
	_, _ = d.Write([]byte(ggaFix))

	assert.False(t, d.Fix().LocationValid)
	stats := d.Stats()
	assert.Equal(t, uint64(1), stats.Passed)
	assert.Equal(t, uint64(1), stats.Ignored)
}

func TestDecoder_DollarRestartsSentence(t *testing.T) {
	d := NewDecoder(clock.NewMock(), nil)
	_, _ = d.Write([]byte("$GPGGA,12351" + ggaFix))

	assert.True(t, d.Fix().LocationValid)
	assert.Equal(t, uint64(0), d.Stats().Failed)
}

func TestDecoder_OverlongLineDropped(t *testing.T) {
	d := NewDecoder(clock.NewMock(), nil)
	long := "$GPGGA," + string(make([]byte, MaxSentenceLength)) + "\r\n"
	_, _ = d.Write([]byte(long + ggaFix))

	stats := d.Stats()
	assert.Equal(t, uint64(1), stats.Overflow)
	assert.True(t, d.Fix().LocationValid)
}

func TestFix_LocationAge(t *testing.T) {
	clk := clock.NewMock()
	d := NewDecoder(clk, nil)
	_, _ = d.Write([]byte(ggaFix))

	clk.Add(1500 * time.Millisecond)
	assert.Equal(t, 1500*time.Millisecond, d.Fix().LocationAge(clk.Now()))
	assert.Equal(t, time.Duration(0), Fix{}.LocationAge(clk.Now()))
}

func TestDecoder_StatsSnapshotIsConsistent(t *testing.T) {
	d := NewDecoder(clock.NewMock(), nil)

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		for i := 0; i < 200; i++ {
			_, _ = d.Write([]byte(ggaFix + rmcValid))
		}
	}()

	for i := 0; i < 200; i++ {
		stats := d.Stats()
		var perType uint64
		for _, n := range stats.Sentences {
			perType += n
		}
		require.Equal(t, stats.Passed, perType)
	}
	wg.Wait()

	assert.Equal(t, uint64(400), d.Stats().Passed)
}
