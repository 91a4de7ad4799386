// Package packet packs a GPS fix into the 9-byte uplink payload.
//
// Layout, big-endian:
//
//	0..2  latitude   24-bit, -90..90 mapped onto 0..0xFFFFFF
//	3..5  longitude  24-bit, -180..180 mapped onto 0..0xFFFFFF
//	6..7  altitude   meters, 0..65535
//	8     hdop       tenths, 0..255
package packet

import "math"

// Size is the length of an encoded packet in bytes.
const Size = 9

const coordMax = 1<<24 - 1

// Buffer holds one encoded packet.
type Buffer [Size]byte

// Bytes returns the packet as a slice backed by b.
func (b *Buffer) Bytes() []byte {
	return b[:]
}

// Fix carries the fields that go into a packet.
type Fix struct {
	Latitude  float64
	Longitude float64
	Altitude  float64
	HDOP      float64
}

// Encode writes f into buf.
func Encode(f Fix, buf *Buffer) {
	lat := EncodeLatitude(f.Latitude)
	lon := EncodeLongitude(f.Longitude)
	alt := EncodeAltitude(f.Altitude)

	buf[0] = byte(lat >> 16)
	buf[1] = byte(lat >> 8)
	buf[2] = byte(lat)
	buf[3] = byte(lon >> 16)
	buf[4] = byte(lon >> 8)
	buf[5] = byte(lon)
	buf[6] = byte(alt >> 8)
	buf[7] = byte(alt)
	buf[8] = EncodeHDOP(f.HDOP)
}

// Decode reverses Encode. Coordinates come back within one step of the
// 24-bit grid (about 1.1e-5 degrees of latitude).
func Decode(buf Buffer) Fix {
	lat := uint32(buf[0])<<16 | uint32(buf[1])<<8 | uint32(buf[2])
	lon := uint32(buf[3])<<16 | uint32(buf[4])<<8 | uint32(buf[5])
	alt := uint16(buf[6])<<8 | uint16(buf[7])

	return Fix{
		Latitude:  float64(lat)/coordMax*180 - 90,
		Longitude: float64(lon)/coordMax*360 - 180,
		Altitude:  float64(alt),
		HDOP:      float64(buf[8]) / 10,
	}
}

// EncodeLatitude maps decimal degrees onto the 24-bit grid.
func EncodeLatitude(lat float64) uint32 {
	return uint32((clamp(lat, -90, 90) + 90) / 180 * coordMax)
}

// EncodeLongitude maps decimal degrees onto the 24-bit grid.
func EncodeLongitude(lon float64) uint32 {
	return uint32((clamp(lon, -180, 180) + 180) / 360 * coordMax)
}

// EncodeAltitude truncates meters to an unsigned 16-bit value.
func EncodeAltitude(alt float64) uint16 {
	return uint16(clamp(alt, 0, math.MaxUint16))
}

// EncodeHDOP converts HDOP to tenths. The value is first rounded to
// hundredths so 0.9 does not come out as 8.
func EncodeHDOP(hdop float64) uint8 {
	hundredths := int(math.Round(clamp(hdop, 0, 100) * 100))
	tenths := hundredths / 10
	if tenths > math.MaxUint8 {
		return math.MaxUint8
	}
	return uint8(tenths)
}

// clamp also maps NaN to lo.
func clamp(v, lo, hi float64) float64 {
	switch {
	case math.IsNaN(v), v < lo:
		return lo
	case v > hi:
		return hi
	}
	return v
}
