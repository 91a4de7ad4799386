package models

import "time"

// Uplink records a packet handed to the broker.
type Uplink struct {
	Payload   []byte
	Latitude  float64
	Longitude float64
	SentAt    time.Time
}
