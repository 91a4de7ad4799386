package models

import (
	"time"

	"github.com/benmeehan/gps-mapper/pkg/nmeastream"
)

// Status represents the periodic health report of a tracker.
type Status struct {
	DeviceID     string    `json:"device_id"`
	AgentVersion string    `json:"agent_version"`
	Timestamp    time.Time `json:"timestamp"`

	FixCurrent bool             `json:"fix_current"`
	FixAgeMs   int64            `json:"fix_age_ms"`
	Position   *Position        `json:"position,omitempty"`
	Decoder    nmeastream.Stats `json:"decoder"`
	ReadErrors uint64           `json:"read_errors"`

	Host *HostMetrics `json:"host,omitempty"`
}

// Position is the last known fix as reported in a status message.
type Position struct {
	Latitude   float64   `json:"latitude"`
	Longitude  float64   `json:"longitude"`
	Altitude   float64   `json:"altitude"`
	HDOP       float64   `json:"hdop"`
	Satellites int64     `json:"satellites"`
	FixQuality string    `json:"fix_quality,omitempty"`
	SpeedKnots float64   `json:"speed_knots"`
	CourseDeg  float64   `json:"course_deg"`
	GPSTime    time.Time `json:"gps_time"`
}

// HostMetrics contains resource usage of the machine running the agent.
type HostMetrics struct {
	CPUUsage *float64 `json:"cpu_usage,omitempty"`
	Memory   *float64 `json:"memory,omitempty"`
}
