package utils

import (
	"errors"
	"fmt"
	"time"

	"github.com/Masterminds/semver/v3"
	"github.com/benmeehan/gps-mapper/internal/gps"
	"github.com/benmeehan/gps-mapper/pkg/file"
	"github.com/benmeehan/gps-mapper/pkg/mqtt"
	"github.com/benmeehan/gps-mapper/pkg/nmeastream"
	"github.com/rs/zerolog"
)

// SupportedConfigVersions is the range of config schema versions this build reads.
const SupportedConfigVersions = ">= 1.0.0, < 2.0.0"

// Config represents the structure of the configuration file.
type Config struct {
	Version  string `yaml:"version"`   // Config schema version
	LogLevel string `yaml:"log_level"` // zerolog level name

	MQTT mqtt.Options `yaml:"mqtt"`

	Identity struct {
		DeviceFile string `yaml:"device_file"` // Path to the device identity file
	} `yaml:"identity"`

	GPS gps.Config `yaml:"gps"`

	Services struct {
		Telemetry struct {
			Topic             string        `yaml:"topic"`               // MQTT topic receiving the packed fix
			Enabled           bool          `yaml:"enabled"`             // Enable/disable telemetry service
			QOS               int           `yaml:"qos"`                 // MQTT QoS level for telemetry packets
			Interval          time.Duration `yaml:"interval"`            // Poll interval of the GPS reader
			MinDistanceMeters float64       `yaml:"min_distance_meters"` // Skip packets until the tracker moved this far
			MaxSilence        time.Duration `yaml:"max_silence"`         // Send anyway after this long without a packet
		} `yaml:"telemetry"`

		Status struct {
			Topic       string        `yaml:"topic"`        // MQTT topic for status messages
			Enabled     bool          `yaml:"enabled"`      // Enable/disable status service
			QOS         int           `yaml:"qos"`          // MQTT QoS level for status messages
			Interval    time.Duration `yaml:"interval"`     // Interval between status messages
			HostMetrics bool          `yaml:"host_metrics"` // Attach CPU and memory usage
		} `yaml:"status"`
	} `yaml:"services"`
}

// LoadConfig loads the YAML configuration from the specified file, applies
// defaults and validates it.
func LoadConfig(filename string, fileClient file.FileOperations) (*Config, error) {
	var config Config
	if err := fileClient.ReadYamlFile(filename, &config); err != nil {
		return nil, err
	}

	config.ApplyDefaults()
	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration %s: %w", filename, err)
	}

	return &config, nil
}

// ApplyDefaults fills in empty fields.
func (c *Config) ApplyDefaults() {
	if c.Version == "" {
		c.Version = "1.0.0"
	}
	if c.LogLevel == "" {
		c.LogLevel = zerolog.LevelInfoValue
	}
	if c.MQTT.ClientID == "" {
		c.MQTT.ClientID = "gps-mapper"
	}
	if c.MQTT.ConnectTimeout == 0 {
		c.MQTT.ConnectTimeout = 30 * time.Second
	}
	if c.Identity.DeviceFile == "" {
		c.Identity.DeviceFile = "configs/device.json"
	}

	c.GPS.Sentences = NormalizeNames(c.GPS.Sentences)
	c.GPS = c.GPS.WithDefaults()

	if c.Services.Telemetry.Interval == 0 {
		c.Services.Telemetry.Interval = time.Second
	}
	if c.Services.Status.Interval == 0 {
		c.Services.Status.Interval = time.Minute
	}
}

// Validate checks the configuration for values the agent cannot run with.
func (c *Config) Validate() error {
	version, err := semver.NewVersion(c.Version)
	if err != nil {
		return fmt.Errorf("invalid config version %q: %w", c.Version, err)
	}
	constraint, err := semver.NewConstraint(SupportedConfigVersions)
	if err != nil {
		return err
	}
	if !constraint.Check(version) {
		return fmt.Errorf("config version %s is not supported, want %s", version, SupportedConfigVersions)
	}

	if _, err := zerolog.ParseLevel(c.LogLevel); err != nil {
		return fmt.Errorf("invalid log level: %w", err)
	}

	if err := c.GPS.Validate(); err != nil {
		return fmt.Errorf("gps: %w", err)
	}
	supported := SliceToSet(nmeastream.DefaultSentenceTypes)
	for _, name := range c.GPS.Sentences {
		if _, ok := supported[name]; !ok {
			return fmt.Errorf("gps: unsupported sentence type %q", name)
		}
	}

	var errs []error
	if c.Services.Telemetry.Enabled {
		if c.Services.Telemetry.Topic == "" {
			errs = append(errs, errors.New("telemetry: topic is required"))
		}
		if err := validateQOS(c.Services.Telemetry.QOS); err != nil {
			errs = append(errs, fmt.Errorf("telemetry: %w", err))
		}
		if c.Services.Telemetry.Interval < 0 || c.Services.Telemetry.MaxSilence < 0 || c.Services.Telemetry.MinDistanceMeters < 0 {
			errs = append(errs, errors.New("telemetry: interval, max_silence and min_distance_meters must not be negative"))
		}
	}
	if c.Services.Status.Enabled {
		if c.Services.Status.Topic == "" {
			errs = append(errs, errors.New("status: topic is required"))
		}
		if err := validateQOS(c.Services.Status.QOS); err != nil {
			errs = append(errs, fmt.Errorf("status: %w", err))
		}
		if c.Services.Status.Interval < 0 {
			errs = append(errs, errors.New("status: interval must not be negative"))
		}
	}

	return errors.Join(errs...)
}

func validateQOS(qos int) error {
	if qos < 0 || qos > 2 {
		return fmt.Errorf("invalid qos %d", qos)
	}
	return nil
}
