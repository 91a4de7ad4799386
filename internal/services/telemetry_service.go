package services

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/benmeehan/gps-mapper/internal/models"
	"github.com/benmeehan/gps-mapper/internal/packet"
	"github.com/benmeehan/gps-mapper/pkg/mqtt"
	"github.com/benmeehan/gps-mapper/pkg/nmeastream"
	geo "github.com/kellydunn/golang-geo"
	"github.com/rs/zerolog"
)

// GPSReader is the part of gps.Reader driven by the telemetry loop.
type GPSReader interface {
	Initialize() error
	HasValidFix() bool
	BuildPacket(buf *packet.Buffer)
	Fix() nmeastream.Fix
	Close() error
}

// TelemetryService polls the GPS reader and publishes packed fixes to the MQTT broker.
type TelemetryService struct {
	// Configuration fields
	topic             string
	interval          time.Duration
	qos               int
	minDistanceMeters float64
	maxSilence        time.Duration

	// Dependencies
	reader     GPSReader
	mqttClient mqtt.MQTTClient
	clock      clock.Clock
	logger     zerolog.Logger

	// Internal state management
	last   *models.Uplink
	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewTelemetryService creates a new TelemetryService instance with the provided configuration.
func NewTelemetryService(topic string, interval time.Duration, qos int, minDistanceMeters float64, maxSilence time.Duration,
	reader GPSReader, mqttClient mqtt.MQTTClient, clk clock.Clock, logger zerolog.Logger) *TelemetryService {
	if clk == nil {
		clk = clock.New()
	}
	return &TelemetryService{
		topic:             topic,
		interval:          interval,
		qos:               qos,
		minDistanceMeters: minDistanceMeters,
		maxSilence:        maxSilence,
		reader:            reader,
		mqttClient:        mqttClient,
		clock:             clk,
		logger:            logger,
	}
}

// Start opens the GPS reader and launches the polling loop.
func (t *TelemetryService) Start() error {
	if t.ctx != nil {
		t.logger.Warn().Msg("TelemetryService is already running")
		return errors.New("telemetry service is already running")
	}

	if err := t.reader.Initialize(); err != nil {
		t.logger.Error().Err(err).Msg("Failed to initialize GPS reader")
		return err
	}

	t.ctx, t.cancel = context.WithCancel(context.Background())
	ticker := t.clock.Ticker(t.interval)

	t.wg.Add(1)
	go func() {
		defer t.wg.Done()
		defer ticker.Stop()
		t.runPollLoop(ticker)
	}()

	t.logger.Info().
		Str("topic", t.topic).
		Dur("interval_ms", t.interval).
		Int("qos", t.qos).
		Float64("min_distance_m", t.minDistanceMeters).
		Dur("max_silence_ms", t.maxSilence).
		Msg("TelemetryService started")
	return nil
}

// Stop gracefully stops the TelemetryService and releases the GPS reader.
func (t *TelemetryService) Stop() error {
	if t.ctx == nil {
		t.logger.Warn().Msg("TelemetryService is not running")
		return errors.New("telemetry service is not running")
	}

	t.cancel()
	t.wg.Wait()

	t.ctx = nil
	t.cancel = nil

	if err := t.reader.Close(); err != nil {
		t.logger.Error().Err(err).Msg("Failed to close GPS reader")
		return err
	}

	t.logger.Info().Msg("TelemetryService stopped")
	return nil
}

// runPollLoop drives the reader at the configured interval. The reader is
// only ever touched from this goroutine.
func (t *TelemetryService) runPollLoop(ticker *clock.Ticker) {
	for {
		select {
		case <-ticker.C:
			if err := t.poll(); err != nil {
				t.logger.Error().Err(err).Msg("Failed to publish GPS packet")
			}
		case <-t.ctx.Done():
			t.logger.Info().Msg("TelemetryService stopping gracefully")
			return
		}
	}
}

// poll runs one cycle: check the fix, pack it and publish it when due.
func (t *TelemetryService) poll() error {
	if !t.reader.HasValidFix() {
		t.logger.Debug().Msg("No valid GPS fix, skipping uplink")
		return nil
	}

	var buf packet.Buffer
	t.reader.BuildPacket(&buf)
	fix := t.reader.Fix()
	now := t.clock.Now()

	if !t.due(fix, now) {
		t.logger.Debug().Msg("GPS fix has not moved far enough, skipping uplink")
		return nil
	}

	payload := make([]byte, packet.Size)
	copy(payload, buf.Bytes())

	token := t.mqttClient.Publish(t.topic, byte(t.qos), false, payload)
	token.Wait()
	if err := token.Error(); err != nil {
		return fmt.Errorf("failed to publish to %s: %w", t.topic, err)
	}

	t.last = &models.Uplink{
		Payload:   payload,
		Latitude:  fix.Latitude,
		Longitude: fix.Longitude,
		SentAt:    now,
	}

	t.logger.Info().
		Str("topic", t.topic).
		Hex("packet", payload).
		Float64("lat", fix.Latitude).
		Float64("lng", fix.Longitude).
		Msg("GPS packet published")
	return nil
}

// due reports whether a packet for fix should go out now.
func (t *TelemetryService) due(fix nmeastream.Fix, now time.Time) bool {
	if t.last == nil {
		return true
	}
	if t.maxSilence > 0 && now.Sub(t.last.SentAt) >= t.maxSilence {
		return true
	}
	if t.minDistanceMeters <= 0 {
		return true
	}

	from := geo.NewPoint(t.last.Latitude, t.last.Longitude)
	to := geo.NewPoint(fix.Latitude, fix.Longitude)
	return from.GreatCircleDistance(to)*1000 >= t.minDistanceMeters
}

// lastUplink returns the last published packet, or nil. It is not
// synchronised with the poll loop; call it only while the loop is stopped.
func (t *TelemetryService) lastUplink() *models.Uplink {
	return t.last
}
