package services

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/benmeehan/gps-mapper/internal/constants"
	"github.com/benmeehan/gps-mapper/internal/metrics_collectors"
	"github.com/benmeehan/gps-mapper/internal/models"
	"github.com/benmeehan/gps-mapper/pkg/identity"
	"github.com/benmeehan/gps-mapper/pkg/mqtt"
	"github.com/benmeehan/gps-mapper/pkg/nmeastream"
	"github.com/rs/zerolog"
)

// FixReporter exposes the reader state that is safe to read from outside
// the telemetry loop.
type FixReporter interface {
	Fix() nmeastream.Fix
	Stats() nmeastream.Stats
	FixCurrent() bool
	ReadErrors() uint64
}

// StatusService periodically publishes the tracker's health to the MQTT broker.
type StatusService struct {
	topic    string
	interval time.Duration
	qos      int

	reporter   FixReporter
	deviceInfo identity.DeviceInfoInterface
	metrics    *metrics_collectors.MetricsRegistry
	mqttClient mqtt.MQTTClient
	clock      clock.Clock
	logger     zerolog.Logger

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewStatusService creates a new StatusService. metrics may be nil.
func NewStatusService(topic string, interval time.Duration, qos int, reporter FixReporter, deviceInfo identity.DeviceInfoInterface,
	metrics *metrics_collectors.MetricsRegistry, mqttClient mqtt.MQTTClient, clk clock.Clock, logger zerolog.Logger) *StatusService {
	if clk == nil {
		clk = clock.New()
	}
	return &StatusService{
		topic:      topic,
		interval:   interval,
		qos:        qos,
		reporter:   reporter,
		deviceInfo: deviceInfo,
		metrics:    metrics,
		mqttClient: mqttClient,
		clock:      clk,
		logger:     logger,
	}
}

// Start begins the periodic status messages.
func (s *StatusService) Start() error {
	if s.ctx != nil {
		s.logger.Warn().Msg("StatusService is already running")
		return errors.New("status service is already running")
	}

	s.ctx, s.cancel = context.WithCancel(context.Background())
	ticker := s.clock.Ticker(s.interval)

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		defer ticker.Stop()
		s.runStatusLoop(ticker)
	}()

	s.logger.Info().Str("topic", s.topic).Dur("interval_ms", s.interval).Msg("StatusService started")
	return nil
}

// Stop stops the status loop and waits for it to exit.
func (s *StatusService) Stop() error {
	if s.ctx == nil {
		s.logger.Warn().Msg("StatusService is not running")
		return errors.New("status service is not running")
	}

	s.cancel()
	s.wg.Wait()

	s.ctx = nil
	s.cancel = nil

	s.logger.Info().Msg("StatusService stopped")
	return nil
}

func (s *StatusService) runStatusLoop(ticker *clock.Ticker) {
	// First report goes out immediately.
	if err := s.publishStatus(s.ctx); err != nil {
		s.logger.Error().Err(err).Msg("Failed to publish status message")
	}

	for {
		select {
		case <-ticker.C:
			if err := s.publishStatus(s.ctx); err != nil {
				s.logger.Error().Err(err).Msg("Failed to publish status message")
			}
		case <-s.ctx.Done():
			s.logger.Info().Msg("StatusService stopping gracefully")
			return
		}
	}
}

func (s *StatusService) publishStatus(ctx context.Context) error {
	status := s.buildStatus(ctx)

	payload, err := json.Marshal(status)
	if err != nil {
		return fmt.Errorf("failed to serialize status message: %w", err)
	}

	token := s.mqttClient.Publish(s.topic, byte(s.qos), false, payload)
	token.Wait()
	if err := token.Error(); err != nil {
		return fmt.Errorf("failed to publish to %s: %w", s.topic, err)
	}

	s.logger.Debug().Str("topic", s.topic).RawJSON("status", payload).Msg("Status message published")
	return nil
}

func (s *StatusService) buildStatus(ctx context.Context) models.Status {
	now := s.clock.Now()
	fix := s.reporter.Fix()

	status := models.Status{
		DeviceID:     s.deviceInfo.GetDeviceID(),
		AgentVersion: constants.AgentVersion,
		Timestamp:    now.UTC(),
		FixCurrent:   s.reporter.FixCurrent(),
		FixAgeMs:     fix.LocationAge(now).Milliseconds(),
		Decoder:      s.reporter.Stats(),
		ReadErrors:   s.reporter.ReadErrors(),
	}

	if fix.LocationValid {
		status.Position = &models.Position{
			Latitude:   fix.Latitude,
			Longitude:  fix.Longitude,
			Altitude:   fix.Altitude,
			HDOP:       fix.HDOP,
			Satellites: fix.Satellites,
			FixQuality: fix.FixQuality,
			SpeedKnots: fix.SpeedKnots,
			CourseDeg:  fix.CourseDeg,
			GPSTime:    fix.Time,
		}
	}

	if s.metrics != nil {
		status.Host = s.metrics.CollectHost(ctx)
	}

	return status
}
