package service_registry

import (
	"errors"
	"fmt"

	"github.com/benbjohnson/clock"
	"github.com/benmeehan/gps-mapper/internal/constants"
	"github.com/benmeehan/gps-mapper/internal/gps"
	"github.com/benmeehan/gps-mapper/internal/metrics_collectors"
	"github.com/benmeehan/gps-mapper/internal/registry"
	"github.com/benmeehan/gps-mapper/internal/services"
	"github.com/benmeehan/gps-mapper/internal/utils"
	"github.com/benmeehan/gps-mapper/pkg/identity"
	"github.com/benmeehan/gps-mapper/pkg/mqtt"
	"github.com/rs/zerolog"
)

// ServiceRegistry manages the lifecycle of various services in the system.
type ServiceRegistry struct {
	services    map[string]registry.Service // Stores registered services
	serviceKeys []string                    // Maintains order of service registration
	mqttClient  mqtt.MQTTClient
	reader      *gps.Reader
	metrics     *metrics_collectors.MetricsRegistry
	clock       clock.Clock
	Logger      zerolog.Logger
}

// NewServiceRegistry initializes a new service registry with dependencies.
// metrics may be nil.
func NewServiceRegistry(mqttClient mqtt.MQTTClient, reader *gps.Reader, metrics *metrics_collectors.MetricsRegistry,
	clk clock.Clock, logger zerolog.Logger) *ServiceRegistry {
	if clk == nil {
		clk = clock.New()
	}
	return &ServiceRegistry{
		services:   make(map[string]registry.Service),
		mqttClient: mqttClient,
		reader:     reader,
		metrics:    metrics,
		clock:      clk,
		Logger:     logger,
	}
}

// RegisterService adds a new service to the registry.
func (sr *ServiceRegistry) RegisterService(name string, svc registry.Service) {
	if _, exists := sr.services[name]; exists {
		sr.Logger.Warn().Msgf("Service %s is already registered", name)
		return
	}
	sr.services[name] = svc
	sr.serviceKeys = append(sr.serviceKeys, name)
	sr.Logger.Info().Msgf("Registered service: %s", name)
}

// Services returns the registered service names in registration order.
func (sr *ServiceRegistry) Services() []string {
	return append([]string(nil), sr.serviceKeys...)
}

// StartServices initiates all registered services in order.
// If a service fails to start, it stops already started services.
func (sr *ServiceRegistry) StartServices() error {
	startedServices := []string{}

	for _, name := range sr.serviceKeys {
		svc := sr.services[name]
		sr.Logger.Info().Msgf("Starting service: %s", name)
		if err := svc.Start(); err != nil {
			sr.Logger.Error().Err(err).Msgf("Failed to start service: %s", name)

			// Stop already started services before returning
			sr.Logger.Warn().Msg("Stopping already started services due to startup failure...")
			for i := len(startedServices) - 1; i >= 0; i-- {
				_ = sr.services[startedServices[i]].Stop()
			}
			return fmt.Errorf("failed to start %s: %w", name, err)
		}
		startedServices = append(startedServices, name)
	}

	return nil
}

// StopServices stops all services in reverse order.
func (sr *ServiceRegistry) StopServices() error {
	var stopErrors []error
	for i := len(sr.serviceKeys) - 1; i >= 0; i-- {
		name := sr.serviceKeys[i]
		if err := sr.services[name].Stop(); err != nil {
			stopErrors = append(stopErrors, fmt.Errorf("failed to stop %s: %w", name, err))
		}
	}
	if len(stopErrors) > 0 {
		for _, e := range stopErrors {
			sr.Logger.Error().Err(e).Msg("Service stop failure")
		}
		return errors.Join(stopErrors...)
	}
	return nil
}

// RegisterServices initializes and registers enabled services based on configuration.
// The telemetry service owns the GPS reader; the status service only reads
// the reader's thread-safe state.
func (sr *ServiceRegistry) RegisterServices(config *utils.Config, deviceInfo identity.DeviceInfoInterface) error {
	servicesInOrder := []struct {
		name        string
		enabled     bool
		constructor func() (registry.Service, error)
	}{
		{
			name:    constants.ServiceTelemetry,
			enabled: config.Services.Telemetry.Enabled,
			constructor: func() (registry.Service, error) {
				if sr.reader == nil {
					return nil, errors.New("telemetry service needs a GPS reader")
				}
				return services.NewTelemetryService(
					config.Services.Telemetry.Topic,
					config.Services.Telemetry.Interval,
					config.Services.Telemetry.QOS,
					config.Services.Telemetry.MinDistanceMeters,
					config.Services.Telemetry.MaxSilence,
					sr.reader,
					sr.mqttClient,
					sr.clock,
					sr.Logger.With().Str("service", constants.ServiceTelemetry).Logger(),
				), nil
			},
		},
		{
			name:    constants.ServiceStatus,
			enabled: config.Services.Status.Enabled,
			constructor: func() (registry.Service, error) {
				if sr.reader == nil {
					return nil, errors.New("status service needs a GPS reader")
				}
				var metrics *metrics_collectors.MetricsRegistry
				if config.Services.Status.HostMetrics {
					metrics = sr.metrics
				}
				return services.NewStatusService(
					config.Services.Status.Topic,
					config.Services.Status.Interval,
					config.Services.Status.QOS,
					sr.reader,
					deviceInfo,
					metrics,
					sr.mqttClient,
					sr.clock,
					sr.Logger.With().Str("service", constants.ServiceStatus).Logger(),
				), nil
			},
		},
	}

	// Register services in the predefined order
	registeredServices := []string{}
	for _, svc := range servicesInOrder {
		if svc.enabled {
			serviceInstance, err := svc.constructor()
			if err != nil {
				sr.Logger.Error().Err(err).Msgf("Failed to create %s service", svc.name)
				return err
			}
			sr.RegisterService(svc.name, serviceInstance)
			registeredServices = append(registeredServices, svc.name)
		}
	}

	sr.Logger.Info().Msgf("Registered services in order: %v", registeredServices)
	return nil
}
