package main

import (
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/benmeehan/gps-mapper/internal/gps"
	"github.com/benmeehan/gps-mapper/internal/metrics_collectors"
	"github.com/benmeehan/gps-mapper/internal/service_registry"
	"github.com/benmeehan/gps-mapper/internal/utils"
	"github.com/benmeehan/gps-mapper/pkg/file"
	"github.com/benmeehan/gps-mapper/pkg/identity"
	"github.com/benmeehan/gps-mapper/pkg/mqtt"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

func newLogger(w io.Writer) zerolog.Logger {
	return zerolog.New(w).With().Timestamp().Str("app", "gps-mapper").Logger()
}

// withLevel applies the configured level name to log.
func withLevel(log zerolog.Logger, name string) (zerolog.Logger, error) {
	level, err := zerolog.ParseLevel(name)
	if err != nil {
		return log, fmt.Errorf("invalid log level %q: %w", name, err)
	}
	return log.Level(level), nil
}

func main() {
	configPath := flag.String("config", "configs/config.yaml", "path to the agent configuration file")
	flag.Parse()

	// Set up structured logging with JSON output
	zerolog.TimeFieldFormat = time.RFC3339Nano
	log := newLogger(os.Stdout)

	// Initialize file operations handler
	fileClient := file.NewFileService()

	// Load configuration from file
	config, err := utils.LoadConfig(*configPath, fileClient)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to load configuration")
	}

	log, err = withLevel(log, config.LogLevel)
	if err != nil {
		log.Fatal().Err(err).Msg("Invalid log level")
	}

	// Initialize DeviceInfo
	deviceInfo := identity.NewDeviceInfo(config.Identity.DeviceFile, fileClient)
	if err := deviceInfo.LoadDeviceInfo(); err != nil {
		log.Fatal().Err(err).Msg("Failed to load device information")
	}
	log = log.With().Str("device_id", deviceInfo.GetDeviceID()).Logger()

	// Generate a unique MQTT Client ID by appending a UUID
	config.MQTT.ClientID = config.MQTT.ClientID + "-" + uuid.New().String()
	log.Info().Str("client_id", config.MQTT.ClientID).Msg("Using MQTT Client ID")

	// Initialize the shared MQTT connection
	mqttClient := mqtt.NewMqttService(fileClient)
	if err := mqttClient.Initialize(config.MQTT); err != nil {
		log.Fatal().Err(err).Msg("Failed to initialize MQTT connection")
	}

	clk := clock.New()
	reader := gps.NewReader(config.GPS, nil, nil, clk, log.With().Str("component", "gps").Logger())

	metrics := metrics_collectors.NewMetricsRegistry()
	metrics.Register(&metrics_collectors.CPUMetricCollector{Logger: log})
	metrics.Register(&metrics_collectors.MemoryMetricCollector{Logger: log})

	// Create a new service registry to manage services
	serviceRegistry := service_registry.NewServiceRegistry(mqttClient, reader, metrics, clk, log)

	// Register all services based on the configuration
	if err := serviceRegistry.RegisterServices(config, deviceInfo); err != nil {
		log.Fatal().Err(err).Msg("Failed to register services")
	}

	// Start all registered services in the registry
	if err := serviceRegistry.StartServices(); err != nil {
		mqttClient.Disconnect(250)
		log.Fatal().Err(err).Msg("Failed to start services")
	}
	log.Info().Strs("services", serviceRegistry.Services()).Msg("All services started successfully")

	// Handle graceful shutdown
	stopCh := make(chan os.Signal, 1)
	signal.Notify(stopCh, syscall.SIGINT, syscall.SIGTERM)
	<-stopCh

	log.Info().Msg("Shutting down gracefully...")
	if err := serviceRegistry.StopServices(); err != nil {
		log.Error().Err(err).Msg("Failed to stop services cleanly")
	}
	mqttClient.Disconnect(250)
}
