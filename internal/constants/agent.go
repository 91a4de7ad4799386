package constants

// AgentVersion is reported in status messages.
const AgentVersion = "1.0.0"

// Service names used by the service registry.
const (
	ServiceTelemetry = "telemetry"
	ServiceStatus    = "status"
)
