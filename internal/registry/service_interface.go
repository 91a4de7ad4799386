package registry

// Service is a long running part of the agent managed by the service registry.
// Start must not block; Stop waits for the service to wind down.
type Service interface {
	Start() error
	Stop() error
}
