package unduck

import "sync"

// SessionSubsystem is the boundary to the platform's audio session APIs.
// The Windows implementation registers itself at init; other platforms
// leave the registry empty. Tests inject a fake via WithSessionSubsystem.
type SessionSubsystem interface {
	// Setup initializes the platform's ambient threading context for the
	// calling context. owned reports whether this call performed the
	// initialization and therefore owes a matching Teardown; a context
	// already initialized elsewhere with an incompatible model yields
	// owned=false with a nil error and is still usable.
	Setup() (owned bool, err error)

	// Teardown reverses a Setup that reported owned=true.
	Teardown()

	// RenderEndpoints queries the live set of active render endpoints.
	// Each call re-queries the system; results are never cached. The
	// caller owns every returned Endpoint and must Release each one.
	RenderEndpoints() ([]Endpoint, error)
}

// Endpoint is one active audio render device. Endpoints are transient
// views: used within the enumeration pass that produced them, then
// released.
type Endpoint interface {
	// ID uniquely identifies the endpoint for the lifetime of the device.
	ID() string

	// SessionContainer activates the endpoint's session-management
	// capability. The caller owns the returned container and must
	// Release it when done.
	SessionContainer() (SessionContainer, error)

	// Release drops the caller's handle on the endpoint.
	Release()
}

// SessionContainer grants access to one endpoint's current and future
// audio sessions.
type SessionContainer interface {
	// Sessions returns a snapshot of the container's current sessions.
	// Sessions created while iterating are not guaranteed to appear;
	// RegisterNotifier covers those. The caller owns each returned
	// Session and must Release it.
	Sessions() ([]Session, error)

	// RegisterNotifier subscribes the notifier to session-creation
	// events. On success the subscription retains the notifier until
	// UnregisterNotifier releases it.
	RegisterNotifier(*SessionNotifier) error

	// UnregisterNotifier ends the subscription and drops its reference
	// on the notifier. A callback already in flight is allowed to
	// complete; no new callbacks are delivered after this returns.
	UnregisterNotifier(*SessionNotifier) error

	// Release drops the caller's handle on the container.
	Release()
}

// Session is one logical audio stream owned by some process.
type Session interface {
	// ProcessID reports the id of the process that owns the session. Some
	// sessions (system sounds, multi-process sessions) cannot report one
	// and return an error.
	ProcessID() (int, error)

	// SetDuckingPreference tells the platform whether the session opts
	// out of automatic ducking.
	SetDuckingPreference(optOut bool) error

	// Release drops the caller's handle on the session.
	Release()
}

// subsystemRegistry holds the registered platform subsystem.
type subsystemRegistry struct {
	mu        sync.RWMutex
	subsystem SessionSubsystem
}

var globalSubsystemRegistry = &subsystemRegistry{}

// RegisterSessionSubsystem registers a platform-specific session subsystem.
func RegisterSessionSubsystem(s SessionSubsystem) {
	globalSubsystemRegistry.mu.Lock()
	defer globalSubsystemRegistry.mu.Unlock()
	globalSubsystemRegistry.subsystem = s
}

// GetSessionSubsystem returns the registered session subsystem, or nil if
// the platform has none.
func GetSessionSubsystem() SessionSubsystem {
	globalSubsystemRegistry.mu.RLock()
	defer globalSubsystemRegistry.mu.RUnlock()
	return globalSubsystemRegistry.subsystem
}
