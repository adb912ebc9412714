// Package hass binds the controller to a Home Assistant instance.
//
// The core only ever sees the StateStore and ActionInvoker interfaces;
// the websocket client and the in-memory fake both satisfy them.
package hass

// State is the host's view of one entity: a string value plus attributes.
type State struct {
	Value      string
	Attributes map[string]any
}

// StateStore reads current entity state by key.
type StateStore interface {
	GetState(entityID string) (State, bool)
}

// ActionInvoker calls a host service. Fire-and-forget: the core never
// consumes a return value, and a failed call must not abort a tick.
type ActionInvoker interface {
	CallAction(domain, action string, payload map[string]any)
}
