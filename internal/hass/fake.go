package hass

// Call records one invoked action for test assertions.
type Call struct {
	Domain  string
	Action  string
	Payload map[string]any
}

// Fake is an in-memory StateStore and ActionInvoker for tests.
type Fake struct {
	States map[string]State
	Calls  []Call
}

func NewFake() *Fake {
	return &Fake{States: make(map[string]State)}
}

// SetState sets an entity's value and attributes.
func (f *Fake) SetState(entityID, value string, attributes map[string]any) {
	f.States[entityID] = State{Value: value, Attributes: attributes}
}

// RemoveState deletes an entity, simulating an unavailable sensor.
func (f *Fake) RemoveState(entityID string) {
	delete(f.States, entityID)
}

func (f *Fake) GetState(entityID string) (State, bool) {
	s, ok := f.States[entityID]
	return s, ok
}

func (f *Fake) CallAction(domain, action string, payload map[string]any) {
	f.Calls = append(f.Calls, Call{Domain: domain, Action: action, Payload: payload})
}

// Reset clears recorded calls.
func (f *Fake) Reset() {
	f.Calls = nil
}
