package hass

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"
)

// message is the envelope for the Home Assistant websocket API.
// SEE: https://developers.home-assistant.io/docs/api/websocket
type message struct {
	ID      int             `json:"id,omitempty"`
	Type    string          `json:"type"`
	Success bool            `json:"success,omitempty"`
	Result  json.RawMessage `json:"result,omitempty"`
	Event   json.RawMessage `json:"event,omitempty"`
}

type entityState struct {
	EntityID   string         `json:"entity_id"`
	State      string         `json:"state"`
	Attributes map[string]any `json:"attributes"`
}

type stateChangedEvent struct {
	EventType string `json:"event_type"`
	Data      struct {
		EntityID string       `json:"entity_id"`
		NewState *entityState `json:"new_state"`
	} `json:"data"`
}

// Client maintains a websocket connection to Home Assistant and mirrors
// entity state into a local cache so that GetState never blocks a tick.
type Client struct {
	url   string
	token string

	mu     sync.RWMutex
	conn   *websocket.Conn
	nextID int
	states map[string]State

	retryWait time.Duration
}

func NewClient(url, token string) *Client {
	return &Client{
		url:       url,
		token:     token,
		nextID:    1,
		states:    make(map[string]State),
		retryWait: 5 * time.Second,
	}
}

// Run connects and keeps the connection alive until the context is
// cancelled, reconnecting after read failures.
func (c *Client) Run(ctx context.Context) {
	for {
		if err := c.connect(ctx); err != nil {
			log.Warn().Err(err).Dur("retry_in", c.retryWait).Msg("Home Assistant connection failed")
		} else {
			c.listen()
		}

		select {
		case <-ctx.Done():
			c.Close()
			return
		case <-time.After(c.retryWait):
		}
	}
}

func (c *Client) connect(ctx context.Context) error {
	conn, _, err := websocket.DefaultDialer.DialContext(ctx, c.url, nil)
	if err != nil {
		return fmt.Errorf("dial %s: %w", c.url, err)
	}

	if err := c.authenticate(conn); err != nil {
		conn.Close()
		return err
	}

	// Prime the cache and subscribe to changes on the local connection.
	// c.conn is only set once both succeed, so a failed handshake never
	// leaves a half-open socket behind.
	for _, fields := range []map[string]any{
		{"type": "get_states"},
		{"type": "subscribe_events", "event_type": "state_changed"},
	} {
		fields["id"] = c.claimID()
		if err := conn.WriteJSON(fields); err != nil {
			conn.Close()
			return fmt.Errorf("send %s: %w", fields["type"], err)
		}
	}

	c.mu.Lock()
	c.conn = conn
	c.mu.Unlock()

	log.Info().Str("url", c.url).Msg("Connected to Home Assistant")
	return nil
}

func (c *Client) claimID() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	id := c.nextID
	c.nextID++
	return id
}

func (c *Client) authenticate(conn *websocket.Conn) error {
	var msg message
	if err := conn.ReadJSON(&msg); err != nil {
		return fmt.Errorf("read auth_required: %w", err)
	}
	if msg.Type != "auth_required" {
		return fmt.Errorf("unexpected handshake message type %q", msg.Type)
	}

	if err := conn.WriteJSON(map[string]any{"type": "auth", "access_token": c.token}); err != nil {
		return fmt.Errorf("send auth: %w", err)
	}

	if err := conn.ReadJSON(&msg); err != nil {
		return fmt.Errorf("read auth result: %w", err)
	}
	if msg.Type != "auth_ok" {
		return fmt.Errorf("authentication rejected: %s", msg.Type)
	}
	return nil
}

func (c *Client) listen() {
	for {
		c.mu.RLock()
		conn := c.conn
		c.mu.RUnlock()
		if conn == nil {
			return
		}

		var msg message
		if err := conn.ReadJSON(&msg); err != nil {
			c.mu.Lock()
			if c.conn != nil {
				c.conn.Close()
				c.conn = nil
			}
			c.mu.Unlock()
			log.Warn().Err(err).Msg("Home Assistant websocket read failed")
			return
		}

		switch msg.Type {
		case "result":
			c.handleResult(msg)
		case "event":
			c.handleEvent(msg)
		}
	}
}

func (c *Client) handleResult(msg message) {
	if !msg.Success {
		log.Warn().Int("id", msg.ID).Msg("Home Assistant command failed")
		return
	}
	if len(msg.Result) == 0 {
		return
	}

	// Only get_states returns an array of entity states.
	var states []entityState
	if err := json.Unmarshal(msg.Result, &states); err != nil {
		return
	}

	c.mu.Lock()
	for _, s := range states {
		c.states[s.EntityID] = State{Value: s.State, Attributes: s.Attributes}
	}
	c.mu.Unlock()
	log.Debug().Int("entities", len(states)).Msg("Primed entity state cache")
}

func (c *Client) handleEvent(msg message) {
	var ev stateChangedEvent
	if err := json.Unmarshal(msg.Event, &ev); err != nil {
		log.Debug().Err(err).Msg("Unparseable Home Assistant event")
		return
	}
	if ev.EventType != "state_changed" || ev.Data.NewState == nil {
		return
	}

	c.mu.Lock()
	c.states[ev.Data.EntityID] = State{
		Value:      ev.Data.NewState.State,
		Attributes: ev.Data.NewState.Attributes,
	}
	c.mu.Unlock()
}

func (c *Client) send(fields map[string]any) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.conn == nil {
		return fmt.Errorf("not connected")
	}
	fields["id"] = c.nextID
	c.nextID++
	return c.conn.WriteJSON(fields)
}

// connected reports whether a live connection is installed.
func (c *Client) connected() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.conn != nil
}

// GetState returns the cached state for an entity.
func (c *Client) GetState(entityID string) (State, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	s, ok := c.states[entityID]
	return s, ok
}

// CallAction invokes a Home Assistant service. Errors are logged and
// swallowed: the control loop carries on with the data it has.
func (c *Client) CallAction(domain, action string, payload map[string]any) {
	serviceData := make(map[string]any)
	target := make(map[string]any)
	for k, v := range payload {
		if k == "entity_id" {
			target[k] = v
			continue
		}
		serviceData[k] = v
	}

	msg := map[string]any{
		"type":         "call_service",
		"domain":       domain,
		"service":      action,
		"service_data": serviceData,
	}
	if len(target) > 0 {
		msg["target"] = target
	}

	if err := c.send(msg); err != nil {
		log.Warn().Err(err).
			Str("domain", domain).
			Str("action", action).
			Msg("Service call failed")
	}
}

// Close tears down the websocket connection.
func (c *Client) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.conn != nil {
		c.conn.Close()
		c.conn = nil
		log.Info().Msg("Home Assistant connection closed")
	}
}
