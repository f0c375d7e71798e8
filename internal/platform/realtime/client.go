package realtime

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/rs/zerolog"
)

// Client is the handle the rest of the server uses to reach the realtime
// store. It starts unconfigured; Connect attaches a backend. Every call made
// while unconfigured returns ErrNotConfigured.
type Client struct {
	mu        sync.RWMutex
	backend   Backend
	session   context.Context
	end       context.CancelFunc
	logger    zerolog.Logger
	listeners []func(ready bool)
}

func NewClient(logger zerolog.Logger) *Client {
	return &Client{logger: logger.With().Str("component", "realtime").Logger()}
}

// Ready reports whether a backend is attached.
func (c *Client) Ready() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.backend != nil
}

// OnStateChange registers fn to run after every Connect or Disconnect.
func (c *Client) OnStateChange(fn func(ready bool)) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.listeners = append(c.listeners, fn)
}

// Connect attaches b, closing any previously attached backend. Subscriptions
// opened against the previous backend end.
func (c *Client) Connect(b Backend) error {
	if b == nil {
		return fmt.Errorf("connect: nil backend")
	}
	c.mu.Lock()
	prev := c.backend
	if c.end != nil {
		c.end()
	}
	c.backend = b
	c.session, c.end = context.WithCancel(context.Background())
	listeners := append([]func(bool){}, c.listeners...)
	c.mu.Unlock()

	if prev != nil {
		if err := prev.Close(); err != nil {
			c.logger.Warn().Err(err).Msg("failed to close previous backend")
		}
	}
	c.logger.Info().Msg("realtime store connected")
	for _, fn := range listeners {
		fn(true)
	}
	return nil
}

// Disconnect detaches and closes the current backend, returning the client
// to the unconfigured state.
func (c *Client) Disconnect() error {
	c.mu.Lock()
	prev := c.backend
	if c.end != nil {
		c.end()
	}
	c.backend, c.session, c.end = nil, nil, nil
	listeners := append([]func(bool){}, c.listeners...)
	c.mu.Unlock()

	if prev == nil {
		return nil
	}
	err := prev.Close()
	c.logger.Info().Msg("realtime store disconnected")
	for _, fn := range listeners {
		fn(false)
	}
	return err
}

func (c *Client) current() (Backend, error) {
	b, _, err := c.attached()
	return b, err
}

// attached returns the backend with a context that ends when it is replaced.
func (c *Client) attached() (Backend, context.Context, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.backend == nil {
		return nil, nil, ErrNotConfigured
	}
	return c.backend, c.session, nil
}

func (c *Client) Get(ctx context.Context, path string) (json.RawMessage, bool, error) {
	b, err := c.current()
	if err != nil {
		return nil, false, err
	}
	return b.Get(ctx, path)
}

// GetJSON decodes the value at path into v. ok is false when nothing is
// stored there.
func (c *Client) GetJSON(ctx context.Context, path string, v any) (bool, error) {
	raw, ok, err := c.Get(ctx, path)
	if err != nil || !ok {
		return false, err
	}
	if err := json.Unmarshal(raw, v); err != nil {
		return false, fmt.Errorf("decode %s: %w", path, err)
	}
	return true, nil
}

func (c *Client) Set(ctx context.Context, path string, value json.RawMessage) error {
	b, err := c.current()
	if err != nil {
		return err
	}
	return b.Set(ctx, path, value)
}

// SetJSON encodes v and stores it at path.
func (c *Client) SetJSON(ctx context.Context, path string, v any) error {
	b, err := c.current()
	if err != nil {
		return err
	}
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("encode %s: %w", path, err)
	}
	return b.Set(ctx, path, data)
}

func (c *Client) Delete(ctx context.Context, path string) error {
	b, err := c.current()
	if err != nil {
		return err
	}
	return b.Delete(ctx, path)
}

// Subscribe delivers the snapshot at path to fn once immediately and again
// after every related change. Deliveries for one subscription are sequential;
// changes arriving while fn runs are coalesced into a single re-read. The
// subscription ends when ctx is done, the returned cancel is called, or the
// backend is replaced.
func (c *Client) Subscribe(ctx context.Context, path string, fn func(Snapshot)) (func(), error) {
	b, session, err := c.attached()
	if err != nil {
		return nil, err
	}

	signal := make(chan struct{}, 1)
	signal <- struct{}{}

	stopWatch, err := b.Watch(path, func() {
		select {
		case signal <- struct{}{}:
		default:
		}
	})
	if err != nil {
		return nil, fmt.Errorf("watch %s: %w", path, err)
	}

	subCtx, cancel := context.WithCancel(ctx)
	stopAfter := context.AfterFunc(session, cancel)

	go func() {
		defer stopAfter()
		defer stopWatch()
		for {
			select {
			case <-subCtx.Done():
				return
			case <-signal:
			}
			raw, ok, err := b.Get(subCtx, path)
			if err != nil {
				if subCtx.Err() != nil {
					return
				}
				c.logger.Error().Err(err).Str("path", path).Msg("subscription read failed")
				continue
			}
			fn(Snapshot{Path: path, Value: raw, Exists: ok})
		}
	}()

	return cancel, nil
}

// Ping checks the attached backend when it supports probing.
func (c *Client) Ping(ctx context.Context) error {
	b, err := c.current()
	if err != nil {
		return err
	}
	if p, ok := b.(interface{ Ping(context.Context) error }); ok {
		return p.Ping(ctx)
	}
	return nil
}

// Describe reports backend details for the health endpoint.
func (c *Client) Describe() map[string]any {
	b, err := c.current()
	if err != nil {
		return map[string]any{"configured": false}
	}
	out := map[string]any{"configured": true}
	if d, ok := b.(interface{ Describe() map[string]any }); ok {
		for k, v := range d.Describe() {
			out[k] = v
		}
	}
	return out
}
