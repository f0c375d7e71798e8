// Package setup manages the realtime store connection at runtime: reading
// it at startup, replacing it from the admin screen or the CLI, and
// clearing it.
package setup

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/rs/zerolog"

	"github.com/clinicq/clinicq/internal/config"
	"github.com/clinicq/clinicq/internal/platform/blobstore"
	"github.com/clinicq/clinicq/internal/platform/realtime"
)

// ErrConnectFailed marks a connection that was accepted but could not be
// reached.
var ErrConnectFailed = errors.New("realtime store unreachable")

// Connector is the part of realtime.Client the service drives.
type Connector interface {
	Connect(b realtime.Backend) error
	Disconnect() error
}

// Opener builds a backend for a connection.
type Opener func(ctx context.Context, conn config.Connection) (realtime.Backend, error)

// BannerTarget receives the bucket store derived from storageBucket.
type BannerTarget interface {
	SetRemote(store blobstore.BlobStore)
}

// Status is the connection as shown to the admin. Secrets are redacted.
type Status struct {
	Source     config.ConnectionSource `json:"source"`
	Connected  bool                    `json:"connected"`
	Connection *config.Connection      `json:"connection,omitempty"`
	Error      string                  `json:"error,omitempty"`
}

type Service struct {
	cfg     *config.Config
	client  Connector
	open    Opener
	banners BannerTarget
	logger  zerolog.Logger

	mu        sync.Mutex
	current   *config.Connection
	source    config.ConnectionSource
	connected bool
	lastErr   error
}

func NewService(cfg *config.Config, client Connector, open Opener, banners BannerTarget, logger zerolog.Logger) *Service {
	return &Service{
		cfg:     cfg,
		client:  client,
		open:    open,
		banners: banners,
		source:  config.SourceNone,
		logger:  logger.With().Str("component", "setup").Logger(),
	}
}

// Start resolves the connection (environment, then the persisted entry)
// and connects when one is found. A failed connect leaves the store
// unconfigured and is reported through Status, not returned.
func (s *Service) Start(ctx context.Context) error {
	conn, source, err := s.cfg.ResolveConnection()
	if err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.current, s.source = conn, source
	if conn == nil {
		s.logger.Warn().Msg("no realtime store configured; waiting for setup")
		return nil
	}
	if err := s.connectLocked(ctx, *conn); err != nil {
		s.logger.Error().Err(err).Str("source", string(source)).Msg("failed to connect realtime store")
	}
	return nil
}

func (s *Service) connectLocked(ctx context.Context, conn config.Connection) error {
	if err := conn.Validate(); err != nil {
		s.connected, s.lastErr = false, err
		return err
	}
	backend, err := s.open(ctx, conn)
	if err != nil {
		s.connected, s.lastErr = false, err
		return fmt.Errorf("%w: open: %v", ErrConnectFailed, err)
	}
	if err := s.client.Connect(backend); err != nil {
		backend.Close()
		s.connected, s.lastErr = false, err
		return fmt.Errorf("%w: connect: %v", ErrConnectFailed, err)
	}
	s.connected, s.lastErr = true, nil
	if s.banners != nil {
		s.banners.SetRemote(bucketStore(conn))
	}
	s.logger.Info().Str("database_url", conn.Redacted().DatabaseURL).Str("project_id", conn.ProjectID).Msg("realtime store connected")
	return nil
}

// bucketStore returns the banner bucket for conn, or nil when none is set.
func bucketStore(conn config.Connection) blobstore.BlobStore {
	bucket := strings.TrimSpace(conn.StorageBucket)
	if bucket == "" {
		return nil
	}
	if !strings.Contains(bucket, "://") {
		bucket = "https://" + bucket
	}
	return blobstore.NewBucketBlobStore(bucket, conn.APIKey)
}

// Status reports the current connection.
func (s *Service) Status() Status {
	s.mu.Lock()
	defer s.mu.Unlock()
	st := Status{Source: s.source, Connected: s.connected}
	if s.current != nil {
		red := s.current.Redacted()
		st.Connection = &red
	}
	if s.lastErr != nil {
		st.Error = s.lastErr.Error()
	}
	return st
}

// Preview parses pasted text and merges it over the current values without
// applying anything. Empty pasted fields keep the current value.
func (s *Service) Preview(text string) (config.Connection, error) {
	parsed, err := config.ParseConnectionText(text)
	if err != nil {
		return config.Connection{}, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	var base config.Connection
	if s.current != nil {
		base = *s.current
	}
	return base.Merge(parsed), nil
}

// Save merges conn over the current values, persists the result and
// reconnects. The entry stays persisted when the connect fails, so the
// next start retries it.
func (s *Service) Save(ctx context.Context, conn config.Connection) (Status, error) {
	s.mu.Lock()
	merged := conn
	if s.current != nil {
		merged = s.current.Merge(conn)
	}
	if err := merged.Validate(); err != nil {
		s.mu.Unlock()
		return Status{}, err
	}
	if err := config.SaveConnectionFile(s.cfg.ConnectionFile(), merged); err != nil {
		s.mu.Unlock()
		return Status{}, err
	}
	s.current, s.source = &merged, config.SourceFile
	err := s.connectLocked(ctx, merged)
	s.mu.Unlock()

	if err != nil {
		s.logger.Error().Err(err).Msg("saved connection could not be applied")
	}
	return s.Status(), err
}

// Reset removes the persisted entry and disconnects. A connection supplied
// through the environment is reapplied afterwards.
func (s *Service) Reset(ctx context.Context) (Status, error) {
	if err := config.ClearConnectionFile(s.cfg.ConnectionFile()); err != nil {
		return Status{}, err
	}

	s.mu.Lock()
	if err := s.client.Disconnect(); err != nil {
		s.logger.Warn().Err(err).Msg("failed to close realtime store")
	}
	if s.banners != nil {
		s.banners.SetRemote(nil)
	}
	s.current, s.source, s.connected, s.lastErr = nil, config.SourceNone, false, nil
	s.mu.Unlock()

	if err := s.Start(ctx); err != nil {
		return Status{}, err
	}
	return s.Status(), nil
}
