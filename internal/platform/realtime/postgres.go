package realtime

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rs/zerolog"

	"github.com/clinicq/clinicq/internal/platform/db"
)

// NotifyChannel is the postgres channel carrying changed paths.
const NotifyChannel = "realtime_changes"

// PostgresBackend stores leaves in the realtime_nodes table and relays
// changes through LISTEN/NOTIFY.
type PostgresBackend struct {
	pool     *pgxpool.Pool
	watchers *watchers
	logger   zerolog.Logger
	cancel   context.CancelFunc
	done     chan struct{}
}

// NewPostgresBackend starts the notification listener on its own pooled
// connection. The realtime_nodes table must exist (see `migrate up`).
func NewPostgresBackend(pool *pgxpool.Pool, logger zerolog.Logger) *PostgresBackend {
	ctx, cancel := context.WithCancel(context.Background())
	b := &PostgresBackend{
		pool:     pool,
		watchers: newWatchers(),
		logger:   logger.With().Str("backend", "postgres").Logger(),
		cancel:   cancel,
		done:     make(chan struct{}),
	}
	go b.listen(ctx)
	return b
}

func (b *PostgresBackend) listen(ctx context.Context) {
	defer close(b.done)
	for {
		err := b.listenOnce(ctx)
		if ctx.Err() != nil {
			return
		}
		b.logger.Warn().Err(err).Msg("listener lost, reconnecting")
		select {
		case <-ctx.Done():
			return
		case <-time.After(time.Second):
		}
	}
}

func (b *PostgresBackend) listenOnce(ctx context.Context) error {
	conn, err := b.pool.Acquire(ctx)
	if err != nil {
		return fmt.Errorf("acquire listener connection: %w", err)
	}
	defer conn.Release()

	if _, err := conn.Exec(ctx, "LISTEN "+NotifyChannel); err != nil {
		return fmt.Errorf("listen: %w", err)
	}
	// Changes may have been missed while the listener was down.
	b.watchers.notifyAll()

	for {
		n, err := conn.Conn().WaitForNotification(ctx)
		if err != nil {
			return err
		}
		b.watchers.notify(n.Payload)
	}
}

func (b *PostgresBackend) Get(ctx context.Context, path string) (json.RawMessage, bool, error) {
	p, err := normalize(path)
	if err != nil {
		return nil, false, err
	}
	rows, err := b.pool.Query(ctx,
		`SELECT path, value FROM realtime_nodes WHERE path = $1 OR starts_with(path, $2) OR path = ANY($3)`,
		p, p+"/", ancestors(p))
	if err != nil {
		return nil, false, fmt.Errorf("query %s: %w", p, err)
	}
	defer rows.Close()

	leaves := make(map[string]json.RawMessage)
	for rows.Next() {
		var k string
		var v []byte
		if err := rows.Scan(&k, &v); err != nil {
			return nil, false, fmt.Errorf("scan node: %w", err)
		}
		leaves[k] = v
	}
	if err := rows.Err(); err != nil {
		return nil, false, fmt.Errorf("iterate nodes: %w", err)
	}
	return assemble(p, leaves)
}

func (b *PostgresBackend) Set(ctx context.Context, path string, value json.RawMessage) error {
	p, err := normalize(path)
	if err != nil {
		return err
	}
	if isNull(value) {
		return b.Delete(ctx, p)
	}
	if !json.Valid(value) {
		return ErrInvalidValue
	}

	return b.inTx(ctx, p, func(tx pgx.Tx) error {
		if err := splitAncestorRows(ctx, tx, p); err != nil {
			return err
		}
		if err := removeSubtree(ctx, tx, p); err != nil {
			return err
		}
		_, err := tx.Exec(ctx,
			`INSERT INTO realtime_nodes (path, value, updated_at) VALUES ($1, $2::jsonb, NOW())`,
			p, string(value))
		if err != nil {
			return fmt.Errorf("insert %s: %w", p, err)
		}
		return nil
	})
}

func (b *PostgresBackend) Delete(ctx context.Context, path string) error {
	p, err := normalize(path)
	if err != nil {
		return err
	}
	return b.inTx(ctx, p, func(tx pgx.Tx) error {
		if err := splitAncestorRows(ctx, tx, p); err != nil {
			return err
		}
		return removeSubtree(ctx, tx, p)
	})
}

// inTx runs fn and the change notification in one transaction, so listeners
// only hear about committed writes.
func (b *PostgresBackend) inTx(ctx context.Context, p string, fn func(pgx.Tx) error) error {
	tx, err := b.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	if err := fn(tx); err != nil {
		return err
	}
	if _, err := tx.Exec(ctx, `SELECT pg_notify($1, $2)`, NotifyChannel, p); err != nil {
		return fmt.Errorf("notify %s: %w", p, err)
	}
	return tx.Commit(ctx)
}

// splitAncestorRows breaks an ancestor row of p holding an object into one
// row per member, so a write at p keeps its siblings.
func splitAncestorRows(ctx context.Context, tx pgx.Tx, p string) error {
	anc := ancestors(p)
	if len(anc) == 0 {
		return nil
	}
	rows, err := tx.Query(ctx,
		`SELECT path, value FROM realtime_nodes WHERE path = ANY($1) FOR UPDATE`, anc)
	if err != nil {
		return fmt.Errorf("query ancestors of %s: %w", p, err)
	}
	stored := make(map[string]json.RawMessage)
	for rows.Next() {
		var k string
		var v []byte
		if err := rows.Scan(&k, &v); err != nil {
			rows.Close()
			return fmt.Errorf("scan ancestor: %w", err)
		}
		stored[k] = v
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return fmt.Errorf("iterate ancestors: %w", err)
	}
	if len(stored) == 0 {
		return nil
	}

	remove, add := splitAncestors(p, func(a string) (json.RawMessage, bool) {
		v, ok := stored[a]
		return v, ok
	})
	if _, err := tx.Exec(ctx, `DELETE FROM realtime_nodes WHERE path = ANY($1)`, remove); err != nil {
		return fmt.Errorf("clear ancestors of %s: %w", p, err)
	}
	for k, v := range add {
		_, err := tx.Exec(ctx,
			`INSERT INTO realtime_nodes (path, value, updated_at) VALUES ($1, $2::jsonb, NOW())
			 ON CONFLICT (path) DO UPDATE SET value = EXCLUDED.value, updated_at = NOW()`,
			k, string(v))
		if err != nil {
			return fmt.Errorf("split %s: %w", k, err)
		}
	}
	return nil
}

func removeSubtree(ctx context.Context, tx pgx.Tx, p string) error {
	_, err := tx.Exec(ctx,
		`DELETE FROM realtime_nodes WHERE path = $1 OR starts_with(path, $2)`,
		p, p+"/")
	if err != nil {
		return fmt.Errorf("delete %s: %w", p, err)
	}
	return nil
}

func (b *PostgresBackend) Watch(path string, fn func()) (func(), error) {
	p, err := normalize(path)
	if err != nil {
		return nil, err
	}
	return b.watchers.add(p, fn), nil
}

func (b *PostgresBackend) Ping(ctx context.Context) error {
	return b.pool.Ping(ctx)
}

func (b *PostgresBackend) Describe() map[string]any {
	return map[string]any{
		"backend":  "postgres",
		"pool":     db.GetPoolStats(b.pool),
		"watchers": b.watchers.count(),
	}
}

// Close stops the listener and closes the pool.
func (b *PostgresBackend) Close() error {
	b.cancel()
	select {
	case <-b.done:
	case <-time.After(5 * time.Second):
		return errors.New("postgres listener did not stop")
	}
	b.pool.Close()
	return nil
}
