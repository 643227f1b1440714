// Package postgres provides a PostgreSQL-backed metadata store with metrics.
package postgres

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"time"

	"github.com/golang-migrate/migrate/v4"
	_ "github.com/golang-migrate/migrate/v4/database/postgres"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	"github.com/lib/pq"
	"go.uber.org/zap"

	"github.com/fruitsalade/projectfiles/internal/logging"
	"github.com/fruitsalade/projectfiles/internal/metadata"
	"github.com/fruitsalade/projectfiles/internal/metrics"
	"github.com/fruitsalade/projectfiles/pkg/models"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

const nodeColumns = `id, parent_id, name, kind, access, description, created_date,
	uploader_ref, size, tags, license, author`

// Store is a PostgreSQL metadata store.
type Store struct {
	db *sql.DB
}

var _ metadata.Store = (*Store)(nil)

// New opens the database and checks connectivity.
func New(ctx context.Context, databaseURL string) (*Store, error) {
	db, err := sql.Open("postgres", databaseURL)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(5 * time.Minute)

	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}

	return &Store{db: db}, nil
}

// Migrate applies the embedded schema migrations. databaseURL must use the
// postgres:// URL form.
func Migrate(databaseURL string) error {
	src, err := iofs.New(migrationsFS, "migrations")
	if err != nil {
		return fmt.Errorf("open migrations: %w", err)
	}
	m, err := migrate.NewWithSourceInstance("iofs", src, databaseURL)
	if err != nil {
		return fmt.Errorf("init migrations: %w", err)
	}
	defer m.Close()

	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("apply migrations: %w", err)
	}

	version, dirty, _ := m.Version()
	logging.Info("migrations applied",
		zap.Uint("version", version),
		zap.Bool("dirty", dirty))
	return nil
}

func (s *Store) Name() string { return "postgres" }

// Close closes the database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// UpdateConnectionMetrics updates the database connection metrics.
func (s *Store) UpdateConnectionMetrics() {
	metrics.SetDBConnectionsOpen(s.db.Stats().OpenConnections)
}

// Ping checks the connection for health output.
func (s *Store) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

type scanner interface {
	Scan(dest ...any) error
}

func scanNode(row scanner) (models.Node, error) {
	var (
		n      models.Node
		parent sql.NullString
		kind   string
		access string
		tags   pq.StringArray
	)
	err := row.Scan(&n.ID, &parent, &n.Name, &kind, &access, &n.Description,
		&n.CreatedDate, &n.UploaderRef, &n.Size, &tags, &n.License, &n.Author)
	if err != nil {
		return n, err
	}
	n.ParentID = parent.String
	n.Kind = models.Kind(kind)
	n.Access = models.Access(access)
	if len(tags) > 0 {
		n.Tags = []string(tags)
	}
	return n, nil
}

// parentArg maps the virtual root onto a NULL parent.
func parentArg(id string) any {
	if id == models.RootID {
		return nil
	}
	return id
}

func (s *Store) Snapshot(ctx context.Context, c models.Collection) ([]models.Node, error) {
	start := time.Now()
	defer func() { metrics.RecordDBQuery("snapshot", time.Since(start)) }()

	rows, err := s.db.QueryContext(ctx,
		`SELECT `+nodeColumns+` FROM nodes WHERE project_id = $1 AND collection = $2`,
		c.ProjectID, string(c.Kind))
	if err != nil {
		return nil, fmt.Errorf("query nodes: %w", err)
	}
	defer rows.Close()

	nodes := []models.Node{}
	for rows.Next() {
		n, err := scanNode(rows)
		if err != nil {
			return nil, fmt.Errorf("scan node: %w", err)
		}
		nodes = append(nodes, n)
	}
	return nodes, rows.Err()
}

func (s *Store) Get(ctx context.Context, c models.Collection, id string) (*models.Node, error) {
	start := time.Now()
	defer func() { metrics.RecordDBQuery("get_node", time.Since(start)) }()

	n, err := scanNode(s.db.QueryRowContext(ctx,
		`SELECT `+nodeColumns+` FROM nodes WHERE project_id = $1 AND collection = $2 AND id = $3`,
		c.ProjectID, string(c.Kind), id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s", metadata.ErrNotFound, id)
	}
	if err != nil {
		return nil, fmt.Errorf("get node: %w", err)
	}
	return &n, nil
}

func (s *Store) Insert(ctx context.Context, c models.Collection, n models.Node) error {
	if n.ID == models.RootID {
		return metadata.ErrRootImmutable
	}
	start := time.Now()
	defer func() { metrics.RecordDBQuery("insert_node", time.Since(start)) }()

	return s.withTx(ctx, c, func(tx *sql.Tx) error {
		if err := checkParent(ctx, tx, c, n.ParentID); err != nil {
			return err
		}
		tags := n.Tags
		if tags == nil {
			tags = []string{}
		}
		created := n.CreatedDate
		if created.IsZero() {
			created = time.Now().UTC()
		}
		_, err := tx.ExecContext(ctx,
			`INSERT INTO nodes (project_id, collection, `+nodeColumns+`)
			 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14)`,
			c.ProjectID, string(c.Kind), n.ID, parentArg(n.ParentID), n.Name, string(n.Kind),
			string(n.Access), n.Description, created, n.UploaderRef, n.Size,
			pq.Array(tags), n.License, n.Author)
		if err != nil {
			return translate(err, n.ID)
		}
		return nil
	})
}

func (s *Store) Move(ctx context.Context, c models.Collection, id, newParentID string) (string, error) {
	if id == models.RootID {
		return "", metadata.ErrRootImmutable
	}
	start := time.Now()
	defer func() { metrics.RecordDBQuery("move_node", time.Since(start)) }()

	var oldParent string
	err := s.withTx(ctx, c, func(tx *sql.Tx) error {
		var parent sql.NullString
		err := tx.QueryRowContext(ctx,
			`SELECT parent_id FROM nodes WHERE project_id = $1 AND collection = $2 AND id = $3 FOR UPDATE`,
			c.ProjectID, string(c.Kind), id).Scan(&parent)
		if errors.Is(err, sql.ErrNoRows) {
			return fmt.Errorf("%w: %s", metadata.ErrNotFound, id)
		}
		if err != nil {
			return fmt.Errorf("lock node: %w", err)
		}
		oldParent = parent.String

		if err := checkParent(ctx, tx, c, newParentID); err != nil {
			return err
		}
		if newParentID == id {
			return fmt.Errorf("%w: %s into itself", metadata.ErrCycle, id)
		}
		if newParentID != models.RootID {
			var below bool
			err := tx.QueryRowContext(ctx, `
				WITH RECURSIVE up AS (
					SELECT id, parent_id FROM nodes
					WHERE project_id = $1 AND collection = $2 AND id = $3
					UNION
					SELECT n.id, n.parent_id FROM nodes n
					JOIN up ON n.id = up.parent_id
					WHERE n.project_id = $1 AND n.collection = $2
				)
				SELECT EXISTS (SELECT 1 FROM up WHERE id = $4)`,
				c.ProjectID, string(c.Kind), newParentID, id).Scan(&below)
			if err != nil {
				return fmt.Errorf("check ancestry: %w", err)
			}
			if below {
				return fmt.Errorf("%w: %s into %s", metadata.ErrCycle, id, newParentID)
			}
		}
		if oldParent == newParentID {
			return nil
		}

		_, err = tx.ExecContext(ctx,
			`UPDATE nodes SET parent_id = $4 WHERE project_id = $1 AND collection = $2 AND id = $3`,
			c.ProjectID, string(c.Kind), id, parentArg(newParentID))
		if err != nil {
			return fmt.Errorf("update parent: %w", err)
		}
		return nil
	})
	if err != nil {
		return "", err
	}
	return oldParent, nil
}

func (s *Store) SetAccess(ctx context.Context, c models.Collection, id string, level models.Access) (int, error) {
	if id == models.RootID {
		return 0, metadata.ErrRootImmutable
	}
	if !level.Valid() {
		return 0, fmt.Errorf("%w: %q", models.ErrInvalidAccess, level)
	}
	start := time.Now()
	defer func() { metrics.RecordDBQuery("set_access", time.Since(start)) }()

	var changed int64
	err := s.withTx(ctx, c, func(tx *sql.Tx) error {
		res, err := tx.ExecContext(ctx, `
			WITH RECURSIVE sub AS (
				SELECT id FROM nodes
				WHERE project_id = $1 AND collection = $2 AND id = $3
				UNION ALL
				SELECT n.id FROM nodes n
				JOIN sub ON n.parent_id = sub.id
				WHERE n.project_id = $1 AND n.collection = $2
			)
			UPDATE nodes SET access = $4
			WHERE project_id = $1 AND collection = $2 AND id IN (SELECT id FROM sub)`,
			c.ProjectID, string(c.Kind), id, string(level))
		if err != nil {
			return fmt.Errorf("cascade access: %w", err)
		}
		changed, err = res.RowsAffected()
		if err != nil {
			return fmt.Errorf("rows affected: %w", err)
		}
		if changed == 0 {
			return fmt.Errorf("%w: %s", metadata.ErrNotFound, id)
		}
		return nil
	})
	return int(changed), err
}

func (s *Store) Update(ctx context.Context, c models.Collection, id string, p metadata.Patch) (*models.Node, error) {
	if id == models.RootID {
		return nil, metadata.ErrRootImmutable
	}
	start := time.Now()
	defer func() { metrics.RecordDBQuery("update_node", time.Since(start)) }()

	n, err := scanNode(s.db.QueryRowContext(ctx, `
		UPDATE nodes SET
			name = COALESCE($4, name),
			description = COALESCE($5, description)
		WHERE project_id = $1 AND collection = $2 AND id = $3
		RETURNING `+nodeColumns,
		c.ProjectID, string(c.Kind), id, p.Name, p.Description))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s", metadata.ErrNotFound, id)
	}
	if err != nil {
		return nil, fmt.Errorf("update node: %w", err)
	}
	return &n, nil
}

func (s *Store) Delete(ctx context.Context, c models.Collection, id string) ([]string, error) {
	if id == models.RootID {
		return nil, metadata.ErrRootImmutable
	}
	start := time.Now()
	defer func() { metrics.RecordDBQuery("delete_subtree", time.Since(start)) }()

	var removed []string
	err := s.withTx(ctx, c, func(tx *sql.Tx) error {
		rows, err := tx.QueryContext(ctx, `
			WITH RECURSIVE sub AS (
				SELECT id FROM nodes
				WHERE project_id = $1 AND collection = $2 AND id = $3
				UNION ALL
				SELECT n.id FROM nodes n
				JOIN sub ON n.parent_id = sub.id
				WHERE n.project_id = $1 AND n.collection = $2
			)
			DELETE FROM nodes
			WHERE project_id = $1 AND collection = $2 AND id IN (SELECT id FROM sub)
			RETURNING id`,
			c.ProjectID, string(c.Kind), id)
		if err != nil {
			return fmt.Errorf("delete subtree: %w", err)
		}
		defer rows.Close()
		for rows.Next() {
			var rid string
			if err := rows.Scan(&rid); err != nil {
				return fmt.Errorf("scan id: %w", err)
			}
			removed = append(removed, rid)
		}
		if err := rows.Err(); err != nil {
			return err
		}
		if len(removed) == 0 {
			return fmt.Errorf("%w: %s", metadata.ErrNotFound, id)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return removed, nil
}

// withTx runs fn in a transaction holding the collection's advisory lock, so
// structural changes to one tree never interleave.
func (s *Store) withTx(ctx context.Context, c models.Collection, fn func(*sql.Tx) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `SELECT pg_advisory_xact_lock(hashtext($1))`, c.Key()); err != nil {
		return fmt.Errorf("lock collection: %w", err)
	}
	if err := fn(tx); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit: %w", err)
	}
	return nil
}

func checkParent(ctx context.Context, tx *sql.Tx, c models.Collection, parentID string) error {
	if parentID == models.RootID {
		return nil
	}
	var kind string
	err := tx.QueryRowContext(ctx,
		`SELECT kind FROM nodes WHERE project_id = $1 AND collection = $2 AND id = $3`,
		c.ProjectID, string(c.Kind), parentID).Scan(&kind)
	if errors.Is(err, sql.ErrNoRows) {
		return fmt.Errorf("%w: %s", metadata.ErrNotFound, parentID)
	}
	if err != nil {
		return fmt.Errorf("load parent: %w", err)
	}
	if models.Kind(kind) != models.KindFolder {
		return fmt.Errorf("%w: %s", metadata.ErrNotFolder, parentID)
	}
	return nil
}

func translate(err error, id string) error {
	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		switch pqErr.Code {
		case "23505":
			return fmt.Errorf("%w: %s", metadata.ErrDuplicate, id)
		case "23503":
			return fmt.Errorf("%w: parent of %s", metadata.ErrNotFound, id)
		}
	}
	return fmt.Errorf("insert node: %w", err)
}

// Poll keeps the connection gauge current until ctx is done.
func (s *Store) Poll(ctx context.Context, every time.Duration) {
	t := time.NewTicker(every)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			s.UpdateConnectionMetrics()
		}
	}
}
