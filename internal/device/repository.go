package device

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/nerrad567/petlibro-bridge/internal/infrastructure/database"
)

// Repository defines the persistence operations for cached entities.
type Repository interface {
	// GetByID retrieves an entity.
	// Returns ErrEntityNotFound if it does not exist.
	GetByID(ctx context.Context, id string) (*Entity, error)

	// List retrieves all entities ordered by name.
	List(ctx context.Context) ([]Entity, error)

	// SaveBatch inserts or replaces entities in one transaction.
	SaveBatch(ctx context.Context, entities []*Entity) error

	// DeleteBatch removes entities in one transaction. Unknown IDs are ignored.
	DeleteBatch(ctx context.Context, ids []string) error
}

// SQLiteRepository implements Repository on the entities table.
type SQLiteRepository struct {
	db *database.DB
}

// NewSQLiteRepository creates a repository over an open, migrated database.
func NewSQLiteRepository(db *database.DB) *SQLiteRepository {
	return &SQLiteRepository{db: db}
}

const selectEntities = `
	SELECT id, kind, serial, name, snapshot, created_at, updated_at
	FROM entities`

// GetByID retrieves an entity by ID.
func (r *SQLiteRepository) GetByID(ctx context.Context, id string) (*Entity, error) {
	row := r.db.QueryRowContext(ctx, selectEntities+" WHERE id = ?", id)
	e, err := scanEntity(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrEntityNotFound
		}
		return nil, fmt.Errorf("querying entity by id: %w", err)
	}
	return e, nil
}

// List retrieves all entities.
func (r *SQLiteRepository) List(ctx context.Context) ([]Entity, error) {
	rows, err := r.db.QueryContext(ctx, selectEntities+" ORDER BY name, id")
	if err != nil {
		return nil, fmt.Errorf("querying entities: %w", err)
	}
	defer rows.Close()

	var entities []Entity
	for rows.Next() {
		e, err := scanEntity(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning entity: %w", err)
		}
		entities = append(entities, *e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating entities: %w", err)
	}
	return entities, nil
}

// SaveBatch upserts entities. CreatedAt is preserved for existing rows;
// UpdatedAt is set to now. The stored timestamps are written back to the
// entities, so a fresh copy of an existing entity picks up its original
// CreatedAt.
func (r *SQLiteRepository) SaveBatch(ctx context.Context, entities []*Entity) error {
	if len(entities) == 0 {
		return nil
	}

	now := time.Now().UTC().Truncate(time.Second)
	return r.db.WithTx(ctx, func(tx *sql.Tx) error {
		stmt, err := tx.PrepareContext(ctx, `
			INSERT INTO entities (id, kind, serial, name, snapshot, created_at, updated_at)
			VALUES (?, ?, ?, ?, ?, ?, ?)
			ON CONFLICT(id) DO UPDATE SET
				kind = excluded.kind,
				serial = excluded.serial,
				name = excluded.name,
				snapshot = excluded.snapshot,
				updated_at = excluded.updated_at
			RETURNING created_at`)
		if err != nil {
			return fmt.Errorf("preparing entity upsert: %w", err)
		}
		defer stmt.Close()

		for _, e := range entities {
			snapshot, err := json.Marshal(e.Snapshot)
			if err != nil {
				return fmt.Errorf("marshalling snapshot for %s: %w", e.ID, err)
			}
			if e.CreatedAt.IsZero() {
				e.CreatedAt = now
			}
			e.UpdatedAt = now

			var createdAt string
			if err := stmt.QueryRowContext(ctx,
				e.ID,
				string(e.Kind),
				e.Serial,
				e.Name,
				string(snapshot),
				e.CreatedAt.UTC().Format(time.RFC3339),
				e.UpdatedAt.Format(time.RFC3339),
			).Scan(&createdAt); err != nil {
				return fmt.Errorf("saving entity %s: %w", e.ID, err)
			}
			if e.CreatedAt, err = time.Parse(time.RFC3339, createdAt); err != nil {
				return fmt.Errorf("parsing created_at for %s: %w", e.ID, err)
			}
		}
		return nil
	})
}

// DeleteBatch removes entities by ID.
func (r *SQLiteRepository) DeleteBatch(ctx context.Context, ids []string) error {
	if len(ids) == 0 {
		return nil
	}

	return r.db.WithTx(ctx, func(tx *sql.Tx) error {
		stmt, err := tx.PrepareContext(ctx, "DELETE FROM entities WHERE id = ?")
		if err != nil {
			return fmt.Errorf("preparing entity delete: %w", err)
		}
		defer stmt.Close()

		for _, id := range ids {
			if _, err := stmt.ExecContext(ctx, id); err != nil {
				return fmt.Errorf("deleting entity %s: %w", id, err)
			}
		}
		return nil
	})
}

// rowScanner is an interface that sql.Row and sql.Rows both implement.
type rowScanner interface {
	Scan(dest ...any) error
}

func scanEntity(scanner rowScanner) (*Entity, error) {
	var e Entity
	var kind, snapshot, createdAt, updatedAt string

	if err := scanner.Scan(&e.ID, &kind, &e.Serial, &e.Name, &snapshot, &createdAt, &updatedAt); err != nil {
		return nil, err
	}

	e.Kind = Kind(kind)
	if err := json.Unmarshal([]byte(snapshot), &e.Snapshot); err != nil {
		return nil, fmt.Errorf("unmarshalling snapshot: %w", err)
	}

	var err error
	e.CreatedAt, err = time.Parse(time.RFC3339, createdAt)
	if err != nil {
		return nil, fmt.Errorf("parsing created_at: %w", err)
	}
	e.UpdatedAt, err = time.Parse(time.RFC3339, updatedAt)
	if err != nil {
		return nil, fmt.Errorf("parsing updated_at: %w", err)
	}
	return &e, nil
}
