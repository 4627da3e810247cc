package store

import (
	"context"
	"database/sql/driver"
	"fmt"
	"time"

	"github.com/Sternrassler/dataaccess/pkg/fault"
	"github.com/Sternrassler/dataaccess/pkg/retry"
	"github.com/jmoiron/sqlx"
)

// Record is an upstream resource persisted locally, keyed by (owner, type,
// id). The same resource synced by two owners is stored twice.
type Record struct {
	Type       string    `db:"type" json:"type"`
	ID         string    `db:"id" json:"id"`
	Owner      string    `db:"owner" json:"owner"`
	Attributes JSON      `db:"attributes" json:"attributes"`
	FetchedAt  time.Time `db:"fetched_at" json:"fetched_at"`
}

// JSON is a raw JSON document stored in a JSONB column. It is sent to the
// driver as text because lib/pq encodes []byte parameters as bytea.
type JSON []byte

// Value implements driver.Valuer.
func (j JSON) Value() (driver.Value, error) {
	if len(j) == 0 {
		return "{}", nil
	}
	return string(j), nil
}

// Scan implements sql.Scanner.
func (j *JSON) Scan(src any) error {
	switch v := src.(type) {
	case nil:
		*j = nil
	case []byte:
		*j = append((*j)[:0], v...)
	case string:
		*j = JSON(v)
	default:
		return fmt.Errorf("cannot scan %T into JSON", src)
	}
	return nil
}

// MarshalJSON embeds the document as is.
func (j JSON) MarshalJSON() ([]byte, error) {
	if len(j) == 0 {
		return []byte("null"), nil
	}
	return j, nil
}

// UnmarshalJSON keeps a copy of the raw document.
func (j *JSON) UnmarshalJSON(b []byte) error {
	*j = append((*j)[:0], b...)
	return nil
}

// Records is the repository for Record rows. Every call runs on a pooled
// connection through the executor.
type Records struct {
	exec *retry.Executor[*sqlx.Conn]
}

// NewRecords creates a repository on exec.
func NewRecords(exec *retry.Executor[*sqlx.Conn]) *Records {
	return &Records{exec: exec}
}

// Get returns one record of owner. A missing row, or a row that belongs to
// another owner, fails with fault.KindNotFound.
func (r *Records) Get(ctx context.Context, owner, typ, id string) (Record, error) {
	if owner == "" || typ == "" || id == "" {
		return Record{}, fault.New(fault.KindCallerInput, "records.get", "owner, type and id are required")
	}

	defer observeQuery("get", time.Now())
	return retry.Execute(ctx, r.exec, func(ctx context.Context, conn *sqlx.Conn) (Record, error) {
		var rec Record
		err := conn.GetContext(ctx, &rec, `
			SELECT type, id, owner, attributes, fetched_at
			FROM records
			WHERE owner = $1 AND type = $2 AND id = $3
		`, owner, typ, id)
		return rec, err
	})
}

// ListByOwner returns the owner's records, most recently fetched first.
func (r *Records) ListByOwner(ctx context.Context, owner string, limit int) ([]Record, error) {
	if owner == "" {
		return nil, fault.New(fault.KindCallerInput, "records.list", "owner is required")
	}
	if limit <= 0 || limit > 1000 {
		limit = 100
	}

	defer observeQuery("list", time.Now())
	return retry.Execute(ctx, r.exec, func(ctx context.Context, conn *sqlx.Conn) ([]Record, error) {
		var recs []Record
		err := conn.SelectContext(ctx, &recs, `
			SELECT type, id, owner, attributes, fetched_at
			FROM records
			WHERE owner = $1
			ORDER BY fetched_at DESC, type, id
			LIMIT $2
		`, owner, limit)
		return recs, err
	})
}

const upsertRecord = `
	INSERT INTO records (type, id, owner, attributes, fetched_at)
	VALUES (:type, :id, :owner, :attributes, :fetched_at)
	ON CONFLICT (owner, type, id) DO UPDATE
	SET attributes = EXCLUDED.attributes,
	    fetched_at = EXCLUDED.fetched_at
`

// Upsert writes recs in one transaction. A retried attempt replays the whole
// batch, which the ON CONFLICT clause makes idempotent.
func (r *Records) Upsert(ctx context.Context, recs []Record) (int, error) {
	if len(recs) == 0 {
		return 0, nil
	}
	now := time.Now().UTC()
	rows := make([]Record, len(recs))
	for i, rec := range recs {
		if rec.Owner == "" || rec.Type == "" || rec.ID == "" {
			return 0, fault.New(fault.KindCallerInput, "records.upsert",
				fmt.Sprintf("record %d has no owner, type or id", i))
		}
		if rec.FetchedAt.IsZero() {
			rec.FetchedAt = now
		}
		if len(rec.Attributes) == 0 {
			rec.Attributes = JSON(`{}`)
		}
		rows[i] = rec
	}

	defer observeQuery("upsert", time.Now())
	return retry.Execute(ctx, r.exec, func(ctx context.Context, conn *sqlx.Conn) (int, error) {
		tx, err := conn.BeginTxx(ctx, nil)
		if err != nil {
			return 0, err
		}
		defer tx.Rollback()

		stmt, err := tx.PrepareNamedContext(ctx, upsertRecord)
		if err != nil {
			return 0, err
		}
		defer stmt.Close()

		for _, rec := range rows {
			if _, err := stmt.ExecContext(ctx, rec); err != nil {
				return 0, err
			}
		}
		if err := tx.Commit(); err != nil {
			return 0, err
		}
		return len(rows), nil
	})
}
