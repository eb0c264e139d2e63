package sqlite

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/jmoiron/sqlx"
	"github.com/mattn/go-sqlite3"

	"github.com/samotage/claude-headspace-sub014/internal/store"
)

// txHandle adapts a *sqlx.Tx to the store.Tx write surface.
type txHandle struct {
	tx *sqlx.Tx
}

// WithTx runs fn inside a transaction, committing on success and rolling
// back on error or panic — mirrors the teacher's database.DB.WithTx.
func (s *Store) WithTx(ctx context.Context, fn func(store.Tx) error) error {
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}

	defer func() {
		if p := recover(); p != nil {
			_ = tx.Rollback()
			panic(p)
		}
	}()

	if err := fn(&txHandle{tx: tx}); err != nil {
		if rbErr := tx.Rollback(); rbErr != nil {
			return fmt.Errorf("tx failed: %w, rollback failed: %v", translateErr(err), rbErr)
		}
		return translateErr(err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", translateErr(err))
	}
	return nil
}

// translateErr maps a sqlite UNIQUE/CHECK constraint violation to
// store.ErrConflict so callers can distinguish it from other failures.
func translateErr(err error) error {
	if err == nil {
		return nil
	}
	var sqliteErr sqlite3.Error
	if errors.As(err, &sqliteErr) && sqliteErr.Code == sqlite3.ErrConstraint {
		return fmt.Errorf("%w: %s", store.ErrConflict, err)
	}
	if strings.Contains(err.Error(), "UNIQUE constraint failed") {
		return fmt.Errorf("%w: %s", store.ErrConflict, err)
	}
	return err
}
