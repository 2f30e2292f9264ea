package pgtree

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/dogmatiq/treekit/driver/sql/postgres/internal/pgerror"
	"github.com/dogmatiq/treekit/tree"
)

type pgtree struct {
	name  string
	db    *sql.DB
	merge tree.MergeFunc
}

func (t *pgtree) Name() string {
	return t.name
}

func (t *pgtree) Get(ctx context.Context, k []byte) ([]byte, bool, error) {
	row := t.db.QueryRowContext(
		ctx,
		`SELECT value
		FROM treekit.tree
		WHERE tree = $1
		AND key = $2`,
		t.name,
		k,
	)

	var v []byte
	if err := row.Scan(&v); err != nil {
		if err == sql.ErrNoRows {
			return nil, false, nil
		}
		return nil, false, fmt.Errorf("cannot scan tree entry: %w", err)
	}

	return v, true, nil
}

func (t *pgtree) Set(ctx context.Context, k, v []byte) ([]byte, bool, error) {
	var (
		prev []byte
		ok   bool
	)

	err := t.update(
		ctx,
		k,
		func(tx *sql.Tx, current tree.Value) error {
			prev, ok = nil, false
			if current.IsPresent() {
				prev, ok = current.Bytes(), true
			}

			return t.put(ctx, tx, k, v, current)
		},
	)
	if err != nil {
		return nil, false, err
	}

	return prev, ok, nil
}

func (t *pgtree) Delete(ctx context.Context, k []byte) ([]byte, bool, error) {
	row := t.db.QueryRowContext(
		ctx,
		`DELETE FROM treekit.tree
		WHERE tree = $1
		AND key = $2
		RETURNING value`,
		t.name,
		k,
	)

	var prev []byte
	if err := row.Scan(&prev); err != nil {
		if err == sql.ErrNoRows {
			return nil, false, nil
		}
		return nil, false, fmt.Errorf("cannot delete tree entry: %w", err)
	}

	return prev, true, nil
}

func (t *pgtree) CompareAndSwap(ctx context.Context, k []byte, expected, proposed tree.Value) error {
	return t.update(
		ctx,
		k,
		func(tx *sql.Tx, current tree.Value) error {
			if !current.Equal(expected) {
				return tree.ConflictError{
					Tree:    t.name,
					Key:     k,
					Current: current,
				}
			}

			if proposed.IsPresent() {
				return t.put(ctx, tx, k, proposed.Bytes(), current)
			}

			return t.remove(ctx, tx, k)
		},
	)
}

func (t *pgtree) Merge(ctx context.Context, k, operand []byte) ([]byte, bool, error) {
	if t.merge == nil {
		return nil, false, tree.ErrNoMerge
	}

	var (
		merged []byte
		ok     bool
	)

	err := t.update(
		ctx,
		k,
		func(tx *sql.Tx, current tree.Value) error {
			var err error
			merged, ok, err = t.merge(
				k,
				current.Bytes(),
				current.IsPresent(),
				operand,
			)
			if err != nil {
				return err
			}

			if ok {
				return t.put(ctx, tx, k, merged, current)
			}

			return t.remove(ctx, tx, k)
		},
	)
	if err != nil {
		return nil, false, err
	}

	return merged, ok, nil
}

// Flush is a no-op; writes are committed synchronously.
func (t *pgtree) Flush(ctx context.Context) error {
	return ctx.Err()
}

func (t *pgtree) Max(ctx context.Context) (tree.Entry, bool, error) {
	return t.lookup(
		ctx,
		`SELECT key, value
		FROM treekit.tree
		WHERE tree = $1
		ORDER BY key DESC
		LIMIT 1`,
		t.name,
	)
}

func (t *pgtree) Pred(ctx context.Context, k []byte) (tree.Entry, bool, error) {
	return t.lookup(
		ctx,
		`SELECT key, value
		FROM treekit.tree
		WHERE tree = $1
		AND key < $2
		ORDER BY key DESC
		LIMIT 1`,
		t.name,
		k,
	)
}

func (t *pgtree) PredInclusive(ctx context.Context, k []byte) (tree.Entry, bool, error) {
	return t.lookup(
		ctx,
		`SELECT key, value
		FROM treekit.tree
		WHERE tree = $1
		AND key <= $2
		ORDER BY key DESC
		LIMIT 1`,
		t.name,
		k,
	)
}

func (t *pgtree) Succ(ctx context.Context, k []byte) (tree.Entry, bool, error) {
	return t.lookup(
		ctx,
		`SELECT key, value
		FROM treekit.tree
		WHERE tree = $1
		AND key > $2
		ORDER BY key ASC
		LIMIT 1`,
		t.name,
		k,
	)
}

func (t *pgtree) SuccInclusive(ctx context.Context, k []byte) (tree.Entry, bool, error) {
	return t.lookup(
		ctx,
		`SELECT key, value
		FROM treekit.tree
		WHERE tree = $1
		AND key >= $2
		ORDER BY key ASC
		LIMIT 1`,
		t.name,
		k,
	)
}

func (t *pgtree) Range(ctx context.Context, fn tree.RangeFunc) error {
	return t.rangeQuery(
		ctx,
		fn,
		`SELECT key, value
		FROM treekit.tree
		WHERE tree = $1
		ORDER BY key ASC`,
		t.name,
	)
}

func (t *pgtree) RangeFrom(ctx context.Context, k []byte, fn tree.RangeFunc) error {
	return t.rangeQuery(
		ctx,
		fn,
		`SELECT key, value
		FROM treekit.tree
		WHERE tree = $1
		AND key >= $2
		ORDER BY key ASC`,
		t.name,
		k,
	)
}

func (t *pgtree) RangeBetween(ctx context.Context, start, end []byte, fn tree.RangeFunc) error {
	return t.rangeQuery(
		ctx,
		fn,
		`SELECT key, value
		FROM treekit.tree
		WHERE tree = $1
		AND key >= $2
		AND key < $3
		ORDER BY key ASC`,
		t.name,
		start,
		end,
	)
}

func (t *pgtree) Close() error {
	return nil
}

// update executes fn with the current value of k, holding a row lock for the
// duration of the transaction.
//
// The transaction is retried if a concurrent insert of the same key wins the
// race, so fn may be invoked multiple times.
func (t *pgtree) update(
	ctx context.Context,
	k []byte,
	fn func(tx *sql.Tx, current tree.Value) error,
) error {
	return pgerror.Retry(
		ctx,
		t.db,
		func(tx *sql.Tx) error {
			row := tx.QueryRowContext(
				ctx,
				`SELECT value
				FROM treekit.tree
				WHERE tree = $1
				AND key = $2
				FOR UPDATE`,
				t.name,
				k,
			)

			current := tree.Absent()

			var v []byte
			if err := row.Scan(&v); err == nil {
				current = tree.Present(v)
			} else if err != sql.ErrNoRows {
				return fmt.Errorf("cannot scan tree entry: %w", err)
			}

			return fn(tx, current)
		},
		pgerror.CodeUniqueViolation,
		pgerror.CodeSerializationFailure,
	)
}

// put writes the value associated with k within tx.
//
// current must be the value read under lock by [pgtree.update]. A present key
// is updated in place under its row lock. An absent key has no row to lock,
// so it is inserted without an ON CONFLICT clause; a concurrent insert of the
// same key raises a unique violation, which retries the enclosing transaction
// against the now-present row.
func (t *pgtree) put(ctx context.Context, tx *sql.Tx, k, v []byte, current tree.Value) error {
	if v == nil {
		v = []byte{}
	}

	if current.IsPresent() {
		if _, err := tx.ExecContext(
			ctx,
			`UPDATE treekit.tree
			SET value = $3
			WHERE tree = $1
			AND key = $2`,
			t.name,
			k,
			v,
		); err != nil {
			return fmt.Errorf("cannot update tree entry: %w", err)
		}

		return nil
	}

	if _, err := tx.ExecContext(
		ctx,
		`INSERT INTO treekit.tree (
			tree,
			key,
			value
		) VALUES (
			$1, $2, $3
		)`,
		t.name,
		k,
		v,
	); err != nil {
		return fmt.Errorf("cannot insert tree entry: %w", err)
	}

	return nil
}

func (t *pgtree) remove(ctx context.Context, tx *sql.Tx, k []byte) error {
	if _, err := tx.ExecContext(
		ctx,
		`DELETE FROM treekit.tree
		WHERE tree = $1
		AND key = $2`,
		t.name,
		k,
	); err != nil {
		return fmt.Errorf("cannot delete tree entry: %w", err)
	}

	return nil
}

func (t *pgtree) lookup(
	ctx context.Context,
	query string,
	args ...any,
) (tree.Entry, bool, error) {
	row := t.db.QueryRowContext(ctx, query, args...)

	var e tree.Entry
	if err := row.Scan(&e.Key, &e.Value); err != nil {
		if err == sql.ErrNoRows {
			return tree.Entry{}, false, nil
		}
		return tree.Entry{}, false, fmt.Errorf("cannot scan tree entry: %w", err)
	}

	return e, true, nil
}

func (t *pgtree) rangeQuery(
	ctx context.Context,
	fn tree.RangeFunc,
	query string,
	args ...any,
) error {
	rows, err := t.db.QueryContext(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("cannot query tree entries: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var k, v []byte
		if err := rows.Scan(&k, &v); err != nil {
			return fmt.Errorf("cannot scan tree entry: %w", err)
		}

		ok, err := fn(ctx, k, v)
		if !ok || err != nil {
			return err
		}
	}

	if err := rows.Err(); err != nil {
		return fmt.Errorf("cannot range over tree entries: %w", err)
	}

	return nil
}
