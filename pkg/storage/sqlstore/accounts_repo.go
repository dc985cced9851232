package sqlstore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/caam1406/clawdesk/pkg/storage/repository"
)

// Sealer encrypts column values at rest. Open returns values it did not seal unchanged.
type Sealer interface {
	Seal(plaintext string) (string, error)
	Open(stored string) (string, error)
}

type accountRepository struct {
	db      dbExecutor
	dialect Dialect
	sealer  Sealer
}

// NewAccountRepository creates an account repository over db. Authorization codes are
// sealed with sealer; a nil sealer stores them as given.
func NewAccountRepository(db dbExecutor, dialect Dialect, sealer Sealer) repository.AccountRepository {
	return &accountRepository{db: db, dialect: dialect, sealer: sealer}
}

const accountColumns = `waba_id, phone_number_id, business_id, code, session_id, created_at, updated_at`

func (r *accountRepository) Save(ctx context.Context, acc repository.Account) error {
	now := time.Now()
	if acc.CreatedAt.IsZero() {
		acc.CreatedAt = now
	}
	acc.UpdatedAt = now

	code := acc.Code
	if r.sealer != nil {
		sealed, err := r.sealer.Seal(code)
		if err != nil {
			return fmt.Errorf("failed to seal code for %s: %w", acc.WABAID, err)
		}
		code = sealed
	}

	query := r.dialect.Rebind(`INSERT INTO accounts (` + accountColumns + `)
	          VALUES (?, ?, ?, ?, ?, ?, ?)
	          ON CONFLICT (waba_id) DO UPDATE SET
	              phone_number_id = excluded.phone_number_id,
	              business_id = excluded.business_id,
	              code = excluded.code,
	              session_id = excluded.session_id,
	              updated_at = excluded.updated_at`)

	_, err := r.db.ExecContext(ctx, query,
		acc.WABAID,
		acc.PhoneNumberID,
		acc.BusinessID,
		code,
		acc.SessionID,
		r.dialect.Time(acc.CreatedAt),
		r.dialect.Time(acc.UpdatedAt),
	)
	return err
}

func (r *accountRepository) Get(ctx context.Context, wabaID string) (*repository.Account, error) {
	query := r.dialect.Rebind(`SELECT ` + accountColumns + ` FROM accounts WHERE waba_id = ?`)

	acc, err := scanAccount(r.db.QueryRowContext(ctx, query, wabaID))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	if err := r.open(acc); err != nil {
		return nil, err
	}
	return acc, nil
}

func (r *accountRepository) List(ctx context.Context) ([]repository.Account, error) {
	rows, err := r.db.QueryContext(ctx, `SELECT `+accountColumns+` FROM accounts ORDER BY updated_at DESC`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var accounts []repository.Account
	for rows.Next() {
		acc, err := scanAccount(rows)
		if err != nil {
			return nil, err
		}
		if err := r.open(acc); err != nil {
			return nil, err
		}
		accounts = append(accounts, *acc)
	}
	return accounts, rows.Err()
}

func (r *accountRepository) Delete(ctx context.Context, wabaID string) error {
	result, err := r.db.ExecContext(ctx, r.dialect.Rebind(`DELETE FROM accounts WHERE waba_id = ?`), wabaID)
	if err != nil {
		return err
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if rows == 0 {
		return sql.ErrNoRows
	}
	return nil
}

func (r *accountRepository) open(acc *repository.Account) error {
	if r.sealer == nil {
		return nil
	}
	code, err := r.sealer.Open(acc.Code)
	if err != nil {
		return fmt.Errorf("failed to open code for %s: %w", acc.WABAID, err)
	}
	acc.Code = code
	return nil
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanAccount(row rowScanner) (*repository.Account, error) {
	var acc repository.Account
	var created, updated dbTime
	if err := row.Scan(
		&acc.WABAID,
		&acc.PhoneNumberID,
		&acc.BusinessID,
		&acc.Code,
		&acc.SessionID,
		&created,
		&updated,
	); err != nil {
		return nil, err
	}
	acc.CreatedAt = created.Time
	acc.UpdatedAt = updated.Time
	return &acc, nil
}
