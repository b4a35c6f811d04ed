package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strconv"
	"time"

	appErrors "telxfwd/internal/errors"
	"telxfwd/internal/models"
)

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func (d *Database) CreateAccount(ctx context.Context, account *models.LinkedAccount) error {
	credential, err := d.encryptor.Encrypt(account.Credential)
	if err != nil {
		return fmt.Errorf("failed to encrypt credential: %w", err)
	}

	now := d.now()
	account.CreatedAt = now
	account.UpdatedAt = now
	if account.Status == "" {
		account.Status = models.AccountStatusPendingVerification
	}

	return retryableDBOperationNoReturn(ctx, func() error {
		res, err := d.db.ExecContext(ctx, InsertAccountQuery,
			account.UserID, account.Platform, credential, account.DisplayName,
			account.Status, nullTime(account.LastSeen), now, now)
		if err != nil {
			return err
		}
		account.ID, err = res.LastInsertId()
		return err
	}, "create account")
}

func (d *Database) GetAccount(ctx context.Context, id int64) (*models.LinkedAccount, error) {
	account, err := d.scanAccount(d.db.QueryRowContext(ctx, SelectAccountQuery, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, appErrors.NewNotFoundError("account", strconv.FormatInt(id, 10))
	}
	if err != nil {
		return nil, appErrors.NewDatabaseError("get account", err)
	}
	return account, nil
}

func (d *Database) ListAccountsByStatus(ctx context.Context, status models.AccountStatus) ([]*models.LinkedAccount, error) {
	return d.queryAccounts(ctx, SelectAccountsByStatusQuery, status)
}

func (d *Database) ListAccountsByUser(ctx context.Context, userID int64) ([]*models.LinkedAccount, error) {
	return d.queryAccounts(ctx, SelectAccountsByUserQuery, userID)
}

// CountLinkedAccounts counts the accounts that hold a plan slot on a platform.
func (d *Database) CountLinkedAccounts(ctx context.Context, userID int64, platform models.Platform) (int, error) {
	var count int
	if err := d.db.QueryRowContext(ctx, CountLinkedAccountsQuery, userID, platform).Scan(&count); err != nil {
		return 0, appErrors.NewDatabaseError("count accounts", err)
	}
	return count, nil
}

func (d *Database) UpdateAccountStatus(ctx context.Context, id int64, status models.AccountStatus) error {
	return retryableDBOperationNoReturn(ctx, func() error {
		_, err := d.db.ExecContext(ctx, UpdateAccountStatusQuery, status, d.now(), id)
		return err
	}, "update account status")
}

func (d *Database) TouchAccount(ctx context.Context, id int64, seen time.Time) error {
	return retryableDBOperationNoReturn(ctx, func() error {
		_, err := d.db.ExecContext(ctx, UpdateAccountLastSeenQuery, seen.UTC(), d.now(), id)
		return err
	}, "touch account")
}

func (d *Database) queryAccounts(ctx context.Context, query string, args ...interface{}) ([]*models.LinkedAccount, error) {
	rows, err := d.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, appErrors.NewDatabaseError("list accounts", err)
	}
	defer rows.Close()

	var accounts []*models.LinkedAccount
	for rows.Next() {
		account, err := d.scanAccount(rows)
		if err != nil {
			return nil, appErrors.NewDatabaseError("scan account", err)
		}
		accounts = append(accounts, account)
	}
	if err := rows.Err(); err != nil {
		return nil, appErrors.NewDatabaseError("list accounts", err)
	}
	return accounts, nil
}

func (d *Database) scanAccount(row rowScanner) (*models.LinkedAccount, error) {
	var account models.LinkedAccount
	var credential string
	var lastSeen sql.NullTime

	if err := row.Scan(
		&account.ID, &account.UserID, &account.Platform, &credential, &account.DisplayName,
		&account.Status, &lastSeen, &account.CreatedAt, &account.UpdatedAt,
	); err != nil {
		return nil, err
	}

	plain, err := d.encryptor.Decrypt(credential)
	if err != nil {
		return nil, fmt.Errorf("failed to decrypt credential: %w", err)
	}
	account.Credential = plain
	account.LastSeen = timePtr(lastSeen)

	return &account, nil
}
