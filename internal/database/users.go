package database

import (
	"context"
	"database/sql"
	"errors"
	"strconv"

	appErrors "telxfwd/internal/errors"
	"telxfwd/internal/models"
)

func (d *Database) GetUser(ctx context.Context, id int64) (*models.User, error) {
	var user models.User
	var expires sql.NullTime

	err := d.db.QueryRowContext(ctx, SelectUserQuery, id).Scan(
		&user.ID, &user.Plan, &expires, &user.Status, &user.CreatedAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, appErrors.NewNotFoundError("user", strconv.FormatInt(id, 10))
	}
	if err != nil {
		return nil, appErrors.NewDatabaseError("get user", err)
	}

	user.PlanExpiresAt = timePtr(expires)
	return &user, nil
}

// SaveUser inserts the user or updates its plan and status.
func (d *Database) SaveUser(ctx context.Context, user *models.User) error {
	if user.CreatedAt.IsZero() {
		user.CreatedAt = d.now()
	}
	if user.Status == "" {
		user.Status = models.UserStatusActive
	}

	return retryableDBOperationNoReturn(ctx, func() error {
		_, err := d.db.ExecContext(ctx, UpsertUserQuery,
			user.ID, user.Plan, nullTime(user.PlanExpiresAt), user.Status, user.CreatedAt.UTC())
		return err
	}, "save user")
}
