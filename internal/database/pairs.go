package database

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"strconv"

	appErrors "telxfwd/internal/errors"
	"telxfwd/internal/models"
)

func (d *Database) CreatePair(ctx context.Context, pair *models.ForwardingPair) error {
	filters, err := encodeKeywords(pair.FilterKeywords)
	if err != nil {
		return err
	}
	excludes, err := encodeKeywords(pair.ExcludeKeywords)
	if err != nil {
		return err
	}

	now := d.now()
	pair.CreatedAt = now
	pair.UpdatedAt = now
	if pair.Status == "" {
		pair.Status = models.PairStatusActive
	}

	return retryableDBOperationNoReturn(ctx, func() error {
		res, err := d.db.ExecContext(ctx, InsertPairQuery,
			pair.UserID, nullInt64(pair.SourceAccountID), nullInt64(pair.DestinationAccountID),
			pair.SourceChannel, pair.DestinationChannel, pair.PairType, pair.Status,
			pair.DelaySeconds, pair.Silent, pair.CopyMode, filters, excludes,
			pair.CustomPrefix, pair.CustomSuffix, pair.RemoveHeader, pair.RemoveFooter,
			pair.CustomHeader, pair.CustomFooter, now, now)
		if err != nil {
			return err
		}
		pair.ID, err = res.LastInsertId()
		return err
	}, "create pair")
}

func (d *Database) GetPair(ctx context.Context, id int64) (*models.ForwardingPair, error) {
	pair, err := scanPair(d.db.QueryRowContext(ctx, SelectPairQuery, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, appErrors.NewNotFoundError("forwarding pair", strconv.FormatInt(id, 10))
	}
	if err != nil {
		return nil, appErrors.NewDatabaseError("get pair", err)
	}
	return pair, nil
}

func (d *Database) ListPairsByUser(ctx context.Context, userID int64) ([]*models.ForwardingPair, error) {
	return d.queryPairs(ctx, SelectPairsByUserQuery, userID)
}

// ListPairsByAccount returns pairs that read from or deliver to the account.
func (d *Database) ListPairsByAccount(ctx context.Context, accountID int64) ([]*models.ForwardingPair, error) {
	return d.queryPairs(ctx, SelectPairsByAccountQuery, accountID, accountID)
}

func (d *Database) CountActivePairs(ctx context.Context, userID int64) (int, error) {
	var count int
	if err := d.db.QueryRowContext(ctx, CountActivePairsQuery, userID).Scan(&count); err != nil {
		return 0, appErrors.NewDatabaseError("count pairs", err)
	}
	return count, nil
}

// PairRouteExists reports whether the user already mirrors source to destination.
func (d *Database) PairRouteExists(ctx context.Context, userID int64, source, destination string) (bool, error) {
	var count int
	if err := d.db.QueryRowContext(ctx, PairRouteExistsQuery, userID, source, destination).Scan(&count); err != nil {
		return false, appErrors.NewDatabaseError("check pair route", err)
	}
	return count > 0, nil
}

func (d *Database) UpdatePairStatus(ctx context.Context, id int64, status models.PairStatus) error {
	return retryableDBOperationNoReturn(ctx, func() error {
		_, err := d.db.ExecContext(ctx, UpdatePairStatusQuery, status, d.now(), id)
		return err
	}, "update pair status")
}

// DeletePair removes the pair; its message logs go with it.
func (d *Database) DeletePair(ctx context.Context, id int64) (bool, error) {
	return retryableDBOperation(ctx, func() (bool, error) {
		res, err := d.db.ExecContext(ctx, DeletePairQuery, id)
		if err != nil {
			return false, err
		}
		return rowsAffected(res)
	}, "delete pair")
}

func (d *Database) queryPairs(ctx context.Context, query string, args ...interface{}) ([]*models.ForwardingPair, error) {
	rows, err := d.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, appErrors.NewDatabaseError("list pairs", err)
	}
	defer rows.Close()

	var pairs []*models.ForwardingPair
	for rows.Next() {
		pair, err := scanPair(rows)
		if err != nil {
			return nil, appErrors.NewDatabaseError("scan pair", err)
		}
		pairs = append(pairs, pair)
	}
	if err := rows.Err(); err != nil {
		return nil, appErrors.NewDatabaseError("list pairs", err)
	}
	return pairs, nil
}

func scanPair(row rowScanner) (*models.ForwardingPair, error) {
	var pair models.ForwardingPair
	var source, destination sql.NullInt64
	var filters, excludes string

	if err := row.Scan(
		&pair.ID, &pair.UserID, &source, &destination, &pair.SourceChannel,
		&pair.DestinationChannel, &pair.PairType, &pair.Status, &pair.DelaySeconds,
		&pair.Silent, &pair.CopyMode, &filters, &excludes, &pair.CustomPrefix,
		&pair.CustomSuffix, &pair.RemoveHeader, &pair.RemoveFooter, &pair.CustomHeader,
		&pair.CustomFooter, &pair.CreatedAt, &pair.UpdatedAt,
	); err != nil {
		return nil, err
	}

	pair.SourceAccountID = int64Ptr(source)
	pair.DestinationAccountID = int64Ptr(destination)

	if err := json.Unmarshal([]byte(filters), &pair.FilterKeywords); err != nil {
		return nil, err
	}
	if err := json.Unmarshal([]byte(excludes), &pair.ExcludeKeywords); err != nil {
		return nil, err
	}

	return &pair, nil
}

func encodeKeywords(keywords []string) (string, error) {
	if len(keywords) == 0 {
		return "[]", nil
	}
	data, err := json.Marshal(keywords)
	if err != nil {
		return "", appErrors.NewInternalError("failed to encode keywords", err)
	}
	return string(data), nil
}
