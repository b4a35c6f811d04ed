package database

import (
	"context"
	"database/sql"
	"time"

	appErrors "telxfwd/internal/errors"
	"telxfwd/internal/models"
)

func (d *Database) InsertMessageLog(ctx context.Context, entry *models.MessageLog) error {
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = d.now()
	}
	if entry.MessageType == "" {
		entry.MessageType = "text"
	}

	err := retryableDBOperationNoReturn(ctx, func() error {
		res, err := d.db.ExecContext(ctx, InsertMessageLogQuery,
			entry.PairID, entry.UserID, entry.SourceMessageID, entry.DestinationMessageID,
			entry.MessageType, entry.Status, entry.SkipReason, entry.MessageSize,
			entry.HasMedia, entry.MediaType, entry.ProcessingMs, entry.ErrorMessage,
			entry.CreatedAt.UTC())
		if err != nil {
			return err
		}
		entry.ID, err = res.LastInsertId()
		return err
	}, "insert message log")
	if err != nil {
		return appErrors.NewDatabaseError("insert message log", err)
	}
	return nil
}

func (d *Database) ListMessageLogs(ctx context.Context, pairID int64) ([]*models.MessageLog, error) {
	rows, err := d.db.QueryContext(ctx, SelectMessageLogsByPairQuery, pairID)
	if err != nil {
		return nil, appErrors.NewDatabaseError("list message logs", err)
	}
	defer rows.Close()

	var logs []*models.MessageLog
	for rows.Next() {
		var entry models.MessageLog
		if err := rows.Scan(
			&entry.ID, &entry.PairID, &entry.UserID, &entry.SourceMessageID,
			&entry.DestinationMessageID, &entry.MessageType, &entry.Status, &entry.SkipReason,
			&entry.MessageSize, &entry.HasMedia, &entry.MediaType, &entry.ProcessingMs,
			&entry.ErrorMessage, &entry.CreatedAt,
		); err != nil {
			return nil, appErrors.NewDatabaseError("scan message log", err)
		}
		logs = append(logs, &entry)
	}
	if err := rows.Err(); err != nil {
		return nil, appErrors.NewDatabaseError("list message logs", err)
	}
	return logs, nil
}

func (d *Database) DeleteMessageLogsBefore(ctx context.Context, before time.Time) (int64, error) {
	return d.deleteBefore(ctx, "delete message logs", DeleteMessageLogsQuery, before)
}

// DeleteResolvedErrorLogsBefore drops resolved, non-critical error rows.
func (d *Database) DeleteResolvedErrorLogsBefore(ctx context.Context, before time.Time) (int64, error) {
	return d.deleteBefore(ctx, "delete error logs", DeleteResolvedErrorLogsQuery, before)
}

func (d *Database) InsertErrorLog(ctx context.Context, entry *models.ErrorLog) error {
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = d.now()
	}
	if entry.Severity == "" {
		entry.Severity = models.SeverityWarning
	}

	err := retryableDBOperationNoReturn(ctx, func() error {
		res, err := d.db.ExecContext(ctx, InsertErrorLogQuery,
			nullInt64(entry.UserID), nullInt64(entry.AccountID), entry.JobID, entry.ErrorType,
			entry.ErrorMessage, entry.Severity, entry.Resolved, entry.CreatedAt.UTC())
		if err != nil {
			return err
		}
		entry.ID, err = res.LastInsertId()
		return err
	}, "insert error log")
	if err != nil {
		return appErrors.NewDatabaseError("insert error log", err)
	}
	return nil
}

func (d *Database) ListErrorLogsByJob(ctx context.Context, jobID string) ([]*models.ErrorLog, error) {
	rows, err := d.db.QueryContext(ctx, SelectErrorLogsByJobQuery, jobID)
	if err != nil {
		return nil, appErrors.NewDatabaseError("list error logs", err)
	}
	defer rows.Close()

	var logs []*models.ErrorLog
	for rows.Next() {
		var entry models.ErrorLog
		var userID, accountID sql.NullInt64
		if err := rows.Scan(
			&entry.ID, &userID, &accountID, &entry.JobID, &entry.ErrorType,
			&entry.ErrorMessage, &entry.Severity, &entry.Resolved, &entry.CreatedAt,
		); err != nil {
			return nil, appErrors.NewDatabaseError("scan error log", err)
		}
		entry.UserID = int64Ptr(userID)
		entry.AccountID = int64Ptr(accountID)
		logs = append(logs, &entry)
	}
	if err := rows.Err(); err != nil {
		return nil, appErrors.NewDatabaseError("list error logs", err)
	}
	return logs, nil
}

func (d *Database) deleteBefore(ctx context.Context, name, query string, before time.Time) (int64, error) {
	n, err := retryableDBOperation(ctx, func() (int64, error) {
		res, err := d.db.ExecContext(ctx, query, before.UTC())
		if err != nil {
			return 0, err
		}
		return res.RowsAffected()
	}, name)
	if err != nil {
		return 0, appErrors.NewDatabaseError(name, err)
	}
	return n, nil
}
