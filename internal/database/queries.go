package database

// User queries
const (
	SelectUserQuery = `
		SELECT id, plan, plan_expires_at, status, created_at
		FROM users
		WHERE id = ?
	`

	UpsertUserQuery = `
		INSERT INTO users (id, plan, plan_expires_at, status, created_at)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			plan = excluded.plan,
			plan_expires_at = excluded.plan_expires_at,
			status = excluded.status
	`
)

// Linked account queries
const (
	accountColumns = `id, user_id, platform, credential, display_name, status, last_seen, created_at, updated_at`

	InsertAccountQuery = `
		INSERT INTO linked_accounts (
			user_id, platform, credential, display_name, status, last_seen, created_at, updated_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	`

	SelectAccountQuery = `SELECT ` + accountColumns + ` FROM linked_accounts WHERE id = ?`

	SelectAccountsByStatusQuery = `SELECT ` + accountColumns + ` FROM linked_accounts WHERE status = ? ORDER BY id`

	SelectAccountsByUserQuery = `SELECT ` + accountColumns + ` FROM linked_accounts WHERE user_id = ? ORDER BY id`

	CountLinkedAccountsQuery = `
		SELECT COUNT(*) FROM linked_accounts
		WHERE user_id = ? AND platform = ? AND status IN ('active', 'disconnected')
	`

	UpdateAccountStatusQuery = `UPDATE linked_accounts SET status = ?, updated_at = ? WHERE id = ?`

	UpdateAccountLastSeenQuery = `UPDATE linked_accounts SET last_seen = ?, updated_at = ? WHERE id = ?`
)

// Forwarding pair queries
const (
	pairColumns = `id, user_id, source_account_id, destination_account_id, source_channel,
		destination_channel, pair_type, status, delay_seconds, silent, copy_mode,
		filter_keywords, exclude_keywords, custom_prefix, custom_suffix,
		remove_header, remove_footer, custom_header, custom_footer, created_at, updated_at`

	InsertPairQuery = `
		INSERT INTO forwarding_pairs (
			user_id, source_account_id, destination_account_id, source_channel,
			destination_channel, pair_type, status, delay_seconds, silent, copy_mode,
			filter_keywords, exclude_keywords, custom_prefix, custom_suffix,
			remove_header, remove_footer, custom_header, custom_footer, created_at, updated_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`

	SelectPairQuery = `SELECT ` + pairColumns + ` FROM forwarding_pairs WHERE id = ?`

	SelectPairsByUserQuery = `SELECT ` + pairColumns + ` FROM forwarding_pairs WHERE user_id = ? ORDER BY id`

	SelectPairsByAccountQuery = `SELECT ` + pairColumns + ` FROM forwarding_pairs
		WHERE source_account_id = ? OR destination_account_id = ? ORDER BY id`

	CountActivePairsQuery = `SELECT COUNT(*) FROM forwarding_pairs WHERE user_id = ? AND status = 'active'`

	PairRouteExistsQuery = `
		SELECT COUNT(*) FROM forwarding_pairs
		WHERE user_id = ? AND source_channel = ? AND destination_channel = ?
	`

	UpdatePairStatusQuery = `UPDATE forwarding_pairs SET status = ?, updated_at = ? WHERE id = ?`

	DeletePairQuery = `DELETE FROM forwarding_pairs WHERE id = ?`
)

// Job ledger queries. Every transition is conditional on the current status
// so concurrent workers and the monitor cannot overwrite each other.
const (
	jobColumns = `id, user_id, task_type, status, priority, queue_name, payload, result, error,
		retry_count, max_retries, scheduled_at, created_at, started_at, completed_at`

	InsertJobQuery = `
		INSERT INTO jobs (
			id, user_id, task_type, status, priority, queue_name, payload,
			retry_count, max_retries, scheduled_at, created_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`

	SelectJobQuery = `SELECT ` + jobColumns + ` FROM jobs WHERE id = ?`

	ClaimJobQuery = `
		UPDATE jobs SET status = 'processing', started_at = ?
		WHERE id = ? AND status = 'pending'
	`

	CompleteJobQuery = `
		UPDATE jobs SET status = 'completed', result = ?, error = '', completed_at = ?
		WHERE id = ? AND status = 'processing'
	`

	FailJobQuery = `
		UPDATE jobs SET status = 'failed', error = ?, completed_at = ?
		WHERE id = ? AND status IN ('pending', 'processing')
	`

	RequeueJobQuery = `
		UPDATE jobs SET status = 'pending', error = ?, retry_count = retry_count + 1,
			scheduled_at = ?, started_at = NULL
		WHERE id = ? AND status = 'processing' AND retry_count < max_retries
	`

	DeferJobQuery = `
		UPDATE jobs SET status = 'pending', scheduled_at = ?, started_at = NULL
		WHERE id = ? AND status = 'processing'
	`

	CancelJobQuery = `
		UPDATE jobs SET status = 'cancelled', error = ?, completed_at = ?
		WHERE id = ? AND status IN ('pending', 'processing')
	`

	RetryJobQuery = `
		UPDATE jobs SET status = 'pending', error = '', result = NULL,
			retry_count = retry_count + 1, scheduled_at = NULL,
			started_at = NULL, completed_at = NULL
		WHERE id = ? AND status = 'failed' AND retry_count < max_retries
	`

	SelectStuckJobsQuery = `SELECT ` + jobColumns + ` FROM jobs
		WHERE status = 'processing' AND started_at < ?
		ORDER BY started_at LIMIT ?`

	SelectOrphanedJobsQuery = `SELECT ` + jobColumns + ` FROM jobs
		WHERE status = 'pending' AND created_at < ?
			AND (scheduled_at IS NULL OR scheduled_at < ?)
		ORDER BY created_at LIMIT ?`

	CountJobsByStatusQuery = `SELECT status, COUNT(*) FROM jobs GROUP BY status`

	DeleteTerminalJobsQuery = `
		DELETE FROM jobs
		WHERE status IN ('completed', 'failed', 'cancelled') AND completed_at < ?
	`
)

// Log queries
const (
	InsertMessageLogQuery = `
		INSERT INTO message_logs (
			pair_id, user_id, source_message_id, destination_message_id, message_type,
			status, skip_reason, message_size, has_media, media_type, processing_ms,
			error_message, created_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`

	SelectMessageLogsByPairQuery = `
		SELECT id, pair_id, user_id, source_message_id, destination_message_id, message_type,
			status, skip_reason, message_size, has_media, media_type, processing_ms,
			error_message, created_at
		FROM message_logs WHERE pair_id = ? ORDER BY id
	`

	DeleteMessageLogsQuery = `DELETE FROM message_logs WHERE created_at < ?`

	InsertErrorLogQuery = `
		INSERT INTO error_logs (
			user_id, account_id, job_id, error_type, error_message, severity, resolved, created_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	`

	SelectErrorLogsByJobQuery = `
		SELECT id, user_id, account_id, job_id, error_type, error_message, severity, resolved, created_at
		FROM error_logs WHERE job_id = ? ORDER BY id
	`

	DeleteResolvedErrorLogsQuery = `
		DELETE FROM error_logs
		WHERE created_at < ? AND resolved = TRUE AND severity != 'critical'
	`
)
