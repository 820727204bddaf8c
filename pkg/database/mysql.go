package database

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "github.com/go-sql-driver/mysql"
	"github.com/sirupsen/logrus"

	"callinsight-server/pkg/config"
	"callinsight-server/pkg/errors"
)

// MySQLRepository is the MySQL-backed CallRepository.
type MySQLRepository struct {
	db           *sql.DB
	logger       *logrus.Logger
	queryTimeout time.Duration
}

// NewMySQLRepository opens the connection pool, verifies connectivity and
// runs migrations.
func NewMySQLRepository(logger *logrus.Logger, cfg config.DatabaseConfig) (*MySQLRepository, error) {
	dsn := fmt.Sprintf("%s:%s@tcp(%s:%d)/%s?charset=utf8mb4&parseTime=true&loc=UTC",
		cfg.Username,
		cfg.Password,
		cfg.Host,
		cfg.Port,
		cfg.Database,
	)

	db, err := sql.Open("mysql", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database connection: %w", err)
	}

	db.SetMaxOpenConns(cfg.MaxOpenConns)
	db.SetMaxIdleConns(cfg.MaxIdleConns)
	db.SetConnMaxLifetime(cfg.ConnMaxLifetime)

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	repo := &MySQLRepository{
		db:           db,
		logger:       logger,
		queryTimeout: cfg.QueryTimeout,
	}

	if err := repo.migrate(); err != nil {
		db.Close()
		return nil, err
	}

	logger.WithFields(logrus.Fields{
		"host":     cfg.Host,
		"port":     cfg.Port,
		"database": cfg.Database,
	}).Info("Connected to MySQL database")

	return repo, nil
}

// Close closes the connection pool.
func (r *MySQLRepository) Close() error {
	if r.db != nil {
		return r.db.Close()
	}
	return nil
}

// Health checks database connectivity.
func (r *MySQLRepository) Health(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, r.queryTimeout)
	defer cancel()

	if err := r.db.PingContext(ctx); err != nil {
		return fmt.Errorf("database health check failed: %w", err)
	}
	return nil
}

func (r *MySQLRepository) migrate() error {
	migrations := []string{
		createCallsTable,
		createSegmentsTable,
		createScoresTable,
		createFlagsTable,
	}

	for i, migration := range migrations {
		r.logger.WithField("migration", i+1).Debug("Running migration")

		if _, err := r.db.Exec(migration); err != nil {
			return fmt.Errorf("migration %d failed: %w", i+1, err)
		}
	}

	r.logger.Info("Database migrations completed successfully")
	return nil
}

func (r *MySQLRepository) withTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(ctx, r.queryTimeout)
}

// CreateCall inserts a new call record.
func (r *MySQLRepository) CreateCall(ctx context.Context, call *Call) error {
	ctx, cancel := r.withTimeout(ctx)
	defer cancel()

	_, err := r.db.ExecContext(ctx, `
		INSERT INTO calls (id, storage_key, audio_location, filename, duration, status, uploaded_at, processed_at, error_message)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		call.ID, call.StorageKey, call.AudioLocation, call.Filename, call.Duration,
		string(call.Status), call.UploadedAt, call.ProcessedAt, call.ErrorMessage,
	)
	if err != nil {
		return fmt.Errorf("failed to insert call: %w", err)
	}
	return nil
}

// GetCall fetches one call by ID, returning ErrCallNotFound when absent.
func (r *MySQLRepository) GetCall(ctx context.Context, id string) (*Call, error) {
	ctx, cancel := r.withTimeout(ctx)
	defer cancel()

	call := &Call{}
	var status string
	err := r.db.QueryRowContext(ctx, `
		SELECT id, storage_key, audio_location, filename, duration, status, uploaded_at, processed_at, error_message
		FROM calls WHERE id = ?`, id,
	).Scan(&call.ID, &call.StorageKey, &call.AudioLocation, &call.Filename, &call.Duration,
		&status, &call.UploadedAt, &call.ProcessedAt, &call.ErrorMessage)
	if err == sql.ErrNoRows {
		return nil, errors.NewCallNotFound(id)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to query call: %w", err)
	}

	call.Status = ProcessingStatus(status)
	return call, nil
}

// ListCalls returns calls matching the filters, newest first.
func (r *MySQLRepository) ListCalls(ctx context.Context, filters CallFilters) ([]*Call, error) {
	ctx, cancel := r.withTimeout(ctx)
	defer cancel()

	query := `
		SELECT id, storage_key, audio_location, filename, duration, status, uploaded_at, processed_at, error_message
		FROM calls WHERE 1=1`
	var args []interface{}

	if filters.Status != "" {
		query += " AND status = ?"
		args = append(args, string(filters.Status))
	}
	if filters.UploadedFrom != nil {
		query += " AND uploaded_at >= ?"
		args = append(args, *filters.UploadedFrom)
	}
	if filters.UploadedTo != nil {
		query += " AND uploaded_at <= ?"
		args = append(args, *filters.UploadedTo)
	}

	query += " ORDER BY uploaded_at DESC"
	if filters.Limit > 0 {
		query += " LIMIT ?"
		args = append(args, filters.Limit)
		if filters.Offset > 0 {
			query += " OFFSET ?"
			args = append(args, filters.Offset)
		}
	}

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query calls: %w", err)
	}
	defer rows.Close()

	var calls []*Call
	for rows.Next() {
		call := &Call{}
		var status string
		if err := rows.Scan(&call.ID, &call.StorageKey, &call.AudioLocation, &call.Filename, &call.Duration,
			&status, &call.UploadedAt, &call.ProcessedAt, &call.ErrorMessage); err != nil {
			return nil, fmt.Errorf("failed to scan call row: %w", err)
		}
		call.Status = ProcessingStatus(status)
		calls = append(calls, call)
	}
	return calls, rows.Err()
}

// UpdateCallStatus transitions a call's status.
func (r *MySQLRepository) UpdateCallStatus(ctx context.Context, id string, status ProcessingStatus, errDetail *string, completedAt *time.Time) error {
	ctx, cancel := r.withTimeout(ctx)
	defer cancel()

	result, err := r.db.ExecContext(ctx, `
		UPDATE calls SET status = ?, error_message = ?, processed_at = ? WHERE id = ?`,
		string(status), errDetail, completedAt, id,
	)
	if err != nil {
		return fmt.Errorf("failed to update call status: %w", err)
	}

	affected, err := result.RowsAffected()
	if err == nil && affected == 0 {
		if _, getErr := r.GetCall(ctx, id); getErr != nil {
			return getErr
		}
	}
	return nil
}

// ReplaceTranscriptSegments swaps the call's transcript for the given
// segments in one transaction, so a re-run never leaves records from the
// previous run behind.
func (r *MySQLRepository) ReplaceTranscriptSegments(ctx context.Context, callID string, segments []TranscriptSegment) error {
	ctx, cancel := r.withTimeout(ctx)
	defer cancel()

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `DELETE FROM transcript_segments WHERE call_id = ?`, callID); err != nil {
		return fmt.Errorf("failed to clear previous transcript segments: %w", err)
	}

	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO transcript_segments (id, call_id, speaker, text, start_time, end_time, sentiment, sentiment_score)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return fmt.Errorf("failed to prepare segment insert: %w", err)
	}
	defer stmt.Close()

	for _, seg := range segments {
		if _, err := stmt.ExecContext(ctx, seg.ID, callID, string(seg.Speaker), seg.Text,
			seg.StartTime, seg.EndTime, string(seg.Sentiment), seg.SentimentScore); err != nil {
			return fmt.Errorf("failed to insert transcript segment: %w", err)
		}
	}

	return tx.Commit()
}

// UpsertQualityScore replaces the call's quality score.
func (r *MySQLRepository) UpsertQualityScore(ctx context.Context, callID string, score *QualityScore) error {
	ctx, cancel := r.withTimeout(ctx)
	defer cancel()

	_, err := r.db.ExecContext(ctx, `
		INSERT INTO quality_scores
			(id, call_id, overall_score, politeness_score, clarity_score, empathy_score, resolution_score,
			 script_adherence_score, avg_sentiment, silence_duration, overlap_duration, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, NOW())
		ON DUPLICATE KEY UPDATE
			overall_score = VALUES(overall_score),
			politeness_score = VALUES(politeness_score),
			clarity_score = VALUES(clarity_score),
			empathy_score = VALUES(empathy_score),
			resolution_score = VALUES(resolution_score),
			script_adherence_score = VALUES(script_adherence_score),
			avg_sentiment = VALUES(avg_sentiment),
			silence_duration = VALUES(silence_duration),
			overlap_duration = VALUES(overlap_duration)`,
		score.ID, callID, score.OverallScore, score.PolitenessScore, score.ClarityScore,
		score.EmpathyScore, score.ResolutionScore, score.ScriptAdherence,
		score.AvgSentiment, score.SilenceDuration, score.OverlapDuration,
	)
	if err != nil {
		return fmt.Errorf("failed to upsert quality score: %w", err)
	}
	return nil
}

// ReplaceComplianceFlags swaps the call's compliance flags for the given set
// in one transaction.
func (r *MySQLRepository) ReplaceComplianceFlags(ctx context.Context, callID string, flags []ComplianceFlag) error {
	ctx, cancel := r.withTimeout(ctx)
	defer cancel()

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `DELETE FROM compliance_flags WHERE call_id = ?`, callID); err != nil {
		return fmt.Errorf("failed to clear previous compliance flags: %w", err)
	}

	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO compliance_flags (id, call_id, flag_type, description, severity, timestamp, created_at)
		VALUES (?, ?, ?, ?, ?, ?, NOW())`)
	if err != nil {
		return fmt.Errorf("failed to prepare flag insert: %w", err)
	}
	defer stmt.Close()

	for _, flag := range flags {
		if _, err := stmt.ExecContext(ctx, flag.ID, callID, flag.FlagType, flag.Description,
			string(flag.Severity), flag.Timestamp); err != nil {
			return fmt.Errorf("failed to insert compliance flag: %w", err)
		}
	}

	return tx.Commit()
}

// GetTranscriptSegments returns the call's segments ordered by start time.
func (r *MySQLRepository) GetTranscriptSegments(ctx context.Context, callID string) ([]TranscriptSegment, error) {
	ctx, cancel := r.withTimeout(ctx)
	defer cancel()

	rows, err := r.db.QueryContext(ctx, `
		SELECT id, call_id, speaker, text, start_time, end_time, sentiment, sentiment_score
		FROM transcript_segments WHERE call_id = ? ORDER BY start_time ASC`, callID)
	if err != nil {
		return nil, fmt.Errorf("failed to query transcript segments: %w", err)
	}
	defer rows.Close()

	var segments []TranscriptSegment
	for rows.Next() {
		var seg TranscriptSegment
		var speaker, sentiment string
		if err := rows.Scan(&seg.ID, &seg.CallID, &speaker, &seg.Text,
			&seg.StartTime, &seg.EndTime, &sentiment, &seg.SentimentScore); err != nil {
			return nil, fmt.Errorf("failed to scan segment row: %w", err)
		}
		seg.Speaker = SpeakerRole(speaker)
		seg.Sentiment = Sentiment(sentiment)
		segments = append(segments, seg)
	}
	return segments, rows.Err()
}

// GetQualityScore returns the call's quality score, nil when absent.
func (r *MySQLRepository) GetQualityScore(ctx context.Context, callID string) (*QualityScore, error) {
	ctx, cancel := r.withTimeout(ctx)
	defer cancel()

	score := &QualityScore{}
	err := r.db.QueryRowContext(ctx, `
		SELECT id, call_id, overall_score, politeness_score, clarity_score, empathy_score, resolution_score,
		       script_adherence_score, avg_sentiment, silence_duration, overlap_duration, created_at
		FROM quality_scores WHERE call_id = ?`, callID,
	).Scan(&score.ID, &score.CallID, &score.OverallScore, &score.PolitenessScore, &score.ClarityScore,
		&score.EmpathyScore, &score.ResolutionScore, &score.ScriptAdherence,
		&score.AvgSentiment, &score.SilenceDuration, &score.OverlapDuration, &score.CreatedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to query quality score: %w", err)
	}
	return score, nil
}

// GetComplianceFlags returns the call's compliance flags.
func (r *MySQLRepository) GetComplianceFlags(ctx context.Context, callID string) ([]ComplianceFlag, error) {
	ctx, cancel := r.withTimeout(ctx)
	defer cancel()

	rows, err := r.db.QueryContext(ctx, `
		SELECT id, call_id, flag_type, description, severity, timestamp, created_at
		FROM compliance_flags WHERE call_id = ?`, callID)
	if err != nil {
		return nil, fmt.Errorf("failed to query compliance flags: %w", err)
	}
	defer rows.Close()

	var flags []ComplianceFlag
	for rows.Next() {
		var flag ComplianceFlag
		var severity string
		if err := rows.Scan(&flag.ID, &flag.CallID, &flag.FlagType, &flag.Description,
			&severity, &flag.Timestamp, &flag.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan flag row: %w", err)
		}
		flag.Severity = Severity(severity)
		flags = append(flags, flag)
	}
	return flags, rows.Err()
}

// DeleteCall removes the call and all derived records in one transaction.
// The delete order (flags, segments, score, call) reproduces the cascade the
// reporting layer expects.
func (r *MySQLRepository) DeleteCall(ctx context.Context, id string) error {
	ctx, cancel := r.withTimeout(ctx)
	defer cancel()

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	for _, stmt := range []string{
		"DELETE FROM compliance_flags WHERE call_id = ?",
		"DELETE FROM transcript_segments WHERE call_id = ?",
		"DELETE FROM quality_scores WHERE call_id = ?",
	} {
		if _, err := tx.ExecContext(ctx, stmt, id); err != nil {
			return fmt.Errorf("failed to delete derived records: %w", err)
		}
	}

	result, err := tx.ExecContext(ctx, "DELETE FROM calls WHERE id = ?", id)
	if err != nil {
		return fmt.Errorf("failed to delete call: %w", err)
	}
	affected, err := result.RowsAffected()
	if err == nil && affected == 0 {
		return errors.NewCallNotFound(id)
	}

	return tx.Commit()
}

// Database schema definitions
const createCallsTable = `
CREATE TABLE IF NOT EXISTS calls (
    id VARCHAR(36) PRIMARY KEY,
    storage_key VARCHAR(512) NOT NULL,
    audio_location VARCHAR(1024) NOT NULL,
    filename VARCHAR(255) NOT NULL,
    duration INT NOT NULL DEFAULT 0,
    status ENUM('uploaded', 'processing', 'completed', 'failed') NOT NULL DEFAULT 'uploaded',
    uploaded_at TIMESTAMP NOT NULL,
    processed_at TIMESTAMP NULL,
    error_message TEXT NULL,
    INDEX idx_status (status),
    INDEX idx_uploaded_at (uploaded_at)
) ENGINE=InnoDB DEFAULT CHARSET=utf8mb4 COLLATE=utf8mb4_unicode_ci;
`

const createSegmentsTable = `
CREATE TABLE IF NOT EXISTS transcript_segments (
    id VARCHAR(36) PRIMARY KEY,
    call_id VARCHAR(36) NOT NULL,
    speaker ENUM('Agent', 'Customer', 'Unknown') NOT NULL,
    text TEXT NOT NULL,
    start_time DOUBLE NOT NULL,
    end_time DOUBLE NOT NULL,
    sentiment ENUM('positive', 'negative', 'neutral', 'frustrated', 'satisfied') NOT NULL,
    sentiment_score DOUBLE NOT NULL DEFAULT 0,
    FOREIGN KEY (call_id) REFERENCES calls(id),
    INDEX idx_call_id (call_id),
    INDEX idx_start_time (start_time)
) ENGINE=InnoDB DEFAULT CHARSET=utf8mb4 COLLATE=utf8mb4_unicode_ci;
`

const createScoresTable = `
CREATE TABLE IF NOT EXISTS quality_scores (
    id VARCHAR(36) PRIMARY KEY,
    call_id VARCHAR(36) NOT NULL UNIQUE,
    overall_score DOUBLE NOT NULL,
    politeness_score DOUBLE NOT NULL,
    clarity_score DOUBLE NOT NULL,
    empathy_score DOUBLE NOT NULL,
    resolution_score DOUBLE NOT NULL,
    script_adherence_score DOUBLE NULL,
    avg_sentiment DOUBLE NOT NULL DEFAULT 0,
    silence_duration DOUBLE NOT NULL DEFAULT 0,
    overlap_duration DOUBLE NOT NULL DEFAULT 0,
    created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP,
    FOREIGN KEY (call_id) REFERENCES calls(id),
    INDEX idx_call_id (call_id)
) ENGINE=InnoDB DEFAULT CHARSET=utf8mb4 COLLATE=utf8mb4_unicode_ci;
`

const createFlagsTable = `
CREATE TABLE IF NOT EXISTS compliance_flags (
    id VARCHAR(36) PRIMARY KEY,
    call_id VARCHAR(36) NOT NULL,
    flag_type VARCHAR(100) NOT NULL,
    description TEXT NOT NULL,
    severity ENUM('low', 'medium', 'high', 'critical') NOT NULL,
    timestamp DOUBLE NULL,
    created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP,
    FOREIGN KEY (call_id) REFERENCES calls(id),
    INDEX idx_call_id (call_id),
    INDEX idx_flag_type (flag_type)
) ENGINE=InnoDB DEFAULT CHARSET=utf8mb4 COLLATE=utf8mb4_unicode_ci;
`
