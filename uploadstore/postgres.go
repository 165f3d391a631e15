package uploadstore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	_ "github.com/lib/pq"
)

// schema (created out of band by a migration, not by this package):
//
//	CREATE TABLE upload_records (
//		upload_id             text PRIMARY KEY,
//		upload_status         text NOT NULL,
//		file_status           text,
//		filename              text,
//		content_type          text,
//		detected_content_type text,
//		content_length        bigint,
//		checksum              text,
//		storage_bucket        text,
//		storage_key           text,
//		reference             text,
//		entity_type           text,
//		entity_id             text,
//		rejection_reason      text,
//		rejected_count        integer NOT NULL DEFAULT 0,
//		owner_user_id         text,
//		created_at            timestamptz NOT NULL,
//		updated_at            timestamptz NOT NULL,
//		completed_at          timestamptz
//	);
//	CREATE INDEX upload_records_reference_idx ON upload_records (reference);
//	CREATE INDEX upload_records_orphan_idx ON upload_records (upload_status, created_at);

type pgStore struct {
	db *sql.DB
}

// NewPostgresStore wraps an already-configured *sql.DB.
func NewPostgresStore(db *sql.DB) Store {
	return &pgStore{db: db}
}

// OpenPostgresStore opens a new connection pool from a DSN.
func OpenPostgresStore(dsn string) (Store, error) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("uploadstore: open postgres: %w", err)
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("uploadstore: ping postgres: %w", err)
	}
	return &pgStore{db: db}, nil
}

func (p *pgStore) Create(ctx context.Context, rec *Record) error {
	_, err := p.db.ExecContext(ctx, `
		INSERT INTO upload_records (
			upload_id, upload_status, file_status, filename, content_type,
			detected_content_type, content_length, checksum, storage_bucket,
			storage_key, reference, entity_type, entity_id, rejection_reason,
			rejected_count, owner_user_id, created_at, updated_at, completed_at
		) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16,$17,$18,$19)
	`, rec.UploadID, rec.UploadStatus, nullStr(string(rec.FileStatus)), rec.Filename, rec.ContentType,
		rec.DetectedContentType, rec.ContentLength, rec.Checksum, rec.StorageBucket,
		rec.StorageKey, rec.Reference, rec.EntityType, rec.EntityID, rec.RejectionReason,
		rec.RejectedCount, rec.OwnerUserID, rec.CreatedAt, rec.UpdatedAt, nullTime(rec.CompletedAt))
	if err != nil {
		if isUniqueViolation(err) {
			return ErrAlreadyExists
		}
		return fmt.Errorf("uploadstore: create %q: %w", rec.UploadID, err)
	}
	return nil
}

func (p *pgStore) Get(ctx context.Context, uploadID string) (*Record, error) {
	row := p.db.QueryRowContext(ctx, `
		SELECT upload_id, upload_status, file_status, filename, content_type,
			detected_content_type, content_length, checksum, storage_bucket,
			storage_key, reference, entity_type, entity_id, rejection_reason,
			rejected_count, owner_user_id, created_at, updated_at, completed_at
		FROM upload_records WHERE upload_id = $1
	`, uploadID)
	rec, err := scanRecord(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("uploadstore: get %q: %w", uploadID, err)
	}
	return rec, nil
}

func (p *pgStore) Update(ctx context.Context, rec *Record, expectedUpdatedAt time.Time) error {
	res, err := p.db.ExecContext(ctx, `
		UPDATE upload_records SET
			upload_status = $2, file_status = $3, filename = $4, content_type = $5,
			detected_content_type = $6, content_length = $7, checksum = $8,
			storage_bucket = $9, storage_key = $10, reference = $11, entity_type = $12,
			entity_id = $13, rejection_reason = $14, rejected_count = $15,
			owner_user_id = $16, updated_at = $17, completed_at = $18
		WHERE upload_id = $1 AND updated_at = $19
	`, rec.UploadID, rec.UploadStatus, nullStr(string(rec.FileStatus)), rec.Filename, rec.ContentType,
		rec.DetectedContentType, rec.ContentLength, rec.Checksum, rec.StorageBucket,
		rec.StorageKey, rec.Reference, rec.EntityType, rec.EntityID, rec.RejectionReason,
		rec.RejectedCount, rec.OwnerUserID, rec.UpdatedAt, nullTime(rec.CompletedAt), expectedUpdatedAt)
	if err != nil {
		return fmt.Errorf("uploadstore: update %q: %w", rec.UploadID, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("uploadstore: update %q: %w", rec.UploadID, err)
	}
	if n == 0 {
		if _, getErr := p.Get(ctx, rec.UploadID); errors.Is(getErr, ErrNotFound) {
			return ErrNotFound
		}
		return ErrStaleWrite
	}
	return nil
}

func (p *pgStore) ListByReference(ctx context.Context, reference string) ([]*Record, error) {
	rows, err := p.db.QueryContext(ctx, `
		SELECT upload_id, upload_status, file_status, filename, content_type,
			detected_content_type, content_length, checksum, storage_bucket,
			storage_key, reference, entity_type, entity_id, rejection_reason,
			rejected_count, owner_user_id, created_at, updated_at, completed_at
		FROM upload_records WHERE reference = $1 ORDER BY created_at DESC
	`, reference)
	if err != nil {
		return nil, fmt.Errorf("uploadstore: list_by_reference %q: %w", reference, err)
	}
	defer rows.Close()
	return scanRecords(rows)
}

func (p *pgStore) ListReadyForReference(ctx context.Context, reference string) ([]*Record, error) {
	rows, err := p.db.QueryContext(ctx, `
		SELECT upload_id, upload_status, file_status, filename, content_type,
			detected_content_type, content_length, checksum, storage_bucket,
			storage_key, reference, entity_type, entity_id, rejection_reason,
			rejected_count, owner_user_id, created_at, updated_at, completed_at
		FROM upload_records WHERE reference = $1 AND upload_status = 'ready'
		ORDER BY completed_at DESC
	`, reference)
	if err != nil {
		return nil, fmt.Errorf("uploadstore: list_ready_for_reference %q: %w", reference, err)
	}
	defer rows.Close()
	return scanRecords(rows)
}

func (p *pgStore) ListOrphaned(ctx context.Context, olderThan time.Time) ([]*Record, error) {
	rows, err := p.db.QueryContext(ctx, `
		SELECT upload_id, upload_status, file_status, filename, content_type,
			detected_content_type, content_length, checksum, storage_bucket,
			storage_key, reference, entity_type, entity_id, rejection_reason,
			rejected_count, owner_user_id, created_at, updated_at, completed_at
		FROM upload_records
		WHERE upload_status NOT IN ('ready', 'failed', 'deleted') AND created_at < $1
	`, olderThan)
	if err != nil {
		return nil, fmt.Errorf("uploadstore: list_orphaned: %w", err)
	}
	defer rows.Close()
	return scanRecords(rows)
}

func (p *pgStore) Close() error {
	return p.db.Close()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanRecord(row rowScanner) (*Record, error) {
	var rec Record
	var fileStatus, completedAt sql.NullString
	var completedAtTime sql.NullTime
	_ = completedAt
	err := row.Scan(
		&rec.UploadID, &rec.UploadStatus, &fileStatus, &rec.Filename, &rec.ContentType,
		&rec.DetectedContentType, &rec.ContentLength, &rec.Checksum, &rec.StorageBucket,
		&rec.StorageKey, &rec.Reference, &rec.EntityType, &rec.EntityID, &rec.RejectionReason,
		&rec.RejectedCount, &rec.OwnerUserID, &rec.CreatedAt, &rec.UpdatedAt, &completedAtTime,
	)
	if err != nil {
		return nil, err
	}
	if fileStatus.Valid {
		rec.FileStatus = FileStatus(fileStatus.String)
	}
	if completedAtTime.Valid {
		rec.CompletedAt = completedAtTime.Time
	}
	return &rec, nil
}

func scanRecords(rows *sql.Rows) ([]*Record, error) {
	var out []*Record
	for rows.Next() {
		rec, err := scanRecord(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}

func nullStr(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}

func nullTime(t time.Time) sql.NullTime {
	return sql.NullTime{Time: t, Valid: !t.IsZero()}
}

func isUniqueViolation(err error) bool {
	return err != nil && (errorsContains(err.Error(), "unique") || errorsContains(err.Error(), "duplicate"))
}

func errorsContains(haystack, needle string) bool {
	for i := 0; i+len(needle) <= len(haystack); i++ {
		if equalFold(haystack[i:i+len(needle)], needle) {
			return true
		}
	}
	return false
}

func equalFold(a, b string) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		ca, cb := a[i], b[i]
		if 'A' <= ca && ca <= 'Z' {
			ca += 'a' - 'A'
		}
		if 'A' <= cb && cb <= 'Z' {
			cb += 'a' - 'A'
		}
		if ca != cb {
			return false
		}
	}
	return true
}
