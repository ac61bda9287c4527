package app

import (
	"context"
	"database/sql"
	"fmt"
	"log"

	"example/bulk-upload-api/app/config"
	"example/bulk-upload-api/app/models"
	"example/bulk-upload-api/bulk"

	"github.com/lib/pq"
)

var db *sql.DB

// MustInitDB initializes the global db and panics/logs fatally on error.
func MustInitDB() {
	// Load configuration
	cfg, err := config.LoadConfig()
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}

	dsn := fmt.Sprintf(
		"postgres://%s:%s@%s:%s",
		cfg.DB.Username,
		cfg.DB.Password,
		cfg.DB.URL,
		cfg.DB.Port,
	)

	d, err := sql.Open("postgres", dsn)
	if err != nil {
		log.Fatalf("sql.Open: %v", err)
	}

	if err := d.Ping(); err != nil {
		log.Fatalf("db.Ping: %v", err)
	}

	initSchema(d)

	log.Println("Connected to Postgres")
	db = d
}

// initSchema creates the upload tracking tables when they do not exist yet.
func initSchema(d *sql.DB) {
	queries := []string{
		`CREATE TABLE IF NOT EXISTS uploads (
			id UUID PRIMARY KEY,
			object TEXT NOT NULL,
			operation TEXT NOT NULL,
			job_id TEXT NOT NULL,
			status TEXT NOT NULL DEFAULT 'submitted',
			total_records INT NOT NULL DEFAULT 0,
			total_batches INT NOT NULL DEFAULT 0,
			completed_batches INT NOT NULL DEFAULT 0,
			created_by TEXT,
			created_at TIMESTAMPTZ NOT NULL DEFAULT now(),
			updated_at TIMESTAMPTZ NOT NULL DEFAULT now()
		)`,
		`CREATE TABLE IF NOT EXISTS upload_results (
			upload_id UUID NOT NULL,
			batch_id TEXT NOT NULL,
			batch_seq INT NOT NULL DEFAULT 0,
			seq INT NOT NULL,
			sf_id TEXT,
			success BOOLEAN NOT NULL,
			created BOOLEAN NOT NULL,
			error TEXT,
			PRIMARY KEY (upload_id, batch_id, seq)
		)`,
	}

	for _, q := range queries {
		if _, err := d.Exec(q); err != nil {
			log.Fatalf("failed to create table: %v", err)
		}
	}
}

// CreateUpload records a new tracked upload.
func CreateUpload(ctx context.Context, u models.UploadStatus) error {
	if db == nil {
		// Allow test runs without a backing DB.
		return nil
	}

	const q = `
        INSERT INTO uploads (id, object, operation, job_id, status, total_records, total_batches, created_by)
        VALUES ($1, $2, $3, $4, $5, $6, $7, $8);
    `
	if _, err := db.ExecContext(ctx, q, u.ID, u.Object, u.Operation, u.JobID, u.Status, u.TotalRecords, u.TotalBatches, u.CreatedBy); err != nil {
		return err
	}
	log.Printf("Created upload %s job=%s object=%s totalRecords=%d totalBatches=%d",
		u.ID, u.JobID, u.Object, u.TotalRecords, u.TotalBatches)
	return nil
}

// UpdateUploadProgress increments completed_batches for an upload and sets
// status to 'running' or 'completed' accordingly.
func UpdateUploadProgress(ctx context.Context, uploadID string) error {
	if db == nil {
		return nil
	}

	const q = `
        UPDATE uploads
        SET
            completed_batches = completed_batches + 1,
            status = CASE
                WHEN completed_batches + 1 >= total_batches THEN 'completed'
                ELSE 'running'
            END,
            updated_at = now()
        WHERE id = $1;
    `

	res, err := db.ExecContext(ctx, q, uploadID)
	if err != nil {
		return err
	}

	if rows, err := res.RowsAffected(); err == nil && rows == 0 {
		log.Printf("UpdateUploadProgress: no upload row found for id=%s", uploadID)
	}

	return nil
}

// MarkUploadAborted flips an upload's status after its job was aborted.
func MarkUploadAborted(ctx context.Context, uploadID string) error {
	if db == nil {
		return nil
	}

	_, err := db.ExecContext(ctx, `
        UPDATE uploads
        SET status = 'aborted', updated_at = now()
        WHERE id = $1;
    `, uploadID)
	return err
}

// FindUploadStatus fetches status and batch counts for an upload id.
func FindUploadStatus(ctx context.Context, uploadID string) (models.UploadStatus, error) {
	if db == nil {
		return models.UploadStatus{}, sql.ErrNoRows
	}

	var u models.UploadStatus

	const q = `
        SELECT id, object, operation, job_id, status, total_records, total_batches, completed_batches, COALESCE(created_by, '')
        FROM uploads
        WHERE id = $1;
    `

	row := db.QueryRowContext(ctx, q, uploadID)
	if err := row.Scan(&u.ID, &u.Object, &u.Operation, &u.JobID, &u.Status, &u.TotalRecords, &u.TotalBatches, &u.CompletedBatches, &u.CreatedBy); err != nil {
		return models.UploadStatus{}, err
	}

	return u, nil
}

// SaveBatchResults stores the per-record outcomes of one finished batch.
// Saving the same batch twice leaves a single copy of its rows.
func SaveBatchResults(ctx context.Context, uploadID, batchID string, batchSeq int, results []bulk.Result) error {
	if db == nil {
		// Allow test runs without a backing DB.
		return nil
	}
	if len(results) == 0 {
		return nil
	}

	// One transaction for everything
	tx, err := db.BeginTx(ctx, &sql.TxOptions{})
	if err != nil {
		return err
	}
	defer tx.Rollback()

	// 1) Temp staging table
	_, err = tx.ExecContext(ctx, `
		CREATE TEMP TABLE tmp_upload_results (
			upload_id  UUID,
			batch_id   TEXT,
			batch_seq  INT,
			seq        INT,
			sf_id      TEXT,
			success    BOOLEAN,
			created    BOOLEAN,
			error      TEXT
		) ON COMMIT DROP;
	`)
	if err != nil {
		return err
	}

	// 2) COPY into tmp_upload_results
	stmt, err := tx.PrepareContext(ctx, pq.CopyIn(
		"tmp_upload_results",
		"upload_id",
		"batch_id",
		"batch_seq",
		"seq",
		"sf_id",
		"success",
		"created",
		"error",
	))
	if err != nil {
		return err
	}

	for seq, r := range results {
		if _, err := stmt.Exec(
			uploadID,
			batchID,
			batchSeq,
			seq,
			r.ID,
			r.Success,
			r.Created,
			r.Error,
		); err != nil {
			return err
		}
	}

	// finish COPY
	if _, err := stmt.Exec(); err != nil {
		return err
	}
	if err := stmt.Close(); err != nil {
		return err
	}

	// 3) Insert into real table with conflict handling
	_, err = tx.ExecContext(ctx, `
		INSERT INTO upload_results (
			upload_id,
			batch_id,
			batch_seq,
			seq,
			sf_id,
			success,
			created,
			error
		)
		SELECT
			upload_id,
			batch_id,
			batch_seq,
			seq,
			sf_id,
			success,
			created,
			error
		FROM tmp_upload_results
		ON CONFLICT (upload_id, batch_id, seq) DO NOTHING;
	`)
	if err != nil {
		return err
	}

	// 4) Commit
	return tx.Commit()
}

// FindUploadResults reads a page of stored results in submission order.
// failedOnly keeps only records that did not land.
// Example: limit = 100, offset = page * limit
func FindUploadResults(ctx context.Context, uploadID string, limit, offset int, failedOnly bool) ([]models.RecordResult, error) {
	if db == nil {
		return []models.RecordResult{}, nil
	}

	rows, err := db.QueryContext(ctx, `
		SELECT
			batch_id,
			seq,
			COALESCE(sf_id, ''),
			success,
			created,
			COALESCE(error, '')
		FROM upload_results
		WHERE upload_id = $1
		  AND (NOT $2 OR NOT success)
		ORDER BY batch_seq, seq
		LIMIT $3
		OFFSET $4
	`, uploadID, failedOnly, limit, offset)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []models.RecordResult
	for rows.Next() {
		var r models.RecordResult
		if err := rows.Scan(
			&r.BatchID,
			&r.Seq,
			&r.SFID,
			&r.Success,
			&r.Created,
			&r.Error,
		); err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return out, nil
}

// CountFailedRecords tallies stored failures for an upload.
func CountFailedRecords(ctx context.Context, uploadID string) (int, error) {
	if db == nil {
		return 0, nil
	}

	var n int
	const q = `
        SELECT COUNT(*)
        FROM upload_results
        WHERE upload_id = $1 AND NOT success;
    `
	if err := db.QueryRowContext(ctx, q, uploadID).Scan(&n); err != nil {
		return 0, err
	}
	return n, nil
}
