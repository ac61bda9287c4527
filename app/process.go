package app

import (
	"context"
	"errors"
	"log"
	"time"

	"example/bulk-upload-api/app/config"
	"example/bulk-upload-api/app/models"
	"example/bulk-upload-api/bulk"
)

// ProcessBatchMessage polls Salesforce for one batch until it reaches a
// terminal state, then stores the per-record results and bumps the upload
// progress counter. A batch still running after the configured tries
// returns bulk.NotCompletedError so the caller can retry the message
// later.
func ProcessBatchMessage(ctx context.Context, cfg *config.Config, msg models.BatchMessage) error {
	start := time.Now()

	log.Printf(
		"Processing batch: upload=%s job=%s batch=%s seq=%d",
		msg.UploadID, msg.JobID, msg.BatchID, msg.BatchSeq,
	)

	if sf == nil {
		return errors.New("salesforce client not configured")
	}

	ct := bulk.ContentType(msg.ContentType)
	if ct == "" {
		ct = bulk.ContentTypeCSV
	}
	job := sf.OpenJob(msg.JobID, ct)

	wait := time.Duration(cfg.Upload.PollWaitMS) * time.Millisecond
	results, err := job.Results(ctx, msg.BatchID, cfg.Upload.PollTries, wait)
	if err != nil {
		var pending bulk.NotCompletedError
		if errors.As(err, &pending) {
			log.Printf("Batch %s still running after %d checks", msg.BatchID, pending.Attempts)
		}
		return err
	}

	// Separate timeout for DB write
	ctx2, cancel := context.WithTimeout(ctx, 2*time.Minute)
	defer cancel()

	if err := SaveBatchResults(ctx2, msg.UploadID, msg.BatchID, msg.BatchSeq, results); err != nil {
		log.Printf("SaveBatchResults failed for upload=%s batch=%s: %v", msg.UploadID, msg.BatchID, err)
		return err
	}
	if err := UpdateUploadProgress(ctx2, msg.UploadID); err != nil {
		log.Printf("UpdateUploadProgress failed for upload=%s: %v", msg.UploadID, err)
		return err
	}

	failed := 0
	for _, r := range results {
		if !r.Success {
			failed++
		}
	}

	log.Printf(
		"Batch complete: upload=%s batch=%s seq=%d records=%d failed=%d took=%s",
		msg.UploadID, msg.BatchID, msg.BatchSeq, len(results), failed, time.Since(start),
	)

	return nil
}
