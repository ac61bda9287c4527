package app

import (
	"bytes"
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"net/http"
	"strings"
	"time"

	"example/bulk-upload-api/app/config"
	"example/bulk-upload-api/app/models"
	"example/bulk-upload-api/bulk"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/sqs"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
)

func Health(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

// operations maps the operation names accepted on the wire to the
// Bulk API operations they stand for.
var operations = map[string]bulk.Operation{
	"insert":     bulk.OpInsert,
	"update":     bulk.OpUpdate,
	"upsert":     bulk.OpUpsert,
	"delete":     bulk.OpDelete,
	"hardDelete": bulk.OpHardDelete,
}

// StartUpload accepts a CSV payload, splits it into batches, submits them
// to Salesforce under a single job, and queues each batch for result
// collection. Responds 202 with the upload id once everything is submitted.
func StartUpload(c *gin.Context) {
	object := c.Query("object")
	if object == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "missing object parameter"})
		return
	}
	opName := c.DefaultQuery("operation", "insert")
	op, ok := operations[opName]
	if !ok {
		c.JSON(http.StatusBadRequest, gin.H{"error": fmt.Sprintf("unsupported operation %q", opName)})
		return
	}
	externalID := c.Query("externalIdField")
	if op == bulk.OpUpsert && externalID == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "upsert requires externalIdField parameter"})
		return
	}

	if sf == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "salesforce client not configured"})
		return
	}

	cfg, err := config.LoadConfig()
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to load config"})
		return
	}

	chunks, records, err := SplitCSV(c.Request.Body, cfg.Upload.BatchSize)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": fmt.Sprintf("invalid csv payload: %v", err)})
		return
	}
	if records == 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "csv payload has no data rows"})
		return
	}

	ctx, cancel := context.WithTimeout(c.Request.Context(), 60*time.Second)
	defer cancel()

	var job *bulk.Job
	if op == bulk.OpUpsert {
		job, err = sf.CreateUpsertJob(ctx, object, externalID, bulk.ContentTypeCSV)
	} else {
		job, err = sf.CreateJob(ctx, op, object, bulk.ContentTypeCSV)
	}
	if err != nil {
		log.Printf("Failed to create job for %s %s: %v", opName, object, err)
		c.JSON(bulkErrorStatus(err), gin.H{"error": err.Error()})
		return
	}

	batches := make([]bulk.BatchInfo, 0, len(chunks))
	for i, chunk := range chunks {
		b, err := job.AddBatch(ctx, bytes.NewReader(chunk))
		if err != nil {
			log.Printf("Failed to add batch %d/%d to job %s: %v", i+1, len(chunks), job.ID(), err)
			if _, abortErr := job.Abort(ctx); abortErr != nil {
				log.Printf("Failed to abort job %s: %v", job.ID(), abortErr)
			}
			c.JSON(bulkErrorStatus(err), gin.H{"error": err.Error()})
			return
		}
		batches = append(batches, b)
	}

	if _, err := job.Close(ctx); err != nil {
		log.Printf("Failed to close job %s: %v", job.ID(), err)
		c.JSON(bulkErrorStatus(err), gin.H{"error": err.Error()})
		return
	}

	upload := models.UploadStatus{
		ID:           uuid.New().String(),
		Object:       object,
		Operation:    opName,
		JobID:        job.ID(),
		Status:       "submitted",
		TotalRecords: records,
		TotalBatches: len(batches),
		CreatedBy:    Caller(c),
	}
	if err := CreateUpload(ctx, upload); err != nil {
		log.Printf("Failed to record upload %s: %v", upload.ID, err)
	}

	enqueueBatches(ctx, cfg, upload, batches)

	c.JSON(http.StatusAccepted, gin.H{
		"upload_id": upload.ID,
		"job_id":    job.ID(),
		"records":   records,
		"batches":   len(batches),
	})
}

// enqueueBatches puts one message per submitted batch on the queue so the
// worker can collect results. Failures are logged and skipped; the status
// endpoint still works without queued messages.
func enqueueBatches(ctx context.Context, cfg *config.Config, upload models.UploadStatus, batches []bulk.BatchInfo) {
	if cfg.QueueURL == "" {
		log.Printf("QUEUE_URL not set; skipping result collection for upload %s", upload.ID)
		return
	}

	awscfg, err := awsconfig.LoadDefaultConfig(ctx)
	if err != nil {
		log.Printf("Failed to load AWS config: %v", err)
		return
	}
	client := sqs.NewFromConfig(awscfg)

	for i, b := range batches {
		msg := models.BatchMessage{
			UploadID:    upload.ID,
			JobID:       upload.JobID,
			BatchID:     b.ID,
			BatchSeq:    i,
			ContentType: string(bulk.ContentTypeCSV),
		}
		body, err := json.Marshal(msg)
		if err != nil {
			log.Printf("Failed to marshal message for batch %s: %v", b.ID, err)
			continue
		}
		_, err = client.SendMessage(ctx, &sqs.SendMessageInput{
			QueueUrl:    aws.String(cfg.QueueURL),
			MessageBody: aws.String(string(body)),
		})
		if err != nil {
			log.Printf("Failed to enqueue batch %s: %v", b.ID, err)
			continue
		}
	}
	log.Printf("Queued %d batches for upload %s", len(batches), upload.ID)
}

func GetUploadStatus(c *gin.Context) {
	id := c.Param("id")

	ctx, cancel := context.WithTimeout(c.Request.Context(), 5*time.Second)
	defer cancel()

	upload, err := FindUploadStatus(ctx, id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			c.JSON(http.StatusNotFound, gin.H{"error": "upload not found"})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to load upload"})
		return
	}

	c.JSON(http.StatusOK, upload)
}

func GetUploadResults(c *gin.Context) {
	id := c.Param("id")
	limit := parsePositiveInt(c.Query("limit"), 1000)
	if limit > 10000 {
		limit = 10000
	}
	offset := parsePositiveInt(c.Query("offset"), 0)
	failedOnly := strings.EqualFold(c.Query("failed"), "true")

	ctx, cancel := context.WithTimeout(c.Request.Context(), 10*time.Second)
	defer cancel()

	if _, err := FindUploadStatus(ctx, id); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			c.JSON(http.StatusNotFound, gin.H{"error": "upload not found"})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to load upload"})
		return
	}

	results, err := FindUploadResults(ctx, id, limit, offset, failedOnly)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to load results"})
		return
	}
	failed, err := CountFailedRecords(ctx, id)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to count failures"})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"upload_id": id,
		"count":     len(results),
		"failed":    failed,
		"results":   results,
	})
}

// GetUploadBatches reports live batch states straight from Salesforce
// rather than from the local store.
func GetUploadBatches(c *gin.Context) {
	id := c.Param("id")

	ctx, cancel := context.WithTimeout(c.Request.Context(), 30*time.Second)
	defer cancel()

	upload, err := FindUploadStatus(ctx, id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			c.JSON(http.StatusNotFound, gin.H{"error": "upload not found"})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to load upload"})
		return
	}

	if sf == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "salesforce client not configured"})
		return
	}

	job := sf.OpenJob(upload.JobID, bulk.ContentTypeCSV)
	batches, err := job.Batches(ctx)
	if err != nil {
		c.JSON(bulkErrorStatus(err), gin.H{"error": err.Error()})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"upload_id": id,
		"job_id":    upload.JobID,
		"batches":   batches,
	})
}

// GetBatchRequest streams back the original payload of one batch as it
// was submitted to Salesforce.
func GetBatchRequest(c *gin.Context) {
	id := c.Param("id")
	batchID := c.Param("batchid")

	ctx, cancel := context.WithTimeout(c.Request.Context(), 30*time.Second)
	defer cancel()

	upload, err := FindUploadStatus(ctx, id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			c.JSON(http.StatusNotFound, gin.H{"error": "upload not found"})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to load upload"})
		return
	}

	if sf == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "salesforce client not configured"})
		return
	}

	job := sf.OpenJob(upload.JobID, bulk.ContentTypeCSV)
	data, err := job.BatchRequest(ctx, batchID)
	if err != nil {
		c.JSON(bulkErrorStatus(err), gin.H{"error": err.Error()})
		return
	}

	c.Data(http.StatusOK, bulk.ContentTypeCSV.MIME(), data)
}

// AbortUpload aborts the Salesforce job behind an upload. Batches already
// processed keep their results.
func AbortUpload(c *gin.Context) {
	id := c.Param("id")

	ctx, cancel := context.WithTimeout(c.Request.Context(), 30*time.Second)
	defer cancel()

	upload, err := FindUploadStatus(ctx, id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			c.JSON(http.StatusNotFound, gin.H{"error": "upload not found"})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to load upload"})
		return
	}

	if sf == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "salesforce client not configured"})
		return
	}

	job := sf.OpenJob(upload.JobID, bulk.ContentTypeCSV)
	info, err := job.Abort(ctx)
	if err != nil {
		c.JSON(bulkErrorStatus(err), gin.H{"error": err.Error()})
		return
	}

	if err := MarkUploadAborted(ctx, id); err != nil {
		log.Printf("Failed to mark upload %s aborted: %v", id, err)
	}

	c.JSON(http.StatusOK, gin.H{
		"upload_id": id,
		"job":       info,
	})
}

// bulkErrorStatus picks a response status for a Salesforce error. Client
// mistakes surface as 400, everything else as a bad gateway.
func bulkErrorStatus(err error) int {
	var apiErr bulk.APIError
	if errors.As(err, &apiErr) {
		if apiErr.Status >= 400 && apiErr.Status < 500 {
			return http.StatusBadRequest
		}
	}
	return http.StatusBadGateway
}
