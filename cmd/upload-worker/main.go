package main

import (
	"context"
	"encoding/json"
	"log"
	"os"
	"time"

	"example/bulk-upload-api/app"
	"example/bulk-upload-api/app/config"
	"example/bulk-upload-api/app/models"

	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/sqs"
	sqstypes "github.com/aws/aws-sdk-go-v2/service/sqs/types"
)

func main() {
	// Global-ish init
	baseCtx := context.Background()

	cfg, err := config.LoadConfig()
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}

	app.MustInitDB()
	app.MustInitSalesforce()

	queueURL := os.Getenv("QUEUE_URL")
	if queueURL == "" {
		log.Fatal("QUEUE_URL environment variable is required")
	}

	// AWS config & SQS client
	awsCfg, err := awsconfig.LoadDefaultConfig(baseCtx)
	if err != nil {
		log.Fatalf("failed to load AWS config: %v", err)
	}
	sqsClient := sqs.NewFromConfig(awsCfg)

	log.Printf("Worker started, listening on SQS queue: %s", queueURL)

	for {
		// Long-poll SQS
		recvCtx, cancel := context.WithTimeout(baseCtx, 30*time.Second)
		resp, err := sqsClient.ReceiveMessage(recvCtx, &sqs.ReceiveMessageInput{
			QueueUrl:            &queueURL,
			MaxNumberOfMessages: 5,   // up to 10; tune as you like
			WaitTimeSeconds:     20,  // enable long polling
			VisibilityTimeout:   180, // seconds; must be > max batch processing time
		})
		cancel()

		if err != nil {
			log.Printf("ReceiveMessage error: %v", err)
			time.Sleep(5 * time.Second)
			continue
		}

		if len(resp.Messages) == 0 {
			// No work; small sleep to avoid hot loop
			time.Sleep(2 * time.Second)
			continue
		}

		for _, m := range resp.Messages {
			if m.Body == nil {
				log.Printf("received message with empty body, skipping: %#v", m)
				continue
			}

			var msg models.BatchMessage
			if err := json.Unmarshal([]byte(*m.Body), &msg); err != nil {
				log.Printf("failed to unmarshal batch message: %v, body=%s", err, *m.Body)
				// Delete to avoid a poison pill retrying forever:
				deleteMessage(sqsClient, queueURL, m)
				continue
			}

			log.Printf("Received batch: upload=%s job=%s batch=%s seq=%d",
				msg.UploadID, msg.JobID, msg.BatchID, msg.BatchSeq)

			// Per-message timeout; must stay under VisibilityTimeout
			msgCtx, msgCancel := context.WithTimeout(baseCtx, 2*time.Minute)
			err := app.ProcessBatchMessage(msgCtx, cfg, msg)
			msgCancel()

			if err != nil {
				log.Printf("error processing batch upload=%s batch=%s: %v",
					msg.UploadID, msg.BatchID, err)

				// Not deleting means SQS retries the message after
				// VisibilityTimeout. Batches that are still running in
				// Salesforce land here on purpose.
				continue
			}

			// Success: delete message from queue
			deleteMessage(sqsClient, queueURL, m)
		}
	}
}

func deleteMessage(sqsClient *sqs.Client, queueURL string, m sqstypes.Message) {
	if m.ReceiptHandle == nil {
		return
	}
	_, err := sqsClient.DeleteMessage(context.Background(), &sqs.DeleteMessageInput{
		QueueUrl:      &queueURL,
		ReceiptHandle: m.ReceiptHandle,
	})
	if err != nil {
		log.Printf("failed to delete SQS message: %v", err)
	}
}
