package models

// BatchMessage is one queued unit of work for the upload worker: wait for a
// single batch to finish and store its results.
type BatchMessage struct {
	UploadID    string `json:"upload_id"`
	JobID       string `json:"job_id"`
	BatchID     string `json:"batch_id"`
	BatchSeq    int    `json:"batch_seq"` // submission position within the upload
	ContentType string `json:"content_type"`
}
