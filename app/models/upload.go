package models

// UploadStatus summarizes one tracked upload and its batch progress.
type UploadStatus struct {
	ID               string `json:"id"`
	Object           string `json:"object"`
	Operation        string `json:"operation"`
	JobID            string `json:"job_id"`
	Status           string `json:"status"`
	TotalRecords     int    `json:"total_records"`
	TotalBatches     int    `json:"total_batches"`
	CompletedBatches int    `json:"completed_batches"`
	CreatedBy        string `json:"created_by,omitempty"`
}

// RecordResult is the stored outcome for one record of an upload. Seq is the
// record's position within its batch, starting at 0.
type RecordResult struct {
	BatchID string `json:"batch_id"`
	Seq     int    `json:"seq"`
	SFID    string `json:"sf_id,omitempty"`
	Success bool   `json:"success"`
	Created bool   `json:"created"`
	Error   string `json:"error,omitempty"`
}
