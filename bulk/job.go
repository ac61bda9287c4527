package bulk

import (
	"context"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"
)

// Operation is what a job does with the records posted to it.
type Operation string

const (
	OpInsert     Operation = "insert"
	OpUpdate     Operation = "update"
	OpUpsert     Operation = "upsert"
	OpDelete     Operation = "delete"
	OpHardDelete Operation = "hardDelete"
	OpQuery      Operation = "query"
)

// Poll defaults used by Results when the caller passes out-of-range values.
const (
	DefaultPollTries = 1
	DefaultPollWait  = 3 * time.Second
)

// Job is a handle on one bulk job. Batches are added to it while the job is
// open; closing it tells the server no more batches are coming.
type Job struct {
	c  *Client
	id string
	ct ContentType
}

// CreateJob opens a new job for the given operation and object.
func (c *Client) CreateJob(ctx context.Context, op Operation, object string, ct ContentType) (*Job, error) {
	return c.createJob(ctx, encodeCreateJob(string(op), object, "", ct))
}

// CreateUpsertJob opens an upsert job keyed on an external ID field.
func (c *Client) CreateUpsertJob(ctx context.Context, object, externalIDField string, ct ContentType) (*Job, error) {
	return c.createJob(ctx, encodeCreateJob(string(OpUpsert), object, externalIDField, ct))
}

func (c *Client) createJob(ctx context.Context, body []byte) (*Job, error) {
	data, err := c.do(ctx, "POST", c.endpoint("job"), "application/xml; charset=UTF-8", body)
	if err != nil {
		return nil, err
	}
	info, err := decodeJobInfo(data)
	if err != nil {
		return nil, err
	}
	return &Job{c: c, id: info.ID, ct: info.ContentType}, nil
}

// OpenJob wraps an existing job id without a server round trip, e.g. one
// created by another process. The content type must match the job's.
func (c *Client) OpenJob(id string, ct ContentType) *Job {
	return &Job{c: c, id: id, ct: ct}
}

func (j *Job) ID() string { return j.id }

func (j *Job) ContentType() ContentType { return j.ct }

// Info fetches the current jobInfo document.
func (j *Job) Info(ctx context.Context) (JobInfo, error) {
	data, err := j.c.do(ctx, "GET", j.c.endpoint("job", j.id), "", nil)
	if err != nil {
		return JobInfo{}, err
	}
	return decodeJobInfo(data)
}

// Close marks the job as done. Batches already queued keep processing;
// new ones are rejected.
func (j *Job) Close(ctx context.Context) (JobInfo, error) {
	return j.setState(ctx, JobClosed)
}

// Abort stops the job. Batches the server has not picked up yet end as
// NotProcessed.
func (j *Job) Abort(ctx context.Context) (JobInfo, error) {
	return j.setState(ctx, JobAborted)
}

func (j *Job) setState(ctx context.Context, s JobState) (JobInfo, error) {
	data, err := j.c.do(ctx, "POST", j.c.endpoint("job", j.id), "application/xml; charset=UTF-8", encodeJobState(s))
	if err != nil {
		return JobInfo{}, err
	}
	return decodeJobInfo(data)
}

// AddBatch posts one batch of records in the job's content type and returns
// the server's view of the new batch, state Queued.
func (j *Job) AddBatch(ctx context.Context, body io.Reader) (BatchInfo, error) {
	payload, err := io.ReadAll(body)
	if err != nil {
		return BatchInfo{}, err
	}
	return j.addBatch(ctx, payload)
}

// AddBatchFromFile posts the contents of path as one batch. The extension
// must match the job's content type; that is checked before the file is
// touched.
func (j *Job) AddBatchFromFile(ctx context.Context, path string) (BatchInfo, error) {
	if ext := strings.ToLower(filepath.Ext(path)); ext != j.ct.Ext() {
		return BatchInfo{}, InvalidFileTypeError{Path: path, Want: j.ct.Ext()}
	}
	f, err := os.Open(path)
	if err != nil {
		return BatchInfo{}, FileError{Path: path, Err: err}
	}
	defer f.Close()

	payload, err := io.ReadAll(f)
	if err != nil {
		return BatchInfo{}, FileError{Path: path, Err: err}
	}
	return j.addBatch(ctx, payload)
}

func (j *Job) addBatch(ctx context.Context, payload []byte) (BatchInfo, error) {
	data, err := j.c.do(ctx, "POST", j.c.endpoint("job", j.id, "batch"), j.ct.MIME()+"; charset=UTF-8", payload)
	if err != nil {
		return BatchInfo{}, err
	}
	return decodeBatchInfo(data)
}

// Batch fetches the current batchInfo for one batch.
func (j *Job) Batch(ctx context.Context, batchID string) (BatchInfo, error) {
	data, err := j.c.do(ctx, "GET", j.c.endpoint("job", j.id, "batch", batchID), "", nil)
	if err != nil {
		return BatchInfo{}, err
	}
	return decodeBatchInfo(data)
}

// Batches lists every batch of the job in submission order.
func (j *Job) Batches(ctx context.Context) ([]BatchInfo, error) {
	data, err := j.c.do(ctx, "GET", j.c.endpoint("job", j.id, "batch"), "", nil)
	if err != nil {
		return nil, err
	}
	return decodeBatchInfoList(data)
}

// BatchRequest fetches the raw payload a batch was submitted with.
func (j *Job) BatchRequest(ctx context.Context, batchID string) ([]byte, error) {
	return j.c.do(ctx, "GET", j.c.endpoint("job", j.id, "batch", batchID, "request"), "", nil)
}

// Results waits for a batch to reach a terminal state, then fetches its
// per-record outcomes. The batch state is checked up to tries times, with a
// wait-long sleep before every check, the first one included. Failed and
// NotProcessed batches have result documents too, so a batch that finished
// badly still yields rows; the per-record errors say what went wrong.
//
// A batch still in flight after the last check fails with NotCompletedError.
// Any request error ends the wait immediately, as does ctx expiring during a
// sleep. tries below 1 falls back to DefaultPollTries, a negative wait to
// DefaultPollWait; a zero wait checks back to back.
func (j *Job) Results(ctx context.Context, batchID string, tries int, wait time.Duration) ([]Result, error) {
	if tries < 1 {
		tries = DefaultPollTries
	}
	if wait < 0 {
		wait = DefaultPollWait
	}
	for attempt := 0; attempt < tries; attempt++ {
		if err := j.c.sleep(ctx, wait); err != nil {
			return nil, err
		}
		info, err := j.Batch(ctx, batchID)
		if err != nil {
			return nil, err
		}
		if info.State.Terminal() {
			return j.fetchResults(ctx, batchID)
		}
	}
	return nil, NotCompletedError{BatchID: batchID, Attempts: tries}
}

func (j *Job) fetchResults(ctx context.Context, batchID string) ([]Result, error) {
	data, err := j.c.do(ctx, "GET", j.c.endpoint("job", j.id, "batch", batchID, "result"), "", nil)
	if err != nil {
		return nil, err
	}
	return decodeResults(j.ct, data)
}
