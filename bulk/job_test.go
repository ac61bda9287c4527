package bulk

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

const (
	testJobID   = "75012000000H2ghAAC"
	testBatchID = "75112000000KQx2AAG"
)

func jobInfoXML(id, state string) string {
	return `<?xml version="1.0" encoding="UTF-8"?>` +
		`<jobInfo xmlns="http://www.force.com/2009/06/asyncapi/dataload">` +
		`<id>` + id + `</id>` +
		`<operation>insert</operation>` +
		`<object>Account</object>` +
		`<state>` + state + `</state>` +
		`<contentType>CSV</contentType>` +
		`<numberBatchesTotal>1</numberBatchesTotal>` +
		`</jobInfo>`
}

func batchInfoXML(id, jobID, state string) string {
	return `<?xml version="1.0" encoding="UTF-8"?>` +
		`<batchInfo xmlns="http://www.force.com/2009/06/asyncapi/dataload">` +
		`<id>` + id + `</id>` +
		`<jobId>` + jobID + `</jobId>` +
		`<state>` + state + `</state>` +
		`</batchInfo>`
}

const resultCSV = `"Id","Success","Created","Error"` + "\n" +
	`"0011i00000abcDEAAZ","true","true",""` + "\n" +
	`"","false","false","DUPLICATE_VALUE:duplicate value found: Name duplicates value on record with id: 0011i00000zzzZZ"` + "\n"

func TestCreateJobPostsJobInfo(t *testing.T) {
	c, rt, _ := newTestClient(map[string][]mockResp{
		asyncURL("job"): {{status: 201, body: jobInfoXML(testJobID, "Open")}},
	})

	job, err := c.CreateJob(context.Background(), OpInsert, "Account", ContentTypeCSV)
	if err != nil {
		t.Fatalf("CreateJob: %v", err)
	}
	if job.ID() != testJobID || job.ContentType() != ContentTypeCSV {
		t.Fatalf("unexpected job handle: id=%q ct=%q", job.ID(), job.ContentType())
	}

	req := rt.requests[0]
	if req.method != "POST" {
		t.Fatalf("expected POST, got %s", req.method)
	}
	for _, want := range []string{asyncAPINS, "<operation>insert</operation>", "<object>Account</object>", "<contentType>CSV</contentType>"} {
		if !strings.Contains(req.body, want) {
			t.Fatalf("create body missing %q: %s", want, req.body)
		}
	}
}

func TestCreateUpsertJobCarriesExternalField(t *testing.T) {
	c, rt, _ := newTestClient(map[string][]mockResp{
		asyncURL("job"): {{status: 201, body: jobInfoXML(testJobID, "Open")}},
	})

	if _, err := c.CreateUpsertJob(context.Background(), "Contact", "My_Ext_Id__c", ContentTypeCSV); err != nil {
		t.Fatalf("CreateUpsertJob: %v", err)
	}
	body := rt.requests[0].body
	if !strings.Contains(body, "<operation>upsert</operation>") || !strings.Contains(body, "<externalIdFieldName>My_Ext_Id__c</externalIdFieldName>") {
		t.Fatalf("upsert body missing fields: %s", body)
	}
}

func TestInfoReturnsCurrentJobState(t *testing.T) {
	c, rt, _ := newTestClient(map[string][]mockResp{
		asyncURL("job", testJobID): {{status: 200, body: jobInfoXML(testJobID, "Open")}},
	})
	job := c.OpenJob(testJobID, ContentTypeCSV)

	info, err := job.Info(context.Background())
	if err != nil {
		t.Fatalf("Info: %v", err)
	}
	if info.ID != testJobID || info.State != JobOpen || info.Operation != "insert" {
		t.Fatalf("unexpected jobInfo: %+v", info)
	}
	if req := rt.requests[0]; req.method != "GET" || req.body != "" {
		t.Fatalf("expected a bare GET, got %s with body %q", req.method, req.body)
	}
}

func TestCloseJobSendsClosedState(t *testing.T) {
	c, rt, _ := newTestClient(map[string][]mockResp{
		asyncURL("job", testJobID): {{status: 200, body: jobInfoXML(testJobID, "Closed")}},
	})
	job := c.OpenJob(testJobID, ContentTypeCSV)

	info, err := job.Close(context.Background())
	if err != nil {
		t.Fatalf("Close: %v", err)
	}
	if info.State != JobClosed {
		t.Fatalf("expected Closed, got %s", info.State)
	}
	req := rt.requests[0]
	if req.method != "POST" || !strings.Contains(req.body, "<state>Closed</state>") {
		t.Fatalf("unexpected close request: %s %s", req.method, req.body)
	}
}

func TestAbortJobSendsAbortedState(t *testing.T) {
	c, rt, _ := newTestClient(map[string][]mockResp{
		asyncURL("job", testJobID): {{status: 200, body: jobInfoXML(testJobID, "Aborted")}},
	})
	job := c.OpenJob(testJobID, ContentTypeCSV)

	info, err := job.Abort(context.Background())
	if err != nil {
		t.Fatalf("Abort: %v", err)
	}
	if info.State != JobAborted {
		t.Fatalf("expected Aborted, got %s", info.State)
	}
	if body := rt.requests[0].body; !strings.Contains(body, "<state>Aborted</state>") {
		t.Fatalf("abort body missing state: %s", body)
	}
}

func TestAddBatchSubmitsPayload(t *testing.T) {
	c, rt, _ := newTestClient(map[string][]mockResp{
		asyncURL("job", testJobID, "batch"): {{status: 201, body: batchInfoXML(testBatchID, testJobID, "Queued")}},
	})
	job := c.OpenJob(testJobID, ContentTypeCSV)

	info, err := job.AddBatch(context.Background(), strings.NewReader("Name\nAcme\n"))
	if err != nil {
		t.Fatalf("AddBatch: %v", err)
	}
	if info.ID != testBatchID || info.State != BatchQueued {
		t.Fatalf("unexpected batchInfo: %+v", info)
	}
	if rt.requests[0].body != "Name\nAcme\n" {
		t.Fatalf("payload mismatch: %q", rt.requests[0].body)
	}
}

func TestAddBatchFromFileRejectsWrongExtension(t *testing.T) {
	c, rt, _ := newTestClient(nil)
	job := c.OpenJob(testJobID, ContentTypeCSV)

	// The path does not exist: reaching the filesystem would fail loudly.
	_, err := job.AddBatchFromFile(context.Background(), "/nonexistent/records.xml")
	ftErr, ok := err.(InvalidFileTypeError)
	if !ok {
		t.Fatalf("expected InvalidFileTypeError, got %T: %v", err, err)
	}
	if ftErr.Path != "/nonexistent/records.xml" || ftErr.Want != ".csv" {
		t.Fatalf("error mismatch: %+v", ftErr)
	}
	if len(rt.requests) != 0 {
		t.Fatalf("expected no requests, got %d", len(rt.requests))
	}
}

func TestAddBatchFromFileReportsReadFailure(t *testing.T) {
	c, _, _ := newTestClient(nil)
	job := c.OpenJob(testJobID, ContentTypeCSV)
	path := filepath.Join(t.TempDir(), "records.csv")

	_, err := job.AddBatchFromFile(context.Background(), path)
	fileErr, ok := err.(FileError)
	if !ok {
		t.Fatalf("expected FileError, got %T: %v", err, err)
	}
	if fileErr.Path != path {
		t.Fatalf("expected path %q, got %q", path, fileErr.Path)
	}
	if !errors.Is(err, os.ErrNotExist) {
		t.Fatalf("expected wrapped ErrNotExist, got %v", err)
	}
}

func TestAddBatchFromFileSubmitsContents(t *testing.T) {
	c, rt, _ := newTestClient(map[string][]mockResp{
		asyncURL("job", testJobID, "batch"): {{status: 201, body: batchInfoXML(testBatchID, testJobID, "Queued")}},
	})
	job := c.OpenJob(testJobID, ContentTypeCSV)

	path := filepath.Join(t.TempDir(), "accounts.csv")
	if err := os.WriteFile(path, []byte("Name\nAcme\nGlobex\n"), 0o644); err != nil {
		t.Fatalf("write fixture: %v", err)
	}

	info, err := job.AddBatchFromFile(context.Background(), path)
	if err != nil {
		t.Fatalf("AddBatchFromFile: %v", err)
	}
	if info.State != BatchQueued {
		t.Fatalf("expected Queued, got %s", info.State)
	}
	if rt.requests[0].body != "Name\nAcme\nGlobex\n" {
		t.Fatalf("payload mismatch: %q", rt.requests[0].body)
	}
}

func TestBatchFetchesSingleBatchState(t *testing.T) {
	c, _, _ := newTestClient(map[string][]mockResp{
		asyncURL("job", testJobID, "batch", testBatchID): {{status: 200, body: batchInfoXML(testBatchID, testJobID, "InProgress")}},
	})
	job := c.OpenJob(testJobID, ContentTypeCSV)

	info, err := job.Batch(context.Background(), testBatchID)
	if err != nil {
		t.Fatalf("Batch: %v", err)
	}
	if info.ID != testBatchID || info.JobID != testJobID || info.State != BatchInProgress {
		t.Fatalf("unexpected batchInfo: %+v", info)
	}
}

func TestBatchesKeepSubmissionOrder(t *testing.T) {
	list := `<?xml version="1.0" encoding="UTF-8"?>` +
		`<batchInfoList xmlns="http://www.force.com/2009/06/asyncapi/dataload">` +
		`<batchInfo><id>751b1</id><jobId>` + testJobID + `</jobId><state>Completed</state></batchInfo>` +
		`<batchInfo><id>751b2</id><jobId>` + testJobID + `</jobId><state>InProgress</state></batchInfo>` +
		`<batchInfo><id>751b3</id><jobId>` + testJobID + `</jobId><state>Queued</state></batchInfo>` +
		`</batchInfoList>`
	c, _, _ := newTestClient(map[string][]mockResp{
		asyncURL("job", testJobID, "batch"): {{status: 200, body: list}},
	})
	job := c.OpenJob(testJobID, ContentTypeCSV)

	batches, err := job.Batches(context.Background())
	if err != nil {
		t.Fatalf("Batches: %v", err)
	}
	if len(batches) != 3 {
		t.Fatalf("expected 3 batches, got %d", len(batches))
	}
	for i, want := range []string{"751b1", "751b2", "751b3"} {
		if batches[i].ID != want {
			t.Fatalf("batch %d: expected %s, got %s", i, want, batches[i].ID)
		}
	}
}

func TestBatchRequestReturnsRawPayload(t *testing.T) {
	c, _, _ := newTestClient(map[string][]mockResp{
		asyncURL("job", testJobID, "batch", testBatchID, "request"): {{status: 200, body: "Name\nAcme\n"}},
	})
	job := c.OpenJob(testJobID, ContentTypeCSV)

	data, err := job.BatchRequest(context.Background(), testBatchID)
	if err != nil {
		t.Fatalf("BatchRequest: %v", err)
	}
	if string(data) != "Name\nAcme\n" {
		t.Fatalf("payload mismatch: %q", data)
	}
}

func TestResultsWaitsBeforeEveryCheck(t *testing.T) {
	batchURL := asyncURL("job", testJobID, "batch", testBatchID)
	resultURL := asyncURL("job", testJobID, "batch", testBatchID, "result")
	c, rt, slept := newTestClient(map[string][]mockResp{
		batchURL: {
			{status: 200, body: batchInfoXML(testBatchID, testJobID, "InProgress")},
			{status: 200, body: batchInfoXML(testBatchID, testJobID, "Completed")},
		},
		resultURL: {{status: 200, body: resultCSV}},
	})
	job := c.OpenJob(testJobID, ContentTypeCSV)

	results, err := job.Results(context.Background(), testBatchID, 5, 10*time.Millisecond)
	if err != nil {
		t.Fatalf("Results: %v", err)
	}
	if len(results) != 2 {
		t.Fatalf("expected 2 rows, got %d", len(results))
	}
	if !results[0].Success || results[0].ID != "0011i00000abcDEAAZ" {
		t.Fatalf("row 0 mismatch: %+v", results[0])
	}
	if results[1].Success || !strings.Contains(results[1].Error, "DUPLICATE_VALUE") {
		t.Fatalf("row 1 mismatch: %+v", results[1])
	}

	if got := rt.calls(batchURL); got != 2 {
		t.Fatalf("expected 2 state checks, got %d", got)
	}
	if got := rt.calls(resultURL); got != 1 {
		t.Fatalf("expected 1 result fetch, got %d", got)
	}
	if len(slept.waits) != 2 || slept.waits[0] != 10*time.Millisecond || slept.waits[1] != 10*time.Millisecond {
		t.Fatalf("unexpected sleeps: %v", slept.waits)
	}
}

func TestResultsStopsAfterTries(t *testing.T) {
	batchURL := asyncURL("job", testJobID, "batch", testBatchID)
	resultURL := asyncURL("job", testJobID, "batch", testBatchID, "result")
	c, rt, slept := newTestClient(map[string][]mockResp{
		batchURL: {
			{status: 200, body: batchInfoXML(testBatchID, testJobID, "Queued")},
			{status: 200, body: batchInfoXML(testBatchID, testJobID, "InProgress")},
			{status: 200, body: batchInfoXML(testBatchID, testJobID, "InProgress")},
		},
	})
	job := c.OpenJob(testJobID, ContentTypeCSV)

	_, err := job.Results(context.Background(), testBatchID, 3, 0)
	ncErr, ok := err.(NotCompletedError)
	if !ok {
		t.Fatalf("expected NotCompletedError, got %T: %v", err, err)
	}
	if ncErr.BatchID != testBatchID || ncErr.Attempts != 3 {
		t.Fatalf("error mismatch: %+v", ncErr)
	}
	if got := rt.calls(batchURL); got != 3 {
		t.Fatalf("expected 3 state checks, got %d", got)
	}
	if got := rt.calls(resultURL); got != 0 {
		t.Fatalf("expected no result fetch, got %d", got)
	}
	if len(slept.waits) != 3 {
		t.Fatalf("expected 3 sleeps, got %v", slept.waits)
	}
}

func TestResultsTerminalOnFinalAttempt(t *testing.T) {
	batchURL := asyncURL("job", testJobID, "batch", testBatchID)
	resultURL := asyncURL("job", testJobID, "batch", testBatchID, "result")
	c, rt, _ := newTestClient(map[string][]mockResp{
		batchURL: {
			{status: 200, body: batchInfoXML(testBatchID, testJobID, "InProgress")},
			{status: 200, body: batchInfoXML(testBatchID, testJobID, "Completed")},
		},
		resultURL: {{status: 200, body: resultCSV}},
	})
	job := c.OpenJob(testJobID, ContentTypeCSV)

	// Completed shows up on the very last allowed check; that still counts.
	results, err := job.Results(context.Background(), testBatchID, 2, 0)
	if err != nil {
		t.Fatalf("Results: %v", err)
	}
	if len(results) != 2 {
		t.Fatalf("expected 2 rows, got %d", len(results))
	}
	if got := rt.calls(batchURL); got != 2 {
		t.Fatalf("expected 2 state checks, got %d", got)
	}
	if got := rt.calls(resultURL); got != 1 {
		t.Fatalf("expected 1 result fetch, got %d", got)
	}
}

func TestResultsDefaultsOutOfRangeArgs(t *testing.T) {
	batchURL := asyncURL("job", testJobID, "batch", testBatchID)
	c, rt, slept := newTestClient(map[string][]mockResp{
		batchURL: {{status: 200, body: batchInfoXML(testBatchID, testJobID, "InProgress")}},
	})
	job := c.OpenJob(testJobID, ContentTypeCSV)

	_, err := job.Results(context.Background(), testBatchID, 0, -time.Second)
	ncErr, ok := err.(NotCompletedError)
	if !ok {
		t.Fatalf("expected NotCompletedError, got %T: %v", err, err)
	}
	if ncErr.Attempts != DefaultPollTries {
		t.Fatalf("expected %d attempts, got %d", DefaultPollTries, ncErr.Attempts)
	}
	if got := rt.calls(batchURL); got != 1 {
		t.Fatalf("expected 1 state check, got %d", got)
	}
	if len(slept.waits) != 1 || slept.waits[0] != DefaultPollWait {
		t.Fatalf("expected one default wait, got %v", slept.waits)
	}
}

func TestResultsFetchesFailedBatch(t *testing.T) {
	batchURL := asyncURL("job", testJobID, "batch", testBatchID)
	resultURL := asyncURL("job", testJobID, "batch", testBatchID, "result")
	failedCSV := `"Id","Success","Created","Error"` + "\n" +
		`"","false","false","REQUIRED_FIELD_MISSING:Required fields are missing: [Name]"` + "\n"
	c, rt, _ := newTestClient(map[string][]mockResp{
		batchURL:  {{status: 200, body: batchInfoXML(testBatchID, testJobID, "Failed")}},
		resultURL: {{status: 200, body: failedCSV}},
	})
	job := c.OpenJob(testJobID, ContentTypeCSV)

	results, err := job.Results(context.Background(), testBatchID, 1, 0)
	if err != nil {
		t.Fatalf("Results: %v", err)
	}
	if len(results) != 1 || results[0].Success {
		t.Fatalf("unexpected results: %+v", results)
	}
	if !strings.Contains(results[0].Error, "REQUIRED_FIELD_MISSING") {
		t.Fatalf("row error mismatch: %+v", results[0])
	}
	if got := rt.calls(resultURL); got != 1 {
		t.Fatalf("expected 1 result fetch, got %d", got)
	}
}

func TestResultsStopsOnRequestError(t *testing.T) {
	// No canned responses: the first state check fails at the transport.
	c, rt, slept := newTestClient(nil)
	job := c.OpenJob(testJobID, ContentTypeCSV)

	_, err := job.Results(context.Background(), testBatchID, 5, 0)
	if err == nil {
		t.Fatal("expected an error")
	}
	if _, ok := err.(NotCompletedError); ok {
		t.Fatalf("expected transport error, got %v", err)
	}
	if len(rt.requests) != 1 {
		t.Fatalf("expected 1 attempt, got %d", len(rt.requests))
	}
	if len(slept.waits) != 1 {
		t.Fatalf("expected 1 sleep, got %v", slept.waits)
	}
}

func TestResultsStopsOnAPIError(t *testing.T) {
	batchURL := asyncURL("job", testJobID, "batch", testBatchID)
	c, rt, _ := newTestClient(map[string][]mockResp{
		batchURL: {{
			status: 400,
			body: `<error xmlns="http://www.force.com/2009/06/asyncapi/dataload">` +
				`<exceptionCode>InvalidBatchId</exceptionCode>` +
				`<exceptionMessage>Unable to find batch</exceptionMessage></error>`,
		}},
	})
	job := c.OpenJob(testJobID, ContentTypeCSV)

	_, err := job.Results(context.Background(), testBatchID, 5, 0)
	apiErr, ok := err.(APIError)
	if !ok {
		t.Fatalf("expected APIError, got %T: %v", err, err)
	}
	if apiErr.Code != "InvalidBatchId" {
		t.Fatalf("apiErr mismatch: %+v", apiErr)
	}
	if got := rt.calls(batchURL); got != 1 {
		t.Fatalf("expected polling to stop after the error, got %d checks", got)
	}
}

func TestResultsReturnsWhenContextCanceled(t *testing.T) {
	c, rt, _ := newTestClient(nil)
	c.sleep = sleepCtx
	job := c.OpenJob(testJobID, ContentTypeCSV)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := job.Results(ctx, testBatchID, 3, time.Hour)
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
	if len(rt.requests) != 0 {
		t.Fatalf("expected no state checks after cancellation, got %d", len(rt.requests))
	}
}
