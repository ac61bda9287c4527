package bulk

import "fmt"

// APIError is a non-2xx answer from the Bulk API with its decoded error body.
// The poller does not retry these; callers decide what to do with them.
type APIError struct {
	Status  int    // HTTP status code
	Code    string // exceptionCode, e.g. "InvalidSessionId", "InvalidBatch"
	Message string
}

func (e APIError) Error() string {
	return fmt.Sprintf("bulk api: http %d %s: %s", e.Status, e.Code, e.Message)
}

// DecodeError reports a response body that did not parse as the expected
// wire document.
type DecodeError struct {
	What string // which document failed, e.g. "jobInfo", "batch results"
	Err  error
}

func (e DecodeError) Error() string {
	return fmt.Sprintf("bulk: decode %s: %v", e.What, e.Err)
}

func (e DecodeError) Unwrap() error { return e.Err }

// FileError reports a local read problem for a batch file. It keeps the path
// and the original cause.
type FileError struct {
	Path string
	Err  error
}

func (e FileError) Error() string {
	return fmt.Sprintf("bulk: read batch file %s: %v", e.Path, e.Err)
}

func (e FileError) Unwrap() error { return e.Err }

// InvalidFileTypeError means the batch file extension does not match the
// job's content type. No I/O was attempted.
type InvalidFileTypeError struct {
	Path string
	Want string // required extension, e.g. ".csv"
}

func (e InvalidFileTypeError) Error() string {
	return fmt.Sprintf("bulk: batch file %s: job requires a %s file", e.Path, e.Want)
}

// NotCompletedError means the batch never reached a terminal state within
// the poll budget.
type NotCompletedError struct {
	BatchID  string
	Attempts int
}

func (e NotCompletedError) Error() string {
	return fmt.Sprintf("bulk: batch %s not completed after %d state checks", e.BatchID, e.Attempts)
}
