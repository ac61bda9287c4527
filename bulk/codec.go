package bulk

import (
	"bytes"
	"encoding/csv"
	"encoding/json"
	"encoding/xml"
	"fmt"
	"io"
	"strconv"
	"strings"
)

// asyncAPINS is the XML namespace of every Bulk API document.
const asyncAPINS = "http://www.force.com/2009/06/asyncapi/dataload"

// ContentType selects the wire format of a job's batch payloads and results.
type ContentType string

const (
	ContentTypeCSV  ContentType = "CSV"
	ContentTypeXML  ContentType = "XML"
	ContentTypeJSON ContentType = "JSON"
)

// MIME returns the media type sent with batch payloads of this content type.
func (ct ContentType) MIME() string {
	switch ct {
	case ContentTypeCSV:
		return "text/csv"
	case ContentTypeJSON:
		return "application/json"
	default:
		return "application/xml"
	}
}

// Ext returns the file extension AddBatchFromFile requires for this content type.
func (ct ContentType) Ext() string {
	switch ct {
	case ContentTypeCSV:
		return ".csv"
	case ContentTypeJSON:
		return ".json"
	default:
		return ".xml"
	}
}

// JobState is the lifecycle state of a job.
type JobState string

const (
	JobOpen    JobState = "Open"
	JobClosed  JobState = "Closed"
	JobAborted JobState = "Aborted"
	JobFailed  JobState = "Failed"
)

// BatchState is the server-observed state of a batch. The client never sets
// it directly; closing or aborting the job moves pending batches server-side.
type BatchState string

const (
	BatchQueued       BatchState = "Queued"
	BatchInProgress   BatchState = "InProgress"
	BatchCompleted    BatchState = "Completed"
	BatchFailed       BatchState = "Failed"
	BatchNotProcessed BatchState = "NotProcessed"
)

// Terminal reports whether no further processing will happen for a batch in
// this state. Results are only meaningful once this is true.
func (s BatchState) Terminal() bool {
	return s == BatchCompleted || s == BatchFailed || s == BatchNotProcessed
}

// JobInfo mirrors the <jobInfo> document returned for a job.
type JobInfo struct {
	ID                      string      `xml:"id" json:"id"`
	Operation               string      `xml:"operation" json:"operation"`
	Object                  string      `xml:"object" json:"object"`
	CreatedByID             string      `xml:"createdById" json:"created_by_id,omitempty"`
	CreatedDate             string      `xml:"createdDate" json:"created_date,omitempty"`
	SystemModstamp          string      `xml:"systemModstamp" json:"system_modstamp,omitempty"`
	State                   JobState    `xml:"state" json:"state"`
	ExternalIDFieldName     string      `xml:"externalIdFieldName" json:"external_id_field_name,omitempty"`
	ConcurrencyMode         string      `xml:"concurrencyMode" json:"concurrency_mode,omitempty"`
	ContentType             ContentType `xml:"contentType" json:"content_type"`
	NumberBatchesQueued     int         `xml:"numberBatchesQueued" json:"number_batches_queued"`
	NumberBatchesInProgress int         `xml:"numberBatchesInProgress" json:"number_batches_in_progress"`
	NumberBatchesCompleted  int         `xml:"numberBatchesCompleted" json:"number_batches_completed"`
	NumberBatchesFailed     int         `xml:"numberBatchesFailed" json:"number_batches_failed"`
	NumberBatchesTotal      int         `xml:"numberBatchesTotal" json:"number_batches_total"`
	NumberRecordsProcessed  int         `xml:"numberRecordsProcessed" json:"number_records_processed"`
	NumberRecordsFailed     int         `xml:"numberRecordsFailed" json:"number_records_failed"`
	NumberRetries           int         `xml:"numberRetries" json:"number_retries"`
	APIVersion              string      `xml:"apiVersion" json:"api_version,omitempty"`
	TotalProcessingTime     int64       `xml:"totalProcessingTime" json:"total_processing_time"`
	APIActiveProcessingTime int64       `xml:"apiActiveProcessingTime" json:"api_active_processing_time"`
	ApexProcessingTime      int64       `xml:"apexProcessingTime" json:"apex_processing_time"`
}

// BatchInfo mirrors the <batchInfo> document returned for a batch.
type BatchInfo struct {
	ID                      string     `xml:"id" json:"id"`
	JobID                   string     `xml:"jobId" json:"job_id"`
	State                   BatchState `xml:"state" json:"state"`
	StateMessage            string     `xml:"stateMessage" json:"state_message,omitempty"`
	CreatedDate             string     `xml:"createdDate" json:"created_date,omitempty"`
	SystemModstamp          string     `xml:"systemModstamp" json:"system_modstamp,omitempty"`
	NumberRecordsProcessed  int        `xml:"numberRecordsProcessed" json:"number_records_processed"`
	NumberRecordsFailed     int        `xml:"numberRecordsFailed" json:"number_records_failed"`
	TotalProcessingTime     int64      `xml:"totalProcessingTime" json:"total_processing_time"`
	APIActiveProcessingTime int64      `xml:"apiActiveProcessingTime" json:"api_active_processing_time"`
	ApexProcessingTime      int64      `xml:"apexProcessingTime" json:"apex_processing_time"`
}

// Result is the outcome for one submitted record in a completed batch.
// Exactly one of ID/Error is meaningful: ID when the record landed, Error
// when it did not.
type Result struct {
	ID      string `json:"id"`
	Success bool   `json:"success"`
	Created bool   `json:"created"`
	Error   string `json:"error,omitempty"`
}

// jobRequest is the request-side <jobInfo> body for create and state changes.
type jobRequest struct {
	XMLName             xml.Name `xml:"jobInfo"`
	Xmlns               string   `xml:"xmlns,attr"`
	Operation           string   `xml:"operation,omitempty"`
	Object              string   `xml:"object,omitempty"`
	ExternalIDFieldName string   `xml:"externalIdFieldName,omitempty"`
	ContentType         string   `xml:"contentType,omitempty"`
	State               string   `xml:"state,omitempty"`
}

func encodeCreateJob(operation, object, externalIDField string, ct ContentType) []byte {
	return encodeJobRequest(jobRequest{
		Xmlns:               asyncAPINS,
		Operation:           operation,
		Object:              object,
		ExternalIDFieldName: externalIDField,
		ContentType:         string(ct),
	})
}

func encodeJobState(state JobState) []byte {
	return encodeJobRequest(jobRequest{Xmlns: asyncAPINS, State: string(state)})
}

func encodeJobRequest(req jobRequest) []byte {
	// Marshal of a plain struct with string fields cannot fail.
	body, _ := xml.Marshal(req)
	return append([]byte(xml.Header), body...)
}

func decodeJobInfo(data []byte) (JobInfo, error) {
	var info JobInfo
	if err := xml.Unmarshal(data, &info); err != nil {
		return JobInfo{}, DecodeError{What: "jobInfo", Err: err}
	}
	if info.ID == "" {
		return JobInfo{}, DecodeError{What: "jobInfo", Err: fmt.Errorf("missing job id")}
	}
	return info, nil
}

func decodeBatchInfo(data []byte) (BatchInfo, error) {
	var info BatchInfo
	if err := xml.Unmarshal(data, &info); err != nil {
		return BatchInfo{}, DecodeError{What: "batchInfo", Err: err}
	}
	if info.ID == "" {
		return BatchInfo{}, DecodeError{What: "batchInfo", Err: fmt.Errorf("missing batch id")}
	}
	return info, nil
}

// decodeBatchInfoList keeps the server's ordering; batches come back in
// submission order and callers depend on that.
func decodeBatchInfoList(data []byte) ([]BatchInfo, error) {
	var list struct {
		Batches []BatchInfo `xml:"batchInfo"`
	}
	if err := xml.Unmarshal(data, &list); err != nil {
		return nil, DecodeError{What: "batchInfoList", Err: err}
	}
	return list.Batches, nil
}

// decodeResults parses a batch result document in the job's content type
// into one Result per submitted record, preserving record order.
func decodeResults(ct ContentType, data []byte) ([]Result, error) {
	switch ct {
	case ContentTypeCSV:
		return decodeCSVResults(data)
	case ContentTypeJSON:
		return decodeJSONResults(data)
	default:
		return decodeXMLResults(data)
	}
}

// decodeCSVResults reads the "Id","Success","Created","Error" rows of a CSV
// job's result document.
func decodeCSVResults(data []byte) ([]Result, error) {
	r := csv.NewReader(bytes.NewReader(data))
	r.FieldsPerRecord = -1

	header, err := r.Read()
	if err != nil {
		return nil, DecodeError{What: "batch results (csv)", Err: err}
	}
	col := map[string]int{}
	for i, name := range header {
		col[strings.ToLower(strings.TrimSpace(name))] = i
	}
	for _, want := range []string{"id", "success", "created", "error"} {
		if _, ok := col[want]; !ok {
			return nil, DecodeError{What: "batch results (csv)", Err: fmt.Errorf("missing %q column", want)}
		}
	}

	var out []Result
	for {
		row, err := r.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, DecodeError{What: "batch results (csv)", Err: err}
		}
		read := func(name string) string {
			if i := col[name]; i < len(row) {
				return row[i]
			}
			return ""
		}
		success, _ := strconv.ParseBool(read("success"))
		created, _ := strconv.ParseBool(read("created"))
		out = append(out, Result{
			ID:      read("id"),
			Success: success,
			Created: created,
			Error:   read("error"),
		})
	}
	return out, nil
}

// xmlResult is one <result> element of an XML job's result document.
type xmlResult struct {
	ID      string `xml:"id"`
	Success bool   `xml:"success"`
	Created bool   `xml:"created"`
	Errors  []struct {
		StatusCode string   `xml:"statusCode"`
		Message    string   `xml:"message"`
		Fields     []string `xml:"fields"`
	} `xml:"errors"`
}

func decodeXMLResults(data []byte) ([]Result, error) {
	var doc struct {
		Results []xmlResult `xml:"result"`
	}
	if err := xml.Unmarshal(data, &doc); err != nil {
		return nil, DecodeError{What: "batch results (xml)", Err: err}
	}
	out := make([]Result, 0, len(doc.Results))
	for _, r := range doc.Results {
		res := Result{ID: r.ID, Success: r.Success, Created: r.Created}
		if len(r.Errors) > 0 {
			res.Error = flattenError(r.Errors[0].StatusCode, r.Errors[0].Message)
		}
		out = append(out, res)
	}
	return out, nil
}

func decodeJSONResults(data []byte) ([]Result, error) {
	var rows []struct {
		ID      string `json:"id"`
		Success bool   `json:"success"`
		Created bool   `json:"created"`
		Errors  []struct {
			StatusCode string `json:"statusCode"`
			Message    string `json:"message"`
		} `json:"errors"`
	}
	if err := json.Unmarshal(data, &rows); err != nil {
		return nil, DecodeError{What: "batch results (json)", Err: err}
	}
	out := make([]Result, 0, len(rows))
	for _, r := range rows {
		res := Result{ID: r.ID, Success: r.Success, Created: r.Created}
		if len(r.Errors) > 0 {
			res.Error = flattenError(r.Errors[0].StatusCode, r.Errors[0].Message)
		}
		out = append(out, res)
	}
	return out, nil
}

func flattenError(code, message string) string {
	if code == "" {
		return message
	}
	if message == "" {
		return code
	}
	return code + ":" + message
}

// decodeAPIError turns a non-2xx body into an APIError. Error bodies are XML
// for XML/CSV jobs and JSON for JSON jobs; anything else is carried raw.
func decodeAPIError(status int, body []byte) APIError {
	var xmlErr struct {
		XMLName          xml.Name `xml:"error"`
		ExceptionCode    string   `xml:"exceptionCode"`
		ExceptionMessage string   `xml:"exceptionMessage"`
	}
	if err := xml.Unmarshal(body, &xmlErr); err == nil && xmlErr.ExceptionCode != "" {
		return APIError{Status: status, Code: xmlErr.ExceptionCode, Message: xmlErr.ExceptionMessage}
	}

	var jsonErr struct {
		ExceptionCode    string `json:"exceptionCode"`
		ExceptionMessage string `json:"exceptionMessage"`
	}
	if err := json.Unmarshal(body, &jsonErr); err == nil && jsonErr.ExceptionCode != "" {
		return APIError{Status: status, Code: jsonErr.ExceptionCode, Message: jsonErr.ExceptionMessage}
	}

	const maxSnippet = 200
	snippet := strings.TrimSpace(string(body))
	if len(snippet) > maxSnippet {
		snippet = snippet[:maxSnippet]
	}
	return APIError{Status: status, Message: snippet}
}
