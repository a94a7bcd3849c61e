package dto

import "errors"

var ErrProgressNotFound = errors.New("progress record not found")

// SubmitPostResponse is returned after a submission is accepted for
// asynchronous processing. TaskID equals the post id and is the key for the
// progress polling endpoint.
type SubmitPostResponse struct {
	PostID  string `json:"post_id"`
	TaskID  string `json:"task_id"`
	TraceID string `json:"trace_id"`
}

// ProgressResponse is the polling view of a pipeline execution. Completed is
// true once the record reached a terminal status.
type ProgressResponse struct {
	TaskID    string `json:"task_id"`
	Status    string `json:"status"`
	Progress  int    `json:"progress"`
	Message   string `json:"message"`
	Error     string `json:"error,omitempty"`
	Completed bool   `json:"completed"`
}

// VerifyResponse reports what a watermark check found. ProvenanceURL is set
// only when Found is true; Reason explains the negative cases.
type VerifyResponse struct {
	Found         bool    `json:"found"`
	PostID        string  `json:"post_id,omitempty"`
	Method        string  `json:"method,omitempty"`
	Confidence    float64 `json:"confidence"`
	ProvenanceURL string  `json:"provenance_url,omitempty"`
	Reason        string  `json:"reason,omitempty"`
	TraceID       string  `json:"trace_id"`
}

type ErrorResponse struct {
	Error   string `json:"error"`
	Code    string `json:"code,omitempty"`
	TraceID string `json:"trace_id,omitempty"`
}
