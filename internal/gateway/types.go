package gateway

import "encoding/json"

type FailureKind string

const (
	KindEmptyCommand   FailureKind = "empty_command"
	KindPrefixRejected FailureKind = "prefix_rejected"
	KindNonZeroExit    FailureKind = "nonzero_exit"
	KindTimeout        FailureKind = "timeout"
	KindInternal       FailureKind = "internal"
)

// Result is the outcome of a single Execute call. It is either a Success or
// a Failure and always serializes to the same Body shape.
type Result interface {
	Succeeded() bool
	Body() Body
	json.Marshaler
}

// Body is the wire form of a Result. Fields that do not apply to the variant
// are left nil and omitted.
type Body struct {
	Success    bool    `json:"success"`
	Output     *string `json:"output,omitempty"`
	Error      *string `json:"error,omitempty"`
	Stderr     *string `json:"stderr,omitempty"`
	ReturnCode *int    `json:"returncode,omitempty"`
}

type Success struct {
	Output string
	Stderr string
}

func (s Success) Succeeded() bool { return true }

func (s Success) Body() Body {
	return Body{
		Success: true,
		Output:  &s.Output,
		Stderr:  &s.Stderr,
	}
}

func (s Success) MarshalJSON() ([]byte, error) {
	return json.Marshal(s.Body())
}

type Failure struct {
	Kind    FailureKind
	Message string
	// ReturnCode is only reported for KindNonZeroExit.
	ReturnCode int
}

func (f Failure) Succeeded() bool { return false }

func (f Failure) Body() Body {
	body := Body{
		Success: false,
		Error:   &f.Message,
	}
	if f.Kind == KindNonZeroExit {
		body.ReturnCode = &f.ReturnCode
	}
	return body
}

func (f Failure) MarshalJSON() ([]byte, error) {
	return json.Marshal(f.Body())
}

type Health struct {
	Status  string `json:"status"`
	Service string `json:"service"`
}
