package api

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"
)

// Deliverable status values the engine gives special meaning to. Any other
// status is treated as a domain failure and routed through the stage's
// failure policy.
const (
	DeliverableComplete = "COMPLETE"
	DeliverableBlocked  = "BLOCKED"
)

// Deliverable is the result message an external agent publishes when it
// finishes (or gives up on) a stage. The shape is deliberately closed:
// unknown fields are rejected at the decode boundary rather than surfacing
// as nil-map surprises downstream.
type Deliverable struct {
	// Status is required. COMPLETE and BLOCKED are interpreted by the
	// engine; everything else is a domain failure.
	Status string `json:"status"`

	// Summary is a short free-form line recorded on the instance.
	Summary string `json:"summary,omitempty"`

	// Decision carries the verdict of an approval-gate stage. Verdict is
	// accepted as a legacy alias.
	Decision string `json:"decision,omitempty"`
	Verdict  string `json:"verdict,omitempty"`
}

// MalformedDeliverableError reports a payload that could not be decoded
// into the deliverable shape.
type MalformedDeliverableError struct {
	Reason string
	Err    error
}

func (e *MalformedDeliverableError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("malformed deliverable: %s: %v", e.Reason, e.Err)
	}
	return "malformed deliverable: " + e.Reason
}

func (e *MalformedDeliverableError) Unwrap() error { return e.Err }

// DecodeDeliverable parses an agent's result payload. It is strict: the
// payload must be a JSON object with a non-empty status and no unknown
// fields.
func DecodeDeliverable(data []byte) (*Deliverable, error) {
	if len(bytes.TrimSpace(data)) == 0 {
		return nil, &MalformedDeliverableError{Reason: "empty payload"}
	}

	dec := json.NewDecoder(bytes.NewReader(data))
	dec.DisallowUnknownFields()

	var d Deliverable
	if err := dec.Decode(&d); err != nil {
		return nil, &MalformedDeliverableError{Reason: "invalid JSON", Err: err}
	}
	if d.Status == "" {
		return nil, &MalformedDeliverableError{Reason: "missing status field"}
	}
	return &d, nil
}

// Encode serializes the deliverable for publication.
func (d *Deliverable) Encode() ([]byte, error) {
	return json.Marshal(d)
}

// Approved reports whether a decision-gate deliverable carries an approval
// verdict. The decision field wins over verdict; matching is
// case-insensitive.
func (d *Deliverable) Approved() bool {
	v := d.Decision
	if v == "" {
		v = d.Verdict
	}
	switch strings.ToLower(strings.TrimSpace(v)) {
	case "approved", "approve", "yes", "lgtm":
		return true
	}
	return false
}
