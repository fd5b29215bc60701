package api

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDecodeDeliverable(t *testing.T) {
	d, err := DecodeDeliverable([]byte(`{"status":"COMPLETE","summary":"done"}`))
	require.NoError(t, err)
	assert.Equal(t, DeliverableComplete, d.Status)
	assert.Equal(t, "done", d.Summary)
}

func TestDecodeDeliverableRejectsUnknownFields(t *testing.T) {
	_, err := DecodeDeliverable([]byte(`{"status":"COMPLETE","extra":"nope"}`))
	require.Error(t, err)

	var malformed *MalformedDeliverableError
	assert.True(t, errors.As(err, &malformed))
}

func TestDecodeDeliverableRejectsMissingStatus(t *testing.T) {
	_, err := DecodeDeliverable([]byte(`{"summary":"no status here"}`))
	require.Error(t, err)

	var malformed *MalformedDeliverableError
	require.True(t, errors.As(err, &malformed))
	assert.Contains(t, malformed.Reason, "missing status")
}

func TestDecodeDeliverableRejectsGarbage(t *testing.T) {
	for name, payload := range map[string]string{
		"empty":     "",
		"blank":     "   \n",
		"not json":  "hello world",
		"truncated": `{"status":`,
	} {
		t.Run(name, func(t *testing.T) {
			_, err := DecodeDeliverable([]byte(payload))
			assert.Error(t, err)
		})
	}
}

func TestDeliverableApproved(t *testing.T) {
	cases := []struct {
		name string
		d    Deliverable
		want bool
	}{
		{"approved decision", Deliverable{Decision: "approved"}, true},
		{"mixed case", Deliverable{Decision: "Approved"}, true},
		{"lgtm", Deliverable{Decision: "LGTM"}, true},
		{"whitespace", Deliverable{Decision: "  yes  "}, true},
		{"verdict fallback", Deliverable{Verdict: "approve"}, true},
		{"decision wins over verdict", Deliverable{Decision: "rejected", Verdict: "approved"}, false},
		{"rejected", Deliverable{Decision: "rejected"}, false},
		{"empty", Deliverable{}, false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.want, tc.d.Approved())
		})
	}
}
