// Package callrecord persists a structured record for every finished call to
// the backend selected in the configuration (local disk, S3 or an HTTP sink).
package callrecord

import (
	"encoding/json"
	"errors"
	"fmt"
	"path"
	"strings"
	"time"
)

// ErrInvalidCallID is returned when a call id cannot be used as a file name
var ErrInvalidCallID = errors.New("invalid call id")

// Media is one recorded track attached to a call record
type Media struct {
	TrackID     string            `json:"track_id"`
	Path        string            `json:"path"`
	Size        int64             `json:"size"`
	ContentType string            `json:"content_type,omitempty"`
	Extra       map[string]string `json:"extra,omitempty"`
}

// CallRecord is the summary of one call
type CallRecord struct {
	CallType      string         `json:"call_type"`
	CallID        string         `json:"call_id"`
	Caller        string         `json:"caller,omitempty"`
	Callee        string         `json:"callee,omitempty"`
	StartTime     time.Time      `json:"start_time"`
	EndTime       time.Time      `json:"end_time"`
	StatusCode    int            `json:"status_code"`
	HangupReason  string         `json:"hangup_reason,omitempty"`
	Recorder      []Media        `json:"recorder,omitempty"`
	DumpEventFile string         `json:"dump_event_file,omitempty"`
	Extras        map[string]any `json:"extras,omitempty"`
}

// Duration of the call
func (r *CallRecord) Duration() time.Duration {
	if r.EndTime.Before(r.StartTime) {
		return 0
	}
	return r.EndTime.Sub(r.StartTime)
}

// Marshal encodes the record as indented JSON
func (r *CallRecord) Marshal() ([]byte, error) {
	return json.MarshalIndent(r, "", "  ")
}

// datePrefix groups records by the day the call started
func (r *CallRecord) datePrefix() string {
	return r.StartTime.UTC().Format("20060102")
}

// objectKey returns "<root>/<YYYYMMDD>/<call_id><suffix>", slash separated
func (r *CallRecord) objectKey(root, suffix string) string {
	return path.Join(root, r.datePrefix(), r.CallID+suffix)
}

// checkID rejects ids that would escape the date directory
func (r *CallRecord) checkID() error {
	if r.CallID == "" || r.CallID == "." || r.CallID == ".." || strings.ContainsAny(r.CallID, `/\`) {
		return fmt.Errorf("%w: %q", ErrInvalidCallID, r.CallID)
	}
	return nil
}
