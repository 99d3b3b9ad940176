package messages

import "time"

// ScanRecorded is what depot scanners publish when a parcel passes a scan
// point. The API consumes these and applies them through the same append path
// as HTTP scans.
type ScanRecorded struct {
	TrackingCode string    `json:"tracking_code"`
	Type         string    `json:"type"`
	TS           time.Time `json:"ts"`
	Location     string    `json:"location"`
	Note         *string   `json:"note,omitempty"`
}

// ParcelStatusChanged is the outbound feed: published after every accepted
// scan and after every auditor correction, keyed by tracking code.
type ParcelStatusChanged struct {
	TrackingCode string    `json:"tracking_code"`
	Status       string    `json:"status"`
	Reason       string    `json:"reason"` // "scan" | "audit"
	OccurredAt   time.Time `json:"occurred_at"`

	Event *ScanRecorded `json:"event,omitempty"`
}
