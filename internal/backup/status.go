package backup

import "fmt"

// Status is the state of a queued backup. It is one of Pending, InProgress or
// Failed; only Failed carries an error text.
type Status interface {
	isStatus()
	String() string
}

// Pending means the file waits for the next worker pass.
type Pending struct{}

// InProgress means an upload attempt has started and not yet finished.
type InProgress struct{}

// Failed means the last upload attempt failed.
type Failed struct {
	Error string
}

func (Pending) isStatus()    {}
func (InProgress) isStatus() {}
func (Failed) isStatus()     {}

func (Pending) String() string    { return "pending" }
func (InProgress) String() string { return "in_progress" }
func (f Failed) String() string   { return fmt.Sprintf("failed: %s", f.Error) }

// statusRecord is the on-disk form of Status.
type statusRecord struct {
	Type  string `toml:"type" json:"type" yaml:"type"`
	Error string `toml:"error,omitempty" json:"error,omitempty" yaml:"error,omitempty"`
}

const (
	statusTypePending    = "Pending"
	statusTypeInProgress = "InProgress"
	statusTypeFailed     = "Failed"
)

func encodeStatus(s Status) statusRecord {
	switch v := s.(type) {
	case InProgress:
		return statusRecord{Type: statusTypeInProgress}
	case Failed:
		return statusRecord{Type: statusTypeFailed, Error: v.Error}
	default:
		return statusRecord{Type: statusTypePending}
	}
}

func decodeStatus(r statusRecord) (Status, error) {
	switch r.Type {
	case statusTypePending, "":
		return Pending{}, nil
	case statusTypeInProgress:
		return InProgress{}, nil
	case statusTypeFailed:
		return Failed{Error: r.Error}, nil
	default:
		return Pending{}, fmt.Errorf("unknown backup status %q", r.Type)
	}
}

// statusName is the short label used for metrics and listings.
func statusName(s Status) string {
	switch s.(type) {
	case InProgress:
		return "in_progress"
	case Failed:
		return "failed"
	default:
		return "pending"
	}
}
