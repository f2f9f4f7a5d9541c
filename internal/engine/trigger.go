package engine

import (
	"fmt"
	"time"
)

// TriggerSource identifies what requested a pass.
type TriggerSource int

const (
	// TriggerManual is a pass the user asked for.
	TriggerManual TriggerSource = iota + 1
	// TriggerTimer is a scheduled pass.
	TriggerTimer
	// TriggerDocumentChange is a pass caused by a document being written.
	TriggerDocumentChange
)

func (s TriggerSource) String() string {
	switch s {
	case TriggerManual:
		return "manual"
	case TriggerTimer:
		return "timer"
	case TriggerDocumentChange:
		return "document-change"
	}
	return fmt.Sprintf("TriggerSource(%d)", int(s))
}

// ParseTriggerSource is the inverse of TriggerSource.String.
func ParseTriggerSource(s string) (TriggerSource, error) {
	switch s {
	case "manual":
		return TriggerManual, nil
	case "timer":
		return TriggerTimer, nil
	case "document-change":
		return TriggerDocumentChange, nil
	}
	return 0, fmt.Errorf("unknown trigger source %q", s)
}

// Trigger requests one reconciliation pass. Path, when set, limits the pass
// to that single vault-relative document.
type Trigger struct {
	Source TriggerSource
	Path   string
	At     time.Time
}

// UserInitiated reports whether the user asked directly for this document,
// in which case validation problems are worth telling them about.
func (t Trigger) UserInitiated() bool {
	return t.Source == TriggerManual && t.Path != ""
}

// Scoped reports whether the pass is limited to one document.
func (t Trigger) Scoped() bool {
	return t.Path != ""
}
