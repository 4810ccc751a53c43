package progress

import (
	"strings"
	"time"
)

// Kind is the semantic classification of one stream frame.
type Kind int

const (
	KindUnknown Kind = iota
	KindConnected
	KindProgress
	KindCompleted
	KindError
	KindWarning
	KindInfo
	KindEnd
)

var kindNames = map[Kind]string{
	KindUnknown:   "unknown",
	KindConnected: "connected",
	KindProgress:  "progress",
	KindCompleted: "completed",
	KindError:     "error",
	KindWarning:   "warning",
	KindInfo:      "info",
	KindEnd:       "end",
}

func (k Kind) String() string {
	if s, ok := kindNames[k]; ok {
		return s
	}
	return "unknown"
}

// Terminal reports whether k settles the job outcome.
func (k Kind) Terminal() bool {
	return k == KindCompleted || k == KindError
}

// ParseKind maps an explicit server type hint onto a Kind.
// Matching is case-insensitive; unknown hints return false.
func ParseKind(s string) (Kind, bool) {
	s = strings.ToLower(strings.TrimSpace(s))
	if s == "" || s == "unknown" {
		return KindUnknown, false
	}
	for k, name := range kindNames {
		if name == s {
			return k, true
		}
	}
	return KindUnknown, false
}

// Message is one frame after decoding and classification.
// Raw is always set; Err is set when the frame could not be decoded.
type Message struct {
	JobID    string
	Kind     Kind
	Payload  Payload
	Raw      string
	Err      error
	Received time.Time
}

// Percent returns the clamped progress value, or -1 when the frame carried none.
func (m Message) Percent() float64 {
	if !m.Payload.HasProgress() {
		return -1
	}
	return m.Payload.Percent()
}

// Text returns the most useful human-readable line for the message.
func (m Message) Text() string {
	if m.Payload.Message != "" {
		return m.Payload.Message
	}
	if m.Err != nil {
		return m.Err.Error()
	}
	if m.Payload.Status != "" {
		return m.Payload.Status
	}
	return m.Kind.String()
}

// Reporter is implemented by UI or any observer interested in stream events.
// Undecodable receives frames that could not be parsed; m.Err says why and
// m.Raw holds the frame. The stream carries on after them.
type Reporter interface {
	Connected(jobID string)
	Progress(m Message)
	Undecodable(m Message)
	Completed(m Message)
	Error(m Message)
	End(m Message)
	Reconnecting(jobID string, attempt int, delay time.Duration)
	Closed(jobID string)
}
