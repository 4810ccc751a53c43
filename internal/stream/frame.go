package stream

import (
	"time"

	"stemwatch/internal/progress"
)

// Parse decodes and classifies one raw frame. Undecodable frames come back
// as KindUnknown with Raw and Err set; Parse never fails.
func (c *Classifier) Parse(jobID, raw string, at time.Time) progress.Message {
	msg := progress.Message{JobID: jobID, Raw: raw, Received: at}
	p, err := progress.Decode([]byte(raw))
	if err != nil {
		msg.Kind = progress.KindUnknown
		msg.Err = err
		return msg
	}
	msg.Kind, msg.Payload = c.Classify(p)
	return msg
}

func eventFor(kind progress.Kind) (EventType, bool) {
	switch kind {
	case progress.KindProgress:
		return EventProgress, true
	case progress.KindCompleted:
		return EventCompleted, true
	case progress.KindError:
		return EventError, true
	case progress.KindEnd:
		return EventEnd, true
	default:
		return 0, false
	}
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "…"
}
