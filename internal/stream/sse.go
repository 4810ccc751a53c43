package stream

import (
	"bufio"
	"io"
	"strconv"
	"strings"
	"time"

	"github.com/cockroachdb/errors"
)

const maxFrameSize = 1 << 20

// sseEvent is one dispatched server-sent event, or a comment line.
type sseEvent struct {
	Event   string
	Data    string
	ID      string
	Retry   time.Duration
	Comment bool
}

// sseReader assembles server-sent events from a byte stream.
type sseReader struct {
	scanner *bufio.Scanner

	// event being assembled; survives interleaved comment lines
	pending sseEvent
	data    strings.Builder
	hasData bool
}

func newSSEReader(r io.Reader) *sseReader {
	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 0, 64*1024), maxFrameSize)
	return &sseReader{scanner: sc}
}

// Next reads lines until a complete event is assembled. Comment lines are
// returned immediately as keep-alives. Returns io.EOF when the stream ends.
func (r *sseReader) Next() (sseEvent, error) {
	for r.scanner.Scan() {
		line := strings.TrimSuffix(r.scanner.Text(), "\r")

		if line == "" {
			// Blank line dispatches the event.
			if r.hasData {
				return r.dispatch(), nil
			}
			r.pending = sseEvent{}
			continue
		}

		if strings.HasPrefix(line, ":") {
			return sseEvent{Comment: true, Data: strings.TrimSpace(line[1:])}, nil
		}

		field, value, _ := strings.Cut(line, ":")
		value = strings.TrimPrefix(value, " ")

		switch field {
		case "data":
			if r.hasData {
				r.data.WriteByte('\n')
			}
			r.data.WriteString(value)
			r.hasData = true
		case "event":
			r.pending.Event = value
		case "id":
			r.pending.ID = value
		case "retry":
			if ms, err := strconv.Atoi(value); err == nil && ms >= 0 {
				r.pending.Retry = time.Duration(ms) * time.Millisecond
			}
		}
		// Unknown fields are ignored.
	}

	if err := r.scanner.Err(); err != nil {
		return sseEvent{}, errors.Wrap(err, "read event stream")
	}

	// Scanner exhausted without error = EOF. A trailing event without its
	// blank line is still delivered.
	if r.hasData {
		return r.dispatch(), nil
	}
	return sseEvent{}, io.EOF
}

func (r *sseReader) dispatch() sseEvent {
	ev := r.pending
	ev.Data = r.data.String()
	r.pending = sseEvent{}
	r.data.Reset()
	r.hasData = false
	return ev
}
