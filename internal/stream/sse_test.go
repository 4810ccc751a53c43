package stream

import (
	"io"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func readAll(t *testing.T, input string) []sseEvent {
	t.Helper()
	r := newSSEReader(strings.NewReader(input))
	var out []sseEvent
	for {
		ev, err := r.Next()
		if err == io.EOF {
			return out
		}
		require.NoError(t, err)
		out = append(out, ev)
	}
}

func TestSSEReader(t *testing.T) {
	tests := []struct {
		name  string
		input string
		want  []sseEvent
	}{
		{
			name:  "single event",
			input: "data: {\"progress\":1}\n\n",
			want:  []sseEvent{{Data: `{"progress":1}`}},
		},
		{
			name:  "multi-line data is joined",
			input: "data: line one\ndata: line two\n\n",
			want:  []sseEvent{{Data: "line one\nline two"}},
		},
		{
			name:  "crlf line endings",
			input: "data: a\r\n\r\ndata: b\r\n\r\n",
			want:  []sseEvent{{Data: "a"}, {Data: "b"}},
		},
		{
			name:  "no space after colon",
			input: "data:{\"x\":1}\n\n",
			want:  []sseEvent{{Data: `{"x":1}`}},
		},
		{
			name:  "only one leading space is stripped",
			input: "data:  padded\n\n",
			want:  []sseEvent{{Data: " padded"}},
		},
		{
			name:  "heartbeat comment",
			input: ": heartbeat 1700000000\n\ndata: x\n\n",
			want:  []sseEvent{{Comment: true, Data: "heartbeat 1700000000"}, {Data: "x"}},
		},
		{
			name:  "comment inside an event keeps partial data",
			input: "data: first\n: ping\ndata: second\n\n",
			want:  []sseEvent{{Comment: true, Data: "ping"}, {Data: "first\nsecond"}},
		},
		{
			name:  "named event with id and retry",
			input: "event: progress\nid: 7\nretry: 2500\ndata: {}\n\n",
			want:  []sseEvent{{Event: "progress", ID: "7", Retry: 2500 * time.Millisecond, Data: "{}"}},
		},
		{
			name:  "event without data is dropped",
			input: "event: ping\n\ndata: y\n\n",
			want:  []sseEvent{{Data: "y"}},
		},
		{
			name:  "unknown fields ignored",
			input: "foo: bar\ndata: z\n\n",
			want:  []sseEvent{{Data: "z"}},
		},
		{
			name:  "trailing event without blank line",
			input: "data: a\n\ndata: tail",
			want:  []sseEvent{{Data: "a"}, {Data: "tail"}},
		},
		{
			name:  "empty data line",
			input: "data:\n\n",
			want:  []sseEvent{{Data: ""}},
		},
		{
			name:  "empty stream",
			input: "",
			want:  nil,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, readAll(t, tt.input))
		})
	}
}

func TestSSEReaderFrameTooLarge(t *testing.T) {
	input := "data: " + strings.Repeat("x", maxFrameSize+1) + "\n\n"
	r := newSSEReader(strings.NewReader(input))
	_, err := r.Next()
	require.Error(t, err)
	assert.NotErrorIs(t, err, io.EOF)
}
