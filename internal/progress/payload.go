package progress

import (
	"bytes"
	"encoding/json"

	"github.com/cockroachdb/errors"
)

// ErrNotObject is returned by Decode when a frame is valid JSON but not an object.
var ErrNotObject = errors.New("frame is not a JSON object")

// Payload is the decoded body of one frame. Fields the classifier does not
// interpret are kept in Extra and written back out by MarshalJSON.
type Payload struct {
	Progress *float64 // nil when absent or non-numeric
	Message  string
	Status   string
	Type     string
	Extra    map[string]any
}

// Decode parses a frame body. It never panics; any failure is returned as an
// error wrapping the underlying JSON error.
func Decode(data []byte) (Payload, error) {
	trimmed := bytes.TrimSpace(data)
	if len(trimmed) == 0 {
		return Payload{}, errors.Wrap(ErrNotObject, "empty frame")
	}
	if trimmed[0] != '{' {
		var v any
		if err := json.Unmarshal(trimmed, &v); err != nil {
			return Payload{}, errors.Wrap(err, "decode frame")
		}
		return Payload{}, ErrNotObject
	}

	var fields map[string]json.RawMessage
	if err := json.Unmarshal(trimmed, &fields); err != nil {
		return Payload{}, errors.Wrap(err, "decode frame")
	}

	var p Payload
	for key, raw := range fields {
		switch key {
		case "progress":
			var f float64
			if err := json.Unmarshal(raw, &f); err == nil && !isNull(raw) {
				p.Progress = &f
				continue
			}
		case "message":
			if s, ok := decodeString(raw); ok {
				p.Message = s
				continue
			}
		case "status":
			if s, ok := decodeString(raw); ok {
				p.Status = s
				continue
			}
		case "type":
			if s, ok := decodeString(raw); ok {
				p.Type = s
				continue
			}
		}
		var v any
		if err := json.Unmarshal(raw, &v); err != nil {
			return Payload{}, errors.Wrapf(err, "decode field %q", key)
		}
		if p.Extra == nil {
			p.Extra = make(map[string]any)
		}
		p.Extra[key] = v
	}
	return p, nil
}

func isNull(raw json.RawMessage) bool {
	return bytes.Equal(bytes.TrimSpace(raw), []byte("null"))
}

func decodeString(raw json.RawMessage) (string, bool) {
	if isNull(raw) {
		return "", false
	}
	var s string
	if err := json.Unmarshal(raw, &s); err != nil {
		return "", false
	}
	return s, true
}

// UnmarshalJSON implements json.Unmarshaler using Decode.
func (p *Payload) UnmarshalJSON(data []byte) error {
	v, err := Decode(data)
	if err != nil {
		return err
	}
	*p = v
	return nil
}

// MarshalJSON re-emits known fields together with everything kept in Extra.
func (p Payload) MarshalJSON() ([]byte, error) {
	out := make(map[string]any, len(p.Extra)+4)
	for k, v := range p.Extra {
		out[k] = v
	}
	if p.Progress != nil {
		out["progress"] = *p.Progress
	}
	if p.Message != "" {
		out["message"] = p.Message
	}
	if p.Status != "" {
		out["status"] = p.Status
	}
	if p.Type != "" {
		out["type"] = p.Type
	}
	return json.Marshal(out)
}

// HasProgress reports whether the frame carried a numeric progress value.
func (p Payload) HasProgress() bool {
	return p.Progress != nil
}

// Percent returns the progress value, or 0 when absent.
func (p Payload) Percent() float64 {
	if p.Progress == nil {
		return 0
	}
	return *p.Progress
}

// Clamped returns a copy with progress bounded to [0,100] and whether a change was made.
func (p Payload) Clamped() (Payload, bool) {
	if p.Progress == nil {
		return p, false
	}
	v := *p.Progress
	switch {
	case v < 0:
		v = 0
	case v > 100:
		v = 100
	default:
		return p, false
	}
	p.Progress = &v
	return p, true
}

// JobID returns the job_id field when the server echoed one.
func (p Payload) JobID() string {
	if s, ok := p.Extra["job_id"].(string); ok {
		return s
	}
	return ""
}

// OutputFiles lists output_files from a completion frame.
func (p Payload) OutputFiles() []string {
	raw, ok := p.Extra["output_files"].([]any)
	if !ok {
		return nil
	}
	files := make([]string, 0, len(raw))
	for _, v := range raw {
		if s, ok := v.(string); ok && s != "" {
			files = append(files, s)
		}
	}
	return files
}
