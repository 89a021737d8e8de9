// Frame protocol (spec §6.3): length-prefixed binary frames between the
// scheduler and a worker subprocess. Payloads are JSON — a concrete,
// testable choice for the "compact binary serialisation of small tagged
// unions" the spec leaves as an implementation detail — with RESULT
// frames validated against a JSON Schema via
// github.com/google/jsonschema-go before being trusted, mirroring how
// standardbeagle-lci's internal/mcp server declares jsonschema.Schema
// definitions for every tool's input shape.
package bridge

import (
	"encoding/binary"
	"encoding/json"
	"fmt"
	"io"

	"github.com/google/jsonschema-go/jsonschema"
)

// FrameType identifies a wire frame's purpose (spec §6.3).
type FrameType uint8

const (
	FrameInvokeFixture FrameType = iota
	FrameInvokeTest
	FrameInvokeHook
	FrameResult
	FrameShutdown
	FrameLog
)

func (t FrameType) String() string {
	switch t {
	case FrameInvokeFixture:
		return "INVOKE_FIXTURE"
	case FrameInvokeTest:
		return "INVOKE_TEST"
	case FrameInvokeHook:
		return "INVOKE_HOOK"
	case FrameResult:
		return "RESULT"
	case FrameShutdown:
		return "SHUTDOWN"
	case FrameLog:
		return "LOG"
	default:
		return "UNKNOWN"
	}
}

// maxFramePayload bounds a single frame so a corrupt length prefix can
// never trigger an unbounded allocation.
const maxFramePayload = 64 * 1024 * 1024

// WriteFrame writes one length-prefixed frame: 1-byte type + 4-byte LE
// payload length + payload.
func WriteFrame(w io.Writer, typ FrameType, payload []byte) error {
	header := make([]byte, 5)
	header[0] = byte(typ)
	binary.LittleEndian.PutUint32(header[1:], uint32(len(payload)))
	if _, err := w.Write(header); err != nil {
		return fmt.Errorf("bridge: write frame header: %w", err)
	}
	if len(payload) == 0 {
		return nil
	}
	if _, err := w.Write(payload); err != nil {
		return fmt.Errorf("bridge: write frame payload: %w", err)
	}
	return nil
}

// ReadFrame reads one length-prefixed frame.
func ReadFrame(r io.Reader) (FrameType, []byte, error) {
	header := make([]byte, 5)
	if _, err := io.ReadFull(r, header); err != nil {
		return 0, nil, err
	}
	typ := FrameType(header[0])
	length := binary.LittleEndian.Uint32(header[1:])
	if length > maxFramePayload {
		return 0, nil, fmt.Errorf("bridge: frame payload %d exceeds limit", length)
	}
	if length == 0 {
		return typ, nil, nil
	}
	payload := make([]byte, length)
	if _, err := io.ReadFull(r, payload); err != nil {
		return 0, nil, fmt.Errorf("bridge: read frame payload: %w", err)
	}
	return typ, payload, nil
}

// ResultFrame is the decoded payload of a RESULT frame: a structured
// failure record (exception type, message, traceback, best-effort local
// bindings) when the invocation raised, or a bare success marker.
type ResultFrame struct {
	Token         string            `json:"token,omitempty"`
	Outcome       string            `json:"outcome"` // "ok" | "raised"
	Stdout        string            `json:"stdout,omitempty"`
	Stderr        string            `json:"stderr,omitempty"`
	ExceptionType string            `json:"exception_type,omitempty"`
	Message       string            `json:"message,omitempty"`
	Traceback     []TracebackEntry  `json:"traceback,omitempty"`
	Locals        map[string]string `json:"locals,omitempty"`
	YieldActive   bool              `json:"yield_active,omitempty"`
}

// TracebackEntry mirrors types.TracebackFrame over the wire.
type TracebackEntry struct {
	File string `json:"file"`
	Line int    `json:"line"`
	Name string `json:"name"`
}

// resultSchema is the JSON Schema a RESULT frame's payload must satisfy
// before the scheduler trusts it (spec §6.3 "each request has exactly one
// matching response").
var resultSchema = &jsonschema.Schema{
	Type:     "object",
	Required: []string{"outcome"},
	Properties: map[string]*jsonschema.Schema{
		"token":          {Type: "string"},
		"outcome":        {Type: "string", Enum: []any{"ok", "raised"}},
		"stdout":         {Type: "string"},
		"stderr":         {Type: "string"},
		"exception_type": {Type: "string"},
		"message":        {Type: "string"},
		"yield_active":   {Type: "boolean"},
		"traceback": {
			Type: "array",
			Items: &jsonschema.Schema{
				Type:     "object",
				Required: []string{"file", "line", "name"},
				Properties: map[string]*jsonschema.Schema{
					"file": {Type: "string"},
					"line": {Type: "integer"},
					"name": {Type: "string"},
				},
			},
		},
		"locals": {
			Type:                 "object",
			AdditionalProperties: &jsonschema.Schema{Type: "string"},
		},
	},
}

var resolvedResultSchema *jsonschema.Resolved

func init() {
	resolved, err := resultSchema.Resolve(nil)
	if err != nil {
		panic(fmt.Sprintf("bridge: invalid RESULT frame schema: %v", err))
	}
	resolvedResultSchema = resolved
}

// DecodeResult unmarshals and schema-validates a RESULT frame's payload.
func DecodeResult(payload []byte) (ResultFrame, error) {
	var instance any
	if err := json.Unmarshal(payload, &instance); err != nil {
		return ResultFrame{}, fmt.Errorf("bridge: RESULT frame is not valid JSON: %w", err)
	}
	if err := resolvedResultSchema.Validate(instance); err != nil {
		return ResultFrame{}, fmt.Errorf("bridge: RESULT frame failed schema validation: %w", err)
	}
	var rf ResultFrame
	if err := json.Unmarshal(payload, &rf); err != nil {
		return ResultFrame{}, fmt.Errorf("bridge: decode RESULT frame: %w", err)
	}
	return rf, nil
}

// EncodeResult is the worker-side counterpart, used by the fake driver in
// tests and documented here for symmetry with DecodeResult.
func EncodeResult(rf ResultFrame) ([]byte, error) {
	return json.Marshal(rf)
}
