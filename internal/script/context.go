package script

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/gofrs/uuid/v5"
)

// ServerInfo identifies the server under test.
type ServerInfo struct {
	Name         string   `json:"name,omitempty"`
	Version      string   `json:"version,omitempty"`
	Capabilities []string `json:"capabilities,omitempty"`
}

// Metadata describes where one execution comes from.
type Metadata struct {
	TestName    string            `json:"test_name"`
	ExecutionID uuid.UUID         `json:"execution_id"`
	Timestamp   time.Time         `json:"timestamp"`
	ToolName    string            `json:"tool_name,omitempty"`
	RequestID   any               `json:"request_id,omitempty"`
	ServerInfo  *ServerInfo       `json:"server_info,omitempty"`
	Extra       map[string]string `json:"extra,omitempty"`
}

// Context is the immutable input of one script execution. Request and
// Response hold decoded JSON values (nil, bool, float64, string, []any,
// map[string]any); Response stays nil during the before phase.
type Context struct {
	Request  any      `json:"request"`
	Response any      `json:"response,omitempty"`
	Metadata Metadata `json:"metadata"`
	Config   Config   `json:"config"`
}

// NewContext builds a fresh context with a new execution id. Request and
// response are normalized through JSON so every engine sees the same shapes.
func NewContext(request, response any, meta Metadata, cfg Config) (*Context, error) {
	req, err := NormalizeJSON(request)
	if err != nil {
		return nil, NewSerializationError(fmt.Sprintf("request: %v", err))
	}
	resp, err := NormalizeJSON(response)
	if err != nil {
		return nil, NewSerializationError(fmt.Sprintf("response: %v", err))
	}
	if meta.ExecutionID.IsNil() {
		meta.ExecutionID = uuid.Must(uuid.NewV4())
	}
	if meta.Timestamp.IsZero() {
		meta.Timestamp = time.Now().UTC()
	}
	return &Context{
		Request:  req,
		Response: resp,
		Metadata: meta,
		Config:   cfg.Clone(),
	}, nil
}

// HasResponse reports whether the protocol response is populated.
func (c *Context) HasResponse() bool {
	return c != nil && c.Response != nil
}

// MetadataMap renders the metadata as a plain JSON object for injection
// into a script runtime.
func (c *Context) MetadataMap() map[string]any {
	out := map[string]any{
		"test_name":    c.Metadata.TestName,
		"execution_id": c.Metadata.ExecutionID.String(),
		"timestamp":    c.Metadata.Timestamp.Format(time.RFC3339Nano),
		"tool_name":    c.Metadata.ToolName,
		"request_id":   c.Metadata.RequestID,
		"server_info":  nil,
	}
	if info := c.Metadata.ServerInfo; info != nil {
		caps := make([]any, 0, len(info.Capabilities))
		for _, capability := range info.Capabilities {
			caps = append(caps, capability)
		}
		out["server_info"] = map[string]any{
			"name":         info.Name,
			"version":      info.Version,
			"capabilities": caps,
		}
	}
	extra := make(map[string]any, len(c.Metadata.Extra))
	for k, v := range c.Metadata.Extra {
		extra[k] = v
	}
	out["extra"] = extra
	return out
}

// NormalizeJSON round-trips a value through encoding/json, producing the
// generic representation. json.RawMessage and []byte holding JSON are decoded.
func NormalizeJSON(v any) (any, error) {
	var raw []byte
	switch val := v.(type) {
	case nil:
		return nil, nil
	case json.RawMessage:
		raw = val
	case []byte:
		raw = val
	default:
		b, err := json.Marshal(val)
		if err != nil {
			return nil, err
		}
		raw = b
	}
	if len(raw) == 0 {
		return nil, nil
	}
	var out any
	if err := json.Unmarshal(raw, &out); err != nil {
		return nil, err
	}
	return out, nil
}
