// (C) 2025 GoodData Corporation
package types

import (
	"encoding/json"
	"fmt"
	"reflect"
)

// RequestRecord is the normalized form of an incoming HTTP request as it is
// matched against and persisted.
type RequestRecord struct {
	// Method is the uppercase HTTP method token.
	Method string `json:"method"`
	// URL is the originally-received request URI (path + query string).
	URL string `json:"url"`
	// Path is the normalized path with the query string stripped.
	Path string `json:"path"`
	// Query holds query parameters, last value wins for repeated keys.
	Query map[string]string `json:"query,omitempty"`
	// Headers holds request headers with lowercased names; repeated headers
	// are comma-joined.
	Headers map[string]string `json:"headers,omitempty"`
	Body    *Body             `json:"body,omitempty"`
	// ID is a client-assigned unique id for the request.
	ID string `json:"id,omitempty"`
	// Timestamp is the capture instant in epoch milliseconds.
	Timestamp int64 `json:"timestamp,omitempty"`
}

// ResponseRecord is the persisted form of an HTTP response.
type ResponseRecord struct {
	Status  int               `json:"status"`
	Headers map[string]string `json:"headers,omitempty"`
	Body    *Body             `json:"body,omitempty"`
	// Timestamp is the capture instant in epoch milliseconds.
	Timestamp int64 `json:"timestamp,omitempty"`
}

// RecordedEntry is one persisted request/response pair. Entries are
// immutable once saved; an update is a new entry sharing (method, path).
type RecordedEntry struct {
	ID        string         `json:"id"`
	Request   RequestRecord  `json:"request"`
	Response  ResponseRecord `json:"response"`
	CreatedAt int64          `json:"createdAt"`
}

// Body is a request or response payload: either a decoded JSON value or a
// raw string. A nil *Body means the payload was absent, which is distinct
// from a JSON null.
type Body struct {
	JSON any
	Text string
	Raw  bool
}

// JSONBody wraps a decoded JSON value.
func JSONBody(v any) *Body { return &Body{JSON: v} }

// RawBody wraps an undecoded payload.
func RawBody(s string) *Body { return &Body{Text: s, Raw: true} }

// Value returns the comparable form of the body: the raw string for raw
// bodies, the decoded tree otherwise.
func (b *Body) Value() any {
	if b == nil {
		return nil
	}
	if b.Raw {
		return b.Text
	}
	return b.JSON
}

// Equal reports deep equality of two bodies. A raw string body compares
// equal to a JSON string body with the same content.
func (b *Body) Equal(other *Body) bool {
	if b == nil || other == nil {
		return b == nil && other == nil
	}
	return reflect.DeepEqual(b.Value(), other.Value())
}

// Object returns the body as a JSON object, or nil if it is not one.
func (b *Body) Object() map[string]any {
	if b == nil || b.Raw {
		return nil
	}
	m, _ := b.JSON.(map[string]any)
	return m
}

// MarshalJSON encodes raw bodies as JSON strings and JSON bodies verbatim.
func (b *Body) MarshalJSON() ([]byte, error) {
	if b.Raw {
		return json.Marshal(b.Text)
	}
	return json.Marshal(b.JSON)
}

// UnmarshalJSON decodes JSON strings as raw bodies and everything else as
// decoded JSON values. The raw/JSON-string distinction is not preserved
// across a round trip; Equal treats the two forms as equivalent.
func (b *Body) UnmarshalJSON(data []byte) error {
	var v any
	if err := json.Unmarshal(data, &v); err != nil {
		return err
	}
	if s, ok := v.(string); ok {
		b.Text = s
		b.Raw = true
		b.JSON = nil
		return nil
	}
	b.JSON = v
	b.Raw = false
	b.Text = ""
	return nil
}

// Bytes serializes the body for the wire. JSON bodies are re-encoded, so
// byte-exactness with the original payload is not guaranteed.
func (b *Body) Bytes() []byte {
	if b == nil {
		return nil
	}
	if b.Raw {
		return []byte(b.Text)
	}
	data, err := json.Marshal(b.JSON)
	if err != nil {
		return []byte(fmt.Sprintf("%v", b.JSON))
	}
	return data
}

// LatencyConfig bounds the uniform latency draw in milliseconds.
type LatencyConfig struct {
	Min int64 `json:"min" yaml:"min" validate:"min=0"`
	Max int64 `json:"max" yaml:"max" validate:"min=0,gtefield=Min"`
}

// ErrorInjectionConfig describes a synthetic error response.
type ErrorInjectionConfig struct {
	// Rate is the injection probability in percent.
	Rate    float64 `json:"rate" yaml:"rate" validate:"gte=0,lte=100"`
	Status  int     `json:"status" yaml:"status" validate:"gte=400,lte=599"`
	Message string  `json:"message" yaml:"message"`
	Details any     `json:"details,omitempty" yaml:"details,omitempty"`
}

// StatusText maps the injectable status codes to their standard reason
// phrases. Unlisted codes map to "Error".
func StatusText(status int) string {
	switch status {
	case 400:
		return "Bad Request"
	case 401:
		return "Unauthorized"
	case 403:
		return "Forbidden"
	case 404:
		return "Not Found"
	case 408:
		return "Request Timeout"
	case 429:
		return "Too Many Requests"
	case 500:
		return "Internal Server Error"
	case 502:
		return "Bad Gateway"
	case 503:
		return "Service Unavailable"
	case 504:
		return "Gateway Timeout"
	default:
		return "Error"
	}
}
