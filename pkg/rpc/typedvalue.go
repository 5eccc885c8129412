package rpc

import (
	"encoding/json"
	"fmt"
	"strconv"
)

// ValueKind is the discriminant of the TypedValue union.
type ValueKind string

const (
	// KindAbsent marks a value that carries no data.
	KindAbsent ValueKind = "absent"
	// KindString carries UTF-8 text.
	KindString ValueKind = "string"
	// KindJSON carries a structured JSON document, kept verbatim.
	KindJSON ValueKind = "json"
	// KindBytes carries an opaque byte sequence.
	KindBytes ValueKind = "bytes"
	// KindStream carries a byte sequence the host treats as a stream.
	KindStream ValueKind = "stream"
	// KindHTTP carries an HTTP request or response shape.
	KindHTTP ValueKind = "http"
	// KindInt carries a signed 64-bit integer.
	KindInt ValueKind = "int"
	// KindDouble carries a 64-bit float.
	KindDouble ValueKind = "double"
	// KindCollection carries an ordered list of TypedValues.
	KindCollection ValueKind = "collection"
)

// TypedValue is the tagged union used to move binding data across the wire.
// Exactly one field corresponding to Kind is meaningful. Values never outlive
// the invocation that carried them except when embedded in history events.
type TypedValue struct {
	Kind       ValueKind
	String     string
	JSON       json.RawMessage
	Bytes      []byte
	Stream     []byte
	HTTP       *HTTPMessage
	Int        int64
	Double     float64
	Collection []TypedValue
}

// HTTPMessage is the wire shape shared by HTTP requests and responses.
// Rich HTTP semantics (cookies, identities, negotiation) belong to the
// binding type library; only the wire shape lives here.
type HTTPMessage struct {
	Method     string            `json:"method,omitempty"`
	URL        string            `json:"url,omitempty"`
	Headers    map[string]string `json:"headers,omitempty"`
	Params     map[string]string `json:"params,omitempty"`
	Query      map[string]string `json:"query,omitempty"`
	StatusCode string            `json:"statusCode,omitempty"`
	Body       *TypedValue       `json:"body,omitempty"`
	RawBody    *TypedValue       `json:"rawBody,omitempty"`
}

// wireTypedValue is the JSON representation. The integer field is encoded as
// a decimal string so the full int64 range survives any JSON intermediary;
// the double field stays a JSON number. The discriminant is always explicit.
type wireTypedValue struct {
	Kind       ValueKind       `json:"kind"`
	String     *string         `json:"string,omitempty"`
	JSON       json.RawMessage `json:"json,omitempty"`
	Bytes      []byte          `json:"bytes,omitempty"`
	Stream     []byte          `json:"stream,omitempty"`
	HTTP       *HTTPMessage    `json:"http,omitempty"`
	Int        *string         `json:"int,omitempty"`
	Double     *float64        `json:"double,omitempty"`
	Collection []TypedValue    `json:"collection,omitempty"`
}

// MarshalJSON implements json.Marshaler.
func (v TypedValue) MarshalJSON() ([]byte, error) {
	w := wireTypedValue{Kind: v.Kind}
	if w.Kind == "" {
		w.Kind = KindAbsent
	}
	switch w.Kind {
	case KindAbsent:
	case KindString:
		w.String = &v.String
	case KindJSON:
		if len(v.JSON) == 0 {
			return nil, fmt.Errorf("json value has empty document")
		}
		if !json.Valid(v.JSON) {
			return nil, fmt.Errorf("json value does not parse")
		}
		w.JSON = v.JSON
	case KindBytes:
		w.Bytes = v.Bytes
		if w.Bytes == nil {
			w.Bytes = []byte{}
		}
	case KindStream:
		w.Stream = v.Stream
		if w.Stream == nil {
			w.Stream = []byte{}
		}
	case KindHTTP:
		if v.HTTP == nil {
			return nil, fmt.Errorf("http value has no message")
		}
		w.HTTP = v.HTTP
	case KindInt:
		s := strconv.FormatInt(v.Int, 10)
		w.Int = &s
	case KindDouble:
		w.Double = &v.Double
	case KindCollection:
		w.Collection = v.Collection
		if w.Collection == nil {
			w.Collection = []TypedValue{}
		}
	default:
		return nil, fmt.Errorf("unknown value kind: %s", w.Kind)
	}
	return json.Marshal(w)
}

// UnmarshalJSON implements json.Unmarshaler.
func (v *TypedValue) UnmarshalJSON(data []byte) error {
	var w wireTypedValue
	if err := json.Unmarshal(data, &w); err != nil {
		return fmt.Errorf("failed to unmarshal typed value: %w", err)
	}
	*v = TypedValue{Kind: w.Kind}
	switch w.Kind {
	case KindAbsent, "":
		v.Kind = KindAbsent
	case KindString:
		if w.String != nil {
			v.String = *w.String
		}
	case KindJSON:
		if !json.Valid(w.JSON) {
			return fmt.Errorf("json value does not parse")
		}
		v.JSON = w.JSON
	case KindBytes:
		v.Bytes = w.Bytes
	case KindStream:
		v.Stream = w.Stream
	case KindHTTP:
		if w.HTTP == nil {
			return fmt.Errorf("http value has no message")
		}
		v.HTTP = w.HTTP
	case KindInt:
		if w.Int == nil {
			return fmt.Errorf("int value has no digits")
		}
		n, err := strconv.ParseInt(*w.Int, 10, 64)
		if err != nil {
			return fmt.Errorf("int value does not parse: %w", err)
		}
		v.Int = n
	case KindDouble:
		if w.Double != nil {
			v.Double = *w.Double
		}
	case KindCollection:
		v.Collection = w.Collection
	default:
		return fmt.Errorf("unknown value kind: %s", w.Kind)
	}
	return nil
}

// IsAbsent reports whether the value carries no data.
func (v TypedValue) IsAbsent() bool {
	return v.Kind == "" || v.Kind == KindAbsent
}

// AbsentValue returns the empty value.
func AbsentValue() TypedValue {
	return TypedValue{Kind: KindAbsent}
}

// StringValue wraps text.
func StringValue(s string) TypedValue {
	return TypedValue{Kind: KindString, String: s}
}

// JSONValue wraps a raw JSON document.
func JSONValue(doc json.RawMessage) TypedValue {
	return TypedValue{Kind: KindJSON, JSON: doc}
}

// MarshalValue marshals target into a KindJSON value.
func MarshalValue(target interface{}) (TypedValue, error) {
	doc, err := json.Marshal(target)
	if err != nil {
		return TypedValue{}, fmt.Errorf("failed to marshal json value: %w", err)
	}
	return JSONValue(doc), nil
}

// BytesValue wraps an opaque byte sequence.
func BytesValue(b []byte) TypedValue {
	return TypedValue{Kind: KindBytes, Bytes: b}
}

// StreamValue wraps a streamed byte sequence.
func StreamValue(b []byte) TypedValue {
	return TypedValue{Kind: KindStream, Stream: b}
}

// HTTPValue wraps an HTTP message shape.
func HTTPValue(m *HTTPMessage) TypedValue {
	return TypedValue{Kind: KindHTTP, HTTP: m}
}

// IntValue wraps a signed integer.
func IntValue(n int64) TypedValue {
	return TypedValue{Kind: KindInt, Int: n}
}

// DoubleValue wraps a float.
func DoubleValue(f float64) TypedValue {
	return TypedValue{Kind: KindDouble, Double: f}
}

// CollectionValue wraps an ordered list of values.
func CollectionValue(vs ...TypedValue) TypedValue {
	return TypedValue{Kind: KindCollection, Collection: vs}
}
