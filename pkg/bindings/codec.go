package bindings

import (
	"encoding/json"
	"fmt"
	"strconv"

	"github.com/fnworks/fnworker/pkg/fnerrors"
	"github.com/fnworks/fnworker/pkg/rpc"
)

func typeMismatch(want, got string) error {
	return fnerrors.NewDecodeError(
		fmt.Sprintf("wire value kind %q cannot satisfy %q", got, want), nil,
	).WithCode(fnerrors.CodeTypeMismatch)
}

func malformed(shape string, err error) error {
	return fnerrors.NewDecodeError(
		fmt.Sprintf("malformed %s payload", shape), err,
	).WithCode(fnerrors.CodeMalformedPayload)
}

// AsString decodes a wire value into text. JSON documents that are plain
// strings decode to their content; any other discriminant is a mismatch.
func AsString(v rpc.TypedValue) (string, error) {
	switch v.Kind {
	case rpc.KindString:
		return v.String, nil
	case rpc.KindJSON:
		var s string
		if err := json.Unmarshal(v.JSON, &s); err != nil {
			return "", typeMismatch("string", "json")
		}
		return s, nil
	default:
		return "", typeMismatch("string", string(v.Kind))
	}
}

// AsBytes decodes a wire value into a byte slice. Strings decode to their
// UTF-8 bytes; streams are accepted as bytes.
func AsBytes(v rpc.TypedValue) ([]byte, error) {
	switch v.Kind {
	case rpc.KindBytes:
		return v.Bytes, nil
	case rpc.KindStream:
		return v.Stream, nil
	case rpc.KindString:
		return []byte(v.String), nil
	default:
		return nil, typeMismatch("bytes", string(v.Kind))
	}
}

// AsInt decodes a wire value into an int64. Strings holding decimal digits
// are accepted; doubles are not, since that would silently truncate.
func AsInt(v rpc.TypedValue) (int64, error) {
	switch v.Kind {
	case rpc.KindInt:
		return v.Int, nil
	case rpc.KindString:
		n, err := strconv.ParseInt(v.String, 10, 64)
		if err != nil {
			return 0, malformed("integer", err)
		}
		return n, nil
	case rpc.KindJSON:
		var n int64
		if err := json.Unmarshal(v.JSON, &n); err != nil {
			return 0, typeMismatch("int", "json")
		}
		return n, nil
	default:
		return 0, typeMismatch("int", string(v.Kind))
	}
}

// AsDouble decodes a wire value into a float64. Integers widen exactly for
// the range a float64 represents; the host chose the width at encode time.
func AsDouble(v rpc.TypedValue) (float64, error) {
	switch v.Kind {
	case rpc.KindDouble:
		return v.Double, nil
	case rpc.KindInt:
		return float64(v.Int), nil
	default:
		return 0, typeMismatch("double", string(v.Kind))
	}
}

// AsJSON decodes a structured wire value into target. Strings are parsed as
// JSON documents; parse failures are malformed payloads, not mismatches.
func AsJSON(v rpc.TypedValue, target interface{}) error {
	var doc []byte
	switch v.Kind {
	case rpc.KindJSON:
		doc = v.JSON
	case rpc.KindString:
		doc = []byte(v.String)
	case rpc.KindBytes:
		doc = v.Bytes
	default:
		return typeMismatch("json", string(v.Kind))
	}
	if err := json.Unmarshal(doc, target); err != nil {
		return malformed("json", err)
	}
	return nil
}

// HTTPRequest is the language-native view of an inbound HTTP trigger.
type HTTPRequest struct {
	Method  string
	URL     string
	Headers map[string]string
	Params  map[string]string
	Query   map[string]string
	Body    []byte
}

// HTTPResponse is the language-native view of an outbound HTTP binding.
type HTTPResponse struct {
	StatusCode int
	Headers    map[string]string
	Body       interface{}
}

// AsHTTPRequest decodes a wire value into an HTTP request.
func AsHTTPRequest(v rpc.TypedValue) (*HTTPRequest, error) {
	if v.Kind != rpc.KindHTTP {
		return nil, typeMismatch("http", string(v.Kind))
	}
	m := v.HTTP
	req := &HTTPRequest{
		Method:  m.Method,
		URL:     m.URL,
		Headers: m.Headers,
		Params:  m.Params,
		Query:   m.Query,
	}
	body := m.RawBody
	if body == nil {
		body = m.Body
	}
	if body != nil && !body.IsAbsent() {
		b, err := AsBytes(*body)
		if err != nil {
			// Structured bodies stay JSON-encoded bytes.
			if body.Kind == rpc.KindJSON {
				b = []byte(body.JSON)
			} else {
				return nil, err
			}
		}
		req.Body = b
	}
	return req, nil
}

// Encode converts a language-native value into its wire form. Well-formed
// values always encode; an unrecognized Go type falls back to a JSON
// document, and only unmarshalable values (channels, cycles) error.
func Encode(value interface{}) (rpc.TypedValue, error) {
	switch t := value.(type) {
	case nil:
		return rpc.AbsentValue(), nil
	case rpc.TypedValue:
		return t, nil
	case *rpc.TypedValue:
		if t == nil {
			return rpc.AbsentValue(), nil
		}
		return *t, nil
	case string:
		return rpc.StringValue(t), nil
	case []byte:
		return rpc.BytesValue(t), nil
	case int:
		return rpc.IntValue(int64(t)), nil
	case int32:
		return rpc.IntValue(int64(t)), nil
	case int64:
		return rpc.IntValue(t), nil
	case float32:
		return rpc.DoubleValue(float64(t)), nil
	case float64:
		return rpc.DoubleValue(t), nil
	case json.RawMessage:
		return rpc.JSONValue(t), nil
	case *HTTPResponse:
		return encodeHTTPResponse(t)
	case HTTPResponse:
		return encodeHTTPResponse(&t)
	case []interface{}:
		items := make([]rpc.TypedValue, 0, len(t))
		for _, item := range t {
			tv, err := Encode(item)
			if err != nil {
				return rpc.TypedValue{}, err
			}
			items = append(items, tv)
		}
		return rpc.CollectionValue(items...), nil
	default:
		return rpc.MarshalValue(value)
	}
}

func encodeHTTPResponse(r *HTTPResponse) (rpc.TypedValue, error) {
	if r == nil {
		return rpc.AbsentValue(), nil
	}
	msg := &rpc.HTTPMessage{
		Headers:    r.Headers,
		StatusCode: strconv.Itoa(r.StatusCode),
	}
	if r.Body != nil {
		body, err := Encode(r.Body)
		if err != nil {
			return rpc.TypedValue{}, err
		}
		msg.Body = &body
	}
	return rpc.HTTPValue(msg), nil
}
