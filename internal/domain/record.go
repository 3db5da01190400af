package domain

import (
	"encoding/json"
	"time"
	"unicode/utf8"

	"github.com/valyala/fastjson"
)

// DataKind identifies how a record key or value was decoded.
type DataKind int

const (
	// DataNull is an absent key or value.
	DataNull DataKind = iota
	// DataString is a UTF-8 payload that is not a JSON document.
	DataString
	// DataJSON is a payload holding a JSON object or array.
	DataJSON
	// DataBytes is a payload that is not valid UTF-8.
	DataBytes
)

// String returns the lower-case name of the kind.
func (k DataKind) String() string {
	switch k {
	case DataString:
		return "string"
	case DataJSON:
		return "json"
	case DataBytes:
		return "bytes"
	default:
		return "null"
	}
}

// Data is a decoded record key or value.
type Data struct {
	Kind DataKind
	// Text is the textual form of the payload. For JSON it is the raw document.
	Text string
}

// DecodeData classifies a raw payload. Objects and arrays that parse as JSON
// become DataJSON; everything else keeps its textual form.
func DecodeData(raw []byte) Data {
	if raw == nil {
		return Data{Kind: DataNull}
	}
	if !utf8.Valid(raw) {
		return Data{Kind: DataBytes, Text: string(raw)}
	}
	if looksLikeDocument(raw) && fastjson.ValidateBytes(raw) == nil {
		return Data{Kind: DataJSON, Text: string(raw)}
	}
	return Data{Kind: DataString, Text: string(raw)}
}

func looksLikeDocument(raw []byte) bool {
	for _, c := range raw {
		switch c {
		case ' ', '\t', '\r', '\n':
			continue
		case '{', '[':
			return true
		default:
			return false
		}
	}
	return false
}

// IsJSON reports whether the payload is a JSON document.
func (d Data) IsJSON() bool {
	return d.Kind == DataJSON
}

// MarshalJSON embeds JSON payloads as documents and everything else as strings.
func (d Data) MarshalJSON() ([]byte, error) {
	switch d.Kind {
	case DataNull:
		return []byte("null"), nil
	case DataJSON:
		return []byte(d.Text), nil
	default:
		return json.Marshal(d.Text)
	}
}

// UnmarshalJSON is the inverse of MarshalJSON.
func (d *Data) UnmarshalJSON(b []byte) error {
	if string(b) == "null" {
		*d = Data{Kind: DataNull}
		return nil
	}
	if len(b) > 0 && b[0] == '"' {
		var s string
		if err := json.Unmarshal(b, &s); err != nil {
			return err
		}
		*d = DecodeData([]byte(s))
		if d.Kind == DataJSON {
			// a quoted document stays a string
			d.Kind = DataString
		}
		return nil
	}
	*d = DecodeData(b)
	return nil
}

// Header is a single record header. Header order is preserved.
type Header struct {
	Key   string `json:"key"`
	Value string `json:"value"`
}

// Record is a decoded Kafka record. It is the unit flowing through the
// search pipeline and the document stored by the export index.
type Record struct {
	Topic     string `json:"topic"`
	Partition int32  `json:"partition"`
	Offset    int64  `json:"offset"`

	// Timestamp is the record timestamp in epoch milliseconds, nil when the
	// broker did not provide one.
	Timestamp *int64 `json:"timestamp,omitempty"`

	Key     Data     `json:"key"`
	Value   Data     `json:"value"`
	Headers []Header `json:"headers,omitempty"`

	// Size is the raw payload size in bytes.
	Size int `json:"size"`
}

// Millis returns a pointer to ms, for building records with a timestamp.
func Millis(ms int64) *int64 {
	return &ms
}

// Header returns the first header with the given key.
func (r *Record) Header(key string) (string, bool) {
	for _, h := range r.Headers {
		if h.Key == key {
			return h.Value, true
		}
	}
	return "", false
}

// Time returns the record timestamp in the local time zone.
func (r *Record) Time() (time.Time, bool) {
	if r.Timestamp == nil {
		return time.Time{}, false
	}
	return time.UnixMilli(*r.Timestamp).Local(), true
}

// KeyString is the textual form of the key.
func (r *Record) KeyString() string {
	return r.Key.Text
}

// ValueString is the textual form of the value.
func (r *Record) ValueString() string {
	return r.Value.Text
}

// ID uniquely identifies a record within a cluster.
func (r *Record) ID() string {
	return RecordID(r.Topic, r.Partition, r.Offset)
}
