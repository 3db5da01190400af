package domain

import (
	"strconv"
	"time"
)

// ExportedRecord is a matched record enriched with the context of the search
// that produced it. It is the document stored in the export index.
type ExportedRecord struct {
	Record

	// DateTime is the record timestamp rendered in RFC 3339, empty without a timestamp.
	DateTime string `json:"date_time,omitempty"`

	// AbsoluteDeltaMs is the distance to the first exported record of the search.
	AbsoluteDeltaMs int64 `json:"absolute_delta_in_ms"`

	// RelativeDeltaMs is the distance to the previously exported record.
	RelativeDeltaMs int64 `json:"relative_delta_in_ms"`

	// SearchQuery is the query text that matched the record.
	SearchQuery string `json:"search_query"`

	// Sequence orders the records of an export.
	Sequence uint64 `json:"sequence"`
}

// RecordID formats the document identifier of a record.
// Format: "<topic>/<partition>/<offset>"
func RecordID(topic string, partition int32, offset int64) string {
	return topic + "/" + strconv.FormatInt(int64(partition), 10) + "/" + strconv.FormatInt(offset, 10)
}

// Deltas tracks the timestamps needed to compute export deltas.
type Deltas struct {
	first    *int64
	previous *int64
}

// Apply fills the delta fields of e from its timestamp and advances the tracker.
// Records without a timestamp get zero deltas and do not move the tracker.
func (d *Deltas) Apply(e *ExportedRecord) {
	if e.Timestamp == nil {
		return
	}
	ts := *e.Timestamp
	e.DateTime = time.UnixMilli(ts).Local().Format(time.RFC3339Nano)
	if d.first == nil {
		d.first = Millis(ts)
		d.previous = Millis(ts)
	}
	e.AbsoluteDeltaMs = ts - *d.first
	e.RelativeDeltaMs = ts - *d.previous
	d.previous = Millis(ts)
}

// Bleve field name constants for consistent field references in queries and mappings.
const (
	RecordFieldID          = "id"
	RecordFieldTopic       = "topic"
	RecordFieldPartition   = "partition"
	RecordFieldOffset      = "offset"
	RecordFieldTimestamp   = "timestamp"
	RecordFieldKey         = "key_text"
	RecordFieldValue       = "value_text"
	RecordFieldSearchQuery = "search_query"
	RecordFieldSequence    = "sequence"
	RecordFieldSource      = "source"
)
