// Package transcript supplies the ordered message stream consumed by the
// generation pipeline.
//
// A Source is a forward iterator over already-parsed messages. The package
// ships an in-memory source, a JSONL file reader, and a date range filter;
// parsing specific chat export formats happens upstream.
package transcript
