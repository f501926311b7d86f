package weather

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"
)

var (
	// ErrNoRecords is returned when a payload has none of the recognised record keys.
	ErrNoRecords = errors.New("payload contains no recognised record key")

	ErrMissingTimestamp = errors.New("record has no timestamp")
	ErrBadTimestamp     = errors.New("unparseable timestamp")
	ErrFieldType        = errors.New("unexpected field type")
)

// PayloadShape tells whether records came from a list or a single object.
type PayloadShape int

const (
	ShapeList PayloadShape = iota
	ShapeSingle
)

func (s PayloadShape) String() string {
	if s == ShapeSingle {
		return "single"
	}
	return "list"
}

// Payload is a provider response resolved to its record sequence.
type Payload struct {
	Shape   PayloadShape
	Key     string
	Records []json.RawMessage
}

// List keys in order of preference, then the singleton key.
var (
	listKeys  = []string{"data", "days", "hourly"}
	singleKey = "current"
)

// DecodePayload selects the record sequence of a provider response. The first
// non-empty list key wins; a singleton "current" object is used only when no
// list holds records. A list key holding a bare object is wrapped.
func DecodePayload(body []byte) (Payload, error) {
	var top map[string]json.RawMessage
	if err := json.Unmarshal(body, &top); err != nil {
		return Payload{}, fmt.Errorf("decode payload: %w", err)
	}

	var empty *Payload
	for _, key := range listKeys {
		raw, ok := top[key]
		if !ok || isNull(raw) {
			continue
		}
		records, shape, err := splitRecords(raw)
		if err != nil {
			return Payload{}, fmt.Errorf("decode %q: %w", key, err)
		}
		p := Payload{Shape: shape, Key: key, Records: records}
		if len(records) > 0 {
			return p, nil
		}
		if empty == nil {
			empty = &p
		}
	}

	if raw, ok := top[singleKey]; ok && !isNull(raw) {
		records, _, err := splitRecords(raw)
		if err != nil {
			return Payload{}, fmt.Errorf("decode %q: %w", singleKey, err)
		}
		return Payload{Shape: ShapeSingle, Key: singleKey, Records: records}, nil
	}

	if empty != nil {
		return *empty, nil
	}
	return Payload{}, ErrNoRecords
}

func splitRecords(raw json.RawMessage) ([]json.RawMessage, PayloadShape, error) {
	trimmed := bytes.TrimSpace(raw)
	if len(trimmed) == 0 {
		return nil, ShapeList, errors.New("empty value")
	}
	switch trimmed[0] {
	case '[':
		var records []json.RawMessage
		if err := json.Unmarshal(trimmed, &records); err != nil {
			return nil, ShapeList, err
		}
		return records, ShapeList, nil
	case '{':
		return []json.RawMessage{trimmed}, ShapeSingle, nil
	default:
		return nil, ShapeList, errors.New("expected an array or an object")
	}
}

func isNull(raw json.RawMessage) bool {
	return bytes.Equal(bytes.TrimSpace(raw), []byte("null"))
}

// FieldSource maps a dotted path inside a provider record (e.g.
// "weather.0.description") onto a measurement field.
type FieldSource struct {
	Field Field
	Path  string
}

// RecordMapping describes one provider's record layout.
type RecordMapping struct {
	// TimestampKeys are tried in order; the first present one is used.
	TimestampKeys []string
	Fields        []FieldSource
}

// RecordError is a record dropped during normalisation.
type RecordError struct {
	Index int
	Err   error
}

func (e RecordError) Error() string {
	return fmt.Sprintf("record %d: %v", e.Index, e.Err)
}

func (e RecordError) Unwrap() error {
	return e.Err
}

// NormalizeResult is the fold of a payload into observations and dropped records.
type NormalizeResult struct {
	Observations []Observation
	Errors       []RecordError
}

// Dropped returns the number of records that could not be normalised.
func (r NormalizeResult) Dropped() int {
	return len(r.Errors)
}

// Normalize turns every record of the payload into an Observation. A bad
// record is recorded in Errors and never stops the rest of the batch.
func Normalize(city, provider string, payload Payload, mapping RecordMapping) NormalizeResult {
	res := NormalizeResult{
		Observations: make([]Observation, 0, len(payload.Records)),
	}
	for i, raw := range payload.Records {
		obs, err := normalizeRecord(city, provider, raw, mapping)
		if err != nil {
			res.Errors = append(res.Errors, RecordError{Index: i, Err: err})
			continue
		}
		res.Observations = append(res.Observations, obs)
	}
	return res
}

// NormalizeBody decodes a raw response body and normalises it.
func NormalizeBody(city, provider string, body []byte, mapping RecordMapping) (NormalizeResult, error) {
	payload, err := DecodePayload(body)
	if err != nil {
		return NormalizeResult{}, err
	}
	return Normalize(city, provider, payload, mapping), nil
}

func normalizeRecord(city, provider string, raw json.RawMessage, mapping RecordMapping) (Observation, error) {
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()

	var record map[string]any
	if err := dec.Decode(&record); err != nil {
		return Observation{}, fmt.Errorf("decode record: %w", err)
	}

	ts, err := recordTimestamp(record, mapping.TimestampKeys)
	if err != nil {
		return Observation{}, err
	}

	measurements := make(map[Field]any, len(mapping.Fields))
	for _, src := range mapping.Fields {
		v, ok := lookupPath(record, src.Path)
		if !ok || v == nil {
			continue
		}
		converted, err := convertValue(src.Field.Kind(), v)
		if err != nil {
			return Observation{}, fmt.Errorf("field %s (%s): %w", src.Field, src.Path, err)
		}
		measurements[src.Field] = converted
	}

	return Observation{
		City:         city,
		Timestamp:    ts,
		Provider:     provider,
		Measurements: measurements,
		Raw:          append(json.RawMessage(nil), raw...),
	}, nil
}

func recordTimestamp(record map[string]any, keys []string) (time.Time, error) {
	for _, key := range keys {
		v, ok := record[key]
		if !ok || v == nil {
			continue
		}
		return ParseTimestamp(v)
	}
	return time.Time{}, ErrMissingTimestamp
}

var timestampLayouts = []string{
	"2006-01-02",
	time.RFC3339,
	"2006-01-02T15:04:05",
	"2006-01-02 15:04:05",
	"2006-01-02T15:04",
	"2006-01-02 15:04",
}

// ParseTimestamp accepts a bare date, a date-time string or epoch seconds and
// returns the instant in UTC. Zone-less values are read as UTC.
func ParseTimestamp(v any) (time.Time, error) {
	switch t := v.(type) {
	case json.Number:
		return epochSeconds(t.String())
	case float64:
		return time.Unix(int64(t), 0).UTC(), nil
	case int64:
		return time.Unix(t, 0).UTC(), nil
	case string:
		s := strings.TrimSpace(t)
		for _, layout := range timestampLayouts {
			if ts, err := time.Parse(layout, s); err == nil {
				return ts.UTC(), nil
			}
		}
		if ts, err := epochSeconds(s); err == nil {
			return ts, nil
		}
		return time.Time{}, fmt.Errorf("%w: %q", ErrBadTimestamp, s)
	default:
		return time.Time{}, fmt.Errorf("%w: %T", ErrBadTimestamp, v)
	}
}

func epochSeconds(s string) (time.Time, error) {
	if n, err := strconv.ParseInt(s, 10, 64); err == nil {
		return time.Unix(n, 0).UTC(), nil
	}
	f, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return time.Time{}, fmt.Errorf("%w: %q", ErrBadTimestamp, s)
	}
	return time.Unix(int64(f), 0).UTC(), nil
}

func lookupPath(record map[string]any, path string) (any, bool) {
	var cur any = record
	for _, part := range strings.Split(path, ".") {
		switch node := cur.(type) {
		case map[string]any:
			next, ok := node[part]
			if !ok {
				return nil, false
			}
			cur = next
		case []any:
			i, err := strconv.Atoi(part)
			if err != nil || i < 0 || i >= len(node) {
				return nil, false
			}
			cur = node[i]
		default:
			return nil, false
		}
	}
	return cur, true
}

func convertValue(kind FieldKind, v any) (any, error) {
	switch kind {
	case KindReal:
		n, ok := v.(json.Number)
		if !ok {
			return nil, fmt.Errorf("%w: want number, got %T", ErrFieldType, v)
		}
		return n.Float64()
	case KindInteger:
		n, ok := v.(json.Number)
		if !ok {
			return nil, fmt.Errorf("%w: want number, got %T", ErrFieldType, v)
		}
		if i, err := n.Int64(); err == nil {
			return i, nil
		}
		f, err := n.Float64()
		if err != nil {
			return nil, err
		}
		return int64(math.Round(f)), nil
	default:
		switch t := v.(type) {
		case string:
			return t, nil
		case json.Number:
			return t.String(), nil
		default:
			return nil, fmt.Errorf("%w: want string, got %T", ErrFieldType, v)
		}
	}
}
