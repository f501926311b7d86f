package weather

import (
	"errors"
	"testing"
	"time"
)

func TestDecodePayload(t *testing.T) {
	tests := []struct {
		name    string
		body    string
		key     string
		shape   PayloadShape
		records int
		wantErr error
	}{
		{name: "data list", body: `{"meta":{},"data":[{"date":"2024-01-01"},{"date":"2024-01-02"}]}`, key: "data", shape: ShapeList, records: 2},
		{name: "days list", body: `{"days":[{"datetime":"2024-01-01"}]}`, key: "days", shape: ShapeList, records: 1},
		{name: "hourly list", body: `{"hourly":[{"dt":1},{"dt":2},{"dt":3}]}`, key: "hourly", shape: ShapeList, records: 3},
		{name: "current object", body: `{"current":{"dt":1704067200}}`, key: "current", shape: ShapeSingle, records: 1},
		{name: "bare object under list key", body: `{"data":{"date":"2024-01-01"}}`, key: "data", shape: ShapeSingle, records: 1},
		{name: "data wins over days", body: `{"days":[{}],"data":[{},{}]}`, key: "data", shape: ShapeList, records: 2},
		{name: "empty list falls back to current", body: `{"data":[],"current":{"dt":1}}`, key: "current", shape: ShapeSingle, records: 1},
		{name: "empty list falls through to next list", body: `{"data":[],"hourly":[{"dt":1}]}`, key: "hourly", shape: ShapeList, records: 1},
		{name: "only an empty list", body: `{"data":[]}`, key: "data", shape: ShapeList, records: 0},
		{name: "null list is ignored", body: `{"data":null,"days":[{}]}`, key: "days", shape: ShapeList, records: 1},
		{name: "no recognised key", body: `{"location":{"name":"Vienna"}}`, wantErr: ErrNoRecords},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p, err := DecodePayload([]byte(tt.body))
			if tt.wantErr != nil {
				if !errors.Is(err, tt.wantErr) {
					t.Fatalf("expected %v, got %v", tt.wantErr, err)
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if p.Key != tt.key || p.Shape != tt.shape || len(p.Records) != tt.records {
				t.Fatalf("got key=%q shape=%s records=%d, want key=%q shape=%s records=%d",
					p.Key, p.Shape, len(p.Records), tt.key, tt.shape, tt.records)
			}
		})
	}
}

func TestDecodePayloadRejectsMalformed(t *testing.T) {
	for _, body := range []string{`not json`, `[1,2]`, `{"data":5}`, `{"current":"now"}`} {
		if _, err := DecodePayload([]byte(body)); err == nil {
			t.Errorf("%s: expected error", body)
		}
	}
}

var testMapping = RecordMapping{
	TimestampKeys: []string{"date", "dt"},
	Fields: []FieldSource{
		{Field: FieldTempAvg, Path: "tavg"},
		{Field: FieldWindDirection, Path: "wdir"},
		{Field: FieldSunshine, Path: "tsun"},
		{Field: FieldDescription, Path: "weather.0.description"},
	},
}

func TestNormalize(t *testing.T) {
	body := `{"data":[
		{"date":"2024-01-01","tavg":-2.5,"wdir":179.5,"tsun":null,"weather":[{"description":"fog"}]},
		{"dt":1704153600,"tavg":3,"weather":[{"description":42}]},
		{"tavg":1.0},
		{"date":"yesterday"},
		{"date":"2024-01-04","tavg":"warm"}
	]}`

	res, err := NormalizeBody("Vienna", "meteostat", []byte(body), testMapping)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(res.Observations) != 2 || res.Dropped() != 3 {
		t.Fatalf("expected 2 observations and 3 dropped, got %d and %d", len(res.Observations), res.Dropped())
	}

	first := res.Observations[0]
	if first.City != "Vienna" || first.Provider != "meteostat" {
		t.Fatalf("unexpected identity %q %q", first.City, first.Provider)
	}
	if !first.Timestamp.Equal(time.Date(2024, time.January, 1, 0, 0, 0, 0, time.UTC)) {
		t.Fatalf("unexpected timestamp %v", first.Timestamp)
	}
	if v := first.Value(FieldTempAvg); v != -2.5 {
		t.Fatalf("unexpected temp %#v", v)
	}
	if v := first.Value(FieldWindDirection); v != int64(180) {
		t.Fatalf("expected wind direction rounded to 180, got %#v", v)
	}
	if _, ok := first.Measurements[FieldSunshine]; ok {
		t.Fatalf("null field must be absent")
	}
	if v := first.Value(FieldDescription); v != "fog" {
		t.Fatalf("unexpected description %#v", v)
	}
	if len(first.Raw) == 0 {
		t.Fatalf("raw record must be kept")
	}

	second := res.Observations[1]
	if !second.Timestamp.Equal(time.Date(2024, time.January, 2, 0, 0, 0, 0, time.UTC)) {
		t.Fatalf("unexpected epoch timestamp %v", second.Timestamp)
	}
	if v := second.Value(FieldDescription); v != "42" {
		t.Fatalf("numbers in text fields are kept as text, got %#v", v)
	}
	if v := second.Value(FieldTempAvg); v != float64(3) {
		t.Fatalf("integers in real fields become float64, got %#v", v)
	}

	wantErrs := []struct {
		index int
		err   error
	}{
		{2, ErrMissingTimestamp},
		{3, ErrBadTimestamp},
		{4, ErrFieldType},
	}
	for i, want := range wantErrs {
		got := res.Errors[i]
		if got.Index != want.index || !errors.Is(got, want.err) {
			t.Errorf("error %d: got %v at index %d, want %v at index %d", i, got.Err, got.Index, want.err, want.index)
		}
	}
}

func TestParseTimestamp(t *testing.T) {
	jan1 := time.Date(2024, time.January, 1, 0, 0, 0, 0, time.UTC)
	tests := []struct {
		name string
		in   any
		want time.Time
		ok   bool
	}{
		{name: "date", in: "2024-01-01", want: jan1, ok: true},
		{name: "rfc3339 with offset", in: "2024-01-01T01:30:00+01:30", want: jan1, ok: true},
		{name: "zone-less date time", in: "2024-01-01 12:00:00", want: jan1.Add(12 * time.Hour), ok: true},
		{name: "minutes only", in: "2024-01-01T06:15", want: jan1.Add(6*time.Hour + 15*time.Minute), ok: true},
		{name: "epoch string", in: "1704067200", want: jan1, ok: true},
		{name: "epoch float", in: float64(1704067200), want: jan1, ok: true},
		{name: "epoch int", in: int64(1704067200), want: jan1, ok: true},
		{name: "garbage", in: "next tuesday"},
		{name: "bool", in: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ParseTimestamp(tt.in)
			if !tt.ok {
				if !errors.Is(err, ErrBadTimestamp) {
					t.Fatalf("expected ErrBadTimestamp, got %v (%v)", err, got)
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if !got.Equal(tt.want) || got.Location() != time.UTC {
				t.Fatalf("got %v, want %v in UTC", got, tt.want)
			}
		})
	}
}

func TestTrailingDays(t *testing.T) {
	now := time.Date(2024, time.March, 10, 23, 30, 0, 0, time.FixedZone("CET", 3600))
	w := TrailingDays(now, 3)
	if !w.Start.Equal(time.Date(2024, time.March, 8, 0, 0, 0, 0, time.UTC)) ||
		!w.End.Equal(time.Date(2024, time.March, 10, 0, 0, 0, 0, time.UTC)) {
		t.Fatalf("unexpected window %+v", w)
	}
	if w.IsInstant() {
		t.Fatalf("range window reported as instant")
	}
}
