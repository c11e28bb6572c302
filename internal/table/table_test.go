package table_test

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math"
	"testing"
	"time"

	"extractor/internal/table"

	"github.com/google/go-cmp/cmp"
	"github.com/google/uuid"
	"go.mongodb.org/mongo-driver/v2/bson"
)

// ─────────────────────────────────────────────────────────────
// Decode cascade
// ─────────────────────────────────────────────────────────────

func TestCell_EveryKind(t *testing.T) {
	ts := time.Date(2024, 3, 9, 14, 5, 6, 0, time.FixedZone("MSK", 3*3600))
	id := uuid.MustParse("6ba7b810-9dad-11d1-80b4-00c04fd430c8")

	cases := []struct {
		name string
		in   table.Value
		want string
	}{
		{"text", table.Text("hello"), "hello"},
		{"int", table.Int(-42), "-42"},
		{"uint", table.Uint(math.MaxUint64), "18446744073709551615"},
		{"float", table.Float(3.25), "3.25"},
		{"float no exponent", table.Float(1e21), "1000000000000000000000"},
		{"float small", table.Float(0.000001), "0.000001"},
		{"nan", table.Float(math.NaN()), "NaN"},
		{"bool", table.Bool(true), "true"},
		{"time keeps offset", table.Time(ts), "2024-03-09T14:05:06+03:00"},
		{"decimal exact", table.Decimal("12345678901234567890.000000001"), "12345678901234567890.000000001"},
		{"object id", table.ObjectID("65f1c0ffee0000000000abcd"), "65f1c0ffee0000000000abcd"},
		{"uuid", table.UUID(id), "6ba7b810-9dad-11d1-80b4-00c04fd430c8"},
		{"binary", table.Binary([]byte{0xde, 0xad}), "dead"},
		{"list", table.List(table.Int(1), table.Text("a"), table.Null()), `[1, "a", null]`},
		{"map sorted", table.Map(map[string]table.Value{"b": table.Int(2), "a": table.Bool(false)}), `{"a": false, "b": 2}`},
		{"document keeps order", table.Document([]string{"z", "a"}, []table.Value{table.Int(1), table.List()}), `{"z": 1, "a": []}`},
		{"null", table.Null(), ""},
		{"unsupported", table.Unsupported("bson.Regex"), table.UnsupportedSentinel},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := table.Cell(tc.in); got != tc.want {
				t.Errorf("Cell(%s) = %q, want %q", tc.in.Kind, got, tc.want)
			}
		})
	}
}

func TestCell_NullAndEmptyTextAreIdentical(t *testing.T) {
	if table.Cell(table.Null()) != table.Cell(table.Text("")) {
		t.Fatal("null and empty text must render the same cell")
	}
	var zero table.Value
	if zero.Kind != table.KindNull || table.Cell(zero) != "" {
		t.Errorf("zero Value should be null, got kind %s", zero.Kind)
	}
}

func TestCell_UnknownKindIsSentinel(t *testing.T) {
	v := table.Value{Kind: table.Kind(200)}
	if got := table.Cell(v); got != table.UnsupportedSentinel {
		t.Errorf("got %q, want sentinel", got)
	}
}

func TestFromSQL(t *testing.T) {
	ts := time.Date(2023, 1, 2, 3, 4, 5, 0, time.UTC)
	cases := []struct {
		in   any
		want string
	}{
		{nil, ""},
		{"x", "x"},
		{[]byte("raw"), "raw"},
		{int64(7), "7"},
		{int32(-7), "-7"},
		{uint8(255), "255"},
		{float32(1.5), "1.5"},
		{false, "false"},
		{ts, "2023-01-02T03:04:05Z"},
		{struct{}{}, table.UnsupportedSentinel},
	}
	for _, tc := range cases {
		if got := table.Cell(table.FromSQL(tc.in)); got != tc.want {
			t.Errorf("FromSQL(%#v) = %q, want %q", tc.in, got, tc.want)
		}
	}
}

func TestFromBSON(t *testing.T) {
	oid, _ := bson.ObjectIDFromHex("65f1c0ffee0000000000abcd")
	dec, _ := bson.ParseDecimal128("1234.5600")
	id := uuid.MustParse("6ba7b810-9dad-11d1-80b4-00c04fd430c8")
	when := time.Date(2024, 5, 1, 0, 0, 0, 0, time.UTC)

	cases := []struct {
		name string
		in   any
		want string
	}{
		{"string", "s", "s"},
		{"int32", int32(5), "5"},
		{"int64", int64(1 << 40), "1099511627776"},
		{"double", 2.5, "2.5"},
		{"bool", true, "true"},
		{"datetime", bson.NewDateTimeFromTime(when), "2024-05-01T00:00:00Z"},
		{"decimal128", dec, "1234.5600"},
		{"object id", oid, "65f1c0ffee0000000000abcd"},
		{"uuid binary", bson.Binary{Subtype: 0x04, Data: id[:]}, id.String()},
		{"generic binary", bson.Binary{Subtype: 0x00, Data: []byte{1, 2}}, "0102"},
		{"null", nil, ""},
		{"array", bson.A{int32(1), "two"}, `[1, "two"]`},
		{"document", bson.D{{Key: "b", Value: int32(1)}, {Key: "a", Value: nil}}, `{"b": 1, "a": null}`},
		{"regex", bson.Regex{Pattern: "^a", Options: "i"}, table.UnsupportedSentinel},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := table.Cell(table.FromBSON(tc.in)); got != tc.want {
				t.Errorf("got %q, want %q", got, tc.want)
			}
		})
	}
}

func TestFromJSON(t *testing.T) {
	cases := []struct {
		in   any
		want string
	}{
		{"a", "a"},
		{float64(10), "10"},
		{json.Number("9007199254740993"), "9007199254740993"},
		{json.Number("123456789012345678901234"), "123456789012345678901234"},
		{json.Number("0.5"), "0.5"},
		{true, "true"},
		{nil, ""},
		{map[string]any{"k": []any{"v", nil}}, `{"k": ["v", null]}`},
	}
	for _, tc := range cases {
		if got := table.Cell(table.FromJSON(tc.in)); got != tc.want {
			t.Errorf("FromJSON(%#v) = %q, want %q", tc.in, got, tc.want)
		}
	}
}

// ─────────────────────────────────────────────────────────────
// Normalize
// ─────────────────────────────────────────────────────────────

func TestNormalize_DeclaredColumns(t *testing.T) {
	src := table.NewSliceSource([]string{"id", "name", "score"}, []table.Record{
		table.Positional(table.Int(1), table.Text("ann"), table.Float(9.5)),
		table.Positional(table.Int(2), table.Null()),
	})

	got, stats, err := table.Normalize(context.Background(), src)
	if err != nil {
		t.Fatalf("Normalize: %v", err)
	}
	want := &table.Table{
		Headers: []string{"id", "name", "score"},
		Rows:    [][]string{{"1", "ann", "9.5"}, {"2", "", ""}},
	}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("table mismatch (-want +got):\n%s", diff)
	}
	if stats.Rows != 2 {
		t.Errorf("stats.Rows = %d, want 2", stats.Rows)
	}
}

func TestNormalize_SchemalessFirstRecordFreeze(t *testing.T) {
	src := table.NewSliceSource(nil, []table.Record{
		table.Keyed(map[string]table.Value{"b": table.Int(1), "a": table.Text("x")}),
		table.Keyed(map[string]table.Value{"a": table.Text("y"), "c": table.Bool(true)}),
		table.Keyed(map[string]table.Value{"b": table.Int(3), "a": table.Text("z")}),
	})

	got, stats, err := table.Normalize(context.Background(), src)
	if err != nil {
		t.Fatalf("Normalize: %v", err)
	}
	want := &table.Table{
		Headers: []string{"a", "b"},
		Rows:    [][]string{{"x", "1"}, {"y", ""}, {"z", "3"}},
	}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("table mismatch (-want +got):\n%s", diff)
	}
	if stats.Dropped != 1 {
		t.Errorf("stats.Dropped = %d, want 1 (field c)", stats.Dropped)
	}
}

func TestNormalize_HeaderStabilityForUniformRecords(t *testing.T) {
	var recs []table.Record
	for i := 0; i < 5; i++ {
		recs = append(recs, table.Keyed(map[string]table.Value{
			"zeta": table.Int(int64(i)), "alpha": table.Int(0), "mid": table.Null(),
		}))
	}
	got, _, err := table.Normalize(context.Background(), table.NewSliceSource(nil, recs))
	if err != nil {
		t.Fatal(err)
	}
	if diff := cmp.Diff([]string{"alpha", "mid", "zeta"}, got.Headers); diff != "" {
		t.Errorf("headers (-want +got):\n%s", diff)
	}
}

func TestNormalize_SyntheticColumns(t *testing.T) {
	src := table.NewSliceSource(nil, []table.Record{
		table.Positional(table.Text("a"), table.Text("b")),
		table.Positional(table.Text("c"), table.Text("d"), table.Text("extra")),
		table.Positional(table.Text("e")),
	})
	got, stats, err := table.Normalize(context.Background(), src)
	if err != nil {
		t.Fatal(err)
	}
	want := &table.Table{
		Headers: []string{"Column1", "Column2"},
		Rows:    [][]string{{"a", "b"}, {"c", "d"}, {"e", ""}},
	}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("table mismatch (-want +got):\n%s", diff)
	}
	if stats.Dropped != 1 {
		t.Errorf("stats.Dropped = %d, want 1", stats.Dropped)
	}
}

func TestNormalize_ZeroRows(t *testing.T) {
	got, stats, err := table.Normalize(context.Background(), table.NewSliceSource(nil, nil))
	if err != nil {
		t.Fatalf("zero rows must not be an error: %v", err)
	}
	if len(got.Headers) != 0 || len(got.Rows) != 0 || stats.Rows != 0 {
		t.Errorf("expected empty table, got %+v stats %+v", got, stats)
	}
}

func TestNormalize_UnsupportedKeepsRow(t *testing.T) {
	src := table.NewSliceSource([]string{"a", "b"}, []table.Record{
		table.Positional(table.Text("ok"), table.Unsupported("chan int")),
		table.Positional(table.Unsupported("func()"), table.Int(1)),
	})
	got, stats, err := table.Normalize(context.Background(), src)
	if err != nil {
		t.Fatal(err)
	}
	if len(got.Rows) != 2 {
		t.Fatalf("rows = %d, want 2", len(got.Rows))
	}
	if got.Rows[0][1] != table.UnsupportedSentinel || got.Rows[1][0] != table.UnsupportedSentinel {
		t.Errorf("sentinel cells missing: %v", got.Rows)
	}
	if stats.Unsupported != 2 {
		t.Errorf("stats.Unsupported = %d, want 2", stats.Unsupported)
	}
}

func TestNormalize_CountsNestedUnsupported(t *testing.T) {
	doc := table.Document(
		[]string{"name", "pattern"},
		[]table.Value{table.Text("x"), table.Unsupported("regex")},
	)
	src := table.NewSliceSource([]string{"list", "doc"}, []table.Record{
		table.Positional(table.List(table.Unsupported("weird")), doc),
	})
	got, stats, err := table.Normalize(context.Background(), src)
	if err != nil {
		t.Fatal(err)
	}
	if want := "[" + table.UnsupportedSentinel + "]"; got.Rows[0][0] != want {
		t.Errorf("cell = %q, want %q", got.Rows[0][0], want)
	}
	if stats.Unsupported != 2 {
		t.Errorf("stats.Unsupported = %d, want 2", stats.Unsupported)
	}
}

func TestNormalize_ArityInvariant(t *testing.T) {
	src := table.NewSliceSource([]string{"x", "y", "x"}, []table.Record{
		table.Positional(),
		table.Positional(table.Int(1)),
		table.Positional(table.Int(1), table.Int(2), table.Int(3), table.Int(4)),
		table.Keyed(map[string]table.Value{"y": table.Int(9), "nope": table.Int(0)}),
	})
	got, _, err := table.Normalize(context.Background(), src)
	if err != nil {
		t.Fatal(err)
	}
	if diff := cmp.Diff([]string{"x", "y", "x_2"}, got.Headers); diff != "" {
		t.Errorf("headers (-want +got):\n%s", diff)
	}
	for i, row := range got.Rows {
		if len(row) != len(got.Headers) {
			t.Errorf("row %d has %d cells, want %d", i, len(row), len(got.Headers))
		}
	}
}

type failingSource struct {
	after int
	n     int
}

func (f *failingSource) Columns() []string { return []string{"v"} }
func (f *failingSource) Close() error      { return nil }
func (f *failingSource) Next(context.Context) (table.Record, error) {
	if f.n >= f.after {
		return table.Record{}, errBroken
	}
	f.n++
	return table.Positional(table.Int(int64(f.n))), nil
}

var errBroken = errors.New("connection reset")

func TestNormalize_SourceErrorIsFatal(t *testing.T) {
	got, stats, err := table.Normalize(context.Background(), &failingSource{after: 3})
	if !errors.Is(err, errBroken) {
		t.Fatalf("err = %v, want wrapped errBroken", err)
	}
	if got != nil {
		t.Error("no partial table should be returned")
	}
	if stats.Rows != 3 {
		t.Errorf("stats.Rows = %d, want 3", stats.Rows)
	}
}

func TestNormalize_Cancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, _, err := table.Normalize(ctx, table.NewSliceSource([]string{"a"}, []table.Record{table.Positional(table.Int(1))}))
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("err = %v, want context.Canceled", err)
	}
}

func TestSliceSource_Closed(t *testing.T) {
	src := table.NewSliceSource(nil, []table.Record{table.Positional()})
	src.Close()
	if _, err := src.Next(context.Background()); !errors.Is(err, table.ErrSourceClosed) {
		t.Errorf("err = %v, want ErrSourceClosed", err)
	}
}

func TestSliceSource_EOF(t *testing.T) {
	src := table.NewSliceSource(nil, nil)
	if _, err := src.Next(context.Background()); err != io.EOF {
		t.Errorf("err = %v, want io.EOF", err)
	}
}

func TestSyntheticColumns(t *testing.T) {
	if diff := cmp.Diff([]string{"Column1", "Column2", "Column3"}, table.SyntheticColumns(3)); diff != "" {
		t.Error(diff)
	}
}

func TestTable_Head(t *testing.T) {
	tbl := &table.Table{Headers: []string{"a"}}
	for i := 0; i < 5; i++ {
		tbl.Rows = append(tbl.Rows, []string{fmt.Sprint(i)})
	}
	if n := tbl.Head(2).Len(); n != 2 {
		t.Errorf("Head(2).Len() = %d", n)
	}
	if n := tbl.Head(50).Len(); n != 5 {
		t.Errorf("Head(50).Len() = %d", n)
	}
}
