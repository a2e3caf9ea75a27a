package batch

import (
	"errors"
	"math"
	"testing"

	"github.com/google/go-cmp/cmp"
)

func frames(n int) *Batch {
	rows := make([]Row, n)
	for i := range rows {
		rows[i] = Row{i, []byte{byte(i), 0xff}}
	}
	return MustNew([]string{"id", "data"}, rows...).WithIndex("id")
}

func TestNew_RowWidth(t *testing.T) {
	_, err := New([]string{"a", "b"}, Row{1})
	if !errors.Is(err, ErrRowWidth) {
		t.Fatalf("New() error = %v, want ErrRowWidth", err)
	}
}

func TestBatch_RowKeepsIndexAndSource(t *testing.T) {
	b := frames(3).WithSource("MyVideo")
	r := b.Row(2)

	if r.Len() != 1 {
		t.Fatalf("Row(2).Len() = %d, want 1", r.Len())
	}
	if r.Index != "id" || r.Source != "MyVideo" {
		t.Errorf("Row(2) index/source = %q/%q, want id/MyVideo", r.Index, r.Source)
	}
	v, err := r.IndexValue(0)
	if err != nil {
		t.Fatalf("IndexValue: %v", err)
	}
	if v != 2 {
		t.Errorf("IndexValue(0) = %v, want 2", v)
	}
}

func TestBatch_IndexValueErrors(t *testing.T) {
	b := MustNew([]string{"id"}, Row{1})
	if _, err := b.IndexValue(0); !errors.Is(err, ErrNoIndexColumn) {
		t.Errorf("IndexValue without index = %v, want ErrNoIndexColumn", err)
	}
	if _, err := b.WithIndex("frame").IndexValue(0); !errors.Is(err, ErrUnknownColumn) {
		t.Errorf("IndexValue with missing column = %v, want ErrUnknownColumn", err)
	}
	if b.WithIndex("frame").HasIndex() {
		t.Error("HasIndex() = true for missing column")
	}
}

func TestConcat_PreservesOrder(t *testing.T) {
	b := frames(5)
	parts := []*Batch{b.Row(0), nil, b.Select([]int{1, 2}), {}, b.Row(3), b.Row(4)}

	got, err := Concat(parts...)
	if err != nil {
		t.Fatalf("Concat: %v", err)
	}
	if !Equal(got, b) {
		t.Errorf("Concat() mismatch (-want +got):\n%s", cmp.Diff(b.Rows, got.Rows))
	}
	if got.Index != "id" {
		t.Errorf("Concat().Index = %q, want id", got.Index)
	}
}

func TestConcat_SchemaMismatch(t *testing.T) {
	a := MustNew([]string{"label"}, Row{"car"})
	b := MustNew([]string{"color"}, Row{"red"})
	if _, err := Concat(a, b); !errors.Is(err, ErrSchemaMismatch) {
		t.Fatalf("Concat() error = %v, want ErrSchemaMismatch", err)
	}
}

func TestConcat_AllEmptyKeepsSchema(t *testing.T) {
	got, err := Concat(nil, MustNew([]string{"label"}))
	if err != nil {
		t.Fatalf("Concat: %v", err)
	}
	if got.Len() != 0 || !cmp.Equal(got.Columns, []string{"label"}) {
		t.Errorf("Concat() = %+v, want empty batch with [label]", got)
	}
}

func TestEqual(t *testing.T) {
	base := MustNew([]string{"id", "label"}, Row{1, "car"}, Row{2, "bus"})

	tests := []struct {
		name  string
		other *Batch
		want  bool
	}{
		{"identical", MustNew([]string{"id", "label"}, Row{1, "car"}, Row{2, "bus"}), true},
		{"numeric kinds", MustNew([]string{"id", "label"}, Row{int64(1), "car"}, Row{uint8(2), "bus"}), true},
		{"index ignored", base.WithIndex("id").WithSource("v"), true},
		{"reordered rows", MustNew([]string{"id", "label"}, Row{2, "bus"}, Row{1, "car"}), false},
		{"different value", MustNew([]string{"id", "label"}, Row{1, "car"}, Row{2, "van"}), false},
		{"different columns", MustNew([]string{"id", "class"}, Row{1, "car"}, Row{2, "bus"}), false},
		{"fewer rows", MustNew([]string{"id", "label"}, Row{1, "car"}), false},
		{"nil", nil, false},
		{"int is not float", MustNew([]string{"id", "label"}, Row{1.0, "car"}, Row{2, "bus"}), false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := Equal(base, tt.other); got != tt.want {
				t.Errorf("Equal() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestEqual_NaN(t *testing.T) {
	nan := math.NaN()
	tests := []struct {
		name string
		a, b any
		want bool
	}{
		{"scalar", nan, nan, true},
		{"float32", float32(nan), nan, true},
		{"slice", []float64{1, nan}, []float64{1, nan}, true},
		{"list", []any{"x", nan}, []any{"x", nan}, true},
		{"map", map[string]any{"score": nan}, map[string]any{"score": nan}, true},
		{"nan is not a number", nan, 0.0, false},
		{"negative zero", math.Copysign(0, -1), 0.0, false},
		{"map missing key", map[string]any{"score": nan}, map[string]any{"other": nan}, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			a := MustNew([]string{"v"}, Row{tt.a})
			b := MustNew([]string{"v"}, Row{tt.b})
			if got := Equal(a, b); got != tt.want {
				t.Errorf("Equal() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestCanonical_UintMatchesInt(t *testing.T) {
	a, err := MustNew([]string{"id"}, Row{5}).Canonical()
	if err != nil {
		t.Fatalf("Canonical: %v", err)
	}
	b, err := MustNew([]string{"id"}, Row{uint(5)}).Canonical()
	if err != nil {
		t.Fatalf("Canonical: %v", err)
	}
	if string(a) != string(b) {
		t.Errorf("int and uint encode differently:\n%s\n%s", a, b)
	}
}

func TestEqual_NilAndEmpty(t *testing.T) {
	if !Equal(nil, &Batch{}) {
		t.Error("Equal(nil, empty) = false, want true")
	}
}

func TestClone_Independent(t *testing.T) {
	b := MustNew([]string{"label"}, Row{"car"})
	c := b.Clone()
	c.Rows[0][0] = "bus"
	if b.Rows[0][0] != "car" {
		t.Errorf("original mutated through clone: %v", b.Rows[0][0])
	}
}

func TestMarshal_RoundTrip(t *testing.T) {
	in := MustNew(
		[]string{"label", "score", "boxes", "mask", "meta", "count", "none", "ok"},
		Row{
			"person",
			float32(0.5),
			[]float64{1.5, math.Inf(1), -2},
			[]byte{1, 2, 3},
			map[string]any{"ids": []any{1, "x"}, "tags": []string{"a", "b"}},
			uint16(7),
			nil,
			true,
		},
	).WithIndex("label").WithSource("MyVideo")

	text, err := Marshal(in)
	if err != nil {
		t.Fatalf("Marshal: %v", err)
	}
	out, err := Unmarshal(text)
	if err != nil {
		t.Fatalf("Unmarshal: %v", err)
	}
	if !Equal(in, out) {
		t.Errorf("round trip mismatch:\n in=%#v\nout=%#v", in.Rows, out.Rows)
	}
	if out.Index != "label" || out.Source != "MyVideo" {
		t.Errorf("round trip index/source = %q/%q", out.Index, out.Source)
	}
	if _, ok := out.Rows[0][5].(int64); !ok {
		t.Errorf("uint16 decoded as %T, want int64", out.Rows[0][5])
	}
}

func TestMarshal_InvalidUTF8RoundTrips(t *testing.T) {
	tests := []struct {
		name  string
		value any
	}{
		{"string", "lab\xffel"},
		{"strings", []string{"car", "b\xc3s"}},
		{"nested", map[string]any{"label": []any{"ok", "\xfe"}}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			in := MustNew([]string{"id", "label"}, Row{1, tt.value})
			text, err := Marshal(in)
			if err != nil {
				t.Fatalf("Marshal: %v", err)
			}
			out, err := Unmarshal(text)
			if err != nil {
				t.Fatalf("Unmarshal: %v", err)
			}
			if diff := cmp.Diff(in.Rows[0][1], out.Rows[0][1]); diff != "" {
				t.Errorf("value mismatch (-want +got):\n%s", diff)
			}
		})
	}
}

func TestMarshal_InvalidUTF8Names(t *testing.T) {
	tests := []struct {
		name string
		in   *Batch
	}{
		{"column", MustNew([]string{"lab\xffel"}, Row{1})},
		{"index", MustNew([]string{"id"}, Row{1}).WithIndex("i\xffd")},
		{"source", MustNew([]string{"id"}, Row{1}).WithSource("v\xff")},
		{"map key", MustNew([]string{"meta"}, Row{map[string]any{"k\xff": 1}})},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := Marshal(tt.in); !errors.Is(err, ErrUnsupportedValue) {
				t.Errorf("Marshal() error = %v, want ErrUnsupportedValue", err)
			}
		})
	}
}

func TestMarshal_LargeUintKeepsUnsigned(t *testing.T) {
	in := MustNew([]string{"n"}, Row{uint64(math.MaxUint64)})
	text, err := Marshal(in)
	if err != nil {
		t.Fatalf("Marshal: %v", err)
	}
	out, err := Unmarshal(text)
	if err != nil {
		t.Fatalf("Unmarshal: %v", err)
	}
	if got, ok := out.Rows[0][0].(uint64); !ok || got != math.MaxUint64 {
		t.Errorf("decoded %#v, want uint64 max", out.Rows[0][0])
	}
}

func TestMarshal_UnsupportedValue(t *testing.T) {
	in := MustNew([]string{"handle"}, Row{make(chan int)})
	if _, err := Marshal(in); !errors.Is(err, ErrUnsupportedValue) {
		t.Fatalf("Marshal() error = %v, want ErrUnsupportedValue", err)
	}
}

func TestUnmarshal_Malformed(t *testing.T) {
	tests := []string{
		"not json",
		`{"columns":["a"],"rows":[[]]}`,
		`{"columns":["a"],"rows":[[{"t":"weird"}]]}`,
	}
	for _, text := range tests {
		if _, err := Unmarshal(text); err == nil {
			t.Errorf("Unmarshal(%q) succeeded, want error", text)
		}
	}
}

func TestCanonical(t *testing.T) {
	a := MustNew([]string{"id"}, Row{1}, Row{2})
	b := MustNew([]string{"id"}, Row{int64(1)}, Row{int32(2)}).WithIndex("id")
	c := MustNew([]string{"id"}, Row{2}, Row{1})

	ca, err := a.Canonical()
	if err != nil {
		t.Fatalf("Canonical: %v", err)
	}
	cb, _ := b.Canonical()
	cc, _ := c.Canonical()

	if string(ca) != string(cb) {
		t.Errorf("equal batches encode differently:\n%s\n%s", ca, cb)
	}
	if string(ca) == string(cc) {
		t.Error("row order is not part of the canonical form")
	}
}

func TestFormatValue(t *testing.T) {
	tests := []struct {
		in   any
		want string
	}{
		{7, "7"},
		{int64(-3), "-3"},
		{uint32(9), "9"},
		{float64(7), "7"},
		{2.5, "2.5"},
		{"frame-1", "frame-1"},
		{[]byte{0xab}, "ab"},
		{nil, "null"},
		{true, "true"},
	}
	for _, tt := range tests {
		if got := FormatValue(tt.in); got != tt.want {
			t.Errorf("FormatValue(%#v) = %q, want %q", tt.in, got, tt.want)
		}
	}
}
