package batch

import (
	"encoding/hex"
	"encoding/json"
	"fmt"
	"math"
	"reflect"
	"slices"
	"strconv"
	"unicode/utf8"
)

// Cell type tags of the text encoding.
const (
	tagNull       = "null"
	tagBool       = "bool"
	tagInt        = "int"
	tagUint       = "uint"
	tagFloat      = "float"
	tagString     = "string"
	tagBytes      = "bytes"
	tagInts       = "ints"
	tagFloats     = "floats"
	tagStrings    = "strings"
	tagList       = "list"
	tagMap        = "map"
	tagRawString  = "rawstring"
	tagRawStrings = "rawstrings"
)

// cell is the self-describing encoding of one value.
type cell struct {
	T string          `json:"t"`
	V json.RawMessage `json:"v,omitempty"`
}

type wireBatch struct {
	Columns []string `json:"columns"`
	Index   string   `json:"index,omitempty"`
	Source  string   `json:"source,omitempty"`
	Rows    [][]cell `json:"rows"`
}

// Marshal encodes b as self-describing JSON text. Every cell carries a type
// tag so the batch round-trips through Unmarshal without a schema.
// Values of unsupported types, map keys and column names that are not valid
// UTF-8 fail with ErrUnsupportedValue.
func Marshal(b *Batch) (string, error) {
	data, err := encode(b, true)
	if err != nil {
		return "", err
	}
	return string(data), nil
}

// Unmarshal decodes text produced by Marshal.
// Integers decode as int64, or uint64 above math.MaxInt64. Floats decode
// as float64.
func Unmarshal(text string) (*Batch, error) {
	var w wireBatch
	if err := json.Unmarshal([]byte(text), &w); err != nil {
		return nil, fmt.Errorf("batch: decode: %w", err)
	}
	out := &Batch{
		Columns: w.Columns,
		Rows:    make([]Row, len(w.Rows)),
		Index:   w.Index,
		Source:  w.Source,
	}
	for i, wr := range w.Rows {
		if len(wr) != len(w.Columns) {
			return nil, fmt.Errorf("%w: row %d has %d values, want %d", ErrRowWidth, i, len(wr), len(w.Columns))
		}
		row := make(Row, len(wr))
		for j, c := range wr {
			v, err := decodeCell(c)
			if err != nil {
				return nil, fmt.Errorf("batch: decode row %d column %q: %w", i, w.Columns[j], err)
			}
			row[j] = v
		}
		out.Rows[i] = row
	}
	return out, nil
}

// Canonical returns the deterministic byte form of b's columns and rows,
// in row order. Index and Source are excluded, matching Equal.
func (b *Batch) Canonical() ([]byte, error) {
	return encode(b, false)
}

func encode(b *Batch, withMeta bool) ([]byte, error) {
	w := wireBatch{Rows: make([][]cell, 0, b.Len())}
	if b != nil {
		w.Columns = b.Columns
		if withMeta {
			w.Index = b.Index
			w.Source = b.Source
		}
		// encoding/json replaces invalid UTF-8 with U+FFFD, which would
		// decode to a different name.
		if !validNames(w.Columns) || !utf8.ValidString(w.Index) || !utf8.ValidString(w.Source) {
			return nil, fmt.Errorf("%w: column metadata is not valid UTF-8", ErrUnsupportedValue)
		}
		for i, r := range b.Rows {
			wr := make([]cell, len(r))
			for j, v := range r {
				c, err := encodeValue(v)
				if err != nil {
					return nil, fmt.Errorf("row %d column %d: %w", i, j, err)
				}
				wr[j] = c
			}
			w.Rows = append(w.Rows, wr)
		}
	}
	return json.Marshal(w)
}

func encodeValue(v any) (cell, error) {
	switch x := v.(type) {
	case nil:
		return cell{T: tagNull}, nil
	case bool:
		return rawCell(tagBool, x)
	case int, int8, int16, int32, int64:
		return cell{T: tagInt, V: json.RawMessage(strconv.FormatInt(reflect.ValueOf(x).Int(), 10))}, nil
	case uint, uint8, uint16, uint32, uint64:
		// Unsigned values in int64 range share the int form so that equal
		// batches share one canonical encoding.
		u := reflect.ValueOf(x).Uint()
		if u <= math.MaxInt64 {
			return cell{T: tagInt, V: json.RawMessage(strconv.FormatInt(int64(u), 10))}, nil
		}
		return cell{T: tagUint, V: json.RawMessage(strconv.FormatUint(u, 10))}, nil
	case float32:
		return rawCell(tagFloat, formatFloat(float64(x)))
	case float64:
		return rawCell(tagFloat, formatFloat(x))
	case string:
		if !utf8.ValidString(x) {
			return rawCell(tagRawString, []byte(x))
		}
		return rawCell(tagString, x)
	case []byte:
		return rawCell(tagBytes, x)
	case []int:
		out := make([]int64, len(x))
		for i, n := range x {
			out[i] = int64(n)
		}
		return rawCell(tagInts, out)
	case []int64:
		return rawCell(tagInts, x)
	case []float32:
		out := make([]string, len(x))
		for i, f := range x {
			out[i] = formatFloat(float64(f))
		}
		return rawCell(tagFloats, out)
	case []float64:
		out := make([]string, len(x))
		for i, f := range x {
			out[i] = formatFloat(f)
		}
		return rawCell(tagFloats, out)
	case []string:
		if !validNames(x) {
			raw := make([][]byte, len(x))
			for i, e := range x {
				raw[i] = []byte(e)
			}
			return rawCell(tagRawStrings, raw)
		}
		return rawCell(tagStrings, x)
	case []any:
		out := make([]cell, len(x))
		for i, e := range x {
			c, err := encodeValue(e)
			if err != nil {
				return cell{}, err
			}
			out[i] = c
		}
		return rawCell(tagList, out)
	case map[string]any:
		out := make(map[string]cell, len(x))
		for k, e := range x {
			if !utf8.ValidString(k) {
				return cell{}, fmt.Errorf("%w: map key %q is not valid UTF-8", ErrUnsupportedValue, k)
			}
			c, err := encodeValue(e)
			if err != nil {
				return cell{}, err
			}
			out[k] = c
		}
		// encoding/json sorts map keys, so the form stays canonical.
		return rawCell(tagMap, out)
	default:
		return cell{}, fmt.Errorf("%w: %T", ErrUnsupportedValue, v)
	}
}

func rawCell(tag string, v any) (cell, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return cell{}, fmt.Errorf("%w: %v", ErrUnsupportedValue, err)
	}
	return cell{T: tag, V: data}, nil
}

func validNames(names []string) bool {
	for _, n := range names {
		if !utf8.ValidString(n) {
			return false
		}
	}
	return true
}

// formatFloat keeps NaN and infinities representable in JSON.
func formatFloat(f float64) string {
	return strconv.FormatFloat(f, 'g', -1, 64)
}

func decodeCell(c cell) (any, error) {
	switch c.T {
	case tagNull:
		return nil, nil
	case tagBool:
		var b bool
		err := json.Unmarshal(c.V, &b)
		return b, err
	case tagInt:
		return strconv.ParseInt(string(c.V), 10, 64)
	case tagUint:
		return strconv.ParseUint(string(c.V), 10, 64)
	case tagFloat:
		var s string
		if err := json.Unmarshal(c.V, &s); err != nil {
			return nil, err
		}
		return strconv.ParseFloat(s, 64)
	case tagString:
		var s string
		err := json.Unmarshal(c.V, &s)
		return s, err
	case tagBytes:
		var b []byte
		err := json.Unmarshal(c.V, &b)
		return b, err
	case tagRawString:
		var b []byte
		err := json.Unmarshal(c.V, &b)
		return string(b), err
	case tagInts:
		var out []int64
		err := json.Unmarshal(c.V, &out)
		return out, err
	case tagFloats:
		var ss []string
		if err := json.Unmarshal(c.V, &ss); err != nil {
			return nil, err
		}
		out := make([]float64, len(ss))
		for i, s := range ss {
			f, err := strconv.ParseFloat(s, 64)
			if err != nil {
				return nil, err
			}
			out[i] = f
		}
		return out, nil
	case tagStrings:
		var out []string
		err := json.Unmarshal(c.V, &out)
		return out, err
	case tagRawStrings:
		var raw [][]byte
		if err := json.Unmarshal(c.V, &raw); err != nil {
			return nil, err
		}
		out := make([]string, len(raw))
		for i, b := range raw {
			out[i] = string(b)
		}
		return out, nil
	case tagList:
		var cells []cell
		if err := json.Unmarshal(c.V, &cells); err != nil {
			return nil, err
		}
		out := make([]any, len(cells))
		for i, e := range cells {
			v, err := decodeCell(e)
			if err != nil {
				return nil, err
			}
			out[i] = v
		}
		return out, nil
	case tagMap:
		var cells map[string]cell
		if err := json.Unmarshal(c.V, &cells); err != nil {
			return nil, err
		}
		out := make(map[string]any, len(cells))
		for k, e := range cells {
			v, err := decodeCell(e)
			if err != nil {
				return nil, err
			}
			out[k] = v
		}
		return out, nil
	default:
		return nil, fmt.Errorf("%w: tag %q", ErrUnsupportedValue, c.T)
	}
}

// FormatValue renders an index column value as it appears in a row key.
func FormatValue(v any) string {
	switch x := v.(type) {
	case nil:
		return "null"
	case string:
		return x
	case int, int8, int16, int32, int64:
		return strconv.FormatInt(reflect.ValueOf(x).Int(), 10)
	case uint, uint8, uint16, uint32, uint64:
		return strconv.FormatUint(reflect.ValueOf(x).Uint(), 10)
	case float32:
		return formatIndexFloat(float64(x))
	case float64:
		return formatIndexFloat(x)
	case []byte:
		return hex.EncodeToString(x)
	default:
		return fmt.Sprint(v)
	}
}

// formatIndexFloat prints whole floats as integers so that an id read back
// as float64 keys the same row as the original integer id.
func formatIndexFloat(f float64) string {
	if f == math.Trunc(f) && math.Abs(f) < 1<<53 {
		return strconv.FormatInt(int64(f), 10)
	}
	return formatFloat(f)
}

// normalize maps numeric kinds onto int64/uint64/float64 so that values
// compare equal across Go types and across an encode/decode round trip.
func normalize(v any) any {
	switch x := v.(type) {
	case int, int8, int16, int32, int64:
		return reflect.ValueOf(x).Int()
	case uint, uint8, uint16, uint32, uint64:
		u := reflect.ValueOf(x).Uint()
		if u <= math.MaxInt64 {
			return int64(u)
		}
		return u
	case float32:
		return float64(x)
	case []int:
		out := make([]int64, len(x))
		for i, n := range x {
			out[i] = int64(n)
		}
		return out
	case []float32:
		out := make([]float64, len(x))
		for i, f := range x {
			out[i] = float64(f)
		}
		return out
	case []any:
		out := make([]any, len(x))
		for i, e := range x {
			out[i] = normalize(e)
		}
		return out
	case map[string]any:
		out := make(map[string]any, len(x))
		for k, e := range x {
			out[k] = normalize(e)
		}
		return out
	default:
		return v
	}
}

func valuesEqual(a, b any) bool {
	return normalizedEqual(normalize(a), normalize(b))
}

// normalizedEqual is reflect.DeepEqual except that NaN equals NaN, so a
// batch carrying NaN still matches itself. It agrees with Canonical: values
// it reports equal encode identically.
func normalizedEqual(a, b any) bool {
	switch x := a.(type) {
	case float64:
		y, ok := b.(float64)
		return ok && floatsEqual(x, y)
	case []float64:
		y, ok := b.([]float64)
		return ok && (x == nil) == (y == nil) && slices.EqualFunc(x, y, floatsEqual)
	case []any:
		y, ok := b.([]any)
		return ok && (x == nil) == (y == nil) && slices.EqualFunc(x, y, normalizedEqual)
	case map[string]any:
		y, ok := b.(map[string]any)
		if !ok || (x == nil) != (y == nil) || len(x) != len(y) {
			return false
		}
		for k, xv := range x {
			yv, ok := y[k]
			if !ok || !normalizedEqual(xv, yv) {
				return false
			}
		}
		return true
	default:
		return reflect.DeepEqual(a, b)
	}
}

// floatsEqual tells -0 from 0 because they encode differently.
func floatsEqual(a, b float64) bool {
	if math.IsNaN(a) || math.IsNaN(b) {
		return math.IsNaN(a) && math.IsNaN(b)
	}
	return a == b && math.Signbit(a) == math.Signbit(b)
}
