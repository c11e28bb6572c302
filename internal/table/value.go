package table

import (
	"encoding/hex"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
)

// UnsupportedSentinel is the cell written for values no decode arm recognizes.
const UnsupportedSentinel = "[UNSUPPORTED TYPE]"

// Kind tags the variant held by a Value.
type Kind uint8

const (
	KindNull Kind = iota
	KindText
	KindInt
	KindUint
	KindFloat
	KindBool
	KindTime
	KindDecimal
	KindObjectID
	KindUUID
	KindBinary
	KindComposite
	KindUnsupported
)

var kindNames = [...]string{
	KindNull:        "null",
	KindText:        "text",
	KindInt:         "int",
	KindUint:        "uint",
	KindFloat:       "float",
	KindBool:        "bool",
	KindTime:        "time",
	KindDecimal:     "decimal",
	KindObjectID:    "objectid",
	KindUUID:        "uuid",
	KindBinary:      "binary",
	KindComposite:   "composite",
	KindUnsupported: "unsupported",
}

func (k Kind) String() string {
	if int(k) < len(kindNames) {
		return kindNames[k]
	}
	return "kind(" + strconv.Itoa(int(k)) + ")"
}

// Value is a source-native cell value lifted into a closed set of kinds.
// The zero Value is null.
type Value struct {
	Kind Kind

	s     string // text, decimal, object id, uuid, unsupported type name
	i     int64
	u     uint64
	f     float64
	b     bool
	t     time.Time
	raw   []byte
	items []Value
	keys  []string // composite documents/maps; nil for lists
}

// ── Constructors ───────────────────────────────────────────

func Null() Value               { return Value{} }
func Text(s string) Value       { return Value{Kind: KindText, s: s} }
func Int(i int64) Value         { return Value{Kind: KindInt, i: i} }
func Uint(u uint64) Value       { return Value{Kind: KindUint, u: u} }
func Float(f float64) Value     { return Value{Kind: KindFloat, f: f} }
func Bool(b bool) Value         { return Value{Kind: KindBool, b: b} }
func Time(t time.Time) Value    { return Value{Kind: KindTime, t: t} }
func Binary(b []byte) Value     { return Value{Kind: KindBinary, raw: b} }
func UUID(id uuid.UUID) Value   { return Value{Kind: KindUUID, s: id.String()} }
func ObjectID(hex string) Value { return Value{Kind: KindObjectID, s: hex} }

// Decimal holds an exact decimal literal as produced by the driver.
func Decimal(text string) Value { return Value{Kind: KindDecimal, s: text} }

// Unsupported records a value of a type no decode arm handles. typeName is
// kept for diagnostics only; the cell is always the sentinel.
func Unsupported(typeName string) Value { return Value{Kind: KindUnsupported, s: typeName} }

// List builds an ordered composite.
func List(items ...Value) Value {
	return Value{Kind: KindComposite, items: items}
}

// Document builds a keyed composite that keeps the given field order.
func Document(keys []string, vals []Value) Value {
	n := len(keys)
	if len(vals) < n {
		n = len(vals)
	}
	return Value{Kind: KindComposite, keys: keys[:n:n], items: vals[:n:n]}
}

// Map builds a keyed composite with keys in sorted order.
func Map(m map[string]Value) Value {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	vals := make([]Value, len(keys))
	for i, k := range keys {
		vals[i] = m[k]
	}
	if keys == nil {
		keys = []string{}
	}
	return Value{Kind: KindComposite, keys: keys, items: vals}
}

// TypeName returns the original type name of an unsupported value.
func (v Value) TypeName() string {
	if v.Kind == KindUnsupported {
		return v.s
	}
	return v.Kind.String()
}

func (v Value) String() string { return Cell(v) }

// ── Decode cascade ─────────────────────────────────────────

// Cell renders a value as a canonical cell string. Null and an empty text
// value both render as "".
func Cell(v Value) string {
	switch v.Kind {
	case KindText:
		return v.s
	case KindInt:
		return strconv.FormatInt(v.i, 10)
	case KindUint:
		return strconv.FormatUint(v.u, 10)
	case KindFloat:
		return strconv.FormatFloat(v.f, 'f', -1, 64)
	case KindBool:
		return strconv.FormatBool(v.b)
	case KindTime:
		return v.t.Format(time.RFC3339Nano)
	case KindDecimal:
		return v.s
	case KindObjectID, KindUUID:
		return v.s
	case KindBinary:
		return hex.EncodeToString(v.raw)
	case KindComposite:
		var sb strings.Builder
		writeDebug(&sb, v)
		return sb.String()
	case KindNull:
		return ""
	default:
		return UnsupportedSentinel
	}
}

// countUnsupported reports how many sentinels Cell(v) writes, including
// those nested inside composites.
func countUnsupported(v Value) int {
	switch v.Kind {
	case KindUnsupported:
		return 1
	case KindComposite:
		n := 0
		for _, item := range v.items {
			n += countUnsupported(item)
		}
		return n
	}
	return 0
}

// writeDebug renders composites as {k: v, ...} or [a, b, ...]. Nested text is
// quoted so "" and null stay distinguishable inside a composite.
func writeDebug(sb *strings.Builder, v Value) {
	switch v.Kind {
	case KindComposite:
		if v.keys == nil {
			sb.WriteByte('[')
			for i, item := range v.items {
				if i > 0 {
					sb.WriteString(", ")
				}
				writeDebug(sb, item)
			}
			sb.WriteByte(']')
			return
		}
		sb.WriteByte('{')
		for i, k := range v.keys {
			if i > 0 {
				sb.WriteString(", ")
			}
			sb.WriteString(strconv.Quote(k))
			sb.WriteString(": ")
			writeDebug(sb, v.items[i])
		}
		sb.WriteByte('}')
	case KindText, KindObjectID, KindUUID, KindTime:
		sb.WriteString(strconv.Quote(Cell(v)))
	case KindNull:
		sb.WriteString("null")
	default:
		sb.WriteString(Cell(v))
	}
}
