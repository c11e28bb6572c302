package table

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.mongodb.org/mongo-driver/v2/bson"
)

// ── Source families ────────────────────────────────────────
// Each converter lifts the Go values a driver family hands out into a Value.
// Anything the family does not document falls through to Unsupported.

// FromSQL converts a value scanned from database/sql into an `any`.
// Byte slices are treated as text; drivers that return binary or exact
// numerics as bytes must be disambiguated by column type before calling this.
func FromSQL(v any) Value {
	switch x := v.(type) {
	case nil:
		return Null()
	case string:
		return Text(x)
	case []byte:
		return Text(string(x))
	case int64:
		return Int(x)
	case int32:
		return Int(int64(x))
	case int16:
		return Int(int64(x))
	case int8:
		return Int(int64(x))
	case int:
		return Int(int64(x))
	case uint64:
		return Uint(x)
	case uint32:
		return Uint(uint64(x))
	case uint16:
		return Uint(uint64(x))
	case uint8:
		return Uint(uint64(x))
	case uint:
		return Uint(uint64(x))
	case float64:
		return Float(x)
	case float32:
		return Float(float64(x))
	case bool:
		return Bool(x)
	case time.Time:
		return Time(x)
	case uuid.UUID:
		return UUID(x)
	default:
		return Unsupported(fmt.Sprintf("%T", v))
	}
}

// bsonBinaryUUID is the BSON binary subtype for RFC 4122 UUIDs.
const bsonBinaryUUID = 0x04

// FromBSON converts a value decoded from a bson.D document.
func FromBSON(v any) Value {
	switch x := v.(type) {
	case nil, bson.Null, bson.Undefined:
		return Null()
	case string:
		return Text(x)
	case int32:
		return Int(int64(x))
	case int64:
		return Int(x)
	case float64:
		return Float(x)
	case bool:
		return Bool(x)
	case bson.DateTime:
		return Time(x.Time().UTC())
	case bson.Timestamp:
		return Time(time.Unix(int64(x.T), 0).UTC())
	case bson.Decimal128:
		return Decimal(x.String())
	case bson.ObjectID:
		return ObjectID(x.Hex())
	case bson.Binary:
		if x.Subtype == bsonBinaryUUID && len(x.Data) == 16 {
			id, err := uuid.FromBytes(x.Data)
			if err == nil {
				return UUID(id)
			}
		}
		return Binary(x.Data)
	case bson.D:
		keys := make([]string, len(x))
		vals := make([]Value, len(x))
		for i, e := range x {
			keys[i] = e.Key
			vals[i] = FromBSON(e.Value)
		}
		return Document(keys, vals)
	case bson.M:
		m := make(map[string]Value, len(x))
		for k, e := range x {
			m[k] = FromBSON(e)
		}
		return Map(m)
	case bson.A:
		items := make([]Value, len(x))
		for i, e := range x {
			items[i] = FromBSON(e)
		}
		return List(items...)
	case []any:
		items := make([]Value, len(x))
		for i, e := range x {
			items[i] = FromBSON(e)
		}
		return List(items...)
	default:
		return Unsupported(fmt.Sprintf("%T", v))
	}
}

// FromJSON converts a value produced by encoding/json, with or without
// Decoder.UseNumber.
func FromJSON(v any) Value {
	switch x := v.(type) {
	case nil:
		return Null()
	case string:
		return Text(x)
	case bool:
		return Bool(x)
	case float64:
		return Float(x)
	case json.Number:
		if i, err := strconv.ParseInt(string(x), 10, 64); err == nil {
			return Int(i)
		}
		// Integers past int64 keep their exact digits.
		if !strings.ContainsAny(string(x), ".eE") {
			return Decimal(string(x))
		}
		if f, err := strconv.ParseFloat(string(x), 64); err == nil {
			return Float(f)
		}
		return Decimal(string(x))
	case map[string]any:
		m := make(map[string]Value, len(x))
		for k, e := range x {
			m[k] = FromJSON(e)
		}
		return Map(m)
	case []any:
		items := make([]Value, len(x))
		for i, e := range x {
			items[i] = FromJSON(e)
		}
		return List(items...)
	default:
		return Unsupported(fmt.Sprintf("%T", v))
	}
}
