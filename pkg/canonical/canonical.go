// Copyright 2026 Provenact Labs
//
// Canonical encoding for protocol values.
//
// Every hashed or signed structure in the protocol is reduced to a single
// byte form before hashing. The grammar is deliberately small:
//
//   value   := null | bool | number | string | array | object
//   null    := "null"
//   bool    := "true" | "false"
//   number  := shortest base-10 decimal (integers without exponent or
//              fraction; floats via strconv shortest round-trip form).
//              NaN and infinities are rejected.
//   string  := '"' utf8-with-minimal-json-escapes '"'
//   array   := '[' value (',' value)* ']'   (declared order)
//   object  := '{' pair (',' pair)* '}'     (keys sorted ascending by codepoint)
//
// The encoder does not go through encoding/json on purpose: hashes must be
// stable across releases, so the byte output is pinned by tests here rather
// than inherited from a serializer.

package canonical

import (
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"math"
	"sort"
	"strconv"
	"unicode/utf8"
)

var (
	ErrUnsupportedType = errors.New("value has no canonical form")
	ErrNonFiniteNumber = errors.New("NaN and infinities have no canonical form")
	ErrInvalidUTF8     = errors.New("string is not valid UTF-8")
)

// Marshal returns the canonical byte encoding of v.
//
// Accepted value types: nil, bool, string, int, int64, uint64, float64,
// []any, []string, map[string]any, and Mapper implementations.
func Marshal(v any) ([]byte, error) {
	return appendValue(nil, v)
}

// Mapper lets a typed struct supply its own canonical field map.
type Mapper interface {
	CanonicalMap() map[string]any
}

// Hash returns SHA256 over the canonical encoding of v.
func Hash(v any) ([32]byte, error) {
	b, err := Marshal(v)
	if err != nil {
		return [32]byte{}, err
	}
	return sha256.Sum256(b), nil
}

// HashHex returns the hex form of Hash(v).
func HashHex(v any) (string, error) {
	h, err := Hash(v)
	if err != nil {
		return "", err
	}
	return hex.EncodeToString(h[:]), nil
}

// HashConcat returns SHA256 of the concatenated byte slices.
func HashConcat(parts ...[]byte) []byte {
	h := sha256.New()
	for _, p := range parts {
		h.Write(p)
	}
	return h.Sum(nil)
}

func appendValue(dst []byte, v any) ([]byte, error) {
	switch vv := v.(type) {
	case nil:
		return append(dst, "null"...), nil
	case bool:
		if vv {
			return append(dst, "true"...), nil
		}
		return append(dst, "false"...), nil
	case string:
		return appendString(dst, vv)
	case int:
		return strconv.AppendInt(dst, int64(vv), 10), nil
	case int64:
		return strconv.AppendInt(dst, vv, 10), nil
	case uint64:
		return strconv.AppendUint(dst, vv, 10), nil
	case float64:
		return appendFloat(dst, vv)
	case []string:
		dst = append(dst, '[')
		for i, e := range vv {
			if i > 0 {
				dst = append(dst, ',')
			}
			var err error
			dst, err = appendString(dst, e)
			if err != nil {
				return nil, err
			}
		}
		return append(dst, ']'), nil
	case []any:
		dst = append(dst, '[')
		for i, e := range vv {
			if i > 0 {
				dst = append(dst, ',')
			}
			var err error
			dst, err = appendValue(dst, e)
			if err != nil {
				return nil, err
			}
		}
		return append(dst, ']'), nil
	case map[string]any:
		return appendObject(dst, vv)
	case Mapper:
		return appendObject(dst, vv.CanonicalMap())
	default:
		return nil, fmt.Errorf("%w: %T", ErrUnsupportedType, v)
	}
}

func appendObject(dst []byte, m map[string]any) ([]byte, error) {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	dst = append(dst, '{')
	for i, k := range keys {
		if i > 0 {
			dst = append(dst, ',')
		}
		var err error
		dst, err = appendString(dst, k)
		if err != nil {
			return nil, err
		}
		dst = append(dst, ':')
		dst, err = appendValue(dst, m[k])
		if err != nil {
			return nil, err
		}
	}
	return append(dst, '}'), nil
}

func appendFloat(dst []byte, f float64) ([]byte, error) {
	if math.IsNaN(f) || math.IsInf(f, 0) {
		return nil, ErrNonFiniteNumber
	}
	// Integral floats collapse to the integer form so that a value carries
	// one encoding regardless of which numeric type produced it.
	if f == math.Trunc(f) && math.Abs(f) < 1<<53 {
		return strconv.AppendInt(dst, int64(f), 10), nil
	}
	return strconv.AppendFloat(dst, f, 'g', -1, 64), nil
}

func appendString(dst []byte, s string) ([]byte, error) {
	if !utf8.ValidString(s) {
		return nil, ErrInvalidUTF8
	}
	dst = append(dst, '"')
	for _, r := range s {
		switch r {
		case '"':
			dst = append(dst, '\\', '"')
		case '\\':
			dst = append(dst, '\\', '\\')
		case '\n':
			dst = append(dst, '\\', 'n')
		case '\r':
			dst = append(dst, '\\', 'r')
		case '\t':
			dst = append(dst, '\\', 't')
		default:
			if r < 0x20 {
				dst = append(dst, fmt.Sprintf("\\u%04x", r)...)
			} else {
				dst = utf8.AppendRune(dst, r)
			}
		}
	}
	return append(dst, '"'), nil
}
