// Package codec converts a byte-keyed, byte-valued mapping to and from its
// canonical binary form.
//
// The encoding is a flat sequence of protobuf wire-format records. Each
// entry is field 1 (length-delimited) whose body holds the key as field 1
// and the value as field 2. Entries are written in ascending key order, so
// equal mappings always encode to equal bytes. The empty mapping encodes to
// no bytes at all.
package codec

import (
	"bytes"
	"crypto/sha256"
	"errors"
	"fmt"
	"sort"

	"google.golang.org/protobuf/encoding/protowire"
)

const (
	entryField protowire.Number = 1
	keyField   protowire.Number = 1
	valueField protowire.Number = 2
)

var (
	ErrMalformed    = errors.New("malformed mapping encoding")
	ErrDuplicateKey = errors.New("duplicate key in mapping encoding")
)

// Encode returns the canonical encoding of m.
func Encode(m map[string][]byte) []byte {
	keys := make([]string, 0, len(m))
	size := 0
	for k, v := range m {
		keys = append(keys, k)
		size += entrySize(k, v)
	}
	sort.Strings(keys)

	out := make([]byte, 0, size)
	var entry []byte
	for _, k := range keys {
		entry = entry[:0]
		entry = protowire.AppendTag(entry, keyField, protowire.BytesType)
		entry = protowire.AppendString(entry, k)
		entry = protowire.AppendTag(entry, valueField, protowire.BytesType)
		entry = protowire.AppendBytes(entry, m[k])

		out = protowire.AppendTag(out, entryField, protowire.BytesType)
		out = protowire.AppendBytes(out, entry)
	}
	return out
}

func entrySize(k string, v []byte) int {
	inner := protowire.SizeTag(keyField) + protowire.SizeBytes(len(k)) +
		protowire.SizeTag(valueField) + protowire.SizeBytes(len(v))
	return protowire.SizeTag(entryField) + protowire.SizeBytes(inner)
}

// Decode parses data produced by Encode. Keys and values are copied out of
// data.
func Decode(data []byte) (map[string][]byte, error) {
	m := make(map[string][]byte)
	for len(data) > 0 {
		num, typ, n := protowire.ConsumeTag(data)
		if n < 0 {
			return nil, fmt.Errorf("%w: %v", ErrMalformed, protowire.ParseError(n))
		}
		if num != entryField || typ != protowire.BytesType {
			return nil, fmt.Errorf("%w: unexpected field %d type %d", ErrMalformed, num, typ)
		}
		data = data[n:]

		entry, n := protowire.ConsumeBytes(data)
		if n < 0 {
			return nil, fmt.Errorf("%w: %v", ErrMalformed, protowire.ParseError(n))
		}
		data = data[n:]

		k, v, err := decodeEntry(entry)
		if err != nil {
			return nil, err
		}
		if _, dup := m[k]; dup {
			return nil, fmt.Errorf("%w: %q", ErrDuplicateKey, k)
		}
		m[k] = v
	}
	return m, nil
}

func decodeEntry(entry []byte) (string, []byte, error) {
	var (
		key, value         []byte
		haveKey, haveValue bool
	)
	for len(entry) > 0 {
		num, typ, n := protowire.ConsumeTag(entry)
		if n < 0 {
			return "", nil, fmt.Errorf("%w: %v", ErrMalformed, protowire.ParseError(n))
		}
		if typ != protowire.BytesType {
			return "", nil, fmt.Errorf("%w: entry field %d type %d", ErrMalformed, num, typ)
		}
		entry = entry[n:]

		b, n := protowire.ConsumeBytes(entry)
		if n < 0 {
			return "", nil, fmt.Errorf("%w: %v", ErrMalformed, protowire.ParseError(n))
		}
		entry = entry[n:]

		switch {
		case num == keyField && !haveKey:
			key, haveKey = b, true
		case num == valueField && !haveValue:
			value, haveValue = b, true
		default:
			return "", nil, fmt.Errorf("%w: unexpected entry field %d", ErrMalformed, num)
		}
	}
	if !haveKey || !haveValue {
		return "", nil, fmt.Errorf("%w: incomplete entry", ErrMalformed)
	}
	return string(key), bytes.Clone(value), nil
}

// Digest returns the SHA-256 fingerprint of m's canonical encoding.
func Digest(m map[string][]byte) [sha256.Size]byte {
	return sha256.Sum256(Encode(m))
}

// Equal reports whether a and b hold the same keys with byte-equal values.
func Equal(a, b map[string][]byte) bool {
	if len(a) != len(b) {
		return false
	}
	for k, av := range a {
		bv, ok := b[k]
		if !ok || !bytes.Equal(av, bv) {
			return false
		}
	}
	return true
}
