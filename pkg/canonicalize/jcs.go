// Package canonicalize produces the deterministic byte serialization that
// every hash and every signature payload in the kernel is computed over.
//
// The algorithm follows RFC 8785 (JSON Canonicalization Scheme): object keys
// sorted lexicographically, array order preserved, no HTML escaping, no
// insignificant whitespace, UTF-8 output. Issuers and the kernel MUST share
// this byte-for-byte; any divergence is a silent signature-bypass risk.
package canonicalize

import (
	"bytes"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"sort"

	"github.com/gowebpki/jcs"
)

// ErrMalformedInput is returned for values that cannot be canonicalized
// (cyclic structures, channels, funcs, non-finite floats).
var ErrMalformedInput = errors.New("canonicalize: malformed input")

// JCS returns the canonical JSON representation of v.
//
// The value is first marshalled with encoding/json (so struct tags are
// respected), then decoded with json.Number to keep integers and floats
// distinguishable, then re-encoded recursively with sorted keys. Numbers are
// emitted exactly as they appeared in the intermediate form, so 1 and 1.0
// canonicalize to different bytes.
func JCS(v interface{}) ([]byte, error) {
	intermediate, err := json.Marshal(v)
	if err != nil {
		// encoding/json reports cycles and unsupported types here.
		return nil, fmt.Errorf("%w: %v", ErrMalformedInput, err)
	}

	var generic interface{}
	decoder := json.NewDecoder(bytes.NewReader(intermediate))
	decoder.UseNumber()
	if err := decoder.Decode(&generic); err != nil {
		return nil, fmt.Errorf("%w: intermediate decode: %v", ErrMalformedInput, err)
	}

	return marshalRecursive(generic)
}

// Transform canonicalizes raw JSON text. This is the path external issuers
// use when they hold serialized JSON rather than in-memory values; it
// delegates to the published RFC 8785 implementation so both sides of the
// contract agree.
func Transform(raw []byte) ([]byte, error) {
	out, err := jcs.Transform(raw)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedInput, err)
	}
	return out, nil
}

// CanonicalHash returns the SHA-256 digest of the canonical form of v,
// prefixed "sha256:".
func CanonicalHash(v interface{}) (string, error) {
	b, err := JCS(v)
	if err != nil {
		return "", err
	}
	return HashBytes(b), nil
}

// HashBytes computes the SHA-256 hash of raw bytes as "sha256:<hex>".
func HashBytes(data []byte) string {
	sum := sha256.Sum256(data)
	return "sha256:" + hex.EncodeToString(sum[:])
}

func marshalRecursive(v interface{}) ([]byte, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false) // RFC 8785 forbids HTML escaping

	switch t := v.(type) {
	case nil:
		return []byte("null"), nil
	case bool:
		if t {
			return []byte("true"), nil
		}
		return []byte("false"), nil
	case json.Number:
		return []byte(t.String()), nil
	case string:
		if err := enc.Encode(t); err != nil {
			return nil, err
		}
		// json.Encoder appends a newline
		return bytes.TrimSuffix(buf.Bytes(), []byte{'\n'}), nil
	case []interface{}:
		buf.Reset()
		buf.WriteByte('[')
		for i, elem := range t {
			if i > 0 {
				buf.WriteByte(',')
			}
			b, err := marshalRecursive(elem)
			if err != nil {
				return nil, err
			}
			buf.Write(b)
		}
		buf.WriteByte(']')
		return buf.Bytes(), nil
	case map[string]interface{}:
		buf.Reset()
		keys := make([]string, 0, len(t))
		for k := range t {
			keys = append(keys, k)
		}
		sort.Strings(keys)

		buf.WriteByte('{')
		for i, k := range keys {
			if i > 0 {
				buf.WriteByte(',')
			}
			kb, err := marshalRecursive(k)
			if err != nil {
				return nil, err
			}
			buf.Write(kb)
			buf.WriteByte(':')

			vb, err := marshalRecursive(t[k])
			if err != nil {
				return nil, err
			}
			buf.Write(vb)
		}
		buf.WriteByte('}')
		return buf.Bytes(), nil
	default:
		if err := enc.Encode(v); err != nil {
			return nil, err
		}
		return bytes.TrimSuffix(buf.Bytes(), []byte{'\n'}), nil
	}
}
