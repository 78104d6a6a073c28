package event

import (
	"bytes"
	"encoding/json"
	"fmt"
	"sort"
	"strings"

	"github.com/ethereum/go-ethereum/crypto"
)

// CanonicalJSON produces the canonical serialization defined by spec
// §4.2: keys sorted in lexicographic UTF-8 byte order, no whitespace
// between tokens, integers as decimal digit strings, standard escapes
// for '"', '\\', LF, CR, TAB, array order preserved.
//
// v is first marshaled with the standard library (so ordinary Go structs
// with json tags work unchanged), then decoded into a generic tree and
// re-emitted in canonical form. Re-serializing from the generic tree — as
// opposed to reordering the struct's own field list — is what makes the
// order-invariance law (spec §8 property 1) hold for any two payloads
// with the same field set regardless of how each was constructed.
func CanonicalJSON(v any) ([]byte, error) {
	raw, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("event: marshal for canonicalization: %w", err)
	}
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()
	var generic any
	if err := dec.Decode(&generic); err != nil {
		return nil, fmt.Errorf("event: decode for canonicalization: %w", err)
	}
	var buf bytes.Buffer
	if err := writeCanonical(&buf, generic); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func writeCanonical(buf *bytes.Buffer, v any) error {
	switch t := v.(type) {
	case nil:
		buf.WriteString("null")
	case bool:
		if t {
			buf.WriteString("true")
		} else {
			buf.WriteString("false")
		}
	case json.Number:
		s := t.String()
		if strings.ContainsAny(s, ".eE") {
			return fmt.Errorf("event: canonical JSON requires integers, got float %q", s)
		}
		buf.WriteString(s)
	case string:
		writeCanonicalString(buf, t)
	case []any:
		buf.WriteByte('[')
		for i, elem := range t {
			if i > 0 {
				buf.WriteByte(',')
			}
			if err := writeCanonical(buf, elem); err != nil {
				return err
			}
		}
		buf.WriteByte(']')
	case map[string]any:
		keys := make([]string, 0, len(t))
		for k := range t {
			keys = append(keys, k)
		}
		sort.Strings(keys) // lexicographic UTF-8 byte order, matching Go string comparison
		buf.WriteByte('{')
		for i, k := range keys {
			if i > 0 {
				buf.WriteByte(',')
			}
			writeCanonicalString(buf, k)
			buf.WriteByte(':')
			if err := writeCanonical(buf, t[k]); err != nil {
				return err
			}
		}
		buf.WriteByte('}')
	default:
		return fmt.Errorf("event: unsupported type %T in canonical JSON", v)
	}
	return nil
}

func writeCanonicalString(buf *bytes.Buffer, s string) {
	buf.WriteByte('"')
	for _, r := range s {
		switch r {
		case '"':
			buf.WriteString(`\"`)
		case '\\':
			buf.WriteString(`\\`)
		case '\n':
			buf.WriteString(`\n`)
		case '\r':
			buf.WriteString(`\r`)
		case '\t':
			buf.WriteString(`\t`)
		default:
			buf.WriteRune(r)
		}
	}
	buf.WriteByte('"')
}

// ID derives the content-addressed event identifier: keccak256 of
// "ev1|" || kind || "|" || canonical_json(payload). The "ev1" prefix
// domain-separates this identifier space from any other keccak256 use in
// the system and reserves room for a future algorithm change (spec §4.2).
func ID(p Payload) ([32]byte, error) {
	canon, err := CanonicalJSON(p)
	if err != nil {
		return [32]byte{}, err
	}
	msg := append([]byte("ev1|"+string(p.Kind())+"|"), canon...)
	var id [32]byte
	copy(id[:], crypto.Keccak256(msg))
	return id, nil
}
