package primitives

import (
	"encoding/hex"
	"fmt"
)

// SignatureSize is the fixed wire length of a recoverable secp256k1
// signature: 32-byte r, 32-byte s, 1-byte recovery id.
const SignatureSize = 65

// Signature is a 65-byte recoverable secp256k1 signature. V is stored in
// the raw recovery-id convention {0,1} — see pkg/signer for the
// acceptance/production convention documented against spec §9's open
// question on the v-tag.
type Signature struct {
	R [32]byte
	S [32]byte
	V byte
}

// MarshalBinary serializes the signature to its fixed 65-byte layout:
// r || s || v, with r and s copied byte for byte.
func (s Signature) MarshalBinary() ([]byte, error) {
	out := make([]byte, SignatureSize)
	copy(out[0:32], s.R[:])
	copy(out[32:64], s.S[:])
	out[64] = s.V
	return out, nil
}

// UnmarshalBinary parses the fixed 65-byte layout produced by MarshalBinary.
func (s *Signature) UnmarshalBinary(b []byte) error {
	if len(b) != SignatureSize {
		return fmt.Errorf("primitives: signature must be %d bytes, got %d", SignatureSize, len(b))
	}
	copy(s.R[:], b[0:32])
	copy(s.S[:], b[32:64])
	s.V = b[64]
	return nil
}

// IsZero reports whether the signature is the zero value (unset).
func (s Signature) IsZero() bool {
	return s.R == [32]byte{} && s.S == [32]byte{} && s.V == 0
}

// MarshalJSON encodes the signature as a "0x"-prefixed hex string of its
// 65-byte wire form, so it canonicalizes the same way addresses/hashes do.
func (s Signature) MarshalJSON() ([]byte, error) {
	b, _ := s.MarshalBinary()
	return []byte(`"0x` + hex.EncodeToString(b) + `"`), nil
}

// UnmarshalJSON parses the "0x"-prefixed hex string produced by MarshalJSON.
func (s *Signature) UnmarshalJSON(data []byte) error {
	if len(data) < 2 || data[0] != '"' || data[len(data)-1] != '"' {
		return fmt.Errorf("primitives: invalid signature JSON")
	}
	str := string(data[1 : len(data)-1])
	if len(str) >= 2 && (str[0:2] == "0x" || str[0:2] == "0X") {
		str = str[2:]
	}
	b, err := hex.DecodeString(str)
	if err != nil {
		return err
	}
	return s.UnmarshalBinary(b)
}
