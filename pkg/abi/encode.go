// Package abi implements the packed (non-padded) binary encoding that the
// on-chain adjudicator contract consumes. It is deliberately narrow: it
// does not implement the full Ethereum ABI (no dynamic-offset tables, no
// padding to 32-byte words) because the adjudicator hashes tightly packed
// concatenations, not standard ABI-encoded call data.
package abi

import (
	"encoding/binary"
	"errors"
	"math/big"

	"github.com/ethereum/go-ethereum/crypto"

	"github.com/evchannel/core/pkg/primitives"
)

// ErrOverflow is returned when a value does not fit the declared bit width.
var ErrOverflow = errors.New("abi: value overflows declared width")

// Encoder accumulates packed-encoded fields. Every Put* method appends
// the minimal binary form of its argument with no padding, matching
// abi.encodePacked semantics in the adjudicator's Solidity source.
type Encoder struct {
	buf []byte
}

// NewEncoder returns an empty packed encoder.
func NewEncoder() *Encoder { return &Encoder{} }

// Bytes returns the accumulated packed encoding.
func (e *Encoder) Bytes() []byte { return e.buf }

// PutAddress appends the 20 raw bytes of an address.
func (e *Encoder) PutAddress(a primitives.Address) *Encoder {
	e.buf = append(e.buf, a[:]...)
	return e
}

// PutAddresses appends each address in order, with no length prefix —
// the array is encoded as the plain concatenation of its elements.
func (e *Encoder) PutAddresses(as []primitives.Address) *Encoder {
	for _, a := range as {
		e.PutAddress(a)
	}
	return e
}

// PutUint32 appends a 4-byte big-endian unsigned integer.
func (e *Encoder) PutUint32(v uint32) *Encoder {
	var b [4]byte
	binary.BigEndian.PutUint32(b[:], v)
	e.buf = append(e.buf, b[:]...)
	return e
}

// PutUint64 appends an 8-byte big-endian unsigned integer.
func (e *Encoder) PutUint64(v uint64) *Encoder {
	var b [8]byte
	binary.BigEndian.PutUint64(b[:], v)
	e.buf = append(e.buf, b[:]...)
	return e
}

// PutUint256 appends a 32-byte big-endian unsigned integer. A nil,
// negative or wider-than-256-bit value is not clamped: nothing is
// appended and ErrOverflow is returned (FitsUint256 performs the same
// check without encoding).
func (e *Encoder) PutUint256(v *big.Int) (*Encoder, error) {
	if v == nil || v.Sign() < 0 || v.BitLen() > 256 {
		return e, ErrOverflow
	}
	var b [32]byte
	v.FillBytes(b[:])
	e.buf = append(e.buf, b[:]...)
	return e, nil
}

// PutBytes32 appends 32 raw bytes.
func (e *Encoder) PutBytes32(h primitives.Hash) *Encoder {
	e.buf = append(e.buf, h[:]...)
	return e
}

// PutBytes appends a dynamic byte string verbatim — packed encoding has
// no length prefix for the final dynamic field, matching
// abi.encodePacked's treatment of a trailing `bytes` argument.
func (e *Encoder) PutBytes(b []byte) *Encoder {
	e.buf = append(e.buf, b...)
	return e
}

// FitsUint256 reports whether v is a non-negative integer representable
// in 256 bits.
func FitsUint256(v *big.Int) bool {
	return v != nil && v.Sign() >= 0 && v.BitLen() <= 256
}

// Keccak256 is the single hash function used throughout the core: channel
// identifiers, state hashes and event identifiers are all keccak256 over
// different domain-separated byte strings.
func Keccak256(data ...[]byte) primitives.Hash {
	var h primitives.Hash
	copy(h[:], crypto.Keccak256(data...))
	return h
}
