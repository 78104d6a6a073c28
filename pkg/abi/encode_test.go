package abi

import (
	"bytes"
	"math/big"
	"testing"

	"github.com/evchannel/core/pkg/primitives"
)

func TestPutUint256Overflow(t *testing.T) {
	e := NewEncoder()
	huge := new(big.Int).Lsh(big.NewInt(1), 257)
	if _, err := e.PutUint256(huge); err != ErrOverflow {
		t.Fatalf("expected ErrOverflow, got %v", err)
	}
	if _, err := e.PutUint256(big.NewInt(-1)); err != ErrOverflow {
		t.Fatalf("expected ErrOverflow for negative, got %v", err)
	}
}

func TestPackedConcatenationIsTight(t *testing.T) {
	addr := primitives.Address{0xAA}
	e := NewEncoder().PutAddress(addr).PutUint64(42).PutUint32(86400)
	got := e.Bytes()
	if len(got) != 20+8+4 {
		t.Fatalf("expected tight concatenation of 32 bytes, got %d", len(got))
	}
	want := append(append(append([]byte{}, addr[:]...), bigEndian64(42)...), bigEndian32(86400)...)
	if !bytes.Equal(got, want) {
		t.Fatalf("encoding mismatch:\n got %x\nwant %x", got, want)
	}
}

func bigEndian64(v uint64) []byte {
	e := NewEncoder().PutUint64(v)
	return e.Bytes()
}

func bigEndian32(v uint32) []byte {
	e := NewEncoder().PutUint32(v)
	return e.Bytes()
}

func TestKeccak256Deterministic(t *testing.T) {
	h1 := Keccak256([]byte("hello"))
	h2 := Keccak256([]byte("hello"))
	if h1 != h2 {
		t.Fatalf("keccak256 must be deterministic")
	}
	h3 := Keccak256([]byte("world"))
	if h1 == h3 {
		t.Fatalf("different inputs must not collide in this test")
	}
}
