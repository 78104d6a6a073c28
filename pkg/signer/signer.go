// Package signer implements the deterministic secp256k1 signature
// service (spec §4.4): sign a 32-byte hash, recover the signing address
// from a signature plus hash, and load or generate the underlying key.
//
// It wraps github.com/ethereum/go-ethereum/crypto rather than
// reimplementing ECDSA-over-secp256k1, the same way teacher
// pkg/ethereum/client.go derives addresses from private keys.
package signer

import (
	"crypto/ecdsa"
	"errors"
	"fmt"
	"os"

	"github.com/ethereum/go-ethereum/crypto"

	"github.com/evchannel/core/pkg/primitives"
)

// Errors returned by the signature service.
var (
	ErrInvalidSignature = errors.New("signer: invalid signature")
	ErrInvalidKey       = errors.New("signer: invalid private key")
)

// Signer produces deterministic recoverable signatures over 32-byte
// message hashes and recovers signer addresses from signature+hash pairs.
// It holds a single private key and never exposes it to callers.
type Signer struct {
	key     *ecdsa.PrivateKey
	address primitives.Address
}

// New wraps an existing ECDSA private key. The zero key and any key
// beyond the secp256k1 curve order are rejected, matching spec §4.4.
func New(key *ecdsa.PrivateKey) (*Signer, error) {
	if key == nil || key.D == nil || key.D.Sign() == 0 || key.D.Cmp(crypto.S256().Params().N) >= 0 {
		return nil, ErrInvalidKey
	}
	pub, ok := key.Public().(*ecdsa.PublicKey)
	if !ok {
		return nil, ErrInvalidKey
	}
	var addr primitives.Address
	copy(addr[:], crypto.PubkeyToAddress(*pub).Bytes())
	return &Signer{key: key, address: addr}, nil
}

// Generate creates a Signer backed by a freshly generated key.
func Generate() (*Signer, error) {
	key, err := crypto.GenerateKey()
	if err != nil {
		return nil, fmt.Errorf("signer: generate key: %w", err)
	}
	return New(key)
}

// LoadOrGenerate loads a hex-encoded private key from path, or generates
// and persists a new one if the file does not exist. Grounded on teacher
// pkg/crypto/bls KeyManager.LoadOrGenerateKey, adapted from BLS key
// material to a secp256k1 private key.
func LoadOrGenerate(path string) (*Signer, error) {
	if path == "" {
		return Generate()
	}
	if _, err := os.Stat(path); err == nil {
		return Load(path)
	}
	s, err := Generate()
	if err != nil {
		return nil, err
	}
	if err := s.Save(path); err != nil {
		return nil, err
	}
	return s, nil
}

// Load reads a hex-encoded secp256k1 private key from path.
func Load(path string) (*Signer, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("signer: read key file: %w", err)
	}
	key, err := crypto.HexToECDSA(string(trimNewline(data)))
	if err != nil {
		return nil, fmt.Errorf("signer: parse key file: %w", err)
	}
	return New(key)
}

// Save writes the hex-encoded private key to path with owner-only
// permissions.
func (s *Signer) Save(path string) error {
	hexKey := fmt.Sprintf("%x", crypto.FromECDSA(s.key))
	return os.WriteFile(path, []byte(hexKey), 0o600)
}

// Address returns the address derived from this signer's public key.
func (s *Signer) Address() primitives.Address { return s.address }

// Sign deterministically signs a 32-byte hash (RFC 6979 via go-ethereum's
// secp256k1 binding) and returns a recoverable signature whose V is the
// raw recovery id {0,1} — this implementation's documented output
// convention for spec §9's v-tag open question.
func (s *Signer) Sign(hash primitives.Hash) (primitives.Signature, error) {
	sig, err := crypto.Sign(hash[:], s.key)
	if err != nil {
		return primitives.Signature{}, fmt.Errorf("signer: sign: %w", err)
	}
	var out primitives.Signature
	copy(out.R[:], sig[0:32])
	copy(out.S[:], sig[32:64])
	out.V = sig[64]
	return out, nil
}

// Recover returns the address that produced sig over hash. It accepts
// both the raw recovery-id convention {0,1} and the Ethereum-style
// {27,28} convention on input, normalizing to {0,1} before recovery.
func Recover(hash primitives.Hash, sig primitives.Signature) (primitives.Address, error) {
	v := sig.V
	if v >= 27 {
		v -= 27
	}
	if v > 1 {
		return primitives.Address{}, ErrInvalidSignature
	}
	raw := make([]byte, 65)
	copy(raw[0:32], sig.R[:])
	copy(raw[32:64], sig.S[:])
	raw[64] = v

	pub, err := crypto.SigToPub(hash[:], raw)
	if err != nil {
		return primitives.Address{}, fmt.Errorf("%w: %v", ErrInvalidSignature, err)
	}
	var addr primitives.Address
	copy(addr[:], crypto.PubkeyToAddress(*pub).Bytes())
	return addr, nil
}

// Verify reports whether sig over hash recovers to expected.
func Verify(hash primitives.Hash, sig primitives.Signature, expected primitives.Address) (bool, error) {
	addr, err := Recover(hash, sig)
	if err != nil {
		return false, err
	}
	return addr == expected, nil
}

func trimNewline(b []byte) []byte {
	for len(b) > 0 && (b[len(b)-1] == '\n' || b[len(b)-1] == '\r' || b[len(b)-1] == ' ') {
		b = b[:len(b)-1]
	}
	return b
}
