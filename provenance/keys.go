// Package provenance signs sandbox run results and anchors the
// resulting attestations on external ledgers.
package provenance

import (
	"crypto/ed25519"
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"os"
	"strings"
)

// KeyPair is the ed25519 signing identity of one service instance.
type KeyPair struct {
	Private ed25519.PrivateKey
	Public  ed25519.PublicKey
}

// NewKeyPair generates a fresh signing key. Used when no key file is
// configured; attestations signed with an ephemeral key stop
// verifying across restarts, so production deployments load a
// persisted seed instead.
func NewKeyPair() (*KeyPair, error) {
	public, private, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		return nil, fmt.Errorf("failed to generate signing key: %w", err)
	}
	return &KeyPair{Private: private, Public: public}, nil
}

// LoadKeyPair reads a hex-encoded 32-byte ed25519 seed from path.
func LoadKeyPair(path string) (*KeyPair, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read key file %s: %w", path, err)
	}
	seed, err := hex.DecodeString(strings.TrimSpace(string(data)))
	if err != nil {
		return nil, fmt.Errorf("key file %s is not valid hex: %w", path, err)
	}
	if len(seed) != ed25519.SeedSize {
		return nil, fmt.Errorf("key file %s: seed must be %d bytes, got %d", path, ed25519.SeedSize, len(seed))
	}
	private := ed25519.NewKeyFromSeed(seed)
	return &KeyPair{
		Private: private,
		Public:  private.Public().(ed25519.PublicKey),
	}, nil
}

// WriteKeyPair persists the key's seed to path as hex, readable only
// by the owner.
func (k *KeyPair) WriteKeyPair(path string) error {
	seed := hex.EncodeToString(k.Private.Seed())
	if err := os.WriteFile(path, []byte(seed+"\n"), 0o600); err != nil {
		return fmt.Errorf("failed to write key file %s: %w", path, err)
	}
	return nil
}

// PublicHex returns the hex form of the public key as embedded in
// attestation records.
func (k *KeyPair) PublicHex() string {
	return hex.EncodeToString(k.Public)
}
