// Package derive computes program-derived sub-account addresses for token
// mints and caches them bidirectionally.
package derive

import (
	"crypto/sha256"
	"errors"
	"fmt"
	"sync"

	"filippo.io/edwards25519"
	"github.com/mr-tron/base58"
)

// DefaultSeedPrefix is the seed used for bonding-curve sub-accounts.
const DefaultSeedPrefix = "bonding-curve"

// Derivation errors.
var (
	ErrInvalidTokenID   = errors.New("invalid token identifier")
	ErrDerivationFailed = errors.New("no off-curve address found")
	ErrInvalidProgramID = errors.New("invalid program identifier")
)

// Deriver derives program-owned sub-account addresses from token mints.
// Derivation is deterministic for a fixed program ID and seed prefix, so
// every result is cached forward (mint -> derived) and reverse
// (derived -> mint) together. The tracked token set is small; the cache is
// unbounded on purpose.
type Deriver struct {
	programID  []byte
	seedPrefix []byte

	mu      sync.RWMutex
	forward map[string]string
	reverse map[string]string
}

// NewDeriver creates a Deriver for the given base58 program ID and seed
// prefix.
func NewDeriver(programID, seedPrefix string) (*Deriver, error) {
	pid, err := base58.Decode(programID)
	if err != nil || len(pid) != 32 {
		return nil, fmt.Errorf("%w: %s", ErrInvalidProgramID, programID)
	}
	return &Deriver{
		programID:  pid,
		seedPrefix: []byte(seedPrefix),
		forward:    make(map[string]string),
		reverse:    make(map[string]string),
	}, nil
}

// Derive returns the sub-account address for a token mint. Malformed mints
// return an error, never an empty string that could be mistaken for an
// address.
func (d *Deriver) Derive(tokenID string) (string, error) {
	d.mu.RLock()
	cached, ok := d.forward[tokenID]
	d.mu.RUnlock()
	if ok {
		return cached, nil
	}

	mint, err := base58.Decode(tokenID)
	if err != nil || len(mint) != 32 {
		return "", fmt.Errorf("%w: %s", ErrInvalidTokenID, tokenID)
	}

	derived := derivePDA([][]byte{d.seedPrefix, mint}, d.programID)
	if derived == "" {
		return "", fmt.Errorf("%w: %s", ErrDerivationFailed, tokenID)
	}

	// Forward and reverse entries are inserted together, never partially.
	d.mu.Lock()
	d.forward[tokenID] = derived
	d.reverse[derived] = tokenID
	d.mu.Unlock()

	return derived, nil
}

// TokenFor looks up the mint that derives the given sub-account address.
func (d *Deriver) TokenFor(derived string) (string, bool) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	mint, ok := d.reverse[derived]
	return mint, ok
}

// CacheSize returns the number of cached derivations.
func (d *Deriver) CacheSize() (forward, reverse int) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return len(d.forward), len(d.reverse)
}

// derivePDA derives a Program Derived Address using the Solana algorithm:
// sha256(seeds || bump || programID || "ProgramDerivedAddress"), taking the
// highest bump whose hash is not a valid ed25519 curve point.
func derivePDA(seeds [][]byte, programID []byte) string {
	for bump := byte(255); bump > 0; bump-- {
		data := make([]byte, 0, 64)
		for _, seed := range seeds {
			data = append(data, seed...)
		}
		data = append(data, bump)
		data = append(data, programID...)
		data = append(data, []byte("ProgramDerivedAddress")...)

		hash := sha256.Sum256(data)
		if !isOnCurve(hash[:]) {
			return base58.Encode(hash[:])
		}
	}
	return ""
}

func isOnCurve(point []byte) bool {
	if len(point) != 32 {
		return false
	}
	_, err := new(edwards25519.Point).SetBytes(point)
	return err == nil
}
