// Package curve decodes bonding-curve account state and derives spot price.
package curve

import (
	"encoding/binary"
	"errors"
	"math"
)

// ErrNotDecodable is returned for buffers that do not contain a valid
// bonding-curve state or for states that yield no finite positive price.
// Callers treat it as "fall back to the next price source", never as fatal.
var ErrNotDecodable = errors.New("account not decodable")

// Bonding-curve account layout (little-endian):
// discriminator(8) | virtualTokenReserves(8) | virtualSolReserves(8) |
// realTokenReserves(8) | realSolReserves(8) | tokenTotalSupply(8) | complete(1)
const (
	discriminatorLen = 8
	stateLen         = discriminatorLen + 5*8 + 1
)

// Reserve amounts are raw on-chain units.
const (
	lamportsPerSol = 1e9
	tokenUnit      = 1e6
)

// State is the decoded reserve/supply record of a bonding-curve account.
type State struct {
	VirtualTokenReserves uint64
	VirtualSolReserves   uint64
	RealTokenReserves    uint64
	RealSolReserves      uint64
	TokenTotalSupply     uint64
	Complete             bool
}

// Decode parses raw account bytes into a State. It never panics on short or
// malformed buffers; anything that does not fit the layout returns
// ErrNotDecodable.
func Decode(data []byte) (*State, error) {
	if len(data) < stateLen {
		return nil, ErrNotDecodable
	}

	off := discriminatorLen
	s := &State{
		VirtualTokenReserves: binary.LittleEndian.Uint64(data[off:]),
		VirtualSolReserves:   binary.LittleEndian.Uint64(data[off+8:]),
		RealTokenReserves:    binary.LittleEndian.Uint64(data[off+16:]),
		RealSolReserves:      binary.LittleEndian.Uint64(data[off+24:]),
		TokenTotalSupply:     binary.LittleEndian.Uint64(data[off+32:]),
		Complete:             data[off+40] != 0,
	}
	return s, nil
}

// Price returns the spot price in SOL per token. A completed curve (token
// graduated to open-market trading) no longer prices the token and reports
// ErrNotDecodable so callers switch to the fallback source.
func (s *State) Price() (float64, error) {
	if s.Complete {
		return 0, ErrNotDecodable
	}
	quote := float64(s.VirtualSolReserves) / lamportsPerSol
	base := float64(s.VirtualTokenReserves) / tokenUnit
	return PriceFromReserves(quote, base)
}

// PriceFromReserves computes price = quoteReserve / baseReserve for
// transports that deliver already-numeric reserve pairs. Non-positive
// reserves and non-finite results are rejected with ErrNotDecodable.
func PriceFromReserves(quoteReserve, baseReserve float64) (float64, error) {
	if quoteReserve <= 0 || baseReserve <= 0 {
		return 0, ErrNotDecodable
	}
	p := quoteReserve / baseReserve
	if math.IsNaN(p) || math.IsInf(p, 0) || p <= 0 {
		return 0, ErrNotDecodable
	}
	return p, nil
}
