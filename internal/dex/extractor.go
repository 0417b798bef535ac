// Package dex extracts normalized swap events from heterogeneous DEX
// transaction payloads.
package dex

import (
	"encoding/base64"
	"encoding/binary"
	"fmt"
	"regexp"
	"strconv"
	"strings"

	"github.com/mr-tron/base58"

	"solana-signal-watch/internal/domain"
)

// Known venue program IDs.
const (
	// PumpFun is the pump.fun bonding-curve program ID.
	PumpFun = "6EF8rrecthR5Dkzon8Nwu78hRvfCKubJ14M5uBEwF6P"
	// PumpSwap is the PumpSwap AMM program ID.
	PumpSwap = "pAMMBay6oceH9fJKBRHGP5D4bD4sWpmSwMn52FMfXEA"
	// RaydiumAMMV4 is the Raydium AMM v4 program ID.
	RaydiumAMMV4 = "675kPX9MHTjS2zt1qfr1NYHuzeLXfQM9H24wFSUt1Mp8"
)

// WSOL is the Wrapped SOL mint address.
const WSOL = "So11111111111111111111111111111111111111112"

// Decimal factors for human-unit conversion.
const (
	lamportsPerSol = 1e9
	tokenUnit      = 1e6
)

// Extraction is the result of parsing one transaction payload: at most one
// swap, or a newly created token mint. Both empty means the payload was not
// a trade (unknown venue, non-swap instruction) — a no-op, not an error.
type Extraction struct {
	Swap    *domain.SwapEvent
	NewMint string
}

// Empty reports whether the extraction carries nothing.
func (e Extraction) Empty() bool {
	return e.Swap == nil && e.NewMint == ""
}

// venueParser extracts events for one DEX program.
type venueParser interface {
	parse(tx *domain.TransactionUpdate) (Extraction, error)
}

// Extractor dispatches transaction payloads to venue parsers by program ID.
// Errors returned here mean "malformed payload for a known venue"; callers
// on the hot path count and drop them, they must never propagate.
type Extractor struct {
	parsers map[string]venueParser
}

// NewExtractor creates an Extractor with all default venue parsers.
func NewExtractor() *Extractor {
	return &Extractor{
		parsers: map[string]venueParser{
			PumpFun:      newTextLogParser(PumpFun, true),
			PumpSwap:     newTextLogParser(PumpSwap, false),
			RaydiumAMMV4: newRaydiumParser(),
		},
	}
}

// Extract parses one transaction payload. Payloads that mention no known
// venue program return an empty Extraction and no error.
func (e *Extractor) Extract(tx *domain.TransactionUpdate) (Extraction, error) {
	if tx == nil || len(tx.Logs) == 0 {
		return Extraction{}, nil
	}
	for programID, parser := range e.parsers {
		if !invoked(tx.Logs, programID) {
			continue
		}
		res, err := parser.parse(tx)
		if err != nil {
			return Extraction{}, fmt.Errorf("parse %s payload: %w", programID, err)
		}
		if !res.Empty() {
			return res, nil
		}
	}
	return Extraction{}, nil
}

func invoked(logs []string, programID string) bool {
	marker := "Program " + programID + " invoke"
	for _, log := range logs {
		if strings.Contains(log, marker) {
			return true
		}
	}
	return false
}

// textLogParser parses venues that emit plain-text instruction logs
// (pump.fun and PumpSwap):
//
//	Program log: Instruction: Buy
//	Program log: mint=<MINT> sol_amount=<lamports> token_amount=<raw>
type textLogParser struct {
	programID    string
	detectCreate bool

	buyPattern    *regexp.Regexp
	sellPattern   *regexp.Regexp
	createPattern *regexp.Regexp
	mintPattern   *regexp.Regexp
	solPattern    *regexp.Regexp
	tokenPattern  *regexp.Regexp
}

func newTextLogParser(programID string, detectCreate bool) *textLogParser {
	return &textLogParser{
		programID:     programID,
		detectCreate:  detectCreate,
		buyPattern:    regexp.MustCompile(`Program log: Instruction: Buy`),
		sellPattern:   regexp.MustCompile(`Program log: Instruction: Sell`),
		createPattern: regexp.MustCompile(`Program log: Instruction: Create`),
		mintPattern:   regexp.MustCompile(`mint[=:]\s*([1-9A-HJ-NP-Za-km-z]{32,44})`),
		solPattern:    regexp.MustCompile(`sol_amount[=:]\s*(\d+)`),
		tokenPattern:  regexp.MustCompile(`token_amount[=:]\s*(\d+)`),
	}
}

func (p *textLogParser) parse(tx *domain.TransactionUpdate) (Extraction, error) {
	var (
		mint        string
		solRaw      uint64
		tokenRaw    uint64
		sawBuy      bool
		sawSell     bool
		sawCreate   bool
		insideVenue bool
	)

	for _, log := range tx.Logs {
		if strings.Contains(log, "Program "+p.programID+" invoke") {
			insideVenue = true
			continue
		}
		if strings.Contains(log, "Program "+p.programID+" success") ||
			strings.Contains(log, "Program "+p.programID+" failed") {
			insideVenue = false
			continue
		}
		if !insideVenue {
			continue
		}

		if m := p.mintPattern.FindStringSubmatch(log); m != nil {
			mint = m[1]
		}
		if m := p.solPattern.FindStringSubmatch(log); m != nil {
			v, err := strconv.ParseUint(m[1], 10, 64)
			if err != nil {
				return Extraction{}, fmt.Errorf("sol_amount: %w", err)
			}
			solRaw = v
		}
		if m := p.tokenPattern.FindStringSubmatch(log); m != nil {
			v, err := strconv.ParseUint(m[1], 10, 64)
			if err != nil {
				return Extraction{}, fmt.Errorf("token_amount: %w", err)
			}
			tokenRaw = v
		}

		switch {
		case p.buyPattern.MatchString(log):
			sawBuy = true
		case p.sellPattern.MatchString(log):
			sawSell = true
		case p.detectCreate && p.createPattern.MatchString(log):
			sawCreate = true
		}
	}

	if sawCreate && mint != "" {
		return Extraction{NewMint: mint}, nil
	}
	if !sawBuy && !sawSell {
		return Extraction{}, nil
	}
	if mint == "" {
		return Extraction{}, fmt.Errorf("swap log without mint")
	}
	if tokenRaw == 0 || solRaw == 0 {
		return Extraction{}, fmt.Errorf("swap log without amounts (sol=%d token=%d)", solRaw, tokenRaw)
	}

	sol := float64(solRaw) / lamportsPerSol
	tokens := float64(tokenRaw) / tokenUnit

	swap := &domain.SwapEvent{
		Mint:        mint,
		Price:       sol / tokens,
		TxSignature: tx.Signature,
		Slot:        tx.Slot,
		Timestamp:   tx.Timestamp,
	}
	if sawBuy {
		swap.Side = domain.SwapSideBuy
		swap.AmountIn = sol
		swap.AmountOut = tokens
	} else {
		swap.Side = domain.SwapSideSell
		swap.AmountIn = tokens
		swap.AmountOut = sol
	}
	return Extraction{Swap: swap}, nil
}

// raydiumParser parses Raydium AMM v4 ray_log entries:
// base64(disc(1) | amm(32) | inputMint(32) | outputMint(32) | amountIn(8) | amountOut(8))
type raydiumParser struct {
	rayLogPattern *regexp.Regexp
}

func newRaydiumParser() *raydiumParser {
	return &raydiumParser{
		rayLogPattern: regexp.MustCompile(`ray_log: ([A-Za-z0-9+/=]+)`),
	}
}

// Raydium swap instruction discriminators.
func isRaydiumSwapDisc(b byte) bool {
	return b == 0x09 || b == 0x0b || b == 0x0d || b == 0x0e
}

const rayLogSwapLen = 1 + 32 + 32 + 32 + 8 + 8

func (p *raydiumParser) parse(tx *domain.TransactionUpdate) (Extraction, error) {
	for _, log := range tx.Logs {
		m := p.rayLogPattern.FindStringSubmatch(log)
		if m == nil {
			continue
		}
		data, err := base64.StdEncoding.DecodeString(m[1])
		if err != nil {
			return Extraction{}, fmt.Errorf("decode ray_log: %w", err)
		}
		if len(data) < rayLogSwapLen || !isRaydiumSwapDisc(data[0]) {
			continue
		}

		inputMint := base58.Encode(data[33:65])
		outputMint := base58.Encode(data[65:97])
		amountIn := binary.LittleEndian.Uint64(data[97:105])
		amountOut := binary.LittleEndian.Uint64(data[105:113])
		if amountIn == 0 || amountOut == 0 {
			return Extraction{}, fmt.Errorf("ray_log with zero amounts")
		}

		swap := &domain.SwapEvent{
			TxSignature: tx.Signature,
			Slot:        tx.Slot,
			Timestamp:   tx.Timestamp,
		}
		switch {
		case inputMint == WSOL:
			// SOL in, tokens out: a buy.
			sol := float64(amountIn) / lamportsPerSol
			tokens := float64(amountOut) / tokenUnit
			swap.Side = domain.SwapSideBuy
			swap.Mint = outputMint
			swap.AmountIn = sol
			swap.AmountOut = tokens
			swap.Price = sol / tokens
		case outputMint == WSOL:
			// Tokens in, SOL out: a sell.
			tokens := float64(amountIn) / tokenUnit
			sol := float64(amountOut) / lamportsPerSol
			swap.Side = domain.SwapSideSell
			swap.Mint = inputMint
			swap.AmountIn = tokens
			swap.AmountOut = sol
			swap.Price = sol / tokens
		default:
			// Token-token swap, no SOL leg to price against.
			continue
		}
		return Extraction{Swap: swap}, nil
	}
	return Extraction{}, nil
}
