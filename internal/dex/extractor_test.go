package dex

import (
	"encoding/base64"
	"encoding/binary"
	"testing"

	"github.com/mr-tron/base58"

	"solana-signal-watch/internal/domain"
)

const testMint = "Ce2tW2eEa21rXmfDSsG3uDbzaAS6BBNV7MRnMhA2pump"

func txWithLogs(logs []string) *domain.TransactionUpdate {
	return &domain.TransactionUpdate{
		Signature: "sig1",
		Logs:      logs,
		Slot:      100,
		Timestamp: 1_700_000_000_000,
	}
}

func TestExtract_PumpFunBuy(t *testing.T) {
	e := NewExtractor()

	tx := txWithLogs([]string{
		"Program " + PumpFun + " invoke [1]",
		"Program log: Instruction: Buy",
		"Program log: mint=" + testMint + " sol_amount=30000000 token_amount=1000000000",
		"Program " + PumpFun + " success",
	})

	res, err := e.Extract(tx)
	if err != nil {
		t.Fatalf("Extract: %v", err)
	}
	if res.Swap == nil {
		t.Fatal("expected a swap")
	}
	if res.Swap.Side != domain.SwapSideBuy {
		t.Errorf("side = %s, want buy", res.Swap.Side)
	}
	if res.Swap.Mint != testMint {
		t.Errorf("mint = %s", res.Swap.Mint)
	}
	// 0.03 SOL in, 1000 tokens out => 0.00003 SOL/token
	if res.Swap.AmountIn != 0.03 {
		t.Errorf("amountIn = %v, want 0.03", res.Swap.AmountIn)
	}
	if res.Swap.AmountOut != 1000 {
		t.Errorf("amountOut = %v, want 1000", res.Swap.AmountOut)
	}
	if got, want := res.Swap.Price, 0.03/1000; got != want {
		t.Errorf("price = %v, want %v", got, want)
	}
	if res.Swap.TokenAmount() != 1000 {
		t.Errorf("TokenAmount = %v, want 1000", res.Swap.TokenAmount())
	}
}

func TestExtract_PumpFunSell(t *testing.T) {
	e := NewExtractor()

	tx := txWithLogs([]string{
		"Program " + PumpFun + " invoke [1]",
		"Program log: Instruction: Sell",
		"Program log: mint=" + testMint + " sol_amount=50000000 token_amount=2000000000",
		"Program " + PumpFun + " success",
	})

	res, err := e.Extract(tx)
	if err != nil {
		t.Fatalf("Extract: %v", err)
	}
	if res.Swap == nil {
		t.Fatal("expected a swap")
	}
	if res.Swap.Side != domain.SwapSideSell {
		t.Errorf("side = %s, want sell", res.Swap.Side)
	}
	// 2000 tokens in, 0.05 SOL out => 0.000025 SOL/token
	if got, want := res.Swap.Price, 0.05/2000; got != want {
		t.Errorf("price = %v, want %v", got, want)
	}
	if res.Swap.TokenAmount() != 2000 {
		t.Errorf("TokenAmount = %v, want 2000", res.Swap.TokenAmount())
	}
}

func TestExtract_PumpFunCreate(t *testing.T) {
	e := NewExtractor()

	tx := txWithLogs([]string{
		"Program " + PumpFun + " invoke [1]",
		"Program log: Instruction: Create",
		"Program log: mint=" + testMint,
		"Program " + PumpFun + " success",
	})

	res, err := e.Extract(tx)
	if err != nil {
		t.Fatalf("Extract: %v", err)
	}
	if res.Swap != nil {
		t.Error("create should not produce a swap")
	}
	if res.NewMint != testMint {
		t.Errorf("NewMint = %s, want %s", res.NewMint, testMint)
	}
}

func TestExtract_UnknownVenueIsNoop(t *testing.T) {
	e := NewExtractor()

	tx := txWithLogs([]string{
		"Program SomeOtherProgram1111111111111111111111111 invoke [1]",
		"Program log: Instruction: Buy",
		"Program log: mint=" + testMint + " sol_amount=1 token_amount=1",
	})

	res, err := e.Extract(tx)
	if err != nil {
		t.Fatalf("unknown venue must not error: %v", err)
	}
	if !res.Empty() {
		t.Error("unknown venue must yield an empty extraction")
	}
}

func TestExtract_MalformedPumpFunLog(t *testing.T) {
	e := NewExtractor()

	// Buy instruction without amounts is malformed for a known venue.
	tx := txWithLogs([]string{
		"Program " + PumpFun + " invoke [1]",
		"Program log: Instruction: Buy",
		"Program log: mint=" + testMint,
		"Program " + PumpFun + " success",
	})

	if _, err := e.Extract(tx); err == nil {
		t.Error("expected an error for a swap without amounts")
	}
}

// buildRayLog encodes a Raydium swap ray_log entry.
func buildRayLog(disc byte, inputMint, outputMint []byte, amountIn, amountOut uint64) string {
	data := make([]byte, rayLogSwapLen)
	data[0] = disc
	copy(data[33:65], inputMint)
	copy(data[65:97], outputMint)
	binary.LittleEndian.PutUint64(data[97:105], amountIn)
	binary.LittleEndian.PutUint64(data[105:113], amountOut)
	return base64.StdEncoding.EncodeToString(data)
}

func TestExtract_RaydiumBuy(t *testing.T) {
	e := NewExtractor()

	wsol, err := base58.Decode(WSOL)
	if err != nil {
		t.Fatalf("decode WSOL: %v", err)
	}
	tokenBytes := make([]byte, 32)
	tokenBytes[0] = 7
	tokenMint := base58.Encode(tokenBytes)

	// 0.1 SOL in, 500 tokens out.
	rayLog := buildRayLog(0x09, wsol, tokenBytes, 100_000_000, 500_000_000)
	tx := txWithLogs([]string{
		"Program " + RaydiumAMMV4 + " invoke [1]",
		"Program log: ray_log: " + rayLog,
		"Program " + RaydiumAMMV4 + " success",
	})

	res, err := e.Extract(tx)
	if err != nil {
		t.Fatalf("Extract: %v", err)
	}
	if res.Swap == nil {
		t.Fatal("expected a swap")
	}
	if res.Swap.Side != domain.SwapSideBuy {
		t.Errorf("side = %s, want buy", res.Swap.Side)
	}
	if res.Swap.Mint != tokenMint {
		t.Errorf("mint = %s, want %s", res.Swap.Mint, tokenMint)
	}
	if got, want := res.Swap.Price, 0.1/500; got != want {
		t.Errorf("price = %v, want %v", got, want)
	}
}

func TestExtract_RaydiumSell(t *testing.T) {
	e := NewExtractor()

	wsol, err := base58.Decode(WSOL)
	if err != nil {
		t.Fatalf("decode WSOL: %v", err)
	}
	tokenBytes := make([]byte, 32)
	tokenBytes[0] = 9

	// 200 tokens in, 0.02 SOL out.
	rayLog := buildRayLog(0x0b, tokenBytes, wsol, 200_000_000, 20_000_000)
	tx := txWithLogs([]string{
		"Program " + RaydiumAMMV4 + " invoke [1]",
		"Program log: ray_log: " + rayLog,
	})

	res, err := e.Extract(tx)
	if err != nil {
		t.Fatalf("Extract: %v", err)
	}
	if res.Swap == nil {
		t.Fatal("expected a swap")
	}
	if res.Swap.Side != domain.SwapSideSell {
		t.Errorf("side = %s, want sell", res.Swap.Side)
	}
	if got, want := res.Swap.Price, 0.02/200; got != want {
		t.Errorf("price = %v, want %v", got, want)
	}
}

func TestExtract_RaydiumNonSwapDiscriminatorSkipped(t *testing.T) {
	e := NewExtractor()

	wsol, _ := base58.Decode(WSOL)
	tokenBytes := make([]byte, 32)
	tokenBytes[0] = 3

	// Deposit discriminator (0x03) is not a swap.
	rayLog := buildRayLog(0x03, wsol, tokenBytes, 1, 1)
	tx := txWithLogs([]string{
		"Program " + RaydiumAMMV4 + " invoke [1]",
		"Program log: ray_log: " + rayLog,
	})

	res, err := e.Extract(tx)
	if err != nil {
		t.Fatalf("Extract: %v", err)
	}
	if !res.Empty() {
		t.Error("non-swap ray_log must yield an empty extraction")
	}
}

func TestExtract_NilPayload(t *testing.T) {
	e := NewExtractor()
	res, err := e.Extract(nil)
	if err != nil {
		t.Fatalf("nil payload must not error: %v", err)
	}
	if !res.Empty() {
		t.Error("nil payload must yield an empty extraction")
	}
}
