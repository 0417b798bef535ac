package domain

// Swap side constants.
const (
	SwapSideBuy  = "buy"
	SwapSideSell = "sell"
)

// SwapEvent is one normalized DEX trade extracted from a transaction payload.
// Amounts are in human units (SOL for the quote side, tokens for the base
// side) oriented by Side: a buy has SOL in and tokens out, a sell has tokens
// in and SOL out. Price is SOL per token.
type SwapEvent struct {
	Side        string
	Mint        string
	AmountIn    float64
	AmountOut   float64
	Price       float64
	TxSignature string
	Slot        int64
	Timestamp   int64 // unix milliseconds
}

// TokenAmount returns the token-side amount of the swap, used for volume.
func (s *SwapEvent) TokenAmount() float64 {
	if s.Side == SwapSideBuy {
		return s.AmountOut
	}
	return s.AmountIn
}
