package domain

// Alert types.
const (
	AlertBuy  = "BUY"
	AlertSell = "SELL"
)

// Alert reasons.
const (
	ReasonCrossover  = "crossover"   // fast line crossed above slow line
	ReasonCrossunder = "crossunder"  // fast line crossed below slow line
	ReasonStopLoss   = "stop_loss"   // last price fell to or below slow line
)

// AlertEvent is an immutable record of one emitted trading signal.
type AlertEvent struct {
	Type         string  // AlertBuy | AlertSell
	Reason       string  // ReasonCrossover | ReasonCrossunder | ReasonStopLoss
	TokenAddress string
	TokenSymbol  string
	Chain        string
	Price        float64 // last observed price at signal time
	Timestamp    int64   // unix milliseconds
	FastLine     float64
	SlowLine     float64
	Message      string // human-readable summary
}
