package domain

// UpdateKind tags the payload shape of a StreamUpdate.
type UpdateKind int

const (
	// UpdatePrice carries a price already normalized by the transport.
	UpdatePrice UpdateKind = iota
	// UpdateAccount carries raw account bytes for a subscribed address.
	UpdateAccount
	// UpdateTransaction carries a decoded transaction payload.
	UpdateTransaction
)

// StreamUpdate is the tagged union every transport normalizes its wire
// messages into. Exactly one of Price, AccountData, Transaction is set,
// according to Kind.
type StreamUpdate struct {
	Kind        UpdateKind
	Account     string // subscribed account address the update refers to
	Price       *PriceUpdate
	AccountData []byte
	Transaction *TransactionUpdate
	Slot        int64
	Timestamp   int64 // unix milliseconds
}

// PriceUpdate is a pre-normalized price tick.
type PriceUpdate struct {
	Address   string
	Price     float64
	Timestamp int64
}

// TransactionUpdate is a decoded transaction payload as delivered by a
// transport: program log lines plus the transaction account keys.
type TransactionUpdate struct {
	Signature   string
	Logs        []string
	AccountKeys []string
	Slot        int64
	Timestamp   int64
}
