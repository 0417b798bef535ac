package domain

// CallRecord is one bootstrap input row from the alert store: a token that
// was called out by someone and should be monitored from its alert price.
type CallRecord struct {
	TokenAddress   string
	TokenSymbol    string
	Chain          string
	CallerName     string
	AlertTimestamp int64 // unix milliseconds
	AlertPrice     float64
}
