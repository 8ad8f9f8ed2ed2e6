package domain

import "time"

// MetricsSource records where a snapshot came from.
type MetricsSource string

const (
	MetricsSourceChain MetricsSource = "chain"
	MetricsSourceEvent MetricsSource = "event"
)

// FundMetrics is a point-in-time snapshot of fund state. Amounts are decimal
// strings with exactly six fractional digits. Each write replaces the whole
// snapshot.
type FundMetrics struct {
	TotalAssetValue string        `json:"totalAssetValue"`
	SharesSupply    string        `json:"sharesSupply"`
	SharePrice      string        `json:"sharePrice"`
	LastUpdateTime  time.Time     `json:"lastUpdateTime"`
	Source          MetricsSource `json:"source,omitempty"`
}

// ChainMetrics is the raw result of the contract's getFundMetrics call,
// already scaled to six decimals.
type ChainMetrics struct {
	TotalAssetValue string
	SharesSupply    string
	LastUpdateTime  time.Time
}

// MetricsEvent is a decoded MetricsUpdated log pushed by the chain.
type MetricsEvent struct {
	TotalAssetValue string
	SharesSupply    string
	SharePrice      string
	TransactionHash string
	BlockNumber     uint64
	LogIndex        uint
	ReceivedAt      time.Time
}

// Snapshot turns the event into a cache snapshot stamped with its receipt time.
func (e MetricsEvent) Snapshot() *FundMetrics {
	return &FundMetrics{
		TotalAssetValue: e.TotalAssetValue,
		SharesSupply:    e.SharesSupply,
		SharePrice:      e.SharePrice,
		LastUpdateTime:  e.ReceivedAt,
		Source:          MetricsSourceEvent,
	}
}
