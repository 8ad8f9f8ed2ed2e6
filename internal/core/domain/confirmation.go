package domain

// Confirmation describes a transaction mined with a successful receipt.
type Confirmation struct {
	TransactionHash string `json:"transaction_hash"`
	BlockNumber     uint64 `json:"block_number"`
	BlockHash       string `json:"block_hash"`
	GasUsed         uint64 `json:"gas_used"`
	Status          uint64 `json:"status"`
}

// GatewayState is the lifecycle state of the chain gateway.
type GatewayState int32

const (
	GatewayUninitialized GatewayState = iota
	GatewayReady
	GatewayFailed
)

func (s GatewayState) String() string {
	switch s {
	case GatewayReady:
		return "ready"
	case GatewayFailed:
		return "failed"
	default:
		return "uninitialized"
	}
}
