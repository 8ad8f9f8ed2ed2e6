package chain

import (
	"strings"
	"sync"

	"github.com/ethereum/go-ethereum/accounts/abi"
)

// Contract method and event names.
const (
	methodInvest         = "invest"
	methodRedeem         = "redeem"
	methodBalanceOf      = "balanceOf"
	methodGetFundMetrics = "getFundMetrics"
	methodGetSharePrice  = "getSharePrice"
	eventMetricsUpdated  = "MetricsUpdated"
)

const fundABIJSON = `[
  {
    "inputs": [
      {"internalType": "address", "name": "investor", "type": "address"},
      {"internalType": "uint256", "name": "usdAmount", "type": "uint256"}
    ],
    "name": "invest",
    "outputs": [],
    "stateMutability": "nonpayable",
    "type": "function"
  },
  {
    "inputs": [
      {"internalType": "address", "name": "investor", "type": "address"},
      {"internalType": "uint256", "name": "shares", "type": "uint256"}
    ],
    "name": "redeem",
    "outputs": [],
    "stateMutability": "nonpayable",
    "type": "function"
  },
  {
    "inputs": [{"internalType": "address", "name": "investor", "type": "address"}],
    "name": "balanceOf",
    "outputs": [{"internalType": "uint256", "name": "", "type": "uint256"}],
    "stateMutability": "view",
    "type": "function"
  },
  {
    "inputs": [],
    "name": "getFundMetrics",
    "outputs": [
      {"internalType": "uint256", "name": "totalAssetValue", "type": "uint256"},
      {"internalType": "uint256", "name": "sharesSupply", "type": "uint256"},
      {"internalType": "uint256", "name": "lastUpdateTime", "type": "uint256"}
    ],
    "stateMutability": "view",
    "type": "function"
  },
  {
    "inputs": [],
    "name": "getSharePrice",
    "outputs": [{"internalType": "uint256", "name": "", "type": "uint256"}],
    "stateMutability": "view",
    "type": "function"
  },
  {
    "anonymous": false,
    "inputs": [
      {"indexed": false, "internalType": "uint256", "name": "totalAssetValue", "type": "uint256"},
      {"indexed": false, "internalType": "uint256", "name": "sharesSupply", "type": "uint256"},
      {"indexed": false, "internalType": "uint256", "name": "sharePrice", "type": "uint256"}
    ],
    "name": "MetricsUpdated",
    "type": "event"
  }
]`

var (
	fundABI     abi.ABI
	fundABIOnce sync.Once
	fundABIErr  error
)

func fundABIInstance() (abi.ABI, error) {
	fundABIOnce.Do(func() {
		fundABI, fundABIErr = abi.JSON(strings.NewReader(fundABIJSON))
	})
	return fundABI, fundABIErr
}
