package chain

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"sync"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/event"
)

type receiptMode int

const (
	receiptSuccess receiptMode = iota
	receiptReverted
	receiptNever
)

// fakeBackend is an in-memory node serving the fund contract.
type fakeBackend struct {
	mu sync.Mutex

	abi      abi.ABI
	chainID  *big.Int
	code     []byte
	head     uint64
	balances map[common.Address]*big.Int
	metrics  [3]*big.Int // totalAssetValue, sharesSupply, lastUpdateTime
	price    *big.Int

	callErr      error
	sendErr      error
	subscribeErr error
	receipts     receiptMode

	sent       []*types.Transaction
	receiptFor map[common.Hash]*types.Receipt
	sink       chan<- types.Log
	pending    []types.Log // returned by the next FilterLogs
	closed     bool
}

func newFakeBackend() *fakeBackend {
	parsed, err := fundABIInstance()
	if err != nil {
		panic(err)
	}
	return &fakeBackend{
		abi:        parsed,
		chainID:    big.NewInt(31337),
		code:       []byte{0x60, 0x80},
		head:       100,
		balances:   make(map[common.Address]*big.Int),
		metrics:    [3]*big.Int{big.NewInt(0), big.NewInt(0), big.NewInt(0)},
		price:      big.NewInt(0),
		receiptFor: make(map[common.Hash]*types.Receipt),
	}
}

func (b *fakeBackend) dialer() DialFunc {
	return func(ctx context.Context, rawURL string) (Backend, error) {
		return b, nil
	}
}

func (b *fakeBackend) CodeAt(ctx context.Context, contract common.Address, blockNumber *big.Int) ([]byte, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.code, nil
}

func (b *fakeBackend) PendingCodeAt(ctx context.Context, account common.Address) ([]byte, error) {
	return b.CodeAt(ctx, account, nil)
}

func (b *fakeBackend) CallContract(ctx context.Context, call ethereum.CallMsg, blockNumber *big.Int) ([]byte, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.callErr != nil {
		return nil, b.callErr
	}
	method, err := b.abi.MethodById(call.Data[:4])
	if err != nil {
		return nil, err
	}
	switch method.Name {
	case methodBalanceOf:
		args, err := method.Inputs.Unpack(call.Data[4:])
		if err != nil {
			return nil, err
		}
		bal := b.balances[args[0].(common.Address)]
		if bal == nil {
			bal = big.NewInt(0)
		}
		return method.Outputs.Pack(bal)
	case methodGetFundMetrics:
		return method.Outputs.Pack(b.metrics[0], b.metrics[1], b.metrics[2])
	case methodGetSharePrice:
		return method.Outputs.Pack(b.price)
	}
	return nil, fmt.Errorf("unexpected call %s", method.Name)
}

func (b *fakeBackend) HeaderByNumber(ctx context.Context, number *big.Int) (*types.Header, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	// No BaseFee: the binding falls back to legacy transactions.
	return &types.Header{Number: new(big.Int).SetUint64(b.head)}, nil
}

func (b *fakeBackend) PendingNonceAt(ctx context.Context, account common.Address) (uint64, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return uint64(len(b.sent)), nil
}

func (b *fakeBackend) SuggestGasPrice(ctx context.Context) (*big.Int, error) {
	return big.NewInt(1_000_000_000), nil
}

func (b *fakeBackend) SuggestGasTipCap(ctx context.Context) (*big.Int, error) {
	return big.NewInt(1_000_000_000), nil
}

func (b *fakeBackend) EstimateGas(ctx context.Context, call ethereum.CallMsg) (uint64, error) {
	return 90_000, nil
}

func (b *fakeBackend) SendTransaction(ctx context.Context, tx *types.Transaction) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.sendErr != nil {
		return b.sendErr
	}
	b.sent = append(b.sent, tx)
	b.head++

	status := types.ReceiptStatusSuccessful
	switch b.receipts {
	case receiptNever:
		return nil
	case receiptReverted:
		status = types.ReceiptStatusFailed
	}
	b.receiptFor[tx.Hash()] = &types.Receipt{
		Status:      status,
		TxHash:      tx.Hash(),
		GasUsed:     52_000,
		BlockNumber: new(big.Int).SetUint64(b.head),
		BlockHash:   common.BigToHash(new(big.Int).SetUint64(b.head)),
	}
	return nil
}

func (b *fakeBackend) TransactionReceipt(ctx context.Context, txHash common.Hash) (*types.Receipt, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if r, ok := b.receiptFor[txHash]; ok {
		return r, nil
	}
	return nil, ethereum.NotFound
}

func (b *fakeBackend) FilterLogs(ctx context.Context, q ethereum.FilterQuery) ([]types.Log, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	logs := b.pending
	b.pending = nil
	return logs, nil
}

func (b *fakeBackend) SubscribeFilterLogs(ctx context.Context, q ethereum.FilterQuery, ch chan<- types.Log) (ethereum.Subscription, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.subscribeErr != nil {
		return nil, b.subscribeErr
	}
	b.sink = ch
	return event.NewSubscription(func(quit <-chan struct{}) error {
		<-quit
		return nil
	}), nil
}

func (b *fakeBackend) ChainID(ctx context.Context) (*big.Int, error) {
	return b.chainID, nil
}

func (b *fakeBackend) BlockNumber(ctx context.Context) (uint64, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.head, nil
}

func (b *fakeBackend) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.closed = true
}

// --- helpers ---

func (b *fakeBackend) subscribed() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.sink != nil
}

func (b *fakeBackend) emit(lg types.Log) error {
	b.mu.Lock()
	sink := b.sink
	b.mu.Unlock()
	if sink == nil {
		return errors.New("no subscriber")
	}
	sink <- lg
	return nil
}

// queueLogs mines a block and, if nothing is pending, makes logs the
// result of the next FilterLogs.
func (b *fakeBackend) queueLogs(logs ...types.Log) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.head++
	if len(b.pending) == 0 {
		b.pending = logs
	}
}

// mineSent confirms every sent transaction that has no receipt yet.
func (b *fakeBackend) mineSent() {
	b.mu.Lock()
	defer b.mu.Unlock()
	for _, tx := range b.sent {
		if _, ok := b.receiptFor[tx.Hash()]; ok {
			continue
		}
		b.head++
		b.receiptFor[tx.Hash()] = &types.Receipt{
			Status:      types.ReceiptStatusSuccessful,
			TxHash:      tx.Hash(),
			GasUsed:     52_000,
			BlockNumber: new(big.Int).SetUint64(b.head),
			BlockHash:   common.BigToHash(new(big.Int).SetUint64(b.head)),
		}
	}
}

func (b *fakeBackend) sentCount() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.sent)
}

func (b *fakeBackend) lastSent() *types.Transaction {
	b.mu.Lock()
	defer b.mu.Unlock()
	if len(b.sent) == 0 {
		return nil
	}
	return b.sent[len(b.sent)-1]
}

func (b *fakeBackend) metricsLog(tav, supply, price int64) types.Log {
	ev := b.abi.Events[eventMetricsUpdated]
	data, err := ev.Inputs.Pack(big.NewInt(tav), big.NewInt(supply), big.NewInt(price))
	if err != nil {
		panic(err)
	}
	return types.Log{
		Address:     common.HexToAddress(testContract),
		Topics:      []common.Hash{ev.ID},
		Data:        data,
		BlockNumber: 101,
		TxHash:      common.HexToHash("0xaaa"),
	}
}
