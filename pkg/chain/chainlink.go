package chain

import (
	"context"
	"fmt"
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/ethclient"

	"tc.com/twap-oracle/pkg/oracle"
)

// Chainlink aggregator ABI (round data and decimals only).
const aggregatorABIJSON = `[
	{"constant": true, "inputs": [], "name": "decimals",
	 "outputs": [{"internalType": "uint8", "name": "", "type": "uint8"}],
	 "stateMutability": "view", "type": "function"},
	{"constant": true, "inputs": [], "name": "latestRoundData",
	 "outputs": [
		{"internalType": "uint80", "name": "roundId", "type": "uint80"},
		{"internalType": "int256", "name": "answer", "type": "int256"},
		{"internalType": "uint256", "name": "startedAt", "type": "uint256"},
		{"internalType": "uint256", "name": "updatedAt", "type": "uint256"},
		{"internalType": "uint80", "name": "answeredInRound", "type": "uint80"}],
	 "stateMutability": "view", "type": "function"},
	{"constant": true,
	 "inputs": [{"internalType": "uint80", "name": "_roundId", "type": "uint80"}],
	 "name": "getRoundData",
	 "outputs": [
		{"internalType": "uint80", "name": "roundId", "type": "uint80"},
		{"internalType": "int256", "name": "answer", "type": "int256"},
		{"internalType": "uint256", "name": "startedAt", "type": "uint256"},
		{"internalType": "uint256", "name": "updatedAt", "type": "uint256"},
		{"internalType": "uint80", "name": "answeredInRound", "type": "uint80"}],
	 "stateMutability": "view", "type": "function"}
]`

// ChainlinkFeed reads rounds from a Chainlink-style aggregator contract.
type ChainlinkFeed struct {
	client   *ethclient.Client
	addr     common.Address
	feedABI  abi.ABI
	decimals uint8
}

// Ensure ChainlinkFeed implements oracle.RoundFeed
var _ oracle.RoundFeed = (*ChainlinkFeed)(nil)

// roundData mirrors the aggregator's round tuple.
type roundData struct {
	RoundId         *big.Int
	Answer          *big.Int
	StartedAt       *big.Int
	UpdatedAt       *big.Int
	AnsweredInRound *big.Int
}

// NewChainlinkFeed connects to the RPC endpoint and queries the feed's
// decimals once.
func NewChainlinkFeed(ctx context.Context, rpcURL, address string) (*ChainlinkFeed, error) {
	if rpcURL == "" {
		return nil, fmt.Errorf("%w", ErrRPCURLRequired)
	}

	feedABI, err := abi.JSON(strings.NewReader(aggregatorABIJSON))
	if err != nil {
		return nil, fmt.Errorf("failed to parse aggregator ABI: %w", err)
	}

	client, err := ethclient.DialContext(ctx, rpcURL)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to RPC: %w", err)
	}

	feed := &ChainlinkFeed{
		client:  client,
		addr:    common.HexToAddress(address),
		feedABI: feedABI,
	}

	decimals, err := feed.fetchDecimals(ctx)
	if err != nil {
		client.Close()
		return nil, fmt.Errorf("failed to query feed decimals: %w", err)
	}
	feed.decimals = decimals

	return feed, nil
}

// Close releases the RPC connection.
func (f *ChainlinkFeed) Close() {
	f.client.Close()
}

// Decimals returns the feed's answer precision.
func (f *ChainlinkFeed) Decimals() uint8 {
	return f.decimals
}

// LatestRound returns the most recent populated round.
func (f *ChainlinkFeed) LatestRound(ctx context.Context) (oracle.Round, error) {
	data, err := f.feedABI.Pack("latestRoundData")
	if err != nil {
		return oracle.Round{}, fmt.Errorf("failed to pack latestRoundData call: %w", err)
	}
	return f.callRound(ctx, "latestRoundData", data)
}

// Round returns the round with the given ID. Unpopulated rounds (the
// aggregator reverts or reports a zero update timestamp) map to
// oracle.ErrRoundNotAvailable.
func (f *ChainlinkFeed) Round(ctx context.Context, id uint64) (oracle.Round, error) {
	data, err := f.feedABI.Pack("getRoundData", new(big.Int).SetUint64(id))
	if err != nil {
		return oracle.Round{}, fmt.Errorf("failed to pack getRoundData call: %w", err)
	}

	round, err := f.callRound(ctx, "getRoundData", data)
	if err != nil {
		if isRevert(err) {
			return oracle.Round{}, fmt.Errorf("%w: round %d", oracle.ErrRoundNotAvailable, id)
		}
		return oracle.Round{}, err
	}
	if round.UpdatedAt == 0 {
		return oracle.Round{}, fmt.Errorf("%w: round %d", oracle.ErrRoundNotAvailable, id)
	}
	return round, nil
}

func (f *ChainlinkFeed) callRound(ctx context.Context, method string, data []byte) (oracle.Round, error) {
	result, err := f.client.CallContract(ctx, ethereum.CallMsg{
		To:   &f.addr,
		Data: data,
	}, nil) // nil = latest block
	if err != nil {
		return oracle.Round{}, fmt.Errorf("failed to call %s: %w", method, err)
	}

	var rd roundData
	if err := f.feedABI.UnpackIntoInterface(&rd, method, result); err != nil {
		return oracle.Round{}, fmt.Errorf("failed to unpack %s result: %w", method, err)
	}

	if !rd.RoundId.IsUint64() {
		return oracle.Round{}, fmt.Errorf("%w: %s", ErrRoundOverflow, rd.RoundId.String())
	}

	return oracle.Round{
		ID:        rd.RoundId.Uint64(),
		Answer:    rd.Answer,
		UpdatedAt: rd.UpdatedAt.Uint64(),
	}, nil
}

func (f *ChainlinkFeed) fetchDecimals(ctx context.Context) (uint8, error) {
	data, err := f.feedABI.Pack("decimals")
	if err != nil {
		return 0, fmt.Errorf("failed to pack decimals call: %w", err)
	}

	result, err := f.client.CallContract(ctx, ethereum.CallMsg{
		To:   &f.addr,
		Data: data,
	}, nil)
	if err != nil {
		return 0, fmt.Errorf("failed to call decimals: %w", err)
	}

	var decimals uint8
	if err := f.feedABI.UnpackIntoInterface(&decimals, "decimals", result); err != nil {
		return 0, fmt.Errorf("failed to unpack decimals result: %w", err)
	}
	return decimals, nil
}

// isRevert detects contract reverts, which aggregators use for rounds that
// do not exist yet.
func isRevert(err error) bool {
	return err != nil && strings.Contains(err.Error(), "revert")
}
