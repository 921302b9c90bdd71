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
	"github.com/shopspring/decimal"

	"tc.com/twap-oracle/pkg/logging"
	"tc.com/twap-oracle/pkg/oracle"
)

// Uniswap V2 pair ABI (reserves, cumulative counters, token addresses).
const pairABIJSON = `[
	{"constant": true, "inputs": [], "name": "getReserves",
	 "outputs": [
		{"internalType": "uint112", "name": "reserve0", "type": "uint112"},
		{"internalType": "uint112", "name": "reserve1", "type": "uint112"},
		{"internalType": "uint32", "name": "blockTimestampLast", "type": "uint32"}],
	 "stateMutability": "view", "type": "function"},
	{"constant": true, "inputs": [], "name": "price0CumulativeLast",
	 "outputs": [{"internalType": "uint256", "name": "", "type": "uint256"}],
	 "stateMutability": "view", "type": "function"},
	{"constant": true, "inputs": [], "name": "price1CumulativeLast",
	 "outputs": [{"internalType": "uint256", "name": "", "type": "uint256"}],
	 "stateMutability": "view", "type": "function"},
	{"constant": true, "inputs": [], "name": "token0",
	 "outputs": [{"internalType": "address", "name": "", "type": "address"}],
	 "stateMutability": "view", "type": "function"},
	{"constant": true, "inputs": [], "name": "token1",
	 "outputs": [{"internalType": "address", "name": "", "type": "address"}],
	 "stateMutability": "view", "type": "function"}
]`

// Minimal ERC-20 ABI for token metadata.
const erc20ABIJSON = `[
	{"constant": true, "inputs": [], "name": "decimals",
	 "outputs": [{"internalType": "uint8", "name": "", "type": "uint8"}],
	 "stateMutability": "view", "type": "function"},
	{"constant": true, "inputs": [], "name": "symbol",
	 "outputs": [{"internalType": "string", "name": "", "type": "string"}],
	 "stateMutability": "view", "type": "function"}
]`

// UniswapV2Pool samples cumulative prices from a Uniswap-V2-style pair.
// Token metadata is queried once at construction; it fixes which side's
// counter is tracked (the side whose token0/token1 slot holds the base
// token) and the decimal-normalization adjustment.
type UniswapV2Pool struct {
	client    *ethclient.Client
	addr      common.Address
	pairABI   abi.ABI
	erc20ABI  abi.ABI
	logger    *logging.Logger
	useToken0 bool // true when the base token is token0, tracking price0
	adjust    int32
	decimals0 uint8
	decimals1 uint8
}

// Ensure UniswapV2Pool implements oracle.CumulativePool
var _ oracle.CumulativePool = (*UniswapV2Pool)(nil)

// reserves mirrors the pair's getReserves tuple.
type reserves struct {
	Reserve0           *big.Int
	Reserve1           *big.Int
	BlockTimestampLast uint32
}

// NewUniswapV2Pool connects to the pair and resolves token metadata.
func NewUniswapV2Pool(ctx context.Context, rpcURL, pairAddress, baseTokenAddress string, logger *logging.Logger) (*UniswapV2Pool, error) {
	if rpcURL == "" {
		return nil, fmt.Errorf("%w", ErrRPCURLRequired)
	}

	pairABI, err := abi.JSON(strings.NewReader(pairABIJSON))
	if err != nil {
		return nil, fmt.Errorf("failed to parse pair ABI: %w", err)
	}
	erc20ABI, err := abi.JSON(strings.NewReader(erc20ABIJSON))
	if err != nil {
		return nil, fmt.Errorf("failed to parse ERC-20 ABI: %w", err)
	}

	client, err := ethclient.DialContext(ctx, rpcURL)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to RPC: %w", err)
	}

	pool := &UniswapV2Pool{
		client:   client,
		addr:     common.HexToAddress(pairAddress),
		pairABI:  pairABI,
		erc20ABI: erc20ABI,
		logger:   logger,
	}

	if err := pool.resolveTokens(ctx, common.HexToAddress(baseTokenAddress)); err != nil {
		client.Close()
		return nil, err
	}

	return pool, nil
}

// Close releases the RPC connection.
func (p *UniswapV2Pool) Close() {
	p.client.Close()
}

// PriceDecimalsAdjustment returns the power of ten converting the raw
// reserve ratio of the tracked side into a human price.
func (p *UniswapV2Pool) PriceDecimalsAdjustment() int32 {
	return p.adjust
}

// CurrentCumulative returns the tracked cumulative counter extrapolated to
// the latest block timestamp, as UniswapV2OracleLibrary does: the stored
// counter only advances on pool syncs, so time since the last sync is filled
// with the current reserve ratio.
func (p *UniswapV2Pool) CurrentCumulative(ctx context.Context) (oracle.PoolSample, error) {
	method := "price0CumulativeLast"
	if !p.useToken0 {
		method = "price1CumulativeLast"
	}

	var cumulative *big.Int
	if err := p.callSingle(ctx, p.addr, p.pairABI, method, &cumulative); err != nil {
		return oracle.PoolSample{}, err
	}

	res, err := p.getReserves(ctx)
	if err != nil {
		return oracle.PoolSample{}, err
	}
	if res.Reserve0.Sign() == 0 || res.Reserve1.Sign() == 0 {
		return oracle.PoolSample{}, fmt.Errorf("%w", ErrZeroReserves)
	}

	header, err := p.client.HeaderByNumber(ctx, nil)
	if err != nil {
		return oracle.PoolSample{}, fmt.Errorf("failed to fetch latest header: %w", err)
	}
	now := header.Time

	// The pair stores timestamps modulo 2^32; recover the full value
	// relative to the current block time.
	lastSync := now - ((now - uint64(res.BlockTimestampLast)) & 0xFFFFFFFF)

	cumulative = new(big.Int).Set(cumulative)
	if now > lastSync {
		base, quote := res.Reserve0, res.Reserve1
		if !p.useToken0 {
			base, quote = res.Reserve1, res.Reserve0
		}
		ratio := new(big.Int).Lsh(quote, 112)
		ratio.Quo(ratio, base)
		ratio.Mul(ratio, new(big.Int).SetUint64(now-lastSync))
		cumulative.Add(cumulative, ratio)
		cumulative.Mod(cumulative, two256)
	}

	return oracle.PoolSample{PriceCumulative: cumulative, Timestamp: now}, nil
}

// two256 bounds the pair's counters, which wrap on overflow.
var two256 = new(big.Int).Lsh(big.NewInt(1), 256)

// SpotPrice returns the instantaneous price of the base token from current
// reserves, scaled by both tokens' decimals.
func (p *UniswapV2Pool) SpotPrice(ctx context.Context) (decimal.Decimal, error) {
	res, err := p.getReserves(ctx)
	if err != nil {
		return decimal.Zero, err
	}
	if res.Reserve0.Sign() == 0 || res.Reserve1.Sign() == 0 {
		return decimal.Zero, fmt.Errorf("%w", ErrZeroReserves)
	}

	scale0 := decimal.New(1, int32(p.decimals0))
	scale1 := decimal.New(1, int32(p.decimals1))
	amount0 := decimal.NewFromBigInt(res.Reserve0, 0).Div(scale0)
	amount1 := decimal.NewFromBigInt(res.Reserve1, 0).Div(scale1)

	if p.useToken0 {
		return amount1.Div(amount0), nil
	}
	return amount0.Div(amount1), nil
}

// resolveTokens queries token addresses and metadata and fixes the tracked
// side and normalization constants.
func (p *UniswapV2Pool) resolveTokens(ctx context.Context, baseToken common.Address) error {
	var token0, token1 common.Address
	if err := p.callSingle(ctx, p.addr, p.pairABI, "token0", &token0); err != nil {
		return err
	}
	if err := p.callSingle(ctx, p.addr, p.pairABI, "token1", &token1); err != nil {
		return err
	}

	switch baseToken {
	case token0:
		p.useToken0 = true
	case token1:
		p.useToken0 = false
	default:
		return fmt.Errorf("%w: %s", ErrTokenNotInPair, baseToken.Hex())
	}

	if err := p.callSingle(ctx, token0, p.erc20ABI, "decimals", &p.decimals0); err != nil {
		return err
	}
	if err := p.callSingle(ctx, token1, p.erc20ABI, "decimals", &p.decimals1); err != nil {
		return err
	}

	var symbol0, symbol1 string
	if err := p.callSingle(ctx, token0, p.erc20ABI, "symbol", &symbol0); err != nil {
		return err
	}
	if err := p.callSingle(ctx, token1, p.erc20ABI, "symbol", &symbol1); err != nil {
		return err
	}

	// price0 = reserve1/reserve0, so its decimal correction is dec0-dec1;
	// the mirror holds for price1.
	if p.useToken0 {
		p.adjust = int32(p.decimals0) - int32(p.decimals1)
	} else {
		p.adjust = int32(p.decimals1) - int32(p.decimals0)
	}

	p.logger.Info("Resolved pair tokens",
		"pair", p.addr.Hex(),
		"token0", symbol0,
		"token1", symbol1,
		"tracking", map[bool]string{true: symbol0, false: symbol1}[p.useToken0])
	return nil
}

// getReserves calls getReserves() on the pair contract.
func (p *UniswapV2Pool) getReserves(ctx context.Context) (*reserves, error) {
	data, err := p.pairABI.Pack("getReserves")
	if err != nil {
		return nil, fmt.Errorf("failed to pack getReserves call: %w", err)
	}

	result, err := p.client.CallContract(ctx, ethereum.CallMsg{
		To:   &p.addr,
		Data: data,
	}, nil) // nil = latest block
	if err != nil {
		return nil, fmt.Errorf("failed to call getReserves: %w", err)
	}

	var res reserves
	if err := p.pairABI.UnpackIntoInterface(&res, "getReserves", result); err != nil {
		return nil, fmt.Errorf("failed to unpack getReserves result: %w", err)
	}
	return &res, nil
}

// callSingle calls a no-argument view method and unpacks its single output.
func (p *UniswapV2Pool) callSingle(ctx context.Context, addr common.Address, contractABI abi.ABI, method string, out interface{}) error {
	data, err := contractABI.Pack(method)
	if err != nil {
		return fmt.Errorf("failed to pack %s call: %w", method, err)
	}

	result, err := p.client.CallContract(ctx, ethereum.CallMsg{
		To:   &addr,
		Data: data,
	}, nil)
	if err != nil {
		return fmt.Errorf("failed to call %s: %w", method, err)
	}

	if err := contractABI.UnpackIntoInterface(out, method, result); err != nil {
		return fmt.Errorf("failed to unpack %s result: %w", method, err)
	}
	return nil
}
