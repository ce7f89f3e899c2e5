package ethclient

import (
	"context"
	"fmt"
	"math/big"
	"strings"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/accounts/abi/bind"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
	geth "github.com/ethereum/go-ethereum/ethclient"
	"github.com/textileio/auction-core/finalizer"
	"github.com/textileio/auction-core/tokenclient"
	logging "github.com/textileio/go-log/v2"
)

var (
	log = logging.Logger("ethclient")

	requestTimeout = time.Second * 10
	minedTimeout   = time.Minute
)

const erc20ABI = `[
{"constant":false,"inputs":[{"name":"to","type":"address"},{"name":"amount","type":"uint256"}],"name":"transfer","outputs":[{"name":"","type":"bool"}],"type":"function"},
{"constant":false,"inputs":[{"name":"from","type":"address"},{"name":"to","type":"address"},{"name":"amount","type":"uint256"}],"name":"transferFrom","outputs":[{"name":"","type":"bool"}],"type":"function"},
{"constant":true,"inputs":[{"name":"owner","type":"address"}],"name":"balanceOf","outputs":[{"name":"","type":"uint256"}],"type":"function"}
]`

const erc721ABI = `[
{"constant":false,"inputs":[{"name":"from","type":"address"},{"name":"to","type":"address"},{"name":"tokenId","type":"uint256"}],"name":"transferFrom","outputs":[],"type":"function"},
{"constant":true,"inputs":[{"name":"tokenId","type":"uint256"}],"name":"ownerOf","outputs":[{"name":"","type":"address"}],"type":"function"}
]`

// Client is a TokenClient backed by an Ethereum JSON-RPC node. The house
// account is derived from the configured private key; transactions are
// waited on and a reverted receipt is reported as a failure.
type Client struct {
	eth   *geth.Client
	opts  *bind.TransactOpts
	house common.Address

	erc20  abi.ABI
	erc721 abi.ABI

	boundLock   sync.Mutex
	erc20Bound  map[common.Address]*bind.BoundContract
	erc721Bound map[common.Address]*bind.BoundContract

	// Serializes transactions so pending-nonce derivation can't race.
	txLock sync.Mutex

	ctx       context.Context
	finalizer *finalizer.Finalizer
}

var _ tokenclient.TokenClient = (*Client)(nil)

// New returns a new Client talking to the JSON-RPC node at rpcAddr, signing
// with privateKey for chainID.
func New(rpcAddr, privateKey string, chainID int64) (*Client, error) {
	fin := finalizer.NewFinalizer()
	ctx, cancel := context.WithCancel(context.Background())
	fin.Add(finalizer.NewContextCloser(cancel))

	key, err := crypto.HexToECDSA(strings.TrimPrefix(privateKey, "0x"))
	if err != nil {
		return nil, fin.Cleanupf("parsing private key: %v", err)
	}
	opts, err := bind.NewKeyedTransactorWithChainID(key, big.NewInt(chainID))
	if err != nil {
		return nil, fin.Cleanupf("creating transactor: %v", err)
	}

	eth, err := geth.DialContext(ctx, rpcAddr)
	if err != nil {
		return nil, fin.Cleanupf("dialing rpc node: %v", err)
	}
	fin.AddFn(eth.Close)

	parsed20, err := abi.JSON(strings.NewReader(erc20ABI))
	if err != nil {
		return nil, fin.Cleanupf("parsing erc20 abi: %v", err)
	}
	parsed721, err := abi.JSON(strings.NewReader(erc721ABI))
	if err != nil {
		return nil, fin.Cleanupf("parsing erc721 abi: %v", err)
	}

	house := crypto.PubkeyToAddress(key.PublicKey)
	log.Debugf("house account is %s on chain %d", house, chainID)

	return &Client{
		eth:   eth,
		opts:  opts,
		house: house,

		erc20:  parsed20,
		erc721: parsed721,

		erc20Bound:  map[common.Address]*bind.BoundContract{},
		erc721Bound: map[common.Address]*bind.BoundContract{},

		ctx:       ctx,
		finalizer: fin,
	}, nil
}

// House returns the address holding escrowed funds.
func (c *Client) House() common.Address {
	return c.house
}

// Close the client.
func (c *Client) Close() error {
	return c.finalizer.Cleanup(nil)
}

// Pull transfers amount of token from the account into house custody.
func (c *Client) Pull(ctx context.Context, token, from common.Address, amount *big.Int) error {
	contract := c.bound(token, c.erc20, c.erc20Bound)
	return c.transact(ctx, contract, "transferFrom", from, c.house, amount)
}

// Push transfers amount of token from house custody to the account.
func (c *Client) Push(ctx context.Context, token, to common.Address, amount *big.Int) error {
	contract := c.bound(token, c.erc20, c.erc20Bound)
	return c.transact(ctx, contract, "transfer", to, amount)
}

// BalanceOf returns the token balance of owner.
func (c *Client) BalanceOf(ctx context.Context, token, owner common.Address) (*big.Int, error) {
	ctx, cancel := context.WithTimeout(ctx, requestTimeout)
	defer cancel()

	var out []interface{}
	contract := c.bound(token, c.erc20, c.erc20Bound)
	if err := contract.Call(&bind.CallOpts{Context: ctx}, &out, "balanceOf", owner); err != nil {
		return nil, fmt.Errorf("calling balanceOf: %v", err)
	}
	if len(out) != 1 {
		return nil, fmt.Errorf("balanceOf returned %d values", len(out))
	}
	balance, ok := out[0].(*big.Int)
	if !ok {
		return nil, fmt.Errorf("balanceOf returned unexpected type %T", out[0])
	}

	return balance, nil
}

// Transfer moves the asset with id in contract from one account to another.
func (c *Client) Transfer(ctx context.Context, contract, from, to common.Address, id *big.Int) error {
	bc := c.bound(contract, c.erc721, c.erc721Bound)
	return c.transact(ctx, bc, "transferFrom", from, to, id)
}

// Owner returns the current owner of the asset with id in contract.
func (c *Client) Owner(ctx context.Context, contract common.Address, id *big.Int) (common.Address, error) {
	ctx, cancel := context.WithTimeout(ctx, requestTimeout)
	defer cancel()

	var out []interface{}
	bc := c.bound(contract, c.erc721, c.erc721Bound)
	if err := bc.Call(&bind.CallOpts{Context: ctx}, &out, "ownerOf", id); err != nil {
		return common.Address{}, fmt.Errorf("calling ownerOf: %v", err)
	}
	if len(out) != 1 {
		return common.Address{}, fmt.Errorf("ownerOf returned %d values", len(out))
	}
	owner, ok := out[0].(common.Address)
	if !ok {
		return common.Address{}, fmt.Errorf("ownerOf returned unexpected type %T", out[0])
	}

	return owner, nil
}

func (c *Client) transact(
	ctx context.Context,
	contract *bind.BoundContract,
	method string,
	args ...interface{}) error {
	c.txLock.Lock()
	defer c.txLock.Unlock()

	ctx, cancel := context.WithTimeout(ctx, minedTimeout)
	defer cancel()

	opts := *c.opts
	opts.Context = ctx
	tx, err := contract.Transact(&opts, method, args...)
	if err != nil {
		return fmt.Errorf("sending %s transaction: %v", method, err)
	}
	receipt, err := bind.WaitMined(ctx, c.eth, tx)
	if err != nil {
		return fmt.Errorf("waiting for %s transaction %s: %v", method, tx.Hash(), err)
	}
	if receipt.Status != types.ReceiptStatusSuccessful {
		return fmt.Errorf("%s transaction %s reverted", method, tx.Hash())
	}
	log.Debugf("%s transaction %s mined in block %d", method, tx.Hash(), receipt.BlockNumber)

	return nil
}

func (c *Client) bound(
	address common.Address,
	parsed abi.ABI,
	cache map[common.Address]*bind.BoundContract) *bind.BoundContract {
	c.boundLock.Lock()
	defer c.boundLock.Unlock()

	contract, ok := cache[address]
	if !ok {
		contract = bind.NewBoundContract(address, parsed, c.eth, c.eth, c.eth)
		cache[address] = contract
	}

	return contract
}
