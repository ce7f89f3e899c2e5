package memclient

import (
	"context"
	"fmt"
	"math/big"
	"sync"

	"github.com/ethereum/go-ethereum/common"
	"github.com/textileio/auction-core/tokenclient"
)

// Client is an in-memory TokenClient keeping fungible balances and asset
// ownership in maps. Useful for development and tests; failures can be
// injected per call kind.
type Client struct {
	lock  sync.Mutex
	house common.Address

	// token -> account -> balance
	balances map[common.Address]map[common.Address]*big.Int
	// contract -> asset id -> owner
	owners map[common.Address]map[string]common.Address

	pullErr     error
	pushErr     error
	transferErr error
}

var _ tokenclient.TokenClient = (*Client)(nil)

// New returns a new Client escrowing funds in the house address.
func New(house common.Address) *Client {
	return &Client{
		house:    house,
		balances: map[common.Address]map[common.Address]*big.Int{},
		owners:   map[common.Address]map[string]common.Address{},
	}
}

// House returns the address holding escrowed funds.
func (c *Client) House() common.Address {
	return c.house
}

// Close is a noop.
func (c *Client) Close() error {
	return nil
}

// Pull transfers amount of token from the account into house custody.
func (c *Client) Pull(_ context.Context, token, from common.Address, amount *big.Int) error {
	c.lock.Lock()
	defer c.lock.Unlock()
	if c.pullErr != nil {
		return c.pullErr
	}

	return c.move(token, from, c.house, amount)
}

// Push transfers amount of token from house custody to the account.
func (c *Client) Push(_ context.Context, token, to common.Address, amount *big.Int) error {
	c.lock.Lock()
	defer c.lock.Unlock()
	if c.pushErr != nil {
		return c.pushErr
	}

	return c.move(token, c.house, to, amount)
}

// BalanceOf returns the token balance of owner.
func (c *Client) BalanceOf(_ context.Context, token, owner common.Address) (*big.Int, error) {
	c.lock.Lock()
	defer c.lock.Unlock()

	return new(big.Int).Set(c.balance(token, owner)), nil
}

// Transfer moves the asset with id in contract between accounts. The asset
// must currently be owned by from.
func (c *Client) Transfer(_ context.Context, contract, from, to common.Address, id *big.Int) error {
	c.lock.Lock()
	defer c.lock.Unlock()
	if c.transferErr != nil {
		return c.transferErr
	}

	assets, ok := c.owners[contract]
	if !ok {
		return fmt.Errorf("unknown asset contract %s", contract)
	}
	owner, ok := assets[id.String()]
	if !ok {
		return fmt.Errorf("unknown asset %s in contract %s", id, contract)
	}
	if owner != from {
		return fmt.Errorf("asset %s is owned by %s, not %s", id, owner, from)
	}
	assets[id.String()] = to

	return nil
}

// Owner returns the current owner of the asset with id in contract.
func (c *Client) Owner(_ context.Context, contract common.Address, id *big.Int) (common.Address, error) {
	c.lock.Lock()
	defer c.lock.Unlock()

	assets, ok := c.owners[contract]
	if !ok {
		return common.Address{}, fmt.Errorf("unknown asset contract %s", contract)
	}
	owner, ok := assets[id.String()]
	if !ok {
		return common.Address{}, fmt.Errorf("unknown asset %s in contract %s", id, contract)
	}

	return owner, nil
}

// SetBalance sets the balance of account for token.
func (c *Client) SetBalance(token, account common.Address, amount *big.Int) {
	c.lock.Lock()
	defer c.lock.Unlock()

	accounts, ok := c.balances[token]
	if !ok {
		accounts = map[common.Address]*big.Int{}
		c.balances[token] = accounts
	}
	accounts[account] = new(big.Int).Set(amount)
}

// SetOwner assigns the owner of the asset with id in contract.
func (c *Client) SetOwner(contract common.Address, id *big.Int, owner common.Address) {
	c.lock.Lock()
	defer c.lock.Unlock()

	assets, ok := c.owners[contract]
	if !ok {
		assets = map[string]common.Address{}
		c.owners[contract] = assets
	}
	assets[id.String()] = owner
}

// FailPulls makes subsequent Pull calls fail with err. Pass nil to restore.
func (c *Client) FailPulls(err error) {
	c.lock.Lock()
	defer c.lock.Unlock()
	c.pullErr = err
}

// FailPushes makes subsequent Push calls fail with err. Pass nil to restore.
func (c *Client) FailPushes(err error) {
	c.lock.Lock()
	defer c.lock.Unlock()
	c.pushErr = err
}

// FailTransfers makes subsequent Transfer calls fail with err. Pass nil to restore.
func (c *Client) FailTransfers(err error) {
	c.lock.Lock()
	defer c.lock.Unlock()
	c.transferErr = err
}

func (c *Client) move(token, from, to common.Address, amount *big.Int) error {
	if amount == nil || amount.Sign() < 0 {
		return fmt.Errorf("invalid amount")
	}
	fromBalance := c.balance(token, from)
	if fromBalance.Cmp(amount) < 0 {
		return fmt.Errorf("%s has balance %s of token %s, can't move %s", from, fromBalance, token, amount)
	}
	fromBalance.Sub(fromBalance, amount)
	toBalance := c.balance(token, to)
	toBalance.Add(toBalance, amount)

	return nil
}

// balance returns the stored balance, creating a zero entry if absent.
// Callers must hold the lock.
func (c *Client) balance(token, account common.Address) *big.Int {
	accounts, ok := c.balances[token]
	if !ok {
		accounts = map[common.Address]*big.Int{}
		c.balances[token] = accounts
	}
	balance, ok := accounts[account]
	if !ok {
		balance = new(big.Int)
		accounts[account] = balance
	}

	return balance
}
