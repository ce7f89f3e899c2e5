package tokenclient

import (
	"context"
	"io"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
)

// FungibleToken moves amounts of an ERC-20 style payment token. Funds
// escrowed by the auction house live in a single house account.
type FungibleToken interface {
	// Pull transfers amount of token from the account into house custody.
	// The account must have approved the house beforehand.
	Pull(ctx context.Context, token, from common.Address, amount *big.Int) error

	// Push transfers amount of token from house custody to the account.
	Push(ctx context.Context, token, to common.Address, amount *big.Int) error

	// BalanceOf returns the token balance of owner.
	BalanceOf(ctx context.Context, token, owner common.Address) (*big.Int, error)
}

// NonFungibleToken moves ERC-721 style assets.
type NonFungibleToken interface {
	// Transfer moves the asset with id in contract from one account to another.
	Transfer(ctx context.Context, contract, from, to common.Address, id *big.Int) error

	// Owner returns the current owner of the asset with id in contract.
	Owner(ctx context.Context, contract common.Address, id *big.Int) (common.Address, error)
}

// TokenClient groups the token capabilities used to settle auctions.
// Every call is fallible; callers must treat any error as "nothing moved".
type TokenClient interface {
	io.Closer
	FungibleToken
	NonFungibleToken

	// House returns the address holding escrowed funds.
	House() common.Address
}
