package memclient

import (
	"context"
	"errors"
	"math/big"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/require"
)

var (
	house    = common.HexToAddress("0x00000000000000000000000000000000000000aa")
	token    = common.HexToAddress("0x00000000000000000000000000000000000000bb")
	contract = common.HexToAddress("0x00000000000000000000000000000000000000cc")
	alice    = common.HexToAddress("0x0000000000000000000000000000000000000001")
	bob      = common.HexToAddress("0x0000000000000000000000000000000000000002")
)

func TestPullPushBalance(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	c := New(house)
	c.SetBalance(token, alice, big.NewInt(100))

	err := c.Pull(ctx, token, alice, big.NewInt(60))
	require.NoError(t, err)
	requireBalance(t, c, alice, 40)
	requireBalance(t, c, house, 60)

	err = c.Push(ctx, token, bob, big.NewInt(25))
	require.NoError(t, err)
	requireBalance(t, c, house, 35)
	requireBalance(t, c, bob, 25)
}

func TestPullInsufficientBalance(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	c := New(house)
	c.SetBalance(token, alice, big.NewInt(10))

	err := c.Pull(ctx, token, alice, big.NewInt(11))
	require.Error(t, err)
	requireBalance(t, c, alice, 10)
	requireBalance(t, c, house, 0)
}

func TestFailureInjection(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	c := New(house)
	c.SetBalance(token, alice, big.NewInt(100))

	boom := errors.New("boom")
	c.FailPulls(boom)
	err := c.Pull(ctx, token, alice, big.NewInt(1))
	require.ErrorIs(t, err, boom)
	requireBalance(t, c, alice, 100)

	c.FailPulls(nil)
	err = c.Pull(ctx, token, alice, big.NewInt(1))
	require.NoError(t, err)

	c.FailPushes(boom)
	err = c.Push(ctx, token, alice, big.NewInt(1))
	require.ErrorIs(t, err, boom)

	c.SetOwner(contract, big.NewInt(1), alice)
	c.FailTransfers(boom)
	err = c.Transfer(ctx, contract, alice, bob, big.NewInt(1))
	require.ErrorIs(t, err, boom)
	owner, err := c.Owner(ctx, contract, big.NewInt(1))
	require.NoError(t, err)
	require.Equal(t, alice, owner)
}

func TestTransferOwnership(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	c := New(house)
	c.SetOwner(contract, big.NewInt(7), alice)

	t.Run("owner can transfer", func(t *testing.T) {
		err := c.Transfer(ctx, contract, alice, bob, big.NewInt(7))
		require.NoError(t, err)
		owner, err := c.Owner(ctx, contract, big.NewInt(7))
		require.NoError(t, err)
		require.Equal(t, bob, owner)
	})

	t.Run("non-owner can't transfer", func(t *testing.T) {
		err := c.Transfer(ctx, contract, alice, bob, big.NewInt(7))
		require.Error(t, err)
	})

	t.Run("unknown asset", func(t *testing.T) {
		_, err := c.Owner(ctx, contract, big.NewInt(8))
		require.Error(t, err)
		err = c.Transfer(ctx, contract, alice, bob, big.NewInt(8))
		require.Error(t, err)
	})
}

func TestBalanceOfReturnsCopy(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	c := New(house)
	c.SetBalance(token, alice, big.NewInt(50))

	balance, err := c.BalanceOf(ctx, token, alice)
	require.NoError(t, err)
	balance.SetInt64(0)
	requireBalance(t, c, alice, 50)
}

func requireBalance(t *testing.T, c *Client, account common.Address, amount int64) {
	t.Helper()
	balance, err := c.BalanceOf(context.Background(), token, account)
	require.NoError(t, err)
	require.Zero(t, balance.Cmp(big.NewInt(amount)), "balance %s != %d", balance, amount)
}
