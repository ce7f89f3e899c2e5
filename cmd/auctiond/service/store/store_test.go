package store

import (
	"context"
	"errors"
	"math/big"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/textileio/auction-core/auction"
	"github.com/textileio/auction-core/logging"
	badger "github.com/textileio/go-ds-badger3"
	golog "github.com/textileio/go-log/v2"
)

func init() {
	if err := logging.SetLogLevels(map[string]golog.LogLevel{
		"auctiond/store": golog.LevelDebug,
	}); err != nil {
		panic(err)
	}
}

var (
	seller  = common.HexToAddress("0x1000000000000000000000000000000000000001")
	bidder1 = common.HexToAddress("0x2000000000000000000000000000000000000002")
	bidder2 = common.HexToAddress("0x3000000000000000000000000000000000000003")
)

func TestStore_CreateAuction(t *testing.T) {
	t.Parallel()
	s := newStore(t)
	ctx := context.Background()

	id, err := s.CreateAuction(ctx, newAuction())
	require.NoError(t, err)
	require.NotEmpty(t, id)

	got, err := s.GetAuction(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, id, got.ID)
	assert.Equal(t, seller, got.Seller)
	assert.Equal(t, auction.StatusActive, got.Status)
	assert.False(t, got.Finalized)
	assert.False(t, got.Cancelled)
	assert.Equal(t, common.Address{}, got.HighestBidder)
	assert.Nil(t, got.HighestBid)
	assert.False(t, got.CreatedAt.IsZero())
	assert.False(t, got.UpdatedAt.IsZero())

	t.Run("caller-supplied id", func(t *testing.T) {
		a := newAuction()
		a.ID = "my-auction_1"
		id, err := s.CreateAuction(ctx, a)
		require.NoError(t, err)
		require.Equal(t, auction.ID("my-auction_1"), id)

		_, err = s.CreateAuction(ctx, a)
		require.ErrorIs(t, err, auction.ErrAlreadyInitialized)
	})

	t.Run("invalid id characters", func(t *testing.T) {
		a := newAuction()
		a.ID = "No/Slashes"
		_, err := s.CreateAuction(ctx, a)
		require.Error(t, err)
	})

	t.Run("invalid data", func(t *testing.T) {
		a := newAuction()
		a.Seller = common.Address{}
		_, err := s.CreateAuction(ctx, a)
		require.Error(t, err)

		a = newAuction()
		a.RevealDeadline = a.BiddingDeadline
		_, err = s.CreateAuction(ctx, a)
		require.Error(t, err)

		a = newAuction()
		a.AssetID = nil
		_, err = s.CreateAuction(ctx, a)
		require.Error(t, err)
	})
}

func TestStore_GetAuctionNotFound(t *testing.T) {
	t.Parallel()
	s := newStore(t)

	_, err := s.GetAuction(context.Background(), "nope")
	require.ErrorIs(t, err, auction.ErrNotFound)
}

func TestStore_ListAuctions(t *testing.T) {
	t.Parallel()
	s := newStore(t)
	ctx := context.Background()

	limit := 30
	ids := make([]auction.ID, limit)
	for i := 0; i < limit; i++ {
		id, err := s.CreateAuction(ctx, newAuction())
		require.NoError(t, err)
		ids[i] = id
	}

	// Empty query, should return newest 10 records
	l, err := s.ListAuctions(ctx, Query{Status: auction.StatusActive})
	require.NoError(t, err)
	assert.Len(t, l, 10)
	assert.Equal(t, ids[limit-1], l[0].ID)
	assert.Equal(t, ids[limit-10], l[9].ID)

	// Get next page, should return next 10 records
	offset := l[len(l)-1].ID
	l, err = s.ListAuctions(ctx, Query{Status: auction.StatusActive, Offset: string(offset)})
	require.NoError(t, err)
	assert.Len(t, l, 10)
	assert.Equal(t, ids[limit-11], l[0].ID)
	assert.Equal(t, ids[limit-20], l[9].ID)

	// Get previous page, should return the first page in reverse order
	offset = l[0].ID
	l, err = s.ListAuctions(ctx, Query{Status: auction.StatusActive, Offset: string(offset), Order: OrderAscending})
	require.NoError(t, err)
	assert.Len(t, l, 10)
	assert.Equal(t, ids[limit-10], l[0].ID)
	assert.Equal(t, ids[limit-1], l[9].ID)
}

func TestStore_ListAuctionsByStatus(t *testing.T) {
	t.Parallel()
	s := newStore(t)
	ctx := context.Background()

	activeID, err := s.CreateAuction(ctx, newAuction())
	require.NoError(t, err)
	finalizedID, err := s.CreateAuction(ctx, newAuction())
	require.NoError(t, err)
	cancelledID, err := s.CreateAuction(ctx, newAuction())
	require.NoError(t, err)

	finalizeAuction(t, s, finalizedID)
	cancelAuction(t, s, cancelledID)

	l, err := s.ListAuctions(ctx, Query{Status: auction.StatusActive})
	require.NoError(t, err)
	require.Len(t, l, 1)
	assert.Equal(t, activeID, l[0].ID)

	l, err = s.ListAuctions(ctx, Query{Status: auction.StatusFinalized})
	require.NoError(t, err)
	require.Len(t, l, 1)
	assert.Equal(t, finalizedID, l[0].ID)
	assert.True(t, l[0].Finalized)

	l, err = s.ListAuctions(ctx, Query{Status: auction.StatusCancelled})
	require.NoError(t, err)
	require.Len(t, l, 1)
	assert.Equal(t, cancelledID, l[0].ID)
	assert.True(t, l[0].Cancelled)

	// No status filter groups all three.
	l, err = s.ListAuctions(ctx, Query{})
	require.NoError(t, err)
	require.Len(t, l, 3)

	_, err = s.ListAuctions(ctx, Query{Offset: string(activeID)})
	require.Error(t, err)
}

func TestStore_Commitments(t *testing.T) {
	t.Parallel()
	s := newStore(t)
	ctx := context.Background()

	id, err := s.CreateAuction(ctx, newAuction())
	require.NoError(t, err)

	hash := common.HexToHash("0x42")
	err = s.CreateCommitment(ctx, auction.Commitment{AuctionID: id, Bidder: bidder1, Hash: hash})
	require.NoError(t, err)

	got, err := s.GetCommitment(ctx, id, bidder1)
	require.NoError(t, err)
	assert.Equal(t, hash, got.Hash)
	assert.False(t, got.Revealed)
	assert.False(t, got.CreatedAt.IsZero())

	t.Run("second commitment", func(t *testing.T) {
		err := s.CreateCommitment(ctx, auction.Commitment{AuctionID: id, Bidder: bidder1, Hash: common.HexToHash("0x43")})
		require.ErrorIs(t, err, auction.ErrAlreadyCommitted)
	})

	t.Run("zero hash", func(t *testing.T) {
		err := s.CreateCommitment(ctx, auction.Commitment{AuctionID: id, Bidder: bidder2})
		require.ErrorIs(t, err, auction.ErrInvalidCommitment)
	})

	t.Run("missing", func(t *testing.T) {
		_, err := s.GetCommitment(ctx, id, bidder2)
		require.ErrorIs(t, err, auction.ErrNoCommitment)
	})
}

func TestStore_SaveReveal(t *testing.T) {
	t.Parallel()
	s := newStore(t)
	ctx := context.Background()

	id, err := s.CreateAuction(ctx, newAuction())
	require.NoError(t, err)
	err = s.CreateCommitment(ctx, auction.Commitment{AuctionID: id, Bidder: bidder1, Hash: common.HexToHash("0x42")})
	require.NoError(t, err)

	a, err := s.GetAuction(ctx, id)
	require.NoError(t, err)
	a.HighestBidder = bidder1
	a.HighestBid = big.NewInt(150)

	var interacted bool
	err = s.SaveReveal(ctx, *a, newRevealedBid(id, bidder1, 150), func() error {
		interacted = true
		return nil
	})
	require.NoError(t, err)
	require.True(t, interacted)

	got, err := s.GetAuction(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, bidder1, got.HighestBidder)
	assert.Equal(t, big.NewInt(150), got.HighestBid)

	c, err := s.GetCommitment(ctx, id, bidder1)
	require.NoError(t, err)
	assert.True(t, c.Revealed)

	rb, err := s.GetRevealedBid(ctx, id, bidder1)
	require.NoError(t, err)
	assert.Equal(t, big.NewInt(150), rb.Amount)
	assert.Equal(t, big.NewInt(150), rb.EscrowedAmount)
	assert.False(t, rb.Refunded)
	assert.False(t, rb.RevealedAt.IsZero())

	t.Run("second reveal", func(t *testing.T) {
		err := s.SaveReveal(ctx, *a, newRevealedBid(id, bidder1, 150), nil)
		require.ErrorIs(t, err, auction.ErrAlreadyRevealed)
	})

	t.Run("no commitment", func(t *testing.T) {
		err := s.SaveReveal(ctx, *a, newRevealedBid(id, bidder2, 100), nil)
		require.ErrorIs(t, err, auction.ErrNoCommitment)
	})

	t.Run("failed interact discards all", func(t *testing.T) {
		err := s.CreateCommitment(ctx, auction.Commitment{AuctionID: id, Bidder: bidder2, Hash: common.HexToHash("0x43")})
		require.NoError(t, err)

		boom := errors.New("boom")
		err = s.SaveReveal(ctx, *a, newRevealedBid(id, bidder2, 100), func() error {
			return boom
		})
		require.ErrorIs(t, err, boom)

		c, err := s.GetCommitment(ctx, id, bidder2)
		require.NoError(t, err)
		assert.False(t, c.Revealed)
		_, err = s.GetRevealedBid(ctx, id, bidder2)
		require.ErrorIs(t, err, auction.ErrNotFound)
	})
}

func TestStore_FinalizeAuction(t *testing.T) {
	t.Parallel()
	s := newStore(t)
	ctx := context.Background()

	id, err := s.CreateAuction(ctx, newAuction())
	require.NoError(t, err)

	a, err := s.GetAuction(ctx, id)
	require.NoError(t, err)
	a.Finalized = true
	a.Status = auction.StatusFinalized

	t.Run("failed interact leaves auction active", func(t *testing.T) {
		boom := errors.New("boom")
		err := s.FinalizeAuction(ctx, *a, func() error { return boom })
		require.ErrorIs(t, err, boom)

		got, err := s.GetAuction(ctx, id)
		require.NoError(t, err)
		assert.Equal(t, auction.StatusActive, got.Status)
		assert.False(t, got.Finalized)
	})

	var interacted bool
	err = s.FinalizeAuction(ctx, *a, func() error {
		interacted = true
		return nil
	})
	require.NoError(t, err)
	require.True(t, interacted)

	got, err := s.GetAuction(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, auction.StatusFinalized, got.Status)
	assert.True(t, got.Finalized)

	t.Run("second finalize", func(t *testing.T) {
		err := s.FinalizeAuction(ctx, *a, nil)
		require.ErrorIs(t, err, auction.ErrAlreadyFinalized)
	})

	t.Run("cancel after finalize", func(t *testing.T) {
		c := *got
		c.Finalized = false
		c.Cancelled = true
		c.Status = auction.StatusCancelled
		err := s.CancelAuction(ctx, c)
		require.ErrorIs(t, err, auction.ErrAlreadyFinalized)
	})

	t.Run("missing terminal state", func(t *testing.T) {
		bad := *got
		bad.Finalized = false
		bad.Status = auction.StatusActive
		err := s.FinalizeAuction(ctx, bad, nil)
		require.Error(t, err)
	})
}

func TestStore_CancelAuction(t *testing.T) {
	t.Parallel()
	s := newStore(t)
	ctx := context.Background()

	id, err := s.CreateAuction(ctx, newAuction())
	require.NoError(t, err)
	cancelAuction(t, s, id)

	got, err := s.GetAuction(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, auction.StatusCancelled, got.Status)
	assert.True(t, got.Cancelled)

	t.Run("second cancel", func(t *testing.T) {
		c := *got
		err := s.CancelAuction(ctx, c)
		require.ErrorIs(t, err, auction.ErrCancelled)
	})

	t.Run("finalize after cancel", func(t *testing.T) {
		f := *got
		f.Cancelled = false
		f.Finalized = true
		f.Status = auction.StatusFinalized
		err := s.FinalizeAuction(ctx, f, nil)
		require.ErrorIs(t, err, auction.ErrCancelled)
	})
}

func TestStore_SaveRefund(t *testing.T) {
	t.Parallel()
	s := newStore(t)
	ctx := context.Background()

	id, err := s.CreateAuction(ctx, newAuction())
	require.NoError(t, err)
	err = s.CreateCommitment(ctx, auction.Commitment{AuctionID: id, Bidder: bidder1, Hash: common.HexToHash("0x42")})
	require.NoError(t, err)
	a, err := s.GetAuction(ctx, id)
	require.NoError(t, err)
	a.HighestBidder = bidder1
	a.HighestBid = big.NewInt(100)
	err = s.SaveReveal(ctx, *a, newRevealedBid(id, bidder1, 100), nil)
	require.NoError(t, err)

	t.Run("failed interact leaves refund claimable", func(t *testing.T) {
		boom := errors.New("boom")
		err := s.SaveRefund(ctx, id, bidder1, func(auction.RevealedBid) error { return boom })
		require.ErrorIs(t, err, boom)

		rb, err := s.GetRevealedBid(ctx, id, bidder1)
		require.NoError(t, err)
		assert.False(t, rb.Refunded)
	})

	var refunded *big.Int
	err = s.SaveRefund(ctx, id, bidder1, func(rb auction.RevealedBid) error {
		refunded = rb.EscrowedAmount
		return nil
	})
	require.NoError(t, err)
	require.Equal(t, big.NewInt(100), refunded)

	rb, err := s.GetRevealedBid(ctx, id, bidder1)
	require.NoError(t, err)
	assert.True(t, rb.Refunded)

	t.Run("second refund", func(t *testing.T) {
		err := s.SaveRefund(ctx, id, bidder1, nil)
		require.ErrorIs(t, err, auction.ErrNothingToRefund)
	})

	t.Run("no revealed bid", func(t *testing.T) {
		err := s.SaveRefund(ctx, id, bidder2, nil)
		require.ErrorIs(t, err, auction.ErrNothingToRefund)
	})
}

func TestStore_ListRevealedBids(t *testing.T) {
	t.Parallel()
	s := newStore(t)
	ctx := context.Background()

	id, err := s.CreateAuction(ctx, newAuction())
	require.NoError(t, err)
	a, err := s.GetAuction(ctx, id)
	require.NoError(t, err)

	for i, bidder := range []common.Address{bidder1, bidder2} {
		err := s.CreateCommitment(ctx, auction.Commitment{AuctionID: id, Bidder: bidder, Hash: common.HexToHash("0x42")})
		require.NoError(t, err)
		err = s.SaveReveal(ctx, *a, newRevealedBid(id, bidder, int64(100+i)), nil)
		require.NoError(t, err)
	}

	l, err := s.ListRevealedBids(ctx, id)
	require.NoError(t, err)
	require.Len(t, l, 2)
	assert.Equal(t, bidder1, l[0].Bidder)
	assert.Equal(t, bidder2, l[1].Bidder)
}

func newAuction() auction.Auction {
	now := time.Now()
	return auction.Auction{
		Seller:          seller,
		AssetContract:   common.HexToAddress("0x4000000000000000000000000000000000000004"),
		AssetID:         big.NewInt(7),
		PaymentToken:    common.HexToAddress("0x5000000000000000000000000000000000000005"),
		BiddingDeadline: now.Add(time.Hour),
		RevealDeadline:  now.Add(2 * time.Hour),
	}
}

func newRevealedBid(id auction.ID, bidder common.Address, amount int64) auction.RevealedBid {
	return auction.RevealedBid{
		AuctionID:      id,
		Bidder:         bidder,
		Amount:         big.NewInt(amount),
		EscrowedAmount: big.NewInt(amount),
	}
}

func finalizeAuction(t *testing.T, s *Store, id auction.ID) {
	t.Helper()
	a, err := s.GetAuction(context.Background(), id)
	require.NoError(t, err)
	a.Finalized = true
	a.Status = auction.StatusFinalized
	require.NoError(t, s.FinalizeAuction(context.Background(), *a, nil))
}

func cancelAuction(t *testing.T, s *Store, id auction.ID) {
	t.Helper()
	a, err := s.GetAuction(context.Background(), id)
	require.NoError(t, err)
	a.Cancelled = true
	a.Status = auction.StatusCancelled
	require.NoError(t, s.CancelAuction(context.Background(), *a))
}

func newStore(t *testing.T) *Store {
	ds, err := badger.NewDatastore(t.TempDir(), &badger.DefaultOptions)
	require.NoError(t, err)
	t.Cleanup(func() {
		require.NoError(t, ds.Close())
	})
	return NewStore(ds)
}
