package msgbroker_test

import (
	"context"
	"math/big"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/require"
	"github.com/textileio/auction-core/auction"
	mbroker "github.com/textileio/auction-core/msgbroker"
	"github.com/textileio/auction-core/msgbroker/fakemsgbroker"
)

var (
	seller = common.HexToAddress("0x1111111111111111111111111111111111111111")
	bidder = common.HexToAddress("0x2222222222222222222222222222222222222222")
)

type capturingListener struct {
	initialized []auction.Auction
	committed   []common.Hash
	revealed    []*big.Int
	finalized   []common.Address
	refunded    []*big.Int
	cancelled   []common.Address
}

func (l *capturingListener) OnAuctionInitialized(_ context.Context, _ mbroker.OperationID, a auction.Auction) error {
	l.initialized = append(l.initialized, a)
	return nil
}

func (l *capturingListener) OnBidCommitted(
	_ context.Context,
	_ mbroker.OperationID,
	_ auction.ID,
	_ common.Address,
	commitment common.Hash) error {
	l.committed = append(l.committed, commitment)
	return nil
}

func (l *capturingListener) OnBidRevealed(
	_ context.Context,
	_ mbroker.OperationID,
	_ auction.ID,
	_ common.Address,
	amount *big.Int) error {
	l.revealed = append(l.revealed, amount)
	return nil
}

func (l *capturingListener) OnAuctionFinalized(
	_ context.Context,
	_ mbroker.OperationID,
	_ auction.ID,
	winner common.Address,
	_ *big.Int) error {
	l.finalized = append(l.finalized, winner)
	return nil
}

func (l *capturingListener) OnRefundIssued(
	_ context.Context,
	_ mbroker.OperationID,
	_ auction.ID,
	_ common.Address,
	amount *big.Int) error {
	l.refunded = append(l.refunded, amount)
	return nil
}

func (l *capturingListener) OnAuctionCancelled(
	_ context.Context,
	_ mbroker.OperationID,
	_ auction.ID,
	seller common.Address) error {
	l.cancelled = append(l.cancelled, seller)
	return nil
}

func TestRegisterHandlersRoundtrip(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	mb := fakemsgbroker.New()
	l := &capturingListener{}
	err := mbroker.RegisterHandlers(mb, l)
	require.NoError(t, err)

	now := time.Now().Round(time.Millisecond)
	a := auction.Auction{
		ID:              "auction-1",
		Seller:          seller,
		AssetContract:   common.HexToAddress("0x3333333333333333333333333333333333333333"),
		AssetID:         big.NewInt(7),
		PaymentToken:    common.HexToAddress("0x4444444444444444444444444444444444444444"),
		BiddingDeadline: now.Add(time.Hour),
		RevealDeadline:  now.Add(2 * time.Hour),
		Status:          auction.StatusActive,
	}
	require.NoError(t, mbroker.PublishMsgAuctionInitialized(ctx, mb, a))
	require.Len(t, l.initialized, 1)
	require.Equal(t, a.ID, l.initialized[0].ID)
	require.Equal(t, a.Seller, l.initialized[0].Seller)
	require.Equal(t, a.AssetID, l.initialized[0].AssetID)
	require.True(t, a.BiddingDeadline.Equal(l.initialized[0].BiddingDeadline))
	require.True(t, a.RevealDeadline.Equal(l.initialized[0].RevealDeadline))

	commitment := common.HexToHash("0x5555555555555555555555555555555555555555555555555555555555555555")
	require.NoError(t, mbroker.PublishMsgBidCommitted(ctx, mb, a.ID, bidder, commitment))
	require.Len(t, l.committed, 1)
	require.Equal(t, commitment, l.committed[0])

	require.NoError(t, mbroker.PublishMsgBidRevealed(ctx, mb, a.ID, bidder, big.NewInt(150)))
	require.Len(t, l.revealed, 1)
	require.Equal(t, big.NewInt(150), l.revealed[0])

	require.NoError(t, mbroker.PublishMsgAuctionFinalized(ctx, mb, a.ID, bidder, big.NewInt(150)))
	require.Len(t, l.finalized, 1)
	require.Equal(t, bidder, l.finalized[0])

	require.NoError(t, mbroker.PublishMsgRefundIssued(ctx, mb, a.ID, bidder, big.NewInt(100)))
	require.Len(t, l.refunded, 1)
	require.Equal(t, big.NewInt(100), l.refunded[0])

	require.NoError(t, mbroker.PublishMsgAuctionCancelled(ctx, mb, a.ID, seller))
	require.Len(t, l.cancelled, 1)
	require.Equal(t, seller, l.cancelled[0])

	require.Equal(t, 6, mb.TotalPublished())
}

func TestRegisterHandlersNoListeners(t *testing.T) {
	t.Parallel()

	mb := fakemsgbroker.New()
	err := mbroker.RegisterHandlers(mb, struct{}{})
	require.Error(t, err)
}

func TestPublishValidation(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	mb := fakemsgbroker.New()

	t.Run("empty auction id", func(t *testing.T) {
		err := mbroker.PublishMsgBidCommitted(ctx, mb, "", bidder, common.HexToHash("0x01"))
		require.Error(t, err)
	})
	t.Run("zero commitment", func(t *testing.T) {
		err := mbroker.PublishMsgBidCommitted(ctx, mb, "auction-1", bidder, common.Hash{})
		require.Error(t, err)
	})
	t.Run("non-positive amount", func(t *testing.T) {
		err := mbroker.PublishMsgBidRevealed(ctx, mb, "auction-1", bidder, big.NewInt(0))
		require.Error(t, err)
		err = mbroker.PublishMsgRefundIssued(ctx, mb, "auction-1", bidder, nil)
		require.Error(t, err)
	})
	require.Equal(t, 0, mb.TotalPublished())
}
