package auctionhouse

import (
	"context"
	"fmt"
	"math/big"
	"time"

	humanize "github.com/dustin/go-humanize"
	"github.com/ethereum/go-ethereum/common"
	"github.com/textileio/auction-core/auction"
	"github.com/textileio/auction-core/cmd/auctiond/service/store"
	"github.com/textileio/auction-core/msgbroker"
	"github.com/textileio/auction-core/sempool"
	"github.com/textileio/auction-core/tokenclient"
	golog "github.com/textileio/go-log/v2"
	"go.opentelemetry.io/otel/metric"
)

var log = golog.Logger("auctionhouse")

// DefaultFinalizeGrace is how long after the reveal deadline finalize stays
// seller-only. Past it any caller may finalize, so a vanished seller can't
// lock escrowed funds and the asset forever.
const DefaultFinalizeGrace = time.Hour * 72

// Config customizes an AuctionHouse.
type Config struct {
	// FinalizeGrace overrides DefaultFinalizeGrace when positive.
	FinalizeGrace time.Duration
}

// AuctionHouse hosts independent sealed-bid, first-price auction instances.
// Mutating calls are serialized per instance and run as one store
// transaction each: preconditions are checked first, every local effect is
// staged next, and token interactions happen last, so a failed transfer
// discards the whole call.
type AuctionHouse struct {
	store         *store.Store
	token         tokenclient.TokenClient
	mb            msgbroker.MsgBroker
	semaphores    *sempool.SemaphorePool
	finalizeGrace time.Duration

	// now is stubbed in tests to pin the phase clock.
	now func() time.Time

	metricCreatedAuctions metric.Int64Counter
	metricCommits         metric.Int64Counter
	metricReveals         metric.Int64Counter
	metricFinalizes       metric.Int64Counter
	metricRefunds         metric.Int64Counter
	metricCancels         metric.Int64Counter
}

// New returns a new AuctionHouse.
func New(
	s *store.Store,
	token tokenclient.TokenClient,
	mb msgbroker.MsgBroker,
	conf Config) (*AuctionHouse, error) {
	if conf.FinalizeGrace <= 0 {
		conf.FinalizeGrace = DefaultFinalizeGrace
	}
	h := &AuctionHouse{
		store:         s,
		token:         token,
		mb:            mb,
		semaphores:    sempool.NewSemaphorePool(1),
		finalizeGrace: conf.FinalizeGrace,
		now:           time.Now,
	}
	h.initMetrics()
	return h, nil
}

// Close the auction house, waiting for in-flight calls to finish.
func (h *AuctionHouse) Close() error {
	h.semaphores.Stop()
	log.Info("auction house closed")
	return nil
}

// CreateAuction initializes a new auction instance from a carrying the five
// configuration fields (and optionally a caller-chosen id). The seller must
// currently own the asset; custody stays with the seller until settlement.
func (h *AuctionHouse) CreateAuction(ctx context.Context, a auction.Auction) (id auction.ID, err error) {
	defer func() { h.incr(ctx, err, h.metricCreatedAuctions) }()

	now := h.now()
	if !a.BiddingDeadline.After(now) {
		return "", fmt.Errorf("bidding deadline %s isn't in the future", a.BiddingDeadline)
	}
	if !a.BiddingDeadline.Before(a.RevealDeadline) {
		return "", fmt.Errorf("bidding deadline %s must precede reveal deadline %s",
			a.BiddingDeadline, a.RevealDeadline)
	}
	owner, err := h.token.Owner(ctx, a.AssetContract, a.AssetID)
	if err != nil {
		return "", fmt.Errorf("checking asset owner: %s", err)
	}
	if owner != a.Seller {
		return "", fmt.Errorf("asset %s is owned by %s, not the seller: %w",
			a.AssetID, owner, auction.ErrUnauthorized)
	}

	id, err = h.store.CreateAuction(ctx, a)
	if err != nil {
		return "", err
	}
	a.ID = id

	if err := msgbroker.PublishMsgAuctionInitialized(ctx, h.mb, a); err != nil {
		log.Errorf("publishing auction initialized: %s", err)
	}
	log.Infof("created auction %s for asset %s/%s", id, a.AssetContract, a.AssetID)
	return id, nil
}

// CommitBid stores bidder's sealed commitment. Valid only during the
// bidding phase; each bidder commits at most once and the hash is immutable
// afterward. No funds move at this step.
func (h *AuctionHouse) CommitBid(
	ctx context.Context,
	id auction.ID,
	bidder common.Address,
	commitment common.Hash) (err error) {
	defer func() { h.incr(ctx, err, h.metricCommits) }()
	defer h.lock(id)()

	a, err := h.store.GetAuction(ctx, id)
	if err != nil {
		return err
	}
	if phase := a.PhaseAt(h.now()); phase != auction.PhaseBidding {
		return &auction.WrongPhaseError{Expected: auction.PhaseBidding, Actual: phase}
	}
	if bidder == (common.Address{}) {
		return fmt.Errorf("bidder address is empty")
	}
	if commitment == (common.Hash{}) {
		return auction.ErrInvalidCommitment
	}

	if err := h.store.CreateCommitment(ctx, auction.Commitment{
		AuctionID: id,
		Bidder:    bidder,
		Hash:      commitment,
	}); err != nil {
		return err
	}

	if err := msgbroker.PublishMsgBidCommitted(ctx, h.mb, id, bidder, commitment); err != nil {
		log.Errorf("publishing bid committed: %s", err)
	}
	log.Debugf("%s committed in auction %s", bidder, id)
	return nil
}

// RevealBid opens bidder's commitment with the amount and secret it binds.
// Valid only during the reveal phase. On success the amount is pulled into
// escrow and the highest-bid state advances iff amount strictly exceeds the
// current lead; on any failure, including a failed pull, nothing changes, so
// a mismatched reveal may be corrected and retried until the phase ends.
func (h *AuctionHouse) RevealBid(
	ctx context.Context,
	id auction.ID,
	bidder common.Address,
	amount *big.Int,
	secret auction.Secret) (err error) {
	defer func() { h.incr(ctx, err, h.metricReveals) }()
	defer h.lock(id)()

	a, err := h.store.GetAuction(ctx, id)
	if err != nil {
		return err
	}
	if phase := a.PhaseAt(h.now()); phase != auction.PhaseReveal {
		return &auction.WrongPhaseError{Expected: auction.PhaseReveal, Actual: phase}
	}
	c, err := h.store.GetCommitment(ctx, id, bidder)
	if err != nil {
		return err
	}
	if c.Revealed {
		return auction.ErrAlreadyRevealed
	}
	hash, err := auction.ComputeCommitment(amount, secret)
	if err != nil {
		return fmt.Errorf("computing commitment: %s", err)
	}
	if hash != c.Hash {
		return auction.ErrCommitmentMismatch
	}
	if amount.Sign() == 0 {
		return auction.ErrZeroBid
	}

	if a.HighestBid == nil || amount.Cmp(a.HighestBid) > 0 {
		a.HighestBidder = bidder
		a.HighestBid = new(big.Int).Set(amount)
	}
	rb := auction.RevealedBid{
		AuctionID:      id,
		Bidder:         bidder,
		Amount:         new(big.Int).Set(amount),
		EscrowedAmount: new(big.Int).Set(amount),
	}
	if err := h.store.SaveReveal(ctx, *a, rb, func() error {
		if err := h.token.Pull(ctx, a.PaymentToken, bidder, amount); err != nil {
			return fmt.Errorf("%w: pulling escrow: %s", auction.ErrTransferFailed, err)
		}
		return nil
	}); err != nil {
		return err
	}

	if err := msgbroker.PublishMsgBidRevealed(ctx, h.mb, id, bidder, amount); err != nil {
		log.Errorf("publishing bid revealed: %s", err)
	}
	log.Debugf("%s revealed %s in auction %s", bidder, amount, id)
	return nil
}

// Finalize settles the auction: the asset goes to the highest bidder and
// the winning escrow to the seller, or nothing moves if no bid was
// revealed. Valid only once the auction has ended, at most once, and only
// for the seller until the grace period past the reveal deadline elapses.
// Losing escrows stay claimable through WithdrawRefund; finalize never
// iterates over bidders.
func (h *AuctionHouse) Finalize(ctx context.Context, id auction.ID, caller common.Address) (err error) {
	defer func() { h.incr(ctx, err, h.metricFinalizes) }()
	defer h.lock(id)()

	a, err := h.store.GetAuction(ctx, id)
	if err != nil {
		return err
	}
	if a.Finalized {
		return auction.ErrAlreadyFinalized
	}
	if a.Cancelled {
		return auction.ErrCancelled
	}
	now := h.now()
	if phase := a.PhaseAt(now); phase != auction.PhaseEnded {
		return &auction.WrongPhaseError{Expected: auction.PhaseEnded, Actual: phase}
	}
	if caller != a.Seller && now.Before(a.RevealDeadline.Add(h.finalizeGrace)) {
		return fmt.Errorf("only the seller may finalize until %s: %w",
			a.RevealDeadline.Add(h.finalizeGrace), auction.ErrUnauthorized)
	}

	a.Finalized = true
	a.Status = auction.StatusFinalized
	winner, amount := a.HighestBidder, a.HighestBid
	if err := h.store.FinalizeAuction(ctx, *a, func() error {
		if !a.HasBids() {
			// Custody of the asset was never taken; it stays with the seller.
			return nil
		}
		if err := h.token.Transfer(ctx, a.AssetContract, a.Seller, winner, a.AssetID); err != nil {
			return fmt.Errorf("%w: transferring asset: %s", auction.ErrTransferFailed, err)
		}
		if err := h.token.Push(ctx, a.PaymentToken, a.Seller, amount); err != nil {
			return fmt.Errorf("%w: paying seller: %s", auction.ErrTransferFailed, err)
		}
		return nil
	}); err != nil {
		return err
	}

	if err := msgbroker.PublishMsgAuctionFinalized(ctx, h.mb, id, winner, amount); err != nil {
		log.Errorf("publishing auction finalized: %s", err)
	}
	if a.HasBids() {
		log.Infof("finalized auction %s; winner %s paid %s", id, winner, humanize.BigComma(new(big.Int).Set(amount)))
	} else {
		log.Infof("finalized auction %s without bids", id)
	}
	return nil
}

// Cancel voids an un-finalized auction. Seller only. Revealed bidders,
// including the current leader, reclaim their escrow through
// WithdrawRefund afterward.
func (h *AuctionHouse) Cancel(ctx context.Context, id auction.ID, caller common.Address) (err error) {
	defer func() { h.incr(ctx, err, h.metricCancels) }()
	defer h.lock(id)()

	a, err := h.store.GetAuction(ctx, id)
	if err != nil {
		return err
	}
	if a.Finalized {
		return auction.ErrAlreadyFinalized
	}
	if a.Cancelled {
		return auction.ErrCancelled
	}
	if caller != a.Seller {
		return fmt.Errorf("only the seller may cancel: %w", auction.ErrUnauthorized)
	}

	a.Cancelled = true
	a.Status = auction.StatusCancelled
	if err := h.store.CancelAuction(ctx, *a); err != nil {
		return err
	}

	if err := msgbroker.PublishMsgAuctionCancelled(ctx, h.mb, id, a.Seller); err != nil {
		log.Errorf("publishing auction cancelled: %s", err)
	}
	log.Infof("cancelled auction %s", id)
	return nil
}

// WithdrawRefund returns caller's escrow. Valid only once the auction is
// finalized or cancelled, at most once per bidder, and never for the winner
// of a finalized auction. A failed push leaves the refund claimable.
func (h *AuctionHouse) WithdrawRefund(ctx context.Context, id auction.ID, caller common.Address) (err error) {
	defer func() { h.incr(ctx, err, h.metricRefunds) }()
	defer h.lock(id)()

	a, err := h.store.GetAuction(ctx, id)
	if err != nil {
		return err
	}
	if !a.Finalized && !a.Cancelled {
		return fmt.Errorf("auction isn't settled yet: %w", auction.ErrWrongPhase)
	}
	if a.Finalized && caller == a.HighestBidder {
		return auction.ErrNothingToRefund
	}

	var refunded *big.Int
	if err := h.store.SaveRefund(ctx, id, caller, func(rb auction.RevealedBid) error {
		refunded = rb.EscrowedAmount
		if err := h.token.Push(ctx, a.PaymentToken, caller, rb.EscrowedAmount); err != nil {
			return fmt.Errorf("%w: pushing refund: %s", auction.ErrTransferFailed, err)
		}
		return nil
	}); err != nil {
		return err
	}

	if err := msgbroker.PublishMsgRefundIssued(ctx, h.mb, id, caller, refunded); err != nil {
		log.Errorf("publishing refund issued: %s", err)
	}
	log.Debugf("refunded %s to %s for auction %s", refunded, caller, id)
	return nil
}

// GetAuction returns an auction by id.
func (h *AuctionHouse) GetAuction(ctx context.Context, id auction.ID) (*auction.Auction, error) {
	return h.store.GetAuction(ctx, id)
}

// ListAuctions lists auctions by applying a store query.
func (h *AuctionHouse) ListAuctions(ctx context.Context, query store.Query) ([]auction.Auction, error) {
	return h.store.ListAuctions(ctx, query)
}

// GetCommitment returns the commitment of bidder in an auction.
func (h *AuctionHouse) GetCommitment(
	ctx context.Context,
	id auction.ID,
	bidder common.Address) (*auction.Commitment, error) {
	return h.store.GetCommitment(ctx, id, bidder)
}

// GetRevealedBid returns the revealed bid of bidder in an auction.
func (h *AuctionHouse) GetRevealedBid(
	ctx context.Context,
	id auction.ID,
	bidder common.Address) (*auction.RevealedBid, error) {
	return h.store.GetRevealedBid(ctx, id, bidder)
}

// HighestBid returns the current leading bidder and amount of an auction.
// The leader is the zero address, with a zero amount, until a first bid is
// revealed, and isn't final until the auction ends.
func (h *AuctionHouse) HighestBid(ctx context.Context, id auction.ID) (common.Address, *big.Int, error) {
	a, err := h.store.GetAuction(ctx, id)
	if err != nil {
		return common.Address{}, nil, err
	}
	if a.HighestBid == nil {
		return common.Address{}, new(big.Int), nil
	}
	return a.HighestBidder, new(big.Int).Set(a.HighestBid), nil
}

// lock serializes mutating calls per auction instance and returns the
// release func.
func (h *AuctionHouse) lock(id auction.ID) func() {
	sem := h.semaphores.Get(string(id))
	sem.Acquire()
	return sem.Release
}
