package auction

import (
	"fmt"
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/common"
)

// ID is the type used for auction instance identity.
type ID string

// Phase is a time-bounded mode gating which operations are valid.
type Phase int

const (
	// PhaseBidding accepts sealed commitments.
	PhaseBidding Phase = iota
	// PhaseReveal accepts bid openings checked against stored commitments.
	PhaseReveal
	// PhaseEnded accepts settlement and refund calls only.
	PhaseEnded
)

// String returns a string-encoded phase.
func (p Phase) String() string {
	switch p {
	case PhaseBidding:
		return "bidding"
	case PhaseReveal:
		return "reveal"
	case PhaseEnded:
		return "ended"
	default:
		return invalidString
	}
}

// Status is the storage status of an auction instance.
type Status int

const (
	// StatusUnspecified indicates an invalid status. Defined for safety.
	StatusUnspecified Status = iota
	// StatusActive indicates the instance accepts phase-gated calls.
	StatusActive
	// StatusFinalized indicates settlement completed.
	StatusFinalized
	// StatusCancelled indicates the seller cancelled the instance.
	StatusCancelled
)

const invalidString = "invalid"

// String returns a string-encoded status.
func (s Status) String() string {
	switch s {
	case StatusUnspecified:
		return "unspecified"
	case StatusActive:
		return "active"
	case StatusFinalized:
		return "finalized"
	case StatusCancelled:
		return "cancelled"
	default:
		return invalidString
	}
}

// ParseStatus parses a string-encoded status.
func ParseStatus(s string) (Status, error) {
	switch s {
	case "active":
		return StatusActive, nil
	case "finalized":
		return StatusFinalized, nil
	case "cancelled":
		return StatusCancelled, nil
	default:
		return StatusUnspecified, fmt.Errorf("unknown status: %s", s)
	}
}

// Auction holds the immutable configuration and evolving state of a
// sealed-bid, first-price auction instance. The five configuration fields
// (seller, asset contract, asset id, payment token and the two deadlines)
// are written exactly once, at initialization.
type Auction struct {
	ID              ID
	Seller          common.Address
	AssetContract   common.Address
	AssetID         *big.Int
	PaymentToken    common.Address
	BiddingDeadline time.Time
	RevealDeadline  time.Time

	Status    Status
	Finalized bool
	Cancelled bool

	// HighestBidder is the zero address until a first bid is revealed.
	HighestBidder common.Address
	HighestBid    *big.Int

	CreatedAt time.Time
	UpdatedAt time.Time
}

// PhaseAt derives the auction phase at now. Finalization and cancellation
// are terminal regardless of timestamps.
func (a Auction) PhaseAt(now time.Time) Phase {
	if a.Finalized || a.Cancelled {
		return PhaseEnded
	}
	if now.Before(a.BiddingDeadline) {
		return PhaseBidding
	}
	if now.Before(a.RevealDeadline) {
		return PhaseReveal
	}
	return PhaseEnded
}

// HasEnded reports whether only settlement calls are valid at now.
func (a Auction) HasEnded(now time.Time) bool {
	return a.PhaseAt(now) == PhaseEnded
}

// HasBids reports whether at least one bid was revealed.
func (a Auction) HasBids() bool {
	return a.HighestBidder != (common.Address{})
}

// Commitment is a bidder's sealed-bid hash, written once during the bidding
// phase. The hash is immutable after creation.
type Commitment struct {
	AuctionID ID
	Bidder    common.Address
	Hash      common.Hash
	Revealed  bool
	CreatedAt time.Time
}

// RevealedBid is an opened bid. The escrowed amount is pulled from the
// bidder in the same call that creates the record.
type RevealedBid struct {
	AuctionID      ID
	Bidder         common.Address
	Amount         *big.Int
	EscrowedAmount *big.Int
	Refunded       bool
	RevealedAt     time.Time
}
