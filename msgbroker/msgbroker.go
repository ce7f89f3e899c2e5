package msgbroker

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/fxamacker/cbor/v2"
	"github.com/google/uuid"
	"github.com/textileio/auction-core/auction"
	ourcommon "github.com/textileio/auction-core/common"
)

// TopicHandler is function that processes a received message.
// If no error is returned, the message will be automatically acked.
// If an error is returned, the message will be automatically nacked.
type TopicHandler func(context.Context, []byte) error

// MsgBroker is a message-broker for async message communication.
type MsgBroker interface {
	// RegisterTopicHandler registers a handler to a topic, with a defined
	// subscription defined by the underlying implementation. Is highly recommended
	// to register handlers in a type-safe way using RegisterHandlers().
	RegisterTopicHandler(topic TopicName, handler TopicHandler, opts ...Option) error

	// PublishMsg publishes a message to the desired topic.
	PublishMsg(ctx context.Context, topicName TopicName, data []byte) error
}

// TopicName is a topic name.
type TopicName string

const (
	// AuctionInitializedTopic is the topic name for auction-initialized messages.
	AuctionInitializedTopic TopicName = "auction-initialized"
	// BidCommittedTopic is the topic name for bid-committed messages.
	BidCommittedTopic = "bid-committed"
	// BidRevealedTopic is the topic name for bid-revealed messages.
	BidRevealedTopic = "bid-revealed"
	// AuctionFinalizedTopic is the topic name for auction-finalized messages.
	AuctionFinalizedTopic = "auction-finalized"
	// RefundIssuedTopic is the topic name for refund-issued messages.
	RefundIssuedTopic = "refund-issued"
	// AuctionCancelledTopic is the topic name for auction-cancelled messages.
	AuctionCancelledTopic = "auction-cancelled"
)

// OperationID is a unique identifier for messages.
type OperationID string

// encMode keeps event timestamps lossless across the wire.
var encMode, _ = cbor.EncOptions{Time: cbor.TimeRFC3339Nano}.EncMode()

// AuctionInitialized is the payload of the auction-initialized topic.
type AuctionInitialized struct {
	OperationID     string    `cbor:"operation_id"`
	AuctionID       string    `cbor:"auction_id"`
	Seller          string    `cbor:"seller"`
	AssetContract   string    `cbor:"asset_contract"`
	AssetID         string    `cbor:"asset_id"`
	PaymentToken    string    `cbor:"payment_token"`
	BiddingDeadline time.Time `cbor:"bidding_deadline"`
	RevealDeadline  time.Time `cbor:"reveal_deadline"`
	Ts              time.Time `cbor:"ts"`
}

// BidCommitted is the payload of the bid-committed topic.
type BidCommitted struct {
	OperationID string    `cbor:"operation_id"`
	AuctionID   string    `cbor:"auction_id"`
	Bidder      string    `cbor:"bidder"`
	Commitment  string    `cbor:"commitment"`
	Ts          time.Time `cbor:"ts"`
}

// BidRevealed is the payload of the bid-revealed topic.
type BidRevealed struct {
	OperationID string    `cbor:"operation_id"`
	AuctionID   string    `cbor:"auction_id"`
	Bidder      string    `cbor:"bidder"`
	Amount      string    `cbor:"amount"`
	Ts          time.Time `cbor:"ts"`
}

// AuctionFinalized is the payload of the auction-finalized topic. Winner is
// the zero address when the auction closed without revealed bids.
type AuctionFinalized struct {
	OperationID string    `cbor:"operation_id"`
	AuctionID   string    `cbor:"auction_id"`
	Winner      string    `cbor:"winner"`
	Amount      string    `cbor:"amount"`
	Ts          time.Time `cbor:"ts"`
}

// RefundIssued is the payload of the refund-issued topic.
type RefundIssued struct {
	OperationID string    `cbor:"operation_id"`
	AuctionID   string    `cbor:"auction_id"`
	Bidder      string    `cbor:"bidder"`
	Amount      string    `cbor:"amount"`
	Ts          time.Time `cbor:"ts"`
}

// AuctionCancelled is the payload of the auction-cancelled topic.
type AuctionCancelled struct {
	OperationID string    `cbor:"operation_id"`
	AuctionID   string    `cbor:"auction_id"`
	Seller      string    `cbor:"seller"`
	Ts          time.Time `cbor:"ts"`
}

// AuctionInitializedListener is a handler for the auction-initialized topic.
type AuctionInitializedListener interface {
	OnAuctionInitialized(context.Context, OperationID, auction.Auction) error
}

// BidCommittedListener is a handler for the bid-committed topic.
type BidCommittedListener interface {
	OnBidCommitted(
		ctx context.Context,
		opID OperationID,
		auctionID auction.ID,
		bidder common.Address,
		commitment common.Hash) error
}

// BidRevealedListener is a handler for the bid-revealed topic.
type BidRevealedListener interface {
	OnBidRevealed(
		ctx context.Context,
		opID OperationID,
		auctionID auction.ID,
		bidder common.Address,
		amount *big.Int) error
}

// AuctionFinalizedListener is a handler for the auction-finalized topic.
type AuctionFinalizedListener interface {
	OnAuctionFinalized(
		ctx context.Context,
		opID OperationID,
		auctionID auction.ID,
		winner common.Address,
		amount *big.Int) error
}

// RefundIssuedListener is a handler for the refund-issued topic.
type RefundIssuedListener interface {
	OnRefundIssued(
		ctx context.Context,
		opID OperationID,
		auctionID auction.ID,
		bidder common.Address,
		amount *big.Int) error
}

// AuctionCancelledListener is a handler for the auction-cancelled topic.
type AuctionCancelledListener interface {
	OnAuctionCancelled(
		ctx context.Context,
		opID OperationID,
		auctionID auction.ID,
		seller common.Address) error
}

// RegisterHandlers automatically calls mb.RegisterTopicHandler in the methods that
// s might satisfy on known XXXListener interfaces. This allows to automatically wire
// s to receive messages from topics of implemented handlers.
func RegisterHandlers(mb MsgBroker, s interface{}, opts ...Option) error {
	var countRegistered int
	if l, ok := s.(AuctionInitializedListener); ok {
		countRegistered++
		err := mb.RegisterTopicHandler(AuctionInitializedTopic, func(ctx context.Context, data []byte) error {
			r := &AuctionInitialized{}
			if err := cbor.Unmarshal(data, r); err != nil {
				return fmt.Errorf("unmarshal auction initialized: %s", err)
			}
			if r.OperationID == "" {
				return errors.New("operation-id is empty")
			}
			if r.AuctionID == "" {
				return errors.New("auction-id is empty")
			}
			seller, err := ourcommon.ParseAddress(r.Seller)
			if err != nil {
				return fmt.Errorf("parsing seller: %s", err)
			}
			assetContract, err := ourcommon.ParseAddress(r.AssetContract)
			if err != nil {
				return fmt.Errorf("parsing asset contract: %s", err)
			}
			paymentToken, err := ourcommon.ParseAddress(r.PaymentToken)
			if err != nil {
				return fmt.Errorf("parsing payment token: %s", err)
			}
			assetID, err := parseAmount(r.AssetID)
			if err != nil {
				return fmt.Errorf("parsing asset id: %s", err)
			}
			if !r.BiddingDeadline.Before(r.RevealDeadline) {
				return errors.New("bidding deadline must precede reveal deadline")
			}
			a := auction.Auction{
				ID:              auction.ID(r.AuctionID),
				Seller:          seller,
				AssetContract:   assetContract,
				AssetID:         assetID,
				PaymentToken:    paymentToken,
				BiddingDeadline: r.BiddingDeadline,
				RevealDeadline:  r.RevealDeadline,
				Status:          auction.StatusActive,
			}
			if err := l.OnAuctionInitialized(ctx, OperationID(r.OperationID), a); err != nil {
				return fmt.Errorf("calling auction-initialized handler: %s", err)
			}
			return nil
		}, opts...)
		if err != nil {
			return fmt.Errorf("registering handler for auction-initialized topic: %s", err)
		}
	}

	if l, ok := s.(BidCommittedListener); ok {
		countRegistered++
		err := mb.RegisterTopicHandler(BidCommittedTopic, func(ctx context.Context, data []byte) error {
			r := &BidCommitted{}
			if err := cbor.Unmarshal(data, r); err != nil {
				return fmt.Errorf("unmarshal bid committed: %s", err)
			}
			if r.OperationID == "" {
				return errors.New("operation-id is empty")
			}
			if r.AuctionID == "" {
				return errors.New("auction-id is empty")
			}
			bidder, err := ourcommon.ParseAddress(r.Bidder)
			if err != nil {
				return fmt.Errorf("parsing bidder: %s", err)
			}
			commitment, err := ourcommon.ParseHash(r.Commitment)
			if err != nil {
				return fmt.Errorf("parsing commitment: %s", err)
			}
			if commitment == (common.Hash{}) {
				return errors.New("commitment is the zero hash")
			}
			if err := l.OnBidCommitted(ctx, OperationID(r.OperationID),
				auction.ID(r.AuctionID), bidder, commitment); err != nil {
				return fmt.Errorf("calling bid-committed handler: %s", err)
			}
			return nil
		}, opts...)
		if err != nil {
			return fmt.Errorf("registering handler for bid-committed topic: %s", err)
		}
	}

	if l, ok := s.(BidRevealedListener); ok {
		countRegistered++
		err := mb.RegisterTopicHandler(BidRevealedTopic, func(ctx context.Context, data []byte) error {
			r := &BidRevealed{}
			if err := cbor.Unmarshal(data, r); err != nil {
				return fmt.Errorf("unmarshal bid revealed: %s", err)
			}
			if r.OperationID == "" {
				return errors.New("operation-id is empty")
			}
			if r.AuctionID == "" {
				return errors.New("auction-id is empty")
			}
			bidder, err := ourcommon.ParseAddress(r.Bidder)
			if err != nil {
				return fmt.Errorf("parsing bidder: %s", err)
			}
			amount, err := parseAmount(r.Amount)
			if err != nil {
				return fmt.Errorf("parsing amount: %s", err)
			}
			if amount.Sign() == 0 {
				return errors.New("amount is zero")
			}
			if err := l.OnBidRevealed(ctx, OperationID(r.OperationID),
				auction.ID(r.AuctionID), bidder, amount); err != nil {
				return fmt.Errorf("calling bid-revealed handler: %s", err)
			}
			return nil
		}, opts...)
		if err != nil {
			return fmt.Errorf("registering handler for bid-revealed topic: %s", err)
		}
	}

	if l, ok := s.(AuctionFinalizedListener); ok {
		countRegistered++
		err := mb.RegisterTopicHandler(AuctionFinalizedTopic, func(ctx context.Context, data []byte) error {
			r := &AuctionFinalized{}
			if err := cbor.Unmarshal(data, r); err != nil {
				return fmt.Errorf("unmarshal auction finalized: %s", err)
			}
			if r.OperationID == "" {
				return errors.New("operation-id is empty")
			}
			if r.AuctionID == "" {
				return errors.New("auction-id is empty")
			}
			winner, err := ourcommon.ParseAddress(r.Winner)
			if err != nil {
				return fmt.Errorf("parsing winner: %s", err)
			}
			amount, err := parseAmount(r.Amount)
			if err != nil {
				return fmt.Errorf("parsing amount: %s", err)
			}
			if err := l.OnAuctionFinalized(ctx, OperationID(r.OperationID),
				auction.ID(r.AuctionID), winner, amount); err != nil {
				return fmt.Errorf("calling auction-finalized handler: %s", err)
			}
			return nil
		}, opts...)
		if err != nil {
			return fmt.Errorf("registering handler for auction-finalized topic: %s", err)
		}
	}

	if l, ok := s.(RefundIssuedListener); ok {
		countRegistered++
		err := mb.RegisterTopicHandler(RefundIssuedTopic, func(ctx context.Context, data []byte) error {
			r := &RefundIssued{}
			if err := cbor.Unmarshal(data, r); err != nil {
				return fmt.Errorf("unmarshal refund issued: %s", err)
			}
			if r.OperationID == "" {
				return errors.New("operation-id is empty")
			}
			if r.AuctionID == "" {
				return errors.New("auction-id is empty")
			}
			bidder, err := ourcommon.ParseAddress(r.Bidder)
			if err != nil {
				return fmt.Errorf("parsing bidder: %s", err)
			}
			amount, err := parseAmount(r.Amount)
			if err != nil {
				return fmt.Errorf("parsing amount: %s", err)
			}
			if amount.Sign() == 0 {
				return errors.New("amount is zero")
			}
			if err := l.OnRefundIssued(ctx, OperationID(r.OperationID),
				auction.ID(r.AuctionID), bidder, amount); err != nil {
				return fmt.Errorf("calling refund-issued handler: %s", err)
			}
			return nil
		}, opts...)
		if err != nil {
			return fmt.Errorf("registering handler for refund-issued topic: %s", err)
		}
	}

	if l, ok := s.(AuctionCancelledListener); ok {
		countRegistered++
		err := mb.RegisterTopicHandler(AuctionCancelledTopic, func(ctx context.Context, data []byte) error {
			r := &AuctionCancelled{}
			if err := cbor.Unmarshal(data, r); err != nil {
				return fmt.Errorf("unmarshal auction cancelled: %s", err)
			}
			if r.OperationID == "" {
				return errors.New("operation-id is empty")
			}
			if r.AuctionID == "" {
				return errors.New("auction-id is empty")
			}
			seller, err := ourcommon.ParseAddress(r.Seller)
			if err != nil {
				return fmt.Errorf("parsing seller: %s", err)
			}
			if err := l.OnAuctionCancelled(ctx, OperationID(r.OperationID),
				auction.ID(r.AuctionID), seller); err != nil {
				return fmt.Errorf("calling auction-cancelled handler: %s", err)
			}
			return nil
		}, opts...)
		if err != nil {
			return fmt.Errorf("registering handler for auction-cancelled topic: %s", err)
		}
	}

	if countRegistered == 0 {
		return errors.New("no handlers were registered")
	}

	return nil
}

// PublishMsgAuctionInitialized publishes a message to the auction-initialized topic.
func PublishMsgAuctionInitialized(ctx context.Context, mb MsgBroker, a auction.Auction) error {
	if a.ID == "" {
		return errors.New("auction-id is empty")
	}
	if a.AssetID == nil {
		return errors.New("asset-id is empty")
	}
	msg := &AuctionInitialized{
		OperationID:     uuid.New().String(),
		AuctionID:       string(a.ID),
		Seller:          a.Seller.Hex(),
		AssetContract:   a.AssetContract.Hex(),
		AssetID:         a.AssetID.String(),
		PaymentToken:    a.PaymentToken.Hex(),
		BiddingDeadline: a.BiddingDeadline,
		RevealDeadline:  a.RevealDeadline,
		Ts:              time.Now(),
	}
	return marshalAndPublish(ctx, mb, AuctionInitializedTopic, msg)
}

// PublishMsgBidCommitted publishes a message to the bid-committed topic.
func PublishMsgBidCommitted(
	ctx context.Context,
	mb MsgBroker,
	auctionID auction.ID,
	bidder common.Address,
	commitment common.Hash) error {
	if auctionID == "" {
		return errors.New("auction-id is empty")
	}
	if commitment == (common.Hash{}) {
		return errors.New("commitment is the zero hash")
	}
	msg := &BidCommitted{
		OperationID: uuid.New().String(),
		AuctionID:   string(auctionID),
		Bidder:      bidder.Hex(),
		Commitment:  commitment.Hex(),
		Ts:          time.Now(),
	}
	return marshalAndPublish(ctx, mb, BidCommittedTopic, msg)
}

// PublishMsgBidRevealed publishes a message to the bid-revealed topic.
func PublishMsgBidRevealed(
	ctx context.Context,
	mb MsgBroker,
	auctionID auction.ID,
	bidder common.Address,
	amount *big.Int) error {
	if auctionID == "" {
		return errors.New("auction-id is empty")
	}
	if amount == nil || amount.Sign() <= 0 {
		return errors.New("amount must be positive")
	}
	msg := &BidRevealed{
		OperationID: uuid.New().String(),
		AuctionID:   string(auctionID),
		Bidder:      bidder.Hex(),
		Amount:      amount.String(),
		Ts:          time.Now(),
	}
	return marshalAndPublish(ctx, mb, BidRevealedTopic, msg)
}

// PublishMsgAuctionFinalized publishes a message to the auction-finalized topic.
func PublishMsgAuctionFinalized(
	ctx context.Context,
	mb MsgBroker,
	auctionID auction.ID,
	winner common.Address,
	amount *big.Int) error {
	if auctionID == "" {
		return errors.New("auction-id is empty")
	}
	if amount == nil {
		amount = new(big.Int)
	}
	msg := &AuctionFinalized{
		OperationID: uuid.New().String(),
		AuctionID:   string(auctionID),
		Winner:      winner.Hex(),
		Amount:      amount.String(),
		Ts:          time.Now(),
	}
	return marshalAndPublish(ctx, mb, AuctionFinalizedTopic, msg)
}

// PublishMsgRefundIssued publishes a message to the refund-issued topic.
func PublishMsgRefundIssued(
	ctx context.Context,
	mb MsgBroker,
	auctionID auction.ID,
	bidder common.Address,
	amount *big.Int) error {
	if auctionID == "" {
		return errors.New("auction-id is empty")
	}
	if amount == nil || amount.Sign() <= 0 {
		return errors.New("amount must be positive")
	}
	msg := &RefundIssued{
		OperationID: uuid.New().String(),
		AuctionID:   string(auctionID),
		Bidder:      bidder.Hex(),
		Amount:      amount.String(),
		Ts:          time.Now(),
	}
	return marshalAndPublish(ctx, mb, RefundIssuedTopic, msg)
}

// PublishMsgAuctionCancelled publishes a message to the auction-cancelled topic.
func PublishMsgAuctionCancelled(
	ctx context.Context,
	mb MsgBroker,
	auctionID auction.ID,
	seller common.Address) error {
	if auctionID == "" {
		return errors.New("auction-id is empty")
	}
	msg := &AuctionCancelled{
		OperationID: uuid.New().String(),
		AuctionID:   string(auctionID),
		Seller:      seller.Hex(),
		Ts:          time.Now(),
	}
	return marshalAndPublish(ctx, mb, AuctionCancelledTopic, msg)
}

func marshalAndPublish(ctx context.Context, mb MsgBroker, topic TopicName, msg interface{}) error {
	data, err := encMode.Marshal(msg)
	if err != nil {
		return fmt.Errorf("marshaling %s message: %s", topic, err)
	}
	if err := mb.PublishMsg(ctx, topic, data); err != nil {
		return fmt.Errorf("publishing %s message: %s", topic, err)
	}
	return nil
}

func parseAmount(s string) (*big.Int, error) {
	v, ok := new(big.Int).SetString(s, 10)
	if !ok {
		return nil, fmt.Errorf("invalid decimal integer: %s", s)
	}
	if v.Sign() < 0 {
		return nil, fmt.Errorf("negative value: %s", s)
	}
	return v, nil
}
