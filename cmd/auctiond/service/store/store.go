package store

import (
	"bytes"
	"context"
	"crypto/rand"
	"encoding/gob"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"
	ds "github.com/ipfs/go-datastore"
	dsq "github.com/ipfs/go-datastore/query"
	"github.com/oklog/ulid/v2"
	"github.com/textileio/auction-core/auction"
	"github.com/textileio/auction-core/dshelper/txndswrap"
	dsextensions "github.com/textileio/go-datastore-extensions"
	golog "github.com/textileio/go-log/v2"
)

const (
	// defaultListLimit is the default list page size.
	defaultListLimit = 10
	// maxListLimit is the max list page size.
	maxListLimit = 1000
)

var (
	log = golog.Logger("auctiond/store")

	// dsAuctionPrefix is the prefix for auctions, namespaced by status.
	// Structure: /auction/<status>/<auction_id> -> Auction.
	dsAuctionPrefix = ds.NewKey("/auction")

	// dsCommitmentPrefix is the prefix for commitments.
	// Structure: /commitment/<auction_id>/<bidder> -> Commitment.
	dsCommitmentPrefix = ds.NewKey("/commitment")

	// dsBidPrefix is the prefix for revealed bids.
	// Structure: /bid/<auction_id>/<bidder> -> RevealedBid.
	dsBidPrefix = ds.NewKey("/bid")

	// auctionStatuses is the order in which status namespaces are probed
	// when looking up an auction by id.
	auctionStatuses = []auction.Status{auction.StatusActive, auction.StatusFinalized, auction.StatusCancelled}
)

// Store persists auctions, commitments and revealed bids. Mutations that
// settle funds take an interact callback which runs after all local effects
// are staged in the transaction and before commit, so a failed interaction
// discards every staged write.
type Store struct {
	store   txndswrap.TxnDatastore
	entropy *ulid.MonotonicEntropy
	lk      sync.Mutex
}

// NewStore returns a new Store.
func NewStore(store txndswrap.TxnDatastore) *Store {
	return &Store{store: store}
}

// CreateAuction saves a new auction in the active namespace. If a.ID is
// empty a fresh id is issued; reusing an existing id fails with
// ErrAlreadyInitialized.
func (s *Store) CreateAuction(ctx context.Context, a auction.Auction) (auction.ID, error) {
	if err := validate(a); err != nil {
		return "", fmt.Errorf("invalid auction data: %s", err)
	}
	if a.ID == "" {
		id, err := s.newID(time.Now())
		if err != nil {
			return "", fmt.Errorf("creating auction id: %v", err)
		}
		a.ID = id
	}

	txn, err := s.store.NewTransaction(ctx, false)
	if err != nil {
		return "", fmt.Errorf("creating txn: %v", err)
	}
	defer txn.Discard(ctx)

	for _, status := range auctionStatuses {
		exists, err := txn.Has(ctx, auctionKey(status, a.ID))
		if err != nil {
			return "", fmt.Errorf("checking existing auction: %v", err)
		}
		if exists {
			return "", auction.ErrAlreadyInitialized
		}
	}

	a.Status = auction.StatusActive
	a.CreatedAt = time.Now()
	if err := saveAuction(ctx, txn, &a); err != nil {
		return "", fmt.Errorf("saving auction: %v", err)
	}
	if err := txn.Commit(ctx); err != nil {
		return "", fmt.Errorf("committing txn: %v", err)
	}

	log.Debugf("created auction %s", a.ID)
	return a.ID, nil
}

func validate(a auction.Auction) error {
	if err := validID(a.ID); err != nil {
		return err
	}
	if a.Seller == (common.Address{}) {
		return errors.New("seller address is empty")
	}
	if a.AssetContract == (common.Address{}) {
		return errors.New("asset contract address is empty")
	}
	if a.PaymentToken == (common.Address{}) {
		return errors.New("payment token address is empty")
	}
	if a.AssetID == nil || a.AssetID.Sign() < 0 {
		return errors.New("asset id must be a non-negative integer")
	}
	if a.BiddingDeadline.IsZero() || a.RevealDeadline.IsZero() {
		return errors.New("deadlines must be set")
	}
	if !a.BiddingDeadline.Before(a.RevealDeadline) {
		return errors.New("bidding deadline must precede reveal deadline")
	}
	if a.Status != auction.StatusUnspecified {
		return errors.New("invalid initial status")
	}
	if a.Finalized || a.Cancelled {
		return errors.New("initial terminal flags must be unset")
	}
	if a.HighestBidder != (common.Address{}) || a.HighestBid != nil {
		return errors.New("initial highest bid must be empty")
	}
	return nil
}

// validID accepts ids that are safe as datastore key components and sort
// below the descending-list seek position.
func validID(id auction.ID) error {
	for _, r := range id {
		switch {
		case r >= 'a' && r <= 'z':
		case r >= '0' && r <= '9':
		case r == '-' || r == '_':
		default:
			return fmt.Errorf("auction id contains invalid character %q", r)
		}
	}
	return nil
}

// newID returns new monotonically increasing auction ids.
func (s *Store) newID(t time.Time) (auction.ID, error) {
	s.lk.Lock() // entropy is not safe for concurrent use

	if s.entropy == nil {
		s.entropy = ulid.Monotonic(rand.Reader, 0)
	}
	id, err := ulid.New(ulid.Timestamp(t.UTC()), s.entropy)
	if errors.Is(err, ulid.ErrMonotonicOverflow) {
		s.entropy = nil
		s.lk.Unlock()
		return s.newID(t)
	} else if err != nil {
		s.lk.Unlock()
		return "", fmt.Errorf("generating id: %v", err)
	}
	s.lk.Unlock()
	return auction.ID(strings.ToLower(id.String())), nil
}

// GetAuction returns an auction by id.
func (s *Store) GetAuction(ctx context.Context, id auction.ID) (*auction.Auction, error) {
	return getAuction(ctx, s.store, id)
}

func getAuction(ctx context.Context, reader ds.Read, id auction.ID) (*auction.Auction, error) {
	for _, status := range auctionStatuses {
		val, err := reader.Get(ctx, auctionKey(status, id))
		if errors.Is(err, ds.ErrNotFound) {
			continue
		} else if err != nil {
			return nil, fmt.Errorf("getting auction: %v", err)
		}
		var a auction.Auction
		if err := decode(val, &a); err != nil {
			return nil, fmt.Errorf("decoding auction: %v", err)
		}
		return &a, nil
	}
	return nil, auction.ErrNotFound
}

// Query is used to query for auctions.
type Query struct {
	Offset string
	Order  Order
	Limit  int
	Status auction.Status
}

func (q Query) setDefaults() Query {
	if q.Limit == -1 {
		q.Limit = maxListLimit
	} else if q.Limit <= 0 {
		q.Limit = defaultListLimit
	} else if q.Limit > maxListLimit {
		q.Limit = maxListLimit
	}
	return q
}

// Order specifies the order of list results.
// Default is descending by time created.
type Order int

const (
	// OrderDescending orders results descending.
	OrderDescending Order = iota
	// OrderAscending orders results ascending.
	OrderAscending
)

// ListAuctions lists auctions by applying a Query. Without a status filter
// results are grouped by status; Offset requires a status filter.
func (s *Store) ListAuctions(ctx context.Context, query Query) ([]auction.Auction, error) {
	query = query.setDefaults()

	if query.Status == auction.StatusUnspecified {
		if len(query.Offset) != 0 {
			return nil, errors.New("offset requires a status filter")
		}
		var list []auction.Auction
		for _, status := range auctionStatuses {
			q := query
			q.Status = status
			q.Limit = query.Limit - len(list)
			if q.Limit == 0 {
				break
			}
			part, err := s.listStatus(ctx, q)
			if err != nil {
				return nil, err
			}
			list = append(list, part...)
		}
		return list, nil
	}

	return s.listStatus(ctx, query)
}

func (s *Store) listStatus(ctx context.Context, query Query) ([]auction.Auction, error) {
	var (
		order dsq.Order
		seek  string
		limit = query.Limit
	)

	prefix := dsAuctionPrefix.ChildString(query.Status.String())
	if len(query.Offset) != 0 {
		seek = prefix.ChildString(query.Offset).String()
		limit++
	}

	switch query.Order {
	case OrderDescending:
		order = dsq.OrderByKeyDescending{}
		if len(seek) == 0 {
			// Seek past every valid id and descend from there.
			seek = prefix.ChildString("~").String()
		}
	case OrderAscending:
		order = dsq.OrderByKey{}
	}

	results, err := s.store.QueryExtended(dsextensions.QueryExt{
		Query: dsq.Query{
			Prefix: prefix.String(),
			Orders: []dsq.Order{order},
			Limit:  limit,
		},
		SeekPrefix: seek,
	})
	if err != nil {
		return nil, fmt.Errorf("querying auctions: %v", err)
	}
	defer func() { _ = results.Close() }()

	var list []auction.Auction
	for res := range results.Next() {
		if res.Error != nil {
			return nil, fmt.Errorf("getting next result: %v", res.Error)
		}
		var a auction.Auction
		if err := decode(res.Value, &a); err != nil {
			return nil, fmt.Errorf("decoding value: %v", err)
		}
		list = append(list, a)
	}

	// Remove seek from list
	if len(query.Offset) != 0 && len(list) > 0 {
		list = list[1:]
	}

	log.Debugf("listed %d auctions", len(list))
	return list, nil
}

// CreateCommitment saves a new commitment. A second commitment from the same
// bidder fails with ErrAlreadyCommitted.
func (s *Store) CreateCommitment(ctx context.Context, c auction.Commitment) error {
	if c.AuctionID == "" {
		return errors.New("auction id is empty")
	}
	if c.Hash == (common.Hash{}) {
		return auction.ErrInvalidCommitment
	}

	txn, err := s.store.NewTransaction(ctx, false)
	if err != nil {
		return fmt.Errorf("creating txn: %v", err)
	}
	defer txn.Discard(ctx)

	key := commitmentKey(c.AuctionID, c.Bidder)
	exists, err := txn.Has(ctx, key)
	if err != nil {
		return fmt.Errorf("checking existing commitment: %v", err)
	}
	if exists {
		return auction.ErrAlreadyCommitted
	}

	c.CreatedAt = time.Now()
	val, err := encode(&c)
	if err != nil {
		return fmt.Errorf("encoding commitment: %v", err)
	}
	if err := txn.Put(ctx, key, val); err != nil {
		return fmt.Errorf("putting commitment: %v", err)
	}
	if err := txn.Commit(ctx); err != nil {
		return fmt.Errorf("committing txn: %v", err)
	}

	log.Debugf("created commitment of %s in auction %s", c.Bidder, c.AuctionID)
	return nil
}

// GetCommitment returns the commitment of bidder in an auction.
func (s *Store) GetCommitment(ctx context.Context, id auction.ID, bidder common.Address) (*auction.Commitment, error) {
	return getCommitment(ctx, s.store, id, bidder)
}

func getCommitment(ctx context.Context, reader ds.Read, id auction.ID, bidder common.Address) (
	*auction.Commitment, error) {
	val, err := reader.Get(ctx, commitmentKey(id, bidder))
	if errors.Is(err, ds.ErrNotFound) {
		return nil, auction.ErrNoCommitment
	} else if err != nil {
		return nil, fmt.Errorf("getting commitment: %v", err)
	}
	var c auction.Commitment
	if err := decode(val, &c); err != nil {
		return nil, fmt.Errorf("decoding commitment: %v", err)
	}
	return &c, nil
}

// SaveReveal persists the outcome of a successful reveal in one transaction:
// the revealed bid, the commitment marked revealed, and the updated
// highest-bid state carried by a. interact runs once everything is staged;
// if it errors the transaction is discarded and nothing changes.
func (s *Store) SaveReveal(
	ctx context.Context,
	a auction.Auction,
	rb auction.RevealedBid,
	interact func() error) error {
	if err := validateBid(rb); err != nil {
		return fmt.Errorf("invalid bid data: %s", err)
	}

	txn, err := s.store.NewTransaction(ctx, false)
	if err != nil {
		return fmt.Errorf("creating txn: %v", err)
	}
	defer txn.Discard(ctx)

	if exists, err := txn.Has(ctx, auctionKey(auction.StatusActive, a.ID)); err != nil {
		return fmt.Errorf("checking active auction: %v", err)
	} else if !exists {
		return auction.ErrNotFound
	}
	c, err := getCommitment(ctx, txn, a.ID, rb.Bidder)
	if err != nil {
		return err
	}
	if c.Revealed {
		return auction.ErrAlreadyRevealed
	}

	c.Revealed = true
	val, err := encode(c)
	if err != nil {
		return fmt.Errorf("encoding commitment: %v", err)
	}
	if err := txn.Put(ctx, commitmentKey(a.ID, rb.Bidder), val); err != nil {
		return fmt.Errorf("putting commitment: %v", err)
	}

	rb.RevealedAt = time.Now()
	val, err = encode(&rb)
	if err != nil {
		return fmt.Errorf("encoding bid: %v", err)
	}
	if err := txn.Put(ctx, bidKey(a.ID, rb.Bidder), val); err != nil {
		return fmt.Errorf("putting bid: %v", err)
	}

	if err := saveAuction(ctx, txn, &a); err != nil {
		return fmt.Errorf("saving auction: %v", err)
	}

	if interact != nil {
		if err := interact(); err != nil {
			return err
		}
	}
	if err := txn.Commit(ctx); err != nil {
		return fmt.Errorf("committing txn: %v", err)
	}

	log.Debugf("saved revealed bid of %s for auction %s", rb.Bidder, a.ID)
	return nil
}

func validateBid(rb auction.RevealedBid) error {
	if rb.AuctionID == "" {
		return errors.New("auction id is empty")
	}
	if rb.Amount == nil || rb.Amount.Sign() <= 0 {
		return errors.New("amount must be positive")
	}
	if rb.EscrowedAmount == nil || rb.EscrowedAmount.Cmp(rb.Amount) != 0 {
		return errors.New("escrowed amount must equal amount")
	}
	if rb.Refunded {
		return errors.New("initial refunded flag must be unset")
	}
	return nil
}

// GetRevealedBid returns the revealed bid of bidder in an auction.
func (s *Store) GetRevealedBid(ctx context.Context, id auction.ID, bidder common.Address) (
	*auction.RevealedBid, error) {
	return getRevealedBid(ctx, s.store, id, bidder)
}

func getRevealedBid(ctx context.Context, reader ds.Read, id auction.ID, bidder common.Address) (
	*auction.RevealedBid, error) {
	val, err := reader.Get(ctx, bidKey(id, bidder))
	if errors.Is(err, ds.ErrNotFound) {
		return nil, auction.ErrNotFound
	} else if err != nil {
		return nil, fmt.Errorf("getting bid: %v", err)
	}
	var rb auction.RevealedBid
	if err := decode(val, &rb); err != nil {
		return nil, fmt.Errorf("decoding bid: %v", err)
	}
	return &rb, nil
}

// ListRevealedBids returns all revealed bids of an auction, ordered by bidder.
func (s *Store) ListRevealedBids(ctx context.Context, id auction.ID) ([]auction.RevealedBid, error) {
	results, err := s.store.Query(ctx, dsq.Query{
		Prefix: dsBidPrefix.ChildString(string(id)).String(),
		Orders: []dsq.Order{dsq.OrderByKey{}},
	})
	if err != nil {
		return nil, fmt.Errorf("querying bids: %v", err)
	}
	defer func() { _ = results.Close() }()

	var list []auction.RevealedBid
	for res := range results.Next() {
		if res.Error != nil {
			return nil, fmt.Errorf("getting next result: %v", res.Error)
		}
		var rb auction.RevealedBid
		if err := decode(res.Value, &rb); err != nil {
			return nil, fmt.Errorf("decoding value: %v", err)
		}
		list = append(list, rb)
	}
	return list, nil
}

// FinalizeAuction moves an active auction to the finalized namespace with
// its terminal flags set. interact runs after the move is staged and before
// commit. Finalizing twice fails with ErrAlreadyFinalized.
func (s *Store) FinalizeAuction(ctx context.Context, a auction.Auction, interact func() error) error {
	if !a.Finalized || a.Cancelled || a.Status != auction.StatusFinalized {
		return errors.New("auction must carry finalized state")
	}

	txn, err := s.store.NewTransaction(ctx, false)
	if err != nil {
		return fmt.Errorf("creating txn: %v", err)
	}
	defer txn.Discard(ctx)

	if err := ensureActive(ctx, txn, a.ID); err != nil {
		return err
	}
	if err := txn.Delete(ctx, auctionKey(auction.StatusActive, a.ID)); err != nil {
		return fmt.Errorf("deleting active auction: %v", err)
	}
	if err := saveAuction(ctx, txn, &a); err != nil {
		return fmt.Errorf("saving auction: %v", err)
	}

	if interact != nil {
		if err := interact(); err != nil {
			return err
		}
	}
	if err := txn.Commit(ctx); err != nil {
		return fmt.Errorf("committing txn: %v", err)
	}

	log.Debugf("finalized auction %s", a.ID)
	return nil
}

// CancelAuction moves an active auction to the cancelled namespace with its
// cancelled flag set. Cancelling twice fails with ErrCancelled.
func (s *Store) CancelAuction(ctx context.Context, a auction.Auction) error {
	if !a.Cancelled || a.Finalized || a.Status != auction.StatusCancelled {
		return errors.New("auction must carry cancelled state")
	}

	txn, err := s.store.NewTransaction(ctx, false)
	if err != nil {
		return fmt.Errorf("creating txn: %v", err)
	}
	defer txn.Discard(ctx)

	if err := ensureActive(ctx, txn, a.ID); err != nil {
		return err
	}
	if err := txn.Delete(ctx, auctionKey(auction.StatusActive, a.ID)); err != nil {
		return fmt.Errorf("deleting active auction: %v", err)
	}
	if err := saveAuction(ctx, txn, &a); err != nil {
		return fmt.Errorf("saving auction: %v", err)
	}
	if err := txn.Commit(ctx); err != nil {
		return fmt.Errorf("committing txn: %v", err)
	}

	log.Debugf("cancelled auction %s", a.ID)
	return nil
}

func ensureActive(ctx context.Context, reader ds.Read, id auction.ID) error {
	exists, err := reader.Has(ctx, auctionKey(auction.StatusActive, id))
	if err != nil {
		return fmt.Errorf("checking active auction: %v", err)
	}
	if exists {
		return nil
	}
	if exists, err = reader.Has(ctx, auctionKey(auction.StatusFinalized, id)); err != nil {
		return fmt.Errorf("checking finalized auction: %v", err)
	} else if exists {
		return auction.ErrAlreadyFinalized
	}
	if exists, err = reader.Has(ctx, auctionKey(auction.StatusCancelled, id)); err != nil {
		return fmt.Errorf("checking cancelled auction: %v", err)
	} else if exists {
		return auction.ErrCancelled
	}
	return auction.ErrNotFound
}

// SaveRefund marks a revealed bid refunded. interact receives the stored bid
// once the flag is staged and runs before commit; if it errors the refund
// stays claimable. A second refund fails with ErrNothingToRefund.
func (s *Store) SaveRefund(
	ctx context.Context,
	id auction.ID,
	bidder common.Address,
	interact func(auction.RevealedBid) error) error {
	txn, err := s.store.NewTransaction(ctx, false)
	if err != nil {
		return fmt.Errorf("creating txn: %v", err)
	}
	defer txn.Discard(ctx)

	rb, err := getRevealedBid(ctx, txn, id, bidder)
	if errors.Is(err, auction.ErrNotFound) {
		return auction.ErrNothingToRefund
	} else if err != nil {
		return err
	}
	if rb.Refunded {
		return auction.ErrNothingToRefund
	}

	rb.Refunded = true
	val, err := encode(rb)
	if err != nil {
		return fmt.Errorf("encoding bid: %v", err)
	}
	if err := txn.Put(ctx, bidKey(id, bidder), val); err != nil {
		return fmt.Errorf("putting bid: %v", err)
	}

	if interact != nil {
		if err := interact(*rb); err != nil {
			return err
		}
	}
	if err := txn.Commit(ctx); err != nil {
		return fmt.Errorf("committing txn: %v", err)
	}

	log.Debugf("refunded %s for auction %s", bidder, id)
	return nil
}

func saveAuction(ctx context.Context, writer ds.Write, a *auction.Auction) error {
	a.UpdatedAt = time.Now()
	val, err := encode(a)
	if err != nil {
		return fmt.Errorf("encoding auction: %v", err)
	}
	if err := writer.Put(ctx, auctionKey(a.Status, a.ID), val); err != nil {
		return fmt.Errorf("putting auction: %v", err)
	}
	return nil
}

func auctionKey(status auction.Status, id auction.ID) ds.Key {
	return dsAuctionPrefix.ChildString(status.String()).ChildString(string(id))
}

func commitmentKey(id auction.ID, bidder common.Address) ds.Key {
	return dsCommitmentPrefix.ChildString(string(id)).ChildString(addrKey(bidder))
}

func bidKey(id auction.ID, bidder common.Address) ds.Key {
	return dsBidPrefix.ChildString(string(id)).ChildString(addrKey(bidder))
}

func addrKey(addr common.Address) string {
	return strings.ToLower(addr.Hex())
}

func encode(v interface{}) ([]byte, error) {
	var buf bytes.Buffer
	if err := gob.NewEncoder(&buf).Encode(v); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func decode(v []byte, out interface{}) error {
	return gob.NewDecoder(bytes.NewReader(v)).Decode(out)
}
