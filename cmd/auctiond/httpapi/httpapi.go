package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math/big"
	"net/http"
	"strconv"
	"strings"
	"time"

	ethcommon "github.com/ethereum/go-ethereum/common"
	"github.com/textileio/auction-core/auction"
	"github.com/textileio/auction-core/cmd/auctiond/service/store"
	"github.com/textileio/auction-core/common"
	golog "github.com/textileio/go-log/v2"
)

var log = golog.Logger("auctiond/api")

// Service provides scoped access to the auction house.
type Service interface {
	CreateAuction(ctx context.Context, a auction.Auction) (auction.ID, error)
	GetAuction(ctx context.Context, id auction.ID) (*auction.Auction, error)
	ListAuctions(ctx context.Context, query store.Query) ([]auction.Auction, error)
	GetCommitment(ctx context.Context, id auction.ID, bidder ethcommon.Address) (*auction.Commitment, error)
	CommitBid(ctx context.Context, id auction.ID, bidder ethcommon.Address, commitment ethcommon.Hash) error
	RevealBid(ctx context.Context, id auction.ID, bidder ethcommon.Address, amount *big.Int, secret auction.Secret) error
	Finalize(ctx context.Context, id auction.ID, caller ethcommon.Address) error
	Cancel(ctx context.Context, id auction.ID, caller ethcommon.Address) error
	WithdrawRefund(ctx context.Context, id auction.ID, caller ethcommon.Address) error
	HighestBid(ctx context.Context, id auction.ID) (ethcommon.Address, *big.Int, error)
}

// NewServer returns a new http server exposing the auction house.
func NewServer(listenAddr string, service Service) (*http.Server, error) {
	httpServer := &http.Server{
		Addr:    listenAddr,
		Handler: createMux(service),
	}

	go func() {
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Errorf("stopping http server: %s", err)
		}
	}()

	log.Infof("http server started at %s", listenAddr)
	return httpServer, nil
}

func createMux(service Service) *http.ServeMux {
	mux := http.NewServeMux()
	mux.HandleFunc("/health", healthHandler)
	auctions := auctionsHandler(service)
	mux.HandleFunc("/auctions", auctions)
	mux.HandleFunc("/auctions/", auctions)
	return mux
}

func healthHandler(w http.ResponseWriter, _ *http.Request) {
	w.WriteHeader(http.StatusOK)
}

func auctionsHandler(service Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		parts := strings.Split(strings.Trim(r.URL.Path, "/"), "/")
		switch {
		case len(parts) == 1:
			switch r.Method {
			case http.MethodPost:
				createAuction(w, r, service)
			case http.MethodGet:
				listAuctions(w, r, service)
			default:
				httpError(w, "method not allowed", http.StatusBadRequest)
			}
		case len(parts) == 2:
			if !getOnly(w, r) {
				return
			}
			getAuction(w, r, service, auction.ID(parts[1]))
		case len(parts) == 3:
			id := auction.ID(parts[1])
			switch parts[2] {
			case "highest-bid":
				if !getOnly(w, r) {
					return
				}
				highestBid(w, r, service, id)
			case "commit":
				if !postOnly(w, r) {
					return
				}
				commitBid(w, r, service, id)
			case "reveal":
				if !postOnly(w, r) {
					return
				}
				revealBid(w, r, service, id)
			case "finalize":
				if !postOnly(w, r) {
					return
				}
				callerAction(w, r, id, service.Finalize)
			case "cancel":
				if !postOnly(w, r) {
					return
				}
				callerAction(w, r, id, service.Cancel)
			case "refund":
				if !postOnly(w, r) {
					return
				}
				callerAction(w, r, id, service.WithdrawRefund)
			default:
				httpError(w, "unknown action", http.StatusNotFound)
			}
		case len(parts) == 4 && parts[2] == "commitments":
			if !getOnly(w, r) {
				return
			}
			getCommitment(w, r, service, auction.ID(parts[1]), parts[3])
		default:
			httpError(w, "not found", http.StatusNotFound)
		}
	}
}

func getOnly(w http.ResponseWriter, r *http.Request) bool {
	if r.Method != http.MethodGet {
		httpError(w, "only GET method is allowed", http.StatusBadRequest)
		return false
	}
	return true
}

func postOnly(w http.ResponseWriter, r *http.Request) bool {
	if r.Method != http.MethodPost {
		httpError(w, "only POST method is allowed", http.StatusBadRequest)
		return false
	}
	return true
}

type auctionJSON struct {
	ID              string    `json:"id"`
	Seller          string    `json:"seller"`
	AssetContract   string    `json:"asset_contract"`
	AssetID         string    `json:"asset_id"`
	PaymentToken    string    `json:"payment_token"`
	BiddingDeadline time.Time `json:"bidding_deadline"`
	RevealDeadline  time.Time `json:"reveal_deadline"`
	Status          string    `json:"status"`
	Phase           string    `json:"phase"`
	HasEnded        bool      `json:"has_ended"`
	IsFinalized     bool      `json:"is_finalized"`
	IsCancelled     bool      `json:"is_cancelled"`
	HighestBidder   string    `json:"highest_bidder"`
	HighestBid      string    `json:"highest_bid"`
	CreatedAt       time.Time `json:"created_at"`
	UpdatedAt       time.Time `json:"updated_at"`
}

func toAuctionJSON(a auction.Auction) auctionJSON {
	now := time.Now()
	highest := "0"
	if a.HighestBid != nil {
		highest = a.HighestBid.String()
	}
	return auctionJSON{
		ID:              string(a.ID),
		Seller:          a.Seller.Hex(),
		AssetContract:   a.AssetContract.Hex(),
		AssetID:         a.AssetID.String(),
		PaymentToken:    a.PaymentToken.Hex(),
		BiddingDeadline: a.BiddingDeadline,
		RevealDeadline:  a.RevealDeadline,
		Status:          a.Status.String(),
		Phase:           a.PhaseAt(now).String(),
		HasEnded:        a.HasEnded(now),
		IsFinalized:     a.Finalized,
		IsCancelled:     a.Cancelled,
		HighestBidder:   a.HighestBidder.Hex(),
		HighestBid:      highest,
		CreatedAt:       a.CreatedAt,
		UpdatedAt:       a.UpdatedAt,
	}
}

func createAuction(w http.ResponseWriter, r *http.Request, service Service) {
	var req struct {
		ID              string    `json:"id"`
		Seller          string    `json:"seller"`
		AssetContract   string    `json:"asset_contract"`
		AssetID         string    `json:"asset_id"`
		PaymentToken    string    `json:"payment_token"`
		BiddingDeadline time.Time `json:"bidding_deadline"`
		RevealDeadline  time.Time `json:"reveal_deadline"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		httpError(w, fmt.Sprintf("decoding request: %s", err), http.StatusBadRequest)
		return
	}
	seller, err := common.ParseAddress(req.Seller)
	if err != nil {
		httpError(w, fmt.Sprintf("parsing seller: %s", err), http.StatusBadRequest)
		return
	}
	assetContract, err := common.ParseAddress(req.AssetContract)
	if err != nil {
		httpError(w, fmt.Sprintf("parsing asset contract: %s", err), http.StatusBadRequest)
		return
	}
	paymentToken, err := common.ParseAddress(req.PaymentToken)
	if err != nil {
		httpError(w, fmt.Sprintf("parsing payment token: %s", err), http.StatusBadRequest)
		return
	}
	assetID, err := parseAmount(req.AssetID)
	if err != nil {
		httpError(w, fmt.Sprintf("parsing asset id: %s", err), http.StatusBadRequest)
		return
	}

	id, err := service.CreateAuction(r.Context(), auction.Auction{
		ID:              auction.ID(req.ID),
		Seller:          seller,
		AssetContract:   assetContract,
		AssetID:         assetID,
		PaymentToken:    paymentToken,
		BiddingDeadline: req.BiddingDeadline,
		RevealDeadline:  req.RevealDeadline,
	})
	if err != nil {
		serviceError(w, "creating auction", err)
		return
	}
	writeJSON(w, struct {
		ID string `json:"id"`
	}{ID: string(id)})
}

func listAuctions(w http.ResponseWriter, r *http.Request, service Service) {
	query := store.Query{Offset: r.URL.Query().Get("offset")}
	if s := r.URL.Query().Get("status"); s != "" {
		status, err := auction.ParseStatus(s)
		if err != nil {
			httpError(w, err.Error(), http.StatusBadRequest)
			return
		}
		query.Status = status
	}
	if l := r.URL.Query().Get("limit"); l != "" {
		limit, err := strconv.Atoi(l)
		if err != nil {
			httpError(w, fmt.Sprintf("parsing limit: %s", err), http.StatusBadRequest)
			return
		}
		query.Limit = limit
	}

	list, err := service.ListAuctions(r.Context(), query)
	if err != nil {
		serviceError(w, "listing auctions", err)
		return
	}
	res := make([]auctionJSON, len(list))
	for i, a := range list {
		res[i] = toAuctionJSON(a)
	}
	writeJSON(w, res)
}

func getAuction(w http.ResponseWriter, r *http.Request, service Service, id auction.ID) {
	a, err := service.GetAuction(r.Context(), id)
	if err != nil {
		serviceError(w, "getting auction", err)
		return
	}
	writeJSON(w, toAuctionJSON(*a))
}

func highestBid(w http.ResponseWriter, r *http.Request, service Service, id auction.ID) {
	bidder, amount, err := service.HighestBid(r.Context(), id)
	if err != nil {
		serviceError(w, "getting highest bid", err)
		return
	}
	a, err := service.GetAuction(r.Context(), id)
	if err != nil {
		serviceError(w, "getting auction", err)
		return
	}
	now := time.Now()
	writeJSON(w, struct {
		HighestBidder string `json:"highest_bidder"`
		HighestBid    string `json:"highest_bid"`
		HasEnded      bool   `json:"has_ended"`
		IsFinalized   bool   `json:"is_finalized"`
	}{
		HighestBidder: bidder.Hex(),
		HighestBid:    amount.String(),
		HasEnded:      a.HasEnded(now),
		IsFinalized:   a.Finalized,
	})
}

func getCommitment(w http.ResponseWriter, r *http.Request, service Service, id auction.ID, addr string) {
	bidder, err := common.ParseAddress(addr)
	if err != nil {
		httpError(w, fmt.Sprintf("parsing bidder: %s", err), http.StatusBadRequest)
		return
	}
	c, err := service.GetCommitment(r.Context(), id, bidder)
	if err != nil {
		serviceError(w, "getting commitment", err)
		return
	}
	writeJSON(w, struct {
		Bidder     string    `json:"bidder"`
		Commitment string    `json:"commitment"`
		Revealed   bool      `json:"revealed"`
		CreatedAt  time.Time `json:"created_at"`
	}{
		Bidder:     c.Bidder.Hex(),
		Commitment: c.Hash.Hex(),
		Revealed:   c.Revealed,
		CreatedAt:  c.CreatedAt,
	})
}

func commitBid(w http.ResponseWriter, r *http.Request, service Service, id auction.ID) {
	var req struct {
		Bidder     string `json:"bidder"`
		Commitment string `json:"commitment"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		httpError(w, fmt.Sprintf("decoding request: %s", err), http.StatusBadRequest)
		return
	}
	bidder, err := common.ParseAddress(req.Bidder)
	if err != nil {
		httpError(w, fmt.Sprintf("parsing bidder: %s", err), http.StatusBadRequest)
		return
	}
	commitment, err := common.ParseHash(req.Commitment)
	if err != nil {
		httpError(w, fmt.Sprintf("parsing commitment: %s", err), http.StatusBadRequest)
		return
	}
	if err := service.CommitBid(r.Context(), id, bidder, commitment); err != nil {
		serviceError(w, "committing bid", err)
		return
	}
	w.WriteHeader(http.StatusOK)
}

func revealBid(w http.ResponseWriter, r *http.Request, service Service, id auction.ID) {
	var req struct {
		Bidder string `json:"bidder"`
		Amount string `json:"amount"`
		Secret string `json:"secret"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		httpError(w, fmt.Sprintf("decoding request: %s", err), http.StatusBadRequest)
		return
	}
	bidder, err := common.ParseAddress(req.Bidder)
	if err != nil {
		httpError(w, fmt.Sprintf("parsing bidder: %s", err), http.StatusBadRequest)
		return
	}
	amount, err := parseAmount(req.Amount)
	if err != nil {
		httpError(w, fmt.Sprintf("parsing amount: %s", err), http.StatusBadRequest)
		return
	}
	secret, err := auction.SecretFromHex(req.Secret)
	if err != nil {
		httpError(w, fmt.Sprintf("parsing secret: %s", err), http.StatusBadRequest)
		return
	}
	if err := service.RevealBid(r.Context(), id, bidder, amount, secret); err != nil {
		serviceError(w, "revealing bid", err)
		return
	}
	w.WriteHeader(http.StatusOK)
}

func callerAction(
	w http.ResponseWriter,
	r *http.Request,
	id auction.ID,
	action func(context.Context, auction.ID, ethcommon.Address) error) {
	var req struct {
		Caller string `json:"caller"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		httpError(w, fmt.Sprintf("decoding request: %s", err), http.StatusBadRequest)
		return
	}
	caller, err := common.ParseAddress(req.Caller)
	if err != nil {
		httpError(w, fmt.Sprintf("parsing caller: %s", err), http.StatusBadRequest)
		return
	}
	if err := action(r.Context(), id, caller); err != nil {
		serviceError(w, "running action", err)
		return
	}
	w.WriteHeader(http.StatusOK)
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

func writeJSON(w http.ResponseWriter, v interface{}) {
	data, err := json.Marshal(v)
	if err != nil {
		httpError(w, fmt.Sprintf("json encoding: %s", err), http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	if _, err := w.Write(data); err != nil {
		log.Errorf("write failed: %v", err)
	}
}

// serviceError maps domain failure reasons to http statuses.
func serviceError(w http.ResponseWriter, msg string, err error) {
	status := http.StatusInternalServerError
	switch {
	case errors.Is(err, auction.ErrNotFound) || errors.Is(err, auction.ErrNoCommitment):
		status = http.StatusNotFound
	case errors.Is(err, auction.ErrUnauthorized):
		status = http.StatusForbidden
	case errors.Is(err, auction.ErrWrongPhase),
		errors.Is(err, auction.ErrAlreadyInitialized),
		errors.Is(err, auction.ErrAlreadyCommitted),
		errors.Is(err, auction.ErrAlreadyRevealed),
		errors.Is(err, auction.ErrAlreadyFinalized),
		errors.Is(err, auction.ErrCancelled),
		errors.Is(err, auction.ErrNothingToRefund):
		status = http.StatusConflict
	case errors.Is(err, auction.ErrInvalidCommitment),
		errors.Is(err, auction.ErrCommitmentMismatch),
		errors.Is(err, auction.ErrZeroBid):
		status = http.StatusBadRequest
	case errors.Is(err, auction.ErrTransferFailed):
		status = http.StatusBadGateway
	}
	httpError(w, fmt.Sprintf("%s: %s", msg, err), status)
}

func httpError(w http.ResponseWriter, err string, status int) {
	log.Debugf("request error: %s", err)
	http.Error(w, err, status)
}
