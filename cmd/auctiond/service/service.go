package service

import (
	"context"
	"path/filepath"
	"time"

	"github.com/textileio/auction-core/cmd/auctiond/auctionhouse"
	"github.com/textileio/auction-core/cmd/auctiond/httpapi"
	"github.com/textileio/auction-core/cmd/auctiond/service/store"
	"github.com/textileio/auction-core/dshelper"
	"github.com/textileio/auction-core/finalizer"
	"github.com/textileio/auction-core/msgbroker"
	"github.com/textileio/auction-core/tokenclient"
	golog "github.com/textileio/go-log/v2"
)

var log = golog.Logger("auctiond/service")

// Config defines params for Service configuration.
type Config struct {
	HTTPListenAddr string
	RepoPath       string
	FinalizeGrace  time.Duration
}

// Service wires the auction house to its store and http api.
type Service struct {
	house     *auctionhouse.AuctionHouse
	finalizer *finalizer.Finalizer
}

var _ httpapi.Service = (*auctionhouse.AuctionHouse)(nil)

// New returns a new Service. The message broker and token client are
// managed (and closed) by the caller.
func New(conf Config, mb msgbroker.MsgBroker, token tokenclient.TokenClient) (*Service, error) {
	fin := finalizer.NewFinalizer()

	ds, err := dshelper.NewBadgerTxnDatastore(filepath.Join(conf.RepoPath, "auctionstore"))
	if err != nil {
		return nil, fin.Cleanupf("creating repo: %v", err)
	}
	fin.Add(ds)

	house, err := auctionhouse.New(store.NewStore(ds), token, mb, auctionhouse.Config{
		FinalizeGrace: conf.FinalizeGrace,
	})
	if err != nil {
		return nil, fin.Cleanupf("creating auction house: %v", err)
	}
	fin.Add(house)

	server, err := httpapi.NewServer(conf.HTTPListenAddr, house)
	if err != nil {
		return nil, fin.Cleanupf("creating http server: %v", err)
	}
	fin.AddFn(func() {
		ctx, cancel := context.WithTimeout(context.Background(), time.Second*10)
		defer cancel()
		if err := server.Shutdown(ctx); err != nil {
			log.Errorf("shutting down http server: %s", err)
		}
	})

	log.Info("service started")
	return &Service{house: house, finalizer: fin}, nil
}

// House returns the underlying auction house.
func (s *Service) House() *auctionhouse.AuctionHouse {
	return s.house
}

// Close the service.
func (s *Service) Close() error {
	defer log.Info("service was shutdown")
	return s.finalizer.Cleanup(nil)
}
