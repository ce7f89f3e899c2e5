package txndswrap

import (
	ds "github.com/ipfs/go-datastore"
	dsextensions "github.com/textileio/go-datastore-extensions"
)

// TxnDatastore is a transactional datastore with seekable prefix queries.
type TxnDatastore interface {
	ds.TxnDatastore
	dsextensions.DatastoreExtensions
}
