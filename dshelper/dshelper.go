package dshelper

import (
	"fmt"
	"os"

	"github.com/textileio/auction-core/dshelper/txndswrap"
	badger "github.com/textileio/go-ds-badger3"
)

// NewBadgerTxnDatastore returns a badger-backed transactional datastore
// rooted at repoPath, creating the directory if needed.
func NewBadgerTxnDatastore(repoPath string) (txndswrap.TxnDatastore, error) {
	if err := os.MkdirAll(repoPath, os.ModePerm); err != nil {
		return nil, fmt.Errorf("making dir: %v", err)
	}
	ds, err := badger.NewDatastore(repoPath, &badger.DefaultOptions)
	if err != nil {
		return nil, fmt.Errorf("creating badger datastore: %v", err)
	}
	return ds, nil
}
