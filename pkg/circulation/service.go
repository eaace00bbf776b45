// Package circulation owns the loan and reservation lifecycles and the
// copy-count bookkeeping they share. Every counter mutation happens through
// a guarded single-statement UPDATE inside a transaction, so two concurrent
// checkouts can never both take the last copy.
package circulation

import (
	"github.com/shelfmark/shelfmark/pkg/config"
	"github.com/uptrace/bun"
)

type Service struct {
	db  *bun.DB
	cfg *config.Config
}

func NewService(db *bun.DB, cfg *config.Config) *Service {
	return &Service{db, cfg}
}
