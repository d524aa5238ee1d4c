// Package ledger reads subject status from the CharonSwitch contract.
package ledger

import (
	"context"

	"github.com/charon-estate/charond/internal/model"
)

// Client is the read-only ledger surface the pipeline consumes: the chain
// height, StatusChanged events in a block range, and the per-subject user
// info view. A single Client is shared by the watcher and the unsealer.
type Client interface {
	Height(ctx context.Context) (uint64, error)
	StatusChanges(ctx context.Context, fromBlock, toBlock uint64) ([]model.StatusChangeEvent, error)
	UserInfo(ctx context.Context, subject string) (model.UserInfo, error)
}
