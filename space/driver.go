package space

import (
	"context"

	"pkt.systems/spacedock/schema"
)

// driver owns lifecycle and action logic for one tab kind. Adding a tab kind
// means implementing this and registering it in the runtime's driver table.
type driver interface {
	kind() schema.TabKind
	// sleep releases the driver's live resources. Must be safe to call when
	// nothing was ever initialized.
	sleep(ctx context.Context)
}
