package client

import (
	"context"
	"fmt"
	"strings"

	"github.com/dataflowhq/control-plane/internal/models"
)

func pgIdent(name string) string {
	return `"` + strings.ReplaceAll(name, `"`, ``) + `"`
}

// SourceAdmin runs replication housekeeping against the source database.
// Connections are short-lived; each call opens and closes its own pool.
type SourceAdmin struct{}

// DropReplicationSlot removes the pipeline's logical replication slot. A
// missing slot is success so retried teardowns converge.
func (SourceAdmin) DropReplicationSlot(ctx context.Context, secret models.SourceSecret, slot string) error {
	pool, err := OpenSource(ctx, secret)
	if err != nil {
		return fmt.Errorf("connect for slot teardown: %w", err)
	}
	defer pool.Close()

	_, err = pool.Exec(ctx,
		`SELECT pg_drop_replication_slot(slot_name) FROM pg_replication_slots WHERE slot_name = $1`, slot)
	if err != nil {
		return fmt.Errorf("drop replication slot %s: %w", slot, err)
	}
	return nil
}

// DropPublication removes the pipeline's publication.
func (SourceAdmin) DropPublication(ctx context.Context, secret models.SourceSecret, name string) error {
	pool, err := OpenSource(ctx, secret)
	if err != nil {
		return fmt.Errorf("connect for publication teardown: %w", err)
	}
	defer pool.Close()

	if _, err := pool.Exec(ctx, fmt.Sprintf(`DROP PUBLICATION IF EXISTS %s`, pgIdent(name))); err != nil {
		return fmt.Errorf("drop publication %s: %w", name, err)
	}
	return nil
}
