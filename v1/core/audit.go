package core

import (
	"context"
	"fmt"

	"github.com/mirkobrombin/go-gracelock/v1/audit"
	gerrors "github.com/mirkobrombin/go-gracelock/v1/errors"
	"github.com/mirkobrombin/go-gracelock/v1/identity"
)

// AuditPage is one page of the audit viewer.
type AuditPage struct {
	Entries []audit.Entry
	Total   int
}

// AuditLog lists audit entries, newest first.
func (t *Tracker) AuditLog(ctx context.Context, q audit.Query) (AuditPage, error) {
	if err := identity.Require(t.ident.Tier().CanViewAudit(), "view audit log"); err != nil {
		return AuditPage{}, err
	}
	if t.auditReader == nil {
		return AuditPage{}, fmt.Errorf("audit log: no reader configured: %w", gerrors.ErrNotFound)
	}
	if q.Limit <= 0 {
		q.Limit = audit.DefaultPageSize
	}
	entries, total, err := t.auditReader.List(ctx, q)
	if err != nil {
		return AuditPage{}, fmt.Errorf("audit log: %w: %w", gerrors.ErrPersistence, err)
	}
	return AuditPage{Entries: entries, Total: total}, nil
}
