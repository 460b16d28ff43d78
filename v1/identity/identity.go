// Package identity exposes the signed-in user and the permission tier the
// tracker gates its actions on.
package identity

import (
	"fmt"

	gerrors "github.com/mirkobrombin/go-gracelock/v1/errors"
)

// Tier is a permission level; lower is more privileged.
type Tier int

const (
	TierAdmin Tier = iota
	TierEditor
	TierOperator
	TierViewer
)

func (t Tier) String() string {
	switch t {
	case TierAdmin:
		return "admin"
	case TierEditor:
		return "editor"
	case TierOperator:
		return "operator"
	case TierViewer:
		return "viewer"
	}
	return fmt.Sprintf("tier(%d)", int(t))
}

// CanEdit reports whether cell edits and colour changes are allowed.
func (t Tier) CanEdit() bool { return t <= TierEditor }

// CanImport reports whether spreadsheet imports are allowed.
func (t Tier) CanImport() bool { return t == TierAdmin }

// CanLockOnImport reports whether imports may lock the imported cells.
func (t Tier) CanLockOnImport() bool { return t == TierAdmin }

// CanViewAudit reports whether the audit log is visible.
func (t Tier) CanViewAudit() bool { return t <= TierEditor }

// CanDuplicate reports whether rows may be duplicated.
func (t Tier) CanDuplicate() bool { return t <= TierOperator }

// CanDelete reports whether rows may be deleted.
func (t Tier) CanDelete() bool { return t <= TierEditor }

// Provider supplies the current identity.
type Provider interface {
	CurrentUser() string
	Tier() Tier
}

// Static is a fixed identity.
type Static struct {
	User  string
	Level Tier
}

func (s Static) CurrentUser() string { return s.User }
func (s Static) Tier() Tier          { return s.Level }

// Require returns errors.ErrForbidden unless allowed.
func Require(allowed bool, action string) error {
	if allowed {
		return nil
	}
	return fmt.Errorf("%s: %w", action, gerrors.ErrForbidden)
}
