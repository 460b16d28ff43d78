package identity

import (
	"errors"
	"testing"

	gerrors "github.com/mirkobrombin/go-gracelock/v1/errors"
)

func TestTierGates(t *testing.T) {
	cases := []struct {
		tier                                      Tier
		edit, lockImport, audit, duplicate, erase bool
	}{
		{TierAdmin, true, true, true, true, true},
		{TierEditor, true, false, true, true, true},
		{TierOperator, false, false, false, true, false},
		{TierViewer, false, false, false, false, false},
	}
	for _, c := range cases {
		if c.tier.CanEdit() != c.edit || c.tier.CanLockOnImport() != c.lockImport ||
			c.tier.CanViewAudit() != c.audit || c.tier.CanDuplicate() != c.duplicate ||
			c.tier.CanDelete() != c.erase || c.tier.CanImport() != c.lockImport {
			t.Fatalf("unexpected gates for %s", c.tier)
		}
	}
}

func TestRequire(t *testing.T) {
	if err := Require(true, "edit"); err != nil {
		t.Fatalf("unexpected error %v", err)
	}
	if err := Require(false, "edit"); !errors.Is(err, gerrors.ErrForbidden) {
		t.Fatalf("expected ErrForbidden, got %v", err)
	}
	var p Provider = Static{User: "qa@example.com", Level: TierEditor}
	if p.CurrentUser() != "qa@example.com" || p.Tier() != TierEditor {
		t.Fatal("static provider mismatch")
	}
}
