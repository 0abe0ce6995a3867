// Package sod enforces static and dynamic separation-of-duty cardinality
// constraints. SSD is checked before an assignment edge commits, DSD before
// a role enters a session's active set. Membership is flat: only directly
// assigned or directly activated roles count, never hierarchy-inherited
// ones.
package sod

import (
	"context"

	"github.com/sentra-iam/sentra/internal/directory"
	"github.com/sentra-iam/sentra/internal/shared"
)

// StorePort is the slice of the directory store the validator reads.
type StorePort interface {
	SDSetsContaining(ctx context.Context, kind directory.SDKind, role string) ([]directory.SDSet, error)
}

// Validator evaluates SD constraints against the store.
type Validator struct {
	store StorePort
}

// NewValidator builds a Validator.
func NewValidator(store StorePort) *Validator {
	return &Validator{store: store}
}

// ValidateCardinality rejects cardinalities below two. A set with
// cardinality one would forbid every member from ever being assigned; that
// is permitted but must be stated explicitly by the administrator, not
// produced by accident.
func ValidateCardinality(n int) error {
	if n < 2 {
		return shared.Errorf(shared.CodeSDSetCardinality, shared.KindValidation, "sd set cardinality must be >= 2, got %d", n)
	}
	return nil
}

// CheckSSDAssign fails when assigning role to a user already holding
// assigned roles would exceed any containing SSD set's bound. It is called
// inside the store's assign transaction with the committed assignment list.
func (v *Validator) CheckSSDAssign(ctx context.Context, role string, assigned []directory.Assignment) error {
	sets, err := v.store.SDSetsContaining(ctx, directory.SSD, role)
	if err != nil {
		return err
	}
	held := make([]string, 0, len(assigned))
	for _, a := range assigned {
		if !a.Admin {
			held = append(held, a.Role)
		}
	}
	return CheckSSD(sets, held, role)
}

// CheckDSDActivate fails when activating role in a session whose active set
// already contains enough members of a containing DSD set.
func (v *Validator) CheckDSDActivate(ctx context.Context, role string, active []string) error {
	sets, err := v.store.SDSetsContaining(ctx, directory.DSD, role)
	if err != nil {
		return err
	}
	return CheckDSD(sets, active, role)
}

// CheckSSD is the pure SSD rule: for every SSD set containing role, at most
// cardinality-1 member roles may be assigned to one user.
func CheckSSD(sets []directory.SDSet, assigned []string, role string) error {
	for _, set := range sets {
		if set.Kind != directory.SSD || !set.HasMember(role) {
			continue
		}
		if exceeds(set, assigned, role) {
			return shared.Errorf(shared.CodeSsdValidationFailed, shared.KindConstraint,
				"assigning role %q violates ssd set %q (cardinality %d)", role, set.Name, set.Cardinality)
		}
	}
	return nil
}

// CheckDSD is the pure DSD rule, mirroring CheckSSD over a session's active
// set.
func CheckDSD(sets []directory.SDSet, active []string, role string) error {
	for _, set := range sets {
		if set.Kind != directory.DSD || !set.HasMember(role) {
			continue
		}
		if exceeds(set, active, role) {
			return shared.Errorf(shared.CodeDsdValidationFailed, shared.KindConstraint,
				"activating role %q violates dsd set %q (cardinality %d)", role, set.Name, set.Cardinality)
		}
	}
	return nil
}

func exceeds(set directory.SDSet, held []string, role string) bool {
	count := 0
	for _, h := range held {
		if h == role {
			continue // re-adding a held role cannot change the count
		}
		if set.HasMember(h) {
			count++
		}
	}
	return count+1 > set.Cardinality-1
}
