package sod

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/sentra-iam/sentra/internal/directory"
	"github.com/sentra-iam/sentra/internal/shared"
)

type fakeStore struct {
	sets []directory.SDSet
	err  error
}

func (f fakeStore) SDSetsContaining(_ context.Context, kind directory.SDKind, role string) ([]directory.SDSet, error) {
	if f.err != nil {
		return nil, f.err
	}
	var out []directory.SDSet
	for _, s := range f.sets {
		if s.Kind == kind && s.HasMember(role) {
			out = append(out, s)
		}
	}
	return out, nil
}

func ssdSet(name string, cardinality int, members ...string) directory.SDSet {
	return directory.SDSet{Name: name, Kind: directory.SSD, Members: members, Cardinality: cardinality}
}

func dsdSet(name string, cardinality int, members ...string) directory.SDSet {
	return directory.SDSet{Name: name, Kind: directory.DSD, Members: members, Cardinality: cardinality}
}

func TestCheckSSDAssign_CardinalityTwo(t *testing.T) {
	v := NewValidator(fakeStore{sets: []directory.SDSet{ssdSet("payments", 2, "r1", "r2", "r3")}})
	ctx := context.Background()

	// First member role: fine.
	require.NoError(t, v.CheckSSDAssign(ctx, "r1", nil))

	// Second member role for the same user: violates n-1 = 1.
	assigned := []directory.Assignment{{User: "u", Role: "r1"}}
	err := v.CheckSSDAssign(ctx, "r2", assigned)
	require.True(t, shared.HasCode(err, shared.CodeSsdValidationFailed), "got %v", err)
}

func TestCheckSSDAssign_IgnoresNonMembersAndAdminAssignments(t *testing.T) {
	v := NewValidator(fakeStore{sets: []directory.SDSet{ssdSet("payments", 2, "r1", "r2")}})
	ctx := context.Background()

	assigned := []directory.Assignment{
		{User: "u", Role: "unrelated"},
		{User: "u", Role: "r1", Admin: true}, // admin assignment, not a regular role
	}
	require.NoError(t, v.CheckSSDAssign(ctx, "r2", assigned))
}

func TestCheckSSD_CardinalityThreeAllowsTwoMembers(t *testing.T) {
	sets := []directory.SDSet{ssdSet("ledger", 3, "a", "b", "c")}

	require.NoError(t, CheckSSD(sets, []string{"a"}, "b"))
	err := CheckSSD(sets, []string{"a", "b"}, "c")
	require.True(t, shared.HasCode(err, shared.CodeSsdValidationFailed), "got %v", err)
}

func TestCheckDSDActivate(t *testing.T) {
	v := NewValidator(fakeStore{sets: []directory.SDSet{dsdSet("duty", 2, "r4", "r5")}})
	ctx := context.Background()

	require.NoError(t, v.CheckDSDActivate(ctx, "r4", nil))
	err := v.CheckDSDActivate(ctx, "r5", []string{"r4"})
	require.True(t, shared.HasCode(err, shared.CodeDsdValidationFailed), "got %v", err)

	// A fresh session may activate r5 on its own.
	require.NoError(t, v.CheckDSDActivate(ctx, "r5", nil))
}

func TestCheckDSD_ReactivationDoesNotDoubleCount(t *testing.T) {
	sets := []directory.SDSet{dsdSet("duty", 2, "r4", "r5")}
	require.NoError(t, CheckDSD(sets, []string{"r4"}, "r4"))
}

func TestValidateCardinality(t *testing.T) {
	require.NoError(t, ValidateCardinality(2))
	err := ValidateCardinality(1)
	require.True(t, shared.HasCode(err, shared.CodeSDSetCardinality), "got %v", err)
}

func TestHierarchyInheritedRolesDoNotCount(t *testing.T) {
	// "senior" is not a member of the set even though it might inherit a
	// member through the hierarchy; flat membership is the contract.
	sets := []directory.SDSet{ssdSet("payments", 2, "r1", "r2")}
	require.NoError(t, CheckSSD(sets, []string{"senior"}, "r1"))
}
