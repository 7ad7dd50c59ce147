package policy

import (
	"context"
	"errors"
	"testing"
)

func TestRegistryRegisterAndFreeze(t *testing.T) {
	r := NewRegistry()
	if err := r.Register("client", "read", "update"); err != nil {
		t.Fatalf("register: %v", err)
	}
	if err := r.Register("client", "delete"); err != nil {
		t.Fatalf("extend: %v", err)
	}
	if got := r.Actions("client"); len(got) != 3 || got[0] != "delete" || got[2] != "update" {
		t.Fatalf("unexpected actions: %v", got)
	}
	if err := r.Register("", "read"); err == nil {
		t.Fatalf("expected empty resource to fail")
	}
	if err := r.Register("billing"); err == nil {
		t.Fatalf("expected resource without actions to fail")
	}

	r.Freeze()
	if !r.Frozen() {
		t.Fatalf("expected frozen registry")
	}
	if err := r.Register("billing", "read"); !errors.Is(err, ErrRegistryFrozen) {
		t.Fatalf("expected ErrRegistryFrozen, got %v", err)
	}
	if r.Count() != 1 || !r.Known("client") || r.Known("billing") {
		t.Fatalf("unexpected registry contents")
	}
}

func TestRegistryValidateRole(t *testing.T) {
	r := DefaultRegistry()

	for _, role := range DefaultRoles() {
		role := role
		if err := r.ValidateRole(&role); err != nil {
			t.Fatalf("default role %q invalid: %v", role.Name, err)
		}
	}

	bad := Role{ID: "r-1", Name: "Bad", Permissions: []Permission{{Name: "x", Resource: "pharmacy", Actions: []string{"read"}}}}
	if err := r.ValidateRole(&bad); !errors.Is(err, ErrUnknownResource) {
		t.Fatalf("expected ErrUnknownResource, got %v", err)
	}

	bad.Permissions[0].Resource = ResourceReports
	bad.Permissions[0].Actions = []string{ActionDelete}
	if err := r.ValidateRole(&bad); !errors.Is(err, ErrUnknownAction) {
		t.Fatalf("expected ErrUnknownAction, got %v", err)
	}

	bad.Permissions[0].Actions = nil
	if err := r.ValidateRole(&bad); !errors.Is(err, ErrInvalidRole) {
		t.Fatalf("expected ErrInvalidRole, got %v", err)
	}

	if err := r.ValidateRole(&Role{Name: "No ID"}); !errors.Is(err, ErrInvalidRole) {
		t.Fatalf("expected ErrInvalidRole for missing id, got %v", err)
	}
}

func TestMemoryRepositoryAssign(t *testing.T) {
	repo := NewMemoryRepository(DefaultRegistry())
	if err := SeedDefaults(repo); err != nil {
		t.Fatalf("seed: %v", err)
	}
	roleID := CatalogID("role", RoleTherapist)

	first, err := repo.Assign(UserRole{UserID: "u-1", RoleID: roleID})
	if err != nil {
		t.Fatalf("assign: %v", err)
	}
	if first.ID == "" || !first.Active {
		t.Fatalf("unexpected assignment: %+v", first)
	}
	if _, err := repo.Assign(UserRole{UserID: "u-1", RoleID: roleID}); !errors.Is(err, ErrDuplicateAssignment) {
		t.Fatalf("expected ErrDuplicateAssignment, got %v", err)
	}
	if _, err := repo.Assign(UserRole{UserID: "u-1", RoleID: "missing"}); !errors.Is(err, ErrRoleNotFound) {
		t.Fatalf("expected ErrRoleNotFound, got %v", err)
	}

	if err := repo.Revoke("u-1", roleID); err != nil {
		t.Fatalf("revoke: %v", err)
	}
	again, err := repo.Assign(UserRole{UserID: "u-1", RoleID: roleID})
	if err != nil {
		t.Fatalf("reassign after revoke: %v", err)
	}
	if again.ID != first.ID {
		t.Fatalf("expected reassignment to reuse id %q, got %q", first.ID, again.ID)
	}
	if err := repo.Revoke("u-9", roleID); !errors.Is(err, ErrAssignmentNotFound) {
		t.Fatalf("expected ErrAssignmentNotFound, got %v", err)
	}
}

func TestMemoryRepositoryReturnsSnapshots(t *testing.T) {
	repo := NewMemoryRepository(nil)
	if err := SeedDefaults(repo); err != nil {
		t.Fatalf("seed: %v", err)
	}
	id := CatalogID("role", RoleBillingSpecialist)

	role, err := repo.GetRoleWithPermissions(context.Background(), id)
	if err != nil {
		t.Fatalf("get role: %v", err)
	}
	role.Permissions[0].Actions[0] = "delete"

	fresh, _ := repo.GetRoleWithPermissions(context.Background(), id)
	if fresh.Permissions[0].Actions[0] != ActionCreate {
		t.Fatalf("repository snapshot was mutated through a caller copy")
	}
}

func TestCatalogIDStable(t *testing.T) {
	if CatalogID("role", RoleTherapist) != CatalogID("role", RoleTherapist) {
		t.Fatalf("catalog id must be deterministic")
	}
	if CatalogID("role", RoleTherapist) == CatalogID("permission", RoleTherapist) {
		t.Fatalf("catalog id must depend on kind")
	}
}
