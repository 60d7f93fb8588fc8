package requests

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// ErrUnknownRole is returned when assigning a role that does not exist.
var ErrUnknownRole = errors.New("unknown role")

// RoleStore is the role directory backed by the role_assignments table.
type RoleStore struct {
	db *gorm.DB
}

// NewRoleStore creates a new RoleStore.
func NewRoleStore(db *gorm.DB) *RoleStore {
	return &RoleStore{db: db}
}

func normalizeIdentity(address string) string {
	return strings.ToLower(strings.TrimSpace(address))
}

// ResolveIdentity maps a contact address to the identity key used for role
// lookups.
func (s *RoleStore) ResolveIdentity(_ context.Context, address string) (string, error) {
	id := normalizeIdentity(address)
	if id == "" {
		return "", fmt.Errorf("resolve identity: empty address")
	}
	return id, nil
}

// Assign grants role to person. Assigning a role twice is a no-op.
func (s *RoleStore) Assign(ctx context.Context, person Person, role Role) error {
	if !role.IsValid() {
		return fmt.Errorf("%w: %q", ErrUnknownRole, role)
	}
	identity := person.Identity()
	if identity == "" {
		return fmt.Errorf("assign role: identity is required")
	}
	rec := &RoleAssignmentRecord{
		ID:       uuid.New().String(),
		Identity: identity,
		Name:     person.Name,
		Email:    person.Email,
		Role:     string(role),
	}
	err := s.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "identity"}, {Name: "role"}},
		DoNothing: true,
	}).Create(rec).Error
	if err != nil {
		return fmt.Errorf("assign role: %w", err)
	}
	return nil
}

// Revoke removes role from identity. It returns ErrNotFound if the identity
// did not hold the role.
func (s *RoleStore) Revoke(ctx context.Context, identity string, role Role) error {
	res := s.db.WithContext(ctx).
		Where("identity = ? AND role = ?", normalizeIdentity(identity), string(role)).
		Delete(&RoleAssignmentRecord{})
	if res.Error != nil {
		return fmt.Errorf("revoke role: %w", res.Error)
	}
	if res.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}

// RolesFor returns the roles held by identity.
func (s *RoleStore) RolesFor(ctx context.Context, identity string) (RoleSet, error) {
	tags, err := s.RoleTags(ctx, identity)
	if err != nil {
		return nil, err
	}
	return RolesFromStrings(tags), nil
}

// RoleTags returns the raw role tags held by identity.
func (s *RoleStore) RoleTags(ctx context.Context, identity string) ([]string, error) {
	var tags []string
	err := s.db.WithContext(ctx).Model(&RoleAssignmentRecord{}).
		Where("identity = ?", normalizeIdentity(identity)).
		Order("role ASC").
		Pluck("role", &tags).Error
	if err != nil {
		return nil, fmt.Errorf("roles for %s: %w", identity, err)
	}
	return tags, nil
}

// AllRoleAssignments returns every identity with its roles, ordered by
// identity.
func (s *RoleStore) AllRoleAssignments(ctx context.Context) ([]RoleAssignment, error) {
	var records []RoleAssignmentRecord
	if err := s.db.WithContext(ctx).Order("identity ASC, role ASC").Find(&records).Error; err != nil {
		return nil, fmt.Errorf("list role assignments: %w", err)
	}

	byIdentity := map[string]*RoleAssignment{}
	var order []string
	for _, rec := range records {
		a, ok := byIdentity[rec.Identity]
		if !ok {
			a = &RoleAssignment{Identity: Person{ID: rec.Identity, Name: rec.Name, Email: rec.Email}}
			byIdentity[rec.Identity] = a
			order = append(order, rec.Identity)
		}
		a.Roles = append(a.Roles, Role(rec.Role))
	}
	sort.Strings(order)

	out := make([]RoleAssignment, 0, len(order))
	for _, id := range order {
		out = append(out, *byIdentity[id])
	}
	return out, nil
}

// Seed assigns every role in assignments. Existing grants are kept.
func (s *RoleStore) Seed(ctx context.Context, assignments []RoleAssignment) error {
	for _, a := range assignments {
		for _, role := range a.Roles {
			if err := s.Assign(ctx, a.Identity, role); err != nil {
				return fmt.Errorf("seed %s: %w", a.Identity.Identity(), err)
			}
		}
	}
	return nil
}
