package session

import "slices"

// HasPermission reports whether the identity holds permission. Admins hold
// every permission; everyone else needs the exact token.
func (i *Identity) HasPermission(permission string) bool {
	if i == nil {
		return false
	}
	if i.Role == RoleAdmin {
		return true
	}
	return slices.Contains(i.Permissions, permission)
}

// HasAnyPermission reports whether at least one of permissions is held.
func (i *Identity) HasAnyPermission(permissions ...string) bool {
	for _, p := range permissions {
		if i.HasPermission(p) {
			return true
		}
	}
	return false
}

func (i *Identity) HasRole(roles ...string) bool {
	if i == nil {
		return false
	}
	return slices.Contains(roles, i.Role)
}

// HasPermission checks the cached identity. Without an identity nothing is
// permitted.
func (s *Store) HasPermission(permission string) bool {
	identity, _ := s.Identity()
	return identity.HasPermission(permission)
}

func (s *Store) HasAnyPermission(permissions ...string) bool {
	identity, _ := s.Identity()
	return identity.HasAnyPermission(permissions...)
}

func (s *Store) HasRole(roles ...string) bool {
	identity, _ := s.Identity()
	return identity.HasRole(roles...)
}
