package auth

import (
	"context"
	"strings"
)

type Service struct {
	roles map[string]map[string]struct{}
}

func NewService(roles map[string][]string) *Service {
	if roles == nil {
		roles = RolePermissions
	}
	index := make(map[string]map[string]struct{}, len(roles))
	for role, perms := range roles {
		set := make(map[string]struct{}, len(perms))
		for _, perm := range perms {
			set[perm] = struct{}{}
		}
		index[strings.ToLower(role)] = set
	}
	return &Service{roles: index}
}

func (s *Service) HasPermission(ctx context.Context, role, permission string) (bool, error) {
	perms, ok := s.roles[strings.ToLower(strings.TrimSpace(role))]
	if !ok {
		return false, nil
	}
	if _, ok := perms[PermSystemAdmin]; ok {
		return true, nil
	}
	_, ok = perms[permission]
	return ok, nil
}
