// Package authz is the authorization collaborator boundary: scope
// membership lookups used by subscribe and by the REST publish path.
package authz

import (
	"context"
	"sync"
)

type Authorizer interface {
	IsMember(ctx context.Context, userId string, scopeId string) (bool, error)
}

// Store is an Authorizer whose membership set can be mutated, used by
// the REST membership endpoints.
type Store interface {
	Authorizer
	Grant(ctx context.Context, userId string, scopeId string) error
	Revoke(ctx context.Context, userId string, scopeId string) error
}

// StaticAuthorizer keeps memberships in memory. Production wiring uses
// the mongodb membership store instead.
type StaticAuthorizer struct {
	mu      sync.RWMutex
	members map[string]map[string]struct{}
}

func NewStaticAuthorizer() *StaticAuthorizer {
	return &StaticAuthorizer{
		members: make(map[string]map[string]struct{}),
	}
}

func (a *StaticAuthorizer) IsMember(ctx context.Context, userId string, scopeId string) (bool, error) {
	a.mu.RLock()
	defer a.mu.RUnlock()

	users, ok := a.members[scopeId]
	if !ok {
		return false, nil
	}

	_, ok = users[userId]

	return ok, nil
}

func (a *StaticAuthorizer) Grant(ctx context.Context, userId string, scopeId string) error {
	a.mu.Lock()
	defer a.mu.Unlock()

	if _, ok := a.members[scopeId]; !ok {
		a.members[scopeId] = make(map[string]struct{})
	}

	a.members[scopeId][userId] = struct{}{}

	return nil
}

func (a *StaticAuthorizer) Revoke(ctx context.Context, userId string, scopeId string) error {
	a.mu.Lock()
	defer a.mu.Unlock()

	users, ok := a.members[scopeId]
	if !ok {
		return nil
	}

	delete(users, userId)
	if len(users) == 0 {
		delete(a.members, scopeId)
	}

	return nil
}
