package hub

import (
	"errors"
	"sync"

	"go.uber.org/zap"
)

// Endpoint is what the hub knows about a live connection: its identity,
// its owner and the outbound queue fan-out writes into.
type Endpoint struct {
	ConnectionId string
	UserId       string
	Queue        *Queue
}

// Registry combines the presence registry (user -> live connections)
// with the subscription index (scope -> subscribed users). Subscriptions
// are refcounted by subscribing connection so a user stays in a scope
// until the last of their subscribing connections goes away.
//
// All mutation happens in short exclusive critical sections; fan-out
// reads take a snapshot and never hold the lock across socket I/O.
type Registry struct {
	logger *zap.Logger
	mu     sync.RWMutex

	endpoints          map[string]Endpoint
	connectionsByUser  map[string]map[string]struct{}
	usersByScope       map[string]map[string]map[string]struct{}
	scopesByConnection map[string]map[string]struct{}
}

func NewRegistry(logger *zap.Logger) *Registry {
	return &Registry{
		logger:             logger,
		endpoints:          make(map[string]Endpoint),
		connectionsByUser:  make(map[string]map[string]struct{}),
		usersByScope:       make(map[string]map[string]map[string]struct{}),
		scopesByConnection: make(map[string]map[string]struct{}),
	}
}

// Register adds an authenticated connection. It reports whether this is
// the user's first live connection (a presence transition).
func (r *Registry) Register(ep Endpoint) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.endpoints[ep.ConnectionId]; ok {
		return false, errors.New("connection already registered")
	}

	r.endpoints[ep.ConnectionId] = ep

	first := false
	if _, ok := r.connectionsByUser[ep.UserId]; !ok {
		r.connectionsByUser[ep.UserId] = make(map[string]struct{})
		first = true
	}
	r.connectionsByUser[ep.UserId][ep.ConnectionId] = struct{}{}

	return first, nil
}

type DeregisterResult struct {
	Existed    bool
	UserId     string
	LastOfUser bool

	// RemovedScopes lists the scopes the user dropped out of entirely
	// because this was their last subscribing connection there.
	RemovedScopes []string
}

// Deregister removes a connection from the presence registry and prunes
// the user from every scope where it was their last subscribing
// connection. Idempotent and safe to call concurrently from the reader
// loop, the writer loop and the idle sweep.
func (r *Registry) Deregister(connectionId string) DeregisterResult {
	r.mu.Lock()
	defer r.mu.Unlock()

	ep, ok := r.endpoints[connectionId]
	if !ok {
		return DeregisterResult{}
	}

	result := DeregisterResult{
		Existed: true,
		UserId:  ep.UserId,
	}

	for scopeId := range r.scopesByConnection[connectionId] {
		if r.unsubscribeLocked(scopeId, connectionId, ep.UserId) {
			result.RemovedScopes = append(result.RemovedScopes, scopeId)
		}
	}
	delete(r.scopesByConnection, connectionId)

	userConnections := r.connectionsByUser[ep.UserId]
	delete(userConnections, connectionId)
	if len(userConnections) == 0 {
		delete(r.connectionsByUser, ep.UserId)
		result.LastOfUser = true
	}

	delete(r.endpoints, connectionId)

	return result
}

// Subscribe adds the connection's user to a scope. Duplicate subscribe
// is a no-op. It reports whether the user is newly present in the scope.
func (r *Registry) Subscribe(scopeId string, connectionId string) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	ep, ok := r.endpoints[connectionId]
	if !ok {
		return false, errors.New("connection not registered")
	}

	if _, ok := r.usersByScope[scopeId]; !ok {
		r.usersByScope[scopeId] = make(map[string]map[string]struct{})
	}

	newForScope := false
	if _, ok := r.usersByScope[scopeId][ep.UserId]; !ok {
		r.usersByScope[scopeId][ep.UserId] = make(map[string]struct{})
		newForScope = true
	}
	r.usersByScope[scopeId][ep.UserId][connectionId] = struct{}{}

	if _, ok := r.scopesByConnection[connectionId]; !ok {
		r.scopesByConnection[connectionId] = make(map[string]struct{})
	}
	r.scopesByConnection[connectionId][scopeId] = struct{}{}

	return newForScope, nil
}

// Unsubscribe is unconditionally permitted; removing a mapping that does
// not exist is a no-op.
func (r *Registry) Unsubscribe(scopeId string, connectionId string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	ep, ok := r.endpoints[connectionId]
	if !ok {
		return
	}

	connectionScopes, ok := r.scopesByConnection[connectionId]
	if !ok {
		return
	}

	delete(connectionScopes, scopeId)
	if len(connectionScopes) == 0 {
		delete(r.scopesByConnection, connectionId)
	}

	r.unsubscribeLocked(scopeId, connectionId, ep.UserId)
}

// unsubscribeLocked removes one subscribing connection from a scope and
// reports whether the user dropped out of the scope entirely. Caller
// must hold the write lock.
func (r *Registry) unsubscribeLocked(scopeId string, connectionId string, userId string) bool {
	scopeUsers, ok := r.usersByScope[scopeId]
	if !ok {
		return false
	}

	subscribers, ok := scopeUsers[userId]
	if !ok {
		return false
	}

	delete(subscribers, connectionId)
	if len(subscribers) > 0 {
		return false
	}

	delete(scopeUsers, userId)
	if len(scopeUsers) == 0 {
		delete(r.usersByScope, scopeId)
	}

	return true
}

// Resolve snapshots the live connections that should observe an event in
// a scope: every live connection of every subscribed user, each at most
// once. A connection deregistering after the snapshot simply misses the
// in-flight event.
func (r *Registry) Resolve(scopeId string) []Endpoint {
	r.mu.RLock()
	defer r.mu.RUnlock()

	scopeUsers, ok := r.usersByScope[scopeId]
	if !ok {
		return nil
	}

	seen := make(map[string]struct{})
	endpoints := make([]Endpoint, 0, len(scopeUsers))

	for userId := range scopeUsers {
		for connectionId := range r.connectionsByUser[userId] {
			if _, ok := seen[connectionId]; ok {
				continue
			}
			seen[connectionId] = struct{}{}

			if ep, ok := r.endpoints[connectionId]; ok {
				endpoints = append(endpoints, ep)
			}
		}
	}

	return endpoints
}

func (r *Registry) Subscribed(scopeId string, connectionId string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()

	scopes, ok := r.scopesByConnection[connectionId]
	if !ok {
		return false
	}

	_, ok = scopes[scopeId]

	return ok
}

func (r *Registry) UserOnline(userId string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()

	return len(r.connectionsByUser[userId]) > 0
}

func (r *Registry) ConnectionCount() int {
	r.mu.RLock()
	defer r.mu.RUnlock()

	return len(r.endpoints)
}
