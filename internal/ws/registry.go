package ws

import "sync"

// Registry tracks every live connection under two indexes: by session
// id (one browser tab may hold several sockets) and by user id (one
// user may hold several sessions until force-termination runs). Pure
// connection bookkeeping, no business logic.
//
// Invariants: a connection appears in at most one session group and at
// most one user group; an empty group is deleted immediately, never
// left as a dangling key.
type Registry struct {
	mu       sync.RWMutex
	conns    map[*Connection]struct{}
	sessions map[string]map[*Connection]struct{}
	users    map[string]map[*Connection]struct{}
}

// NewRegistry returns an empty registry with all indexes initialized.
func NewRegistry() *Registry {
	return &Registry{
		conns:    make(map[*Connection]struct{}),
		sessions: make(map[string]map[*Connection]struct{}),
		users:    make(map[string]map[*Connection]struct{}),
	}
}

// Register adds a connection to both indexes. Idempotent per
// connection: registering the same wrapper twice is a no-op.
func (r *Registry) Register(conn *Connection) {
	if conn == nil {
		return
	}
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.conns[conn]; exists {
		return
	}
	r.conns[conn] = struct{}{}

	sid := conn.SessionID()
	if r.sessions[sid] == nil {
		r.sessions[sid] = make(map[*Connection]struct{})
	}
	r.sessions[sid][conn] = struct{}{}

	if uid := conn.UserID(); uid != "" {
		r.bindUserLocked(conn, uid)
	}
}

// BindUser attaches a registered connection to a user group after the
// fact; connections arrive before authentication completes and must not
// need a re-register call. Rebinding moves the connection out of its
// previous group.
func (r *Registry) BindUser(conn *Connection, userID string) {
	if conn == nil || userID == "" {
		return
	}
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.conns[conn]; !exists {
		return
	}
	r.bindUserLocked(conn, userID)
}

func (r *Registry) bindUserLocked(conn *Connection, userID string) {
	if prev := conn.UserID(); prev != "" && prev != userID {
		r.dropFromUserLocked(conn, prev)
	}
	conn.setUserID(userID)
	if r.users[userID] == nil {
		r.users[userID] = make(map[*Connection]struct{})
	}
	r.users[userID][conn] = struct{}{}
}

// Unregister removes a connection from both indexes. Defensive no-op
// for connections that were never registered.
func (r *Registry) Unregister(conn *Connection) {
	if conn == nil {
		return
	}
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.conns[conn]; !exists {
		return
	}
	delete(r.conns, conn)

	sid := conn.SessionID()
	if group, exists := r.sessions[sid]; exists {
		delete(group, conn)
		if len(group) == 0 {
			delete(r.sessions, sid)
		}
	}

	if uid := conn.UserID(); uid != "" {
		r.dropFromUserLocked(conn, uid)
	}
}

func (r *Registry) dropFromUserLocked(conn *Connection, userID string) {
	if group, exists := r.users[userID]; exists {
		delete(group, conn)
		if len(group) == 0 {
			delete(r.users, userID)
		}
	}
}

// ForEachInSession visits every connection of one session group. The
// snapshot is taken under the read lock; fn runs outside it, so a slow
// consumer never stalls registration.
func (r *Registry) ForEachInSession(sessionID string, fn func(*Connection)) {
	for _, conn := range r.snapshot(func() map[*Connection]struct{} { return r.sessions[sessionID] }) {
		fn(conn)
	}
}

// ForEachForUser visits every connection bound to one user.
func (r *Registry) ForEachForUser(userID string, fn func(*Connection)) {
	for _, conn := range r.snapshot(func() map[*Connection]struct{} { return r.users[userID] }) {
		fn(conn)
	}
}

// ForEachAll visits every registered connection.
func (r *Registry) ForEachAll(fn func(*Connection)) {
	for _, conn := range r.snapshot(func() map[*Connection]struct{} { return r.conns }) {
		fn(conn)
	}
}

func (r *Registry) snapshot(pick func() map[*Connection]struct{}) []*Connection {
	r.mu.RLock()
	defer r.mu.RUnlock()
	group := pick()
	if len(group) == 0 {
		return nil
	}
	out := make([]*Connection, 0, len(group))
	for conn := range group {
		out = append(out, conn)
	}
	return out
}

// HasSession reports whether any connection is live under sessionID.
func (r *Registry) HasSession(sessionID string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.sessions[sessionID]) > 0
}

// CountConnections returns the number of live connections.
func (r *Registry) CountConnections() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.conns)
}

// Stats summarizes registry state for the status endpoint.
func (r *Registry) Stats() map[string]int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return map[string]int{
		"connections": len(r.conns),
		"sessions":    len(r.sessions),
		"users":       len(r.users),
	}
}
