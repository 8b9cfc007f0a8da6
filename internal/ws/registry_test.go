package ws

import (
	"fmt"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRegistryRegisterAndCount(t *testing.T) {
	registry := NewRegistry()
	assert.Equal(t, 0, registry.CountConnections())

	conn, _ := newTestConnection(t, "session-1")
	registry.Register(conn)

	assert.Equal(t, 1, registry.CountConnections())
	assert.True(t, registry.HasSession("session-1"))
	assert.False(t, registry.HasSession("session-2"))
}

func TestRegistryRegisterIdempotent(t *testing.T) {
	registry := NewRegistry()
	conn, _ := newTestConnection(t, "session-1")

	registry.Register(conn)
	registry.Register(conn)

	assert.Equal(t, 1, registry.CountConnections())
}

func TestRegistryRegisterNil(t *testing.T) {
	registry := NewRegistry()
	registry.Register(nil)
	registry.Unregister(nil)
	assert.Equal(t, 0, registry.CountConnections())
}

func TestRegistrySessionIsolation(t *testing.T) {
	registry := NewRegistry()

	a1, _ := newTestConnection(t, "session-a")
	a2, _ := newTestConnection(t, "session-a")
	b1, _ := newTestConnection(t, "session-b")
	registry.Register(a1)
	registry.Register(a2)
	registry.Register(b1)

	var visited []*Connection
	registry.ForEachInSession("session-a", func(c *Connection) {
		visited = append(visited, c)
	})

	assert.Len(t, visited, 2)
	assert.NotContains(t, visited, b1, "a session group must never leak another session's connections")
}

func TestRegistryBindUserAfterRegister(t *testing.T) {
	registry := NewRegistry()
	conn, _ := newTestConnection(t, "session-1")
	registry.Register(conn)

	// No user group before authentication completes.
	count := 0
	registry.ForEachForUser("user-1", func(*Connection) { count++ })
	require.Equal(t, 0, count)

	registry.BindUser(conn, "user-1")
	assert.Equal(t, "user-1", conn.UserID())

	registry.ForEachForUser("user-1", func(*Connection) { count++ })
	assert.Equal(t, 1, count)
}

func TestRegistryRegisterWithBoundUser(t *testing.T) {
	registry := NewRegistry()
	conn, _ := newTestConnection(t, "session-1")
	conn.setUserID("user-1")

	registry.Register(conn)

	count := 0
	registry.ForEachForUser("user-1", func(*Connection) { count++ })
	assert.Equal(t, 1, count)
}

func TestRegistryRebindMovesUserGroup(t *testing.T) {
	registry := NewRegistry()
	conn, _ := newTestConnection(t, "session-1")
	registry.Register(conn)
	registry.BindUser(conn, "user-1")

	registry.BindUser(conn, "user-2")

	old := 0
	registry.ForEachForUser("user-1", func(*Connection) { old++ })
	assert.Equal(t, 0, old, "rebinding must leave no trace in the previous group")

	current := 0
	registry.ForEachForUser("user-2", func(*Connection) { current++ })
	assert.Equal(t, 1, current)
	assert.Equal(t, 1, registry.Stats()["users"])
}

func TestRegistryBindUserUnregisteredNoop(t *testing.T) {
	registry := NewRegistry()
	conn, _ := newTestConnection(t, "session-1")

	registry.BindUser(conn, "user-1")

	count := 0
	registry.ForEachForUser("user-1", func(*Connection) { count++ })
	assert.Equal(t, 0, count)
}

func TestRegistryUnregisterCleansGroups(t *testing.T) {
	registry := NewRegistry()
	conn, _ := newTestConnection(t, "session-1")
	registry.Register(conn)
	registry.BindUser(conn, "user-1")

	registry.Unregister(conn)

	assert.Equal(t, 0, registry.CountConnections())
	assert.False(t, registry.HasSession("session-1"))

	stats := registry.Stats()
	assert.Equal(t, 0, stats["sessions"], "empty session groups must be deleted")
	assert.Equal(t, 0, stats["users"], "empty user groups must be deleted")
}

func TestRegistryUnregisterUnknownNoop(t *testing.T) {
	registry := NewRegistry()
	conn, _ := newTestConnection(t, "session-1")

	registry.Unregister(conn)
	assert.Equal(t, 0, registry.CountConnections())
}

func TestRegistryUnregisterKeepsSiblings(t *testing.T) {
	registry := NewRegistry()
	a, _ := newTestConnection(t, "session-1")
	b, _ := newTestConnection(t, "session-1")
	registry.Register(a)
	registry.Register(b)

	registry.Unregister(a)

	assert.True(t, registry.HasSession("session-1"))
	assert.Equal(t, 1, registry.CountConnections())
}

func TestRegistryForEachAll(t *testing.T) {
	registry := NewRegistry()
	for i := 0; i < 3; i++ {
		conn, _ := newTestConnection(t, fmt.Sprintf("session-%d", i))
		registry.Register(conn)
	}

	count := 0
	registry.ForEachAll(func(*Connection) { count++ })
	assert.Equal(t, 3, count)
}

func TestRegistryStats(t *testing.T) {
	registry := NewRegistry()

	a, _ := newTestConnection(t, "session-1")
	b, _ := newTestConnection(t, "session-1")
	c, _ := newTestConnection(t, "session-2")
	registry.Register(a)
	registry.Register(b)
	registry.Register(c)
	registry.BindUser(a, "user-1")
	registry.BindUser(c, "user-2")

	stats := registry.Stats()
	assert.Equal(t, 3, stats["connections"])
	assert.Equal(t, 2, stats["sessions"])
	assert.Equal(t, 2, stats["users"])
}

func TestRegistryConcurrentAccess(t *testing.T) {
	registry := NewRegistry()

	conns := make([]*Connection, 20)
	for i := range conns {
		conns[i], _ = newTestConnection(t, fmt.Sprintf("session-%d", i%5))
	}

	var wg sync.WaitGroup
	for _, conn := range conns {
		wg.Add(1)
		go func(c *Connection) {
			defer wg.Done()
			registry.Register(c)
			registry.BindUser(c, "user-shared")
			registry.ForEachAll(func(*Connection) {})
			registry.Unregister(c)
		}(conn)
	}
	wg.Wait()

	assert.Equal(t, 0, registry.CountConnections())
	assert.Equal(t, 0, registry.Stats()["users"])
}
