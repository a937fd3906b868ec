package lifecycle

import (
	"sync"

	"github.com/bwmarrin/snowflake"
)

// tenantLocks serializes commit-then-publish per tenant so sequence order on
// every order and table topic follows commit order. Tenants never share a lock.
type tenantLocks struct {
	mu    sync.Mutex
	locks map[snowflake.ID]*sync.Mutex
}

func newTenantLocks() *tenantLocks {
	return &tenantLocks{locks: make(map[snowflake.ID]*sync.Mutex)}
}

func (l *tenantLocks) lock(tenantID snowflake.ID) (unlock func()) {
	l.mu.Lock()
	m, ok := l.locks[tenantID]
	if !ok {
		m = &sync.Mutex{}
		l.locks[tenantID] = m
	}
	l.mu.Unlock()

	m.Lock()
	return m.Unlock
}
