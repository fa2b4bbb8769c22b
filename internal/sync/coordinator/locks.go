package coordinator

import "sync"

// TableLocks serialises concurrent runs against the same table within one
// process; runs against different tables are race-free and proceed in
// parallel. One *sync.Mutex is lazily created per table name and kept for
// the coordinator's lifetime.
type TableLocks struct {
	locks sync.Map // table name -> *sync.Mutex
}

// NewTableLocks returns an empty registry.
func NewTableLocks() *TableLocks {
	return &TableLocks{}
}

// Lock blocks until the named table's mutex is acquired, creating it on
// first use.
func (t *TableLocks) Lock(tableName string) {
	actual, _ := t.locks.LoadOrStore(tableName, &sync.Mutex{})
	actual.(*sync.Mutex).Lock()
}

// Unlock releases the named table's mutex. It must already exist: calling
// Unlock without a preceding Lock for the same table is a caller bug.
func (t *TableLocks) Unlock(tableName string) {
	actual, ok := t.locks.Load(tableName)
	if !ok {
		return
	}
	actual.(*sync.Mutex).Unlock()
}
