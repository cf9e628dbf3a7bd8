package model

// SyncState represents where a record stands relative to the remote store.
type SyncState string

const (
	// SyncStateLocalOnly marks a record that has never been acknowledged by the remote store.
	SyncStateLocalOnly SyncState = "local_only"
	// SyncStateSynced marks a record whose local value matches the last remote acknowledgement.
	SyncStateSynced SyncState = "synced"
	// SyncStatePending marks a record with a remote write in flight.
	SyncStatePending SyncState = "pending"
	// SyncStateUnsynced marks a record whose last remote write failed and needs a retry.
	SyncStateUnsynced SyncState = "unsynced"
)

// Op is the remote operation a record is waiting on.
type Op string

const (
	OpNone   Op = ""
	OpCreate Op = "create"
	OpUpdate Op = "update"
	OpDelete Op = "delete"
	OpUpsert Op = "upsert"
)

// LedgerKind distinguishes extra income from expenses in the monthly ledger.
type LedgerKind string

const (
	LedgerIncome  LedgerKind = "income"
	LedgerExpense LedgerKind = "expense"
)
