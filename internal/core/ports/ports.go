// Package ports defines the input and output ports for the hexagonal architecture.
package ports

import (
	"context"

	"github.com/poyrazK/enforcerd/internal/core/domain"
)

// Database exposes the typed retrieval and mutation operations the core
// needs, each running inside a caller-managed transaction. Implementations
// must distinguish ErrDatabaseUnavailable (transient, caller retries with
// backoff) from ErrConstraintViolation (a bug, caller aborts the task).
type Database interface {
	// BeginTx starts a transaction and returns a handle bound to it; all
	// other methods on that handle operate within the same transaction.
	BeginTx(ctx context.Context) (Tx, error)
	Ping(ctx context.Context) error
}

// Tx is a single active transaction against the Database port. Every
// method call happens inside it; Commit or Rollback ends it.
type Tx interface {
	GetZoneByName(ctx context.Context, name string) (*domain.Zone, error)
	ListZones(ctx context.Context) ([]domain.Zone, error)
	CreateZone(ctx context.Context, zone *domain.Zone) error
	UpdateZone(ctx context.Context, zone *domain.Zone) error
	DeleteZone(ctx context.Context, zoneID string) error

	// AdvisoryLockZone takes a zone-level advisory lock, released
	// automatically when the transaction ends, serialising every
	// enforce/command on the same zone.
	AdvisoryLockZone(ctx context.Context, zoneName string) error

	GetPolicyByName(ctx context.Context, name string) (*domain.Policy, error)
	ListPolicies(ctx context.Context) ([]domain.Policy, error)
	UpsertPolicy(ctx context.Context, policy *domain.Policy) error
	DeletePolicy(ctx context.Context, name string) error
	PolicyInUse(ctx context.Context, name string) (bool, error)

	ListKeys(ctx context.Context, zoneID string) ([]domain.Key, error)
	CreateKey(ctx context.Context, key *domain.Key) error
	UpdateKey(ctx context.Context, key *domain.Key) error
	DeleteKey(ctx context.Context, keyID string) error

	GetKeyStates(ctx context.Context, keyID string) ([4]domain.KeyState, error)
	UpdateKeyState(ctx context.Context, state domain.KeyState) error

	ListKeyDependencies(ctx context.Context, zoneID string) ([]domain.KeyDependency, error)
	CreateKeyDependency(ctx context.Context, dep domain.KeyDependency) error
	DeleteKeyDependency(ctx context.Context, dep domain.KeyDependency) error

	ListHsmKeys(ctx context.Context, filter HsmKeyFilter) ([]domain.HsmKey, error)
	GetHsmKeyByLocator(ctx context.Context, locator string) (*domain.HsmKey, error)
	ClaimHsmKey(ctx context.Context, filter HsmKeyFilter) (*domain.HsmKey, error)
	InsertHsmKey(ctx context.Context, key domain.HsmKey) error
	UpdateHsmKey(ctx context.Context, key domain.HsmKey) error

	EnqueueTask(ctx context.Context, task Task) error
	ListDueTasks(ctx context.Context, before int64) ([]Task, error)

	Commit() error
	Rollback() error
}

// HsmKeyFilter narrows ListHsmKeys/ClaimHsmKey to pre-generated pool rows
// matching a policy's key-role slot exactly.
type HsmKeyFilter struct {
	Bits       int
	Algorithm  uint8
	Repository string
	PolicyName string
	Role       domain.KeyRole
	Unclaimed  bool
}

// Task is the persisted form of a scheduler entry, written by
// Tx.EnqueueTask and read by Tx.ListDueTasks. The daemon does not read
// persisted tasks back into its in-memory scheduler queue.
type Task struct {
	ID      string
	Target  string
	Kind    string
	DueAt   int64
	Backoff int
}

// KeyMaterialRepository is the HSM-facing port the key factory uses to
// claim, share, and look up cryptographic material without blocking the
// enforcer on HSM latency.
type KeyMaterialRepository interface {
	CreateNewKey(ctx context.Context, filter HsmKeyFilter) (*domain.HsmKey, error)
	CreateSharedKey(ctx context.Context, filter HsmKeyFilter, zone string) (*domain.HsmKey, error)
	UseSharedKey(ctx context.Context, filter HsmKeyFilter, zone string) (*domain.HsmKey, error)
	GetByLocator(ctx context.Context, locator string) (*domain.HsmKey, error)
	Backup(ctx context.Context, locator string) error
}

// SignConfSink is the external port notified whenever a zone's signer
// configuration document changes on disk. The exact protocol used to
// reach the signer is delegated to the adapter; only "tell it this zone
// changed" is contractual.
type SignConfSink interface {
	Notify(ctx context.Context, zoneName string) error
}

// Clock abstracts wall-clock time so the scheduler can be driven by a
// virtual clock under test.
type Clock interface {
	Now() int64 // UTC epoch seconds
}

// ShortageEvent is raised by the key factory when no pre-generated HsmKey
// satisfies a requested slot, identifying the starved (policy, role,
// algorithm, bits, repository) tuple.
type ShortageEvent struct {
	PolicyName string
	Role       domain.KeyRole
	Algorithm  uint8
	Bits       int
	Repository string
}
