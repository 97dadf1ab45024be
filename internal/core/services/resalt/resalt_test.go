package resalt

import (
	"context"
	"testing"

	"github.com/poyrazK/enforcerd/internal/core/domain"
	"github.com/poyrazK/enforcerd/internal/core/ports"
)

type fakeTx struct {
	policies []domain.Policy
	zones    []domain.Zone
	upserted []domain.Policy
}

func (t *fakeTx) GetZoneByName(ctx context.Context, name string) (*domain.Zone, error) { return nil, nil }
func (t *fakeTx) ListZones(ctx context.Context) ([]domain.Zone, error)                 { return t.zones, nil }
func (t *fakeTx) CreateZone(ctx context.Context, zone *domain.Zone) error              { return nil }
func (t *fakeTx) UpdateZone(ctx context.Context, zone *domain.Zone) error              { return nil }
func (t *fakeTx) DeleteZone(ctx context.Context, zoneID string) error                  { return nil }
func (t *fakeTx) AdvisoryLockZone(ctx context.Context, zoneName string) error          { return nil }
func (t *fakeTx) GetPolicyByName(ctx context.Context, name string) (*domain.Policy, error) {
	return nil, nil
}
func (t *fakeTx) ListPolicies(ctx context.Context) ([]domain.Policy, error) { return t.policies, nil }
func (t *fakeTx) UpsertPolicy(ctx context.Context, policy *domain.Policy) error {
	t.upserted = append(t.upserted, *policy)
	for i := range t.policies {
		if t.policies[i].Name == policy.Name {
			t.policies[i] = *policy
		}
	}
	return nil
}
func (t *fakeTx) DeletePolicy(ctx context.Context, name string) error        { return nil }
func (t *fakeTx) PolicyInUse(ctx context.Context, name string) (bool, error) { return false, nil }
func (t *fakeTx) ListKeys(ctx context.Context, zoneID string) ([]domain.Key, error) {
	return nil, nil
}
func (t *fakeTx) CreateKey(ctx context.Context, key *domain.Key) error { return nil }
func (t *fakeTx) UpdateKey(ctx context.Context, key *domain.Key) error { return nil }
func (t *fakeTx) DeleteKey(ctx context.Context, keyID string) error    { return nil }
func (t *fakeTx) GetKeyStates(ctx context.Context, keyID string) ([4]domain.KeyState, error) {
	return [4]domain.KeyState{}, nil
}
func (t *fakeTx) UpdateKeyState(ctx context.Context, state domain.KeyState) error { return nil }
func (t *fakeTx) ListKeyDependencies(ctx context.Context, zoneID string) ([]domain.KeyDependency, error) {
	return nil, nil
}
func (t *fakeTx) CreateKeyDependency(ctx context.Context, dep domain.KeyDependency) error { return nil }
func (t *fakeTx) DeleteKeyDependency(ctx context.Context, dep domain.KeyDependency) error { return nil }
func (t *fakeTx) ListHsmKeys(ctx context.Context, filter ports.HsmKeyFilter) ([]domain.HsmKey, error) {
	return nil, nil
}
func (t *fakeTx) GetHsmKeyByLocator(ctx context.Context, locator string) (*domain.HsmKey, error) {
	return nil, nil
}
func (t *fakeTx) ClaimHsmKey(ctx context.Context, filter ports.HsmKeyFilter) (*domain.HsmKey, error) {
	return nil, nil
}
func (t *fakeTx) InsertHsmKey(ctx context.Context, key domain.HsmKey) error { return nil }
func (t *fakeTx) UpdateHsmKey(ctx context.Context, key domain.HsmKey) error { return nil }
func (t *fakeTx) EnqueueTask(ctx context.Context, task ports.Task) error    { return nil }
func (t *fakeTx) ListDueTasks(ctx context.Context, before int64) ([]ports.Task, error) {
	return nil, nil
}
func (t *fakeTx) Commit() error   { return nil }
func (t *fakeTx) Rollback() error { return nil }

type fakeDB struct{ tx *fakeTx }

func (d *fakeDB) BeginTx(ctx context.Context) (ports.Tx, error) { return d.tx, nil }
func (d *fakeDB) Ping(ctx context.Context) error                { return nil }

type fakeEnqueuer struct {
	calls []string
}

func (e *fakeEnqueuer) Enqueue(kind, target string, dueAt int64) {
	e.calls = append(e.calls, kind+":"+target)
}

func TestRun_RotatesOverduePolicyAndEnqueuesEnforce(t *testing.T) {
	tx := &fakeTx{
		policies: []domain.Policy{
			{Name: "nsec3-policy", Denial: domain.DenialParams{Mode: domain.DenialNSEC3, ResaltPeriod: 7 * 86400, SaltLength: 8, SaltLastChange: 0}},
		},
		zones: []domain.Zone{
			{Name: "a.", PolicyName: "nsec3-policy"},
			{Name: "b.", PolicyName: "nsec3-policy"},
			{Name: "c.", PolicyName: "other-policy"},
		},
	}
	db := &fakeDB{tx: tx}
	enqueuer := &fakeEnqueuer{}

	if err := Run(context.Background(), db, enqueuer, 8*86400, nil); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if len(tx.upserted) != 1 {
		t.Fatalf("expected exactly one policy to be resalted, got %d", len(tx.upserted))
	}
	if len(tx.upserted[0].Denial.Salt) != 8 {
		t.Fatalf("expected an 8-byte salt, got %d bytes", len(tx.upserted[0].Denial.Salt))
	}
	if len(enqueuer.calls) != 2 {
		t.Fatalf("expected enforce to be enqueued for both zones on the policy, got %v", enqueuer.calls)
	}
}

func TestRun_SkipsPolicyNotYetDue(t *testing.T) {
	tx := &fakeTx{
		policies: []domain.Policy{
			{Name: "nsec3-policy", Denial: domain.DenialParams{Mode: domain.DenialNSEC3, ResaltPeriod: 7 * 86400, SaltLength: 8, SaltLastChange: 100}},
		},
	}
	db := &fakeDB{tx: tx}
	enqueuer := &fakeEnqueuer{}

	if err := Run(context.Background(), db, enqueuer, 200, nil); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(tx.upserted) != 0 {
		t.Fatalf("expected no resalt before the period elapses, got %d", len(tx.upserted))
	}
}

func TestRun_SkipsNSECPolicies(t *testing.T) {
	tx := &fakeTx{
		policies: []domain.Policy{
			{Name: "nsec-policy", Denial: domain.DenialParams{Mode: domain.DenialNSEC}},
		},
	}
	db := &fakeDB{tx: tx}
	enqueuer := &fakeEnqueuer{}

	if err := Run(context.Background(), db, enqueuer, 1_000_000, nil); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(tx.upserted) != 0 {
		t.Fatalf("NSEC policies must never be resalted")
	}
}
