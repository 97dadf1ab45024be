package enforcer

import (
	"context"
	"testing"

	"github.com/poyrazK/enforcerd/internal/core/domain"
	"github.com/poyrazK/enforcerd/internal/core/ports"
)

type fakeClock struct{ now int64 }

func (c fakeClock) Now() int64 { return c.now }

type fakeFactory struct{}

func (fakeFactory) CreateNewKey(ctx context.Context, filter ports.HsmKeyFilter) (*domain.HsmKey, error) {
	return nil, domain.ErrShortage
}
func (fakeFactory) CreateSharedKey(ctx context.Context, filter ports.HsmKeyFilter, zone string) (*domain.HsmKey, error) {
	return nil, domain.ErrShortage
}
func (fakeFactory) UseSharedKey(ctx context.Context, filter ports.HsmKeyFilter, zone string) (*domain.HsmKey, error) {
	return nil, domain.ErrShortage
}

type fakeTx struct {
	zone          *domain.Zone
	policy        *domain.Policy
	keys          []domain.Key
	states        map[string][4]domain.KeyState
	hsmKeys       map[string]domain.HsmKey
	tasks         []ports.Task
	deletedKeyIDs []string
	rolledBack, committed bool
}

func (t *fakeTx) GetZoneByName(ctx context.Context, name string) (*domain.Zone, error) { return t.zone, nil }
func (t *fakeTx) ListZones(ctx context.Context) ([]domain.Zone, error)                 { return nil, nil }
func (t *fakeTx) CreateZone(ctx context.Context, zone *domain.Zone) error              { return nil }
func (t *fakeTx) UpdateZone(ctx context.Context, zone *domain.Zone) error              { t.zone = zone; return nil }
func (t *fakeTx) DeleteZone(ctx context.Context, zoneID string) error                  { return nil }
func (t *fakeTx) AdvisoryLockZone(ctx context.Context, zoneName string) error          { return nil }
func (t *fakeTx) GetPolicyByName(ctx context.Context, name string) (*domain.Policy, error) {
	return t.policy, nil
}
func (t *fakeTx) ListPolicies(ctx context.Context) ([]domain.Policy, error)    { return nil, nil }
func (t *fakeTx) UpsertPolicy(ctx context.Context, policy *domain.Policy) error { return nil }
func (t *fakeTx) DeletePolicy(ctx context.Context, name string) error           { return nil }
func (t *fakeTx) PolicyInUse(ctx context.Context, name string) (bool, error)    { return false, nil }
func (t *fakeTx) ListKeys(ctx context.Context, zoneID string) ([]domain.Key, error) {
	return t.keys, nil
}
func (t *fakeTx) CreateKey(ctx context.Context, key *domain.Key) error {
	if key.ID == "" {
		key.ID = "minted-" + key.Locator
	}
	t.keys = append(t.keys, *key)
	return nil
}
func (t *fakeTx) UpdateKey(ctx context.Context, key *domain.Key) error {
	for i := range t.keys {
		if t.keys[i].ID == key.ID {
			t.keys[i] = *key
		}
	}
	return nil
}
func (t *fakeTx) DeleteKey(ctx context.Context, keyID string) error {
	t.deletedKeyIDs = append(t.deletedKeyIDs, keyID)
	for i := range t.keys {
		if t.keys[i].ID == keyID {
			t.keys = append(t.keys[:i], t.keys[i+1:]...)
			break
		}
	}
	return nil
}
func (t *fakeTx) GetKeyStates(ctx context.Context, keyID string) ([4]domain.KeyState, error) {
	return t.states[keyID], nil
}
func (t *fakeTx) UpdateKeyState(ctx context.Context, state domain.KeyState) error {
	s := t.states[state.KeyID]
	s[state.Record] = state
	t.states[state.KeyID] = s
	return nil
}
func (t *fakeTx) ListKeyDependencies(ctx context.Context, zoneID string) ([]domain.KeyDependency, error) {
	return nil, nil
}
func (t *fakeTx) CreateKeyDependency(ctx context.Context, dep domain.KeyDependency) error { return nil }
func (t *fakeTx) DeleteKeyDependency(ctx context.Context, dep domain.KeyDependency) error { return nil }
func (t *fakeTx) ListHsmKeys(ctx context.Context, filter ports.HsmKeyFilter) ([]domain.HsmKey, error) {
	return nil, nil
}
func (t *fakeTx) GetHsmKeyByLocator(ctx context.Context, locator string) (*domain.HsmKey, error) {
	if hsm, ok := t.hsmKeys[locator]; ok {
		return &hsm, nil
	}
	return &domain.HsmKey{Locator: locator}, nil
}
func (t *fakeTx) ClaimHsmKey(ctx context.Context, filter ports.HsmKeyFilter) (*domain.HsmKey, error) {
	return nil, nil
}
func (t *fakeTx) InsertHsmKey(ctx context.Context, key domain.HsmKey) error { return nil }
func (t *fakeTx) UpdateHsmKey(ctx context.Context, key domain.HsmKey) error {
	if t.hsmKeys == nil {
		t.hsmKeys = map[string]domain.HsmKey{}
	}
	t.hsmKeys[key.Locator] = key
	return nil
}
func (t *fakeTx) EnqueueTask(ctx context.Context, task ports.Task) error {
	t.tasks = append(t.tasks, task)
	return nil
}
func (t *fakeTx) ListDueTasks(ctx context.Context, before int64) ([]ports.Task, error) { return nil, nil }
func (t *fakeTx) Commit() error   { t.committed = true; return nil }
func (t *fakeTx) Rollback() error { if !t.committed { t.rolledBack = true }; return nil }

type fakeDB struct{ tx *fakeTx }

func (d *fakeDB) BeginTx(ctx context.Context) (ports.Tx, error) { return d.tx, nil }
func (d *fakeDB) Ping(ctx context.Context) error                { return nil }

func TestEnforce_ColdStartAdvancesAndCommits(t *testing.T) {
	zone := domain.NewZone("z1", "example.", "default")
	policy := &domain.Policy{
		Name: "default",
		Keys: map[domain.KeyRole]domain.KeyRoleConfig{
			domain.RoleKSK: {Role: domain.RoleKSK, Algorithm: 8, Lifetime: 365 * 86400},
		},
		ZoneTiming:    domain.ZoneTimingParams{PropagationDelay: 60, RegistrationDelay: 60},
		PublishSafety: 60,
		RetireSafety:  60,
		KeyTTL:        3600,
	}
	ksk := domain.Key{ID: "ksk1", ZoneID: "z1", Role: domain.RoleKSK, Algorithm: 8, Introducing: true}
	states := map[string][4]domain.KeyState{
		"ksk1": {
			{KeyID: "ksk1", Record: domain.RecordDS, State: domain.HIDDEN, LastChange: 0},
			{KeyID: "ksk1", Record: domain.RecordDNSKEY, State: domain.HIDDEN, LastChange: 0},
			{KeyID: "ksk1", Record: domain.RecordRRSIGDNSKEY, State: domain.HIDDEN, LastChange: 0},
			{KeyID: "ksk1", Record: domain.RecordRRSIG, State: domain.NOCARE, LastChange: 0},
		},
	}
	tx := &fakeTx{zone: zone, policy: policy, keys: []domain.Key{ksk}, states: states}
	db := &fakeDB{tx: tx}

	e := New(db, fakeFactory{}, fakeClock{now: 1000}, nil)
	nextChange, err := e.Enforce(context.Background(), "example.")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !tx.committed {
		t.Fatalf("expected transaction to be committed")
	}
	if tx.rolledBack {
		t.Fatalf("did not expect rollback on a successful enforce")
	}
	if nextChange == 0 {
		t.Fatalf("expected a non-zero next-change")
	}
	if !tx.zone.SignconfDirty {
		t.Fatalf("expected signconf-dirty once DNSKEY advances")
	}
	if len(tx.tasks) != 1 || tx.tasks[0].Kind != "signconf" {
		t.Fatalf("expected a signconf task to be enqueued, got %+v", tx.tasks)
	}
}

func TestEnforce_NewZSKNeverCaresAboutRRSIGDNSKEY(t *testing.T) {
	zone := domain.NewZone("z1", "example.", "default")
	policy := &domain.Policy{
		Name: "default",
		Keys: map[domain.KeyRole]domain.KeyRoleConfig{
			domain.RoleZSK: {Role: domain.RoleZSK, Algorithm: 8, Bits: 1024, Lifetime: 90 * 86400},
		},
		ZoneTiming:    domain.ZoneTimingParams{PropagationDelay: 60, RegistrationDelay: 60},
		PublishSafety: 60,
		RetireSafety:  60,
		KeyTTL:        3600,
	}
	tx := &fakeTx{zone: zone, policy: policy, keys: nil, states: map[string][4]domain.KeyState{}}
	db := &fakeDB{tx: tx}

	e := New(db, &mintingFactory{hsm: &domain.HsmKey{Locator: "zsk-loc", Algorithm: 8, Bits: 1024}}, fakeClock{now: 1000}, nil)
	if _, err := e.Enforce(context.Background(), "example."); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	var zskID string
	for _, k := range tx.keys {
		if k.Role == domain.RoleZSK {
			zskID = k.ID
		}
	}
	if zskID == "" {
		t.Fatalf("expected a ZSK to be minted, got %+v", tx.keys)
	}
	states := tx.states[zskID]
	if states[domain.RecordRRSIGDNSKEY].State != domain.NOCARE {
		t.Fatalf("expected a ZSK's RRSIG-DNSKEY state to be NOCARE, got %v", states[domain.RecordRRSIGDNSKEY].State)
	}
	if states[domain.RecordDNSKEY].State != domain.HIDDEN {
		t.Fatalf("expected a ZSK's DNSKEY state to start HIDDEN, got %v", states[domain.RecordDNSKEY].State)
	}
}

func TestEnforce_PurgesFullyRetiredKeyAndReleasesHsmSlot(t *testing.T) {
	zone := domain.NewZone("z1", "example.", "default")
	policy := &domain.Policy{
		Name:       "default",
		PurgeAfter: 100,
	}
	dead := domain.Key{ID: "dead", ZoneID: "z1", Locator: "dead-loc", Role: domain.RoleZSK, Algorithm: 8, Bits: 1024}
	states := map[string][4]domain.KeyState{
		"dead": {
			domain.RecordDS:          {KeyID: "dead", Record: domain.RecordDS, State: domain.NOCARE},
			domain.RecordDNSKEY:      {KeyID: "dead", Record: domain.RecordDNSKEY, State: domain.HIDDEN, LastChange: 500},
			domain.RecordRRSIGDNSKEY: {KeyID: "dead", Record: domain.RecordRRSIGDNSKEY, State: domain.NOCARE},
			domain.RecordRRSIG:       {KeyID: "dead", Record: domain.RecordRRSIG, State: domain.HIDDEN, LastChange: 500},
		},
	}
	tx := &fakeTx{
		zone:   zone,
		policy: policy,
		keys:   []domain.Key{dead},
		states: states,
		hsmKeys: map[string]domain.HsmKey{
			"dead-loc": {Locator: "dead-loc", UsedByZones: []string{"example.", "other."}},
		},
	}
	db := &fakeDB{tx: tx}

	e := New(db, fakeFactory{}, fakeClock{now: 1000}, nil)
	if _, err := e.Enforce(context.Background(), "example."); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if len(tx.deletedKeyIDs) != 1 || tx.deletedKeyIDs[0] != "dead" {
		t.Fatalf("expected key 'dead' to be deleted, got %+v", tx.deletedKeyIDs)
	}
	for _, k := range tx.keys {
		if k.ID == "dead" {
			t.Fatalf("expected purged key to be removed from the live key list")
		}
	}
	hsm := tx.hsmKeys["dead-loc"]
	if len(hsm.UsedByZones) != 1 || hsm.UsedByZones[0] != "other." {
		t.Fatalf("expected zone example. to be released from UsedByZones, got %+v", hsm.UsedByZones)
	}
}

type mintingFactory struct{ hsm *domain.HsmKey }

func (f *mintingFactory) CreateNewKey(ctx context.Context, filter ports.HsmKeyFilter) (*domain.HsmKey, error) {
	return f.hsm, nil
}
func (f *mintingFactory) CreateSharedKey(ctx context.Context, filter ports.HsmKeyFilter, zone string) (*domain.HsmKey, error) {
	return f.hsm, nil
}
func (f *mintingFactory) UseSharedKey(ctx context.Context, filter ports.HsmKeyFilter, zone string) (*domain.HsmKey, error) {
	return nil, domain.ErrShortage
}
