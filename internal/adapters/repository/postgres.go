// Package repository implements the core ports against PostgreSQL.
package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log"

	"github.com/poyrazK/enforcerd/internal/core/domain"
	"github.com/poyrazK/enforcerd/internal/core/ports"
)

// PostgresDatabase implements ports.Database using database/sql over the
// pgx/v5 stdlib driver.
type PostgresDatabase struct {
	db *sql.DB
}

// NewPostgresDatabase creates and returns a new PostgresDatabase instance.
func NewPostgresDatabase(db *sql.DB) *PostgresDatabase {
	return &PostgresDatabase{db: db}
}

func (d *PostgresDatabase) Ping(ctx context.Context) error {
	return d.db.PingContext(ctx)
}

func (d *PostgresDatabase) BeginTx(ctx context.Context) (ports.Tx, error) {
	tx, err := d.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", domain.ErrDatabaseUnavailable, err)
	}
	return &postgresTx{tx: tx}, nil
}

// postgresTx implements ports.Tx against a single *sql.Tx.
type postgresTx struct {
	tx *sql.Tx
}

func closeRows(rows *sql.Rows) {
	if err := rows.Close(); err != nil {
		log.Printf("failed to close rows: %v", err)
	}
}

func (t *postgresTx) Commit() error   { return t.tx.Commit() }
func (t *postgresTx) Rollback() error {
	err := t.tx.Rollback()
	if errors.Is(err, sql.ErrTxDone) {
		return nil
	}
	return err
}

// AdvisoryLockZone takes a transaction-scoped advisory lock keyed on the
// zone name's hash, serialising every enforce/command touching this zone
// until the transaction ends.
func (t *postgresTx) AdvisoryLockZone(ctx context.Context, zoneName string) error {
	_, err := t.tx.ExecContext(ctx, `SELECT pg_advisory_xact_lock(hashtext($1))`, zoneName)
	return err
}

func marshalJSON(v interface{}) ([]byte, error) {
	return json.Marshal(v)
}

func unmarshalJSON(data []byte, v interface{}) error {
	if len(data) == 0 {
		return nil
	}
	return json.Unmarshal(data, v)
}

// --- Zones ---

func (t *postgresTx) GetZoneByName(ctx context.Context, name string) (*domain.Zone, error) {
	query := `SELECT id, name, policy_name, next_change, signconf_dirty, ttl_enddates, manual_roll_now, last_computed_next_roll
	          FROM zones WHERE name = $1`
	var z domain.Zone
	var ttlJSON, rollJSON, computedJSON []byte
	err := t.tx.QueryRowContext(ctx, query, name).Scan(
		&z.ID, &z.Name, &z.PolicyName, &z.NextChange, &z.SignconfDirty, &ttlJSON, &rollJSON, &computedJSON)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("zone %s: %w", name, domain.ErrConstraintViolation)
	}
	if err != nil {
		return nil, err
	}
	if err := decodeZoneMaps(&z, ttlJSON, rollJSON, computedJSON); err != nil {
		return nil, err
	}
	return &z, nil
}

func decodeZoneMaps(z *domain.Zone, ttlJSON, rollJSON, computedJSON []byte) error {
	z.TTLEndDates = make(map[domain.RecordType]int64)
	z.ManualRollNow = make(map[domain.KeyRole]bool)
	z.LastComputedNextRoll = make(map[domain.KeyRole]int64)
	if err := unmarshalJSON(ttlJSON, &z.TTLEndDates); err != nil {
		return fmt.Errorf("decode zone ttl_enddates: %w", err)
	}
	if err := unmarshalJSON(rollJSON, &z.ManualRollNow); err != nil {
		return fmt.Errorf("decode zone manual_roll_now: %w", err)
	}
	if err := unmarshalJSON(computedJSON, &z.LastComputedNextRoll); err != nil {
		return fmt.Errorf("decode zone last_computed_next_roll: %w", err)
	}
	return nil
}

func (t *postgresTx) ListZones(ctx context.Context) ([]domain.Zone, error) {
	query := `SELECT id, name, policy_name, next_change, signconf_dirty, ttl_enddates, manual_roll_now, last_computed_next_roll FROM zones`
	rows, err := t.tx.QueryContext(ctx, query)
	if err != nil {
		return nil, err
	}
	defer closeRows(rows)

	var zones []domain.Zone
	for rows.Next() {
		var z domain.Zone
		var ttlJSON, rollJSON, computedJSON []byte
		if err := rows.Scan(&z.ID, &z.Name, &z.PolicyName, &z.NextChange, &z.SignconfDirty, &ttlJSON, &rollJSON, &computedJSON); err != nil {
			return nil, err
		}
		if err := decodeZoneMaps(&z, ttlJSON, rollJSON, computedJSON); err != nil {
			return nil, err
		}
		zones = append(zones, z)
	}
	return zones, rows.Err()
}

func (t *postgresTx) CreateZone(ctx context.Context, zone *domain.Zone) error {
	ttlJSON, err := marshalJSON(zone.TTLEndDates)
	if err != nil {
		return err
	}
	rollJSON, err := marshalJSON(zone.ManualRollNow)
	if err != nil {
		return err
	}
	computedJSON, err := marshalJSON(zone.LastComputedNextRoll)
	if err != nil {
		return err
	}
	query := `INSERT INTO zones (id, name, policy_name, next_change, signconf_dirty, ttl_enddates, manual_roll_now, last_computed_next_roll)
	          VALUES (gen_random_uuid(), $1, $2, $3, $4, $5, $6, $7) RETURNING id`
	return t.tx.QueryRowContext(ctx, query, zone.Name, zone.PolicyName, zone.NextChange, zone.SignconfDirty, ttlJSON, rollJSON, computedJSON).Scan(&zone.ID)
}

func (t *postgresTx) UpdateZone(ctx context.Context, zone *domain.Zone) error {
	ttlJSON, err := marshalJSON(zone.TTLEndDates)
	if err != nil {
		return err
	}
	rollJSON, err := marshalJSON(zone.ManualRollNow)
	if err != nil {
		return err
	}
	computedJSON, err := marshalJSON(zone.LastComputedNextRoll)
	if err != nil {
		return err
	}
	query := `UPDATE zones SET policy_name = $1, next_change = $2, signconf_dirty = $3, ttl_enddates = $4, manual_roll_now = $5, last_computed_next_roll = $6
	          WHERE id = $7`
	_, err = t.tx.ExecContext(ctx, query, zone.PolicyName, zone.NextChange, zone.SignconfDirty, ttlJSON, rollJSON, computedJSON, zone.ID)
	return err
}

func (t *postgresTx) DeleteZone(ctx context.Context, zoneID string) error {
	_, err := t.tx.ExecContext(ctx, `DELETE FROM zones WHERE id = $1`, zoneID)
	return err
}

// --- Policies ---

// policyRow is the JSON-serialisable shape of domain.Policy's nested
// configuration, stored as a single jsonb column: Policy has no natural
// relational decomposition (its sections are reconciler/state-engine
// inputs, never queried independently), so the whole struct round-trips
// through jsonb rather than a dozen narrow columns.
type policyRow struct {
	Signatures    domain.SignatureParams            `json:"signatures"`
	Denial        domain.DenialParams                `json:"denial"`
	Keys          map[domain.KeyRole]domain.KeyRoleConfig `json:"keys"`
	ZoneTiming    domain.ZoneTimingParams             `json:"zone_timing"`
	KeyTTL        int64                               `json:"key_ttl"`
	RetireSafety  int64                               `json:"retire_safety"`
	PublishSafety int64                               `json:"publish_safety"`
	ShareKeys     bool                                `json:"share_keys"`
	PurgeAfter    int64                               `json:"purge_after"`
	PassThrough   bool                                `json:"pass_through"`
}

func toPolicyRow(p *domain.Policy) policyRow {
	return policyRow{
		Signatures: p.Signatures, Denial: p.Denial, Keys: p.Keys, ZoneTiming: p.ZoneTiming,
		KeyTTL: p.KeyTTL, RetireSafety: p.RetireSafety, PublishSafety: p.PublishSafety,
		ShareKeys: p.ShareKeys, PurgeAfter: p.PurgeAfter, PassThrough: p.PassThrough,
	}
}

func fromPolicyRow(name string, r policyRow) domain.Policy {
	return domain.Policy{
		Name: name, Signatures: r.Signatures, Denial: r.Denial, Keys: r.Keys, ZoneTiming: r.ZoneTiming,
		KeyTTL: r.KeyTTL, RetireSafety: r.RetireSafety, PublishSafety: r.PublishSafety,
		ShareKeys: r.ShareKeys, PurgeAfter: r.PurgeAfter, PassThrough: r.PassThrough,
	}
}

func (t *postgresTx) GetPolicyByName(ctx context.Context, name string) (*domain.Policy, error) {
	var configJSON []byte
	err := t.tx.QueryRowContext(ctx, `SELECT config FROM policies WHERE name = $1`, name).Scan(&configJSON)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("policy %s: %w", name, domain.ErrConstraintViolation)
	}
	if err != nil {
		return nil, err
	}
	var row policyRow
	if err := json.Unmarshal(configJSON, &row); err != nil {
		return nil, fmt.Errorf("decode policy %s: %w", name, err)
	}
	p := fromPolicyRow(name, row)
	return &p, nil
}

func (t *postgresTx) ListPolicies(ctx context.Context) ([]domain.Policy, error) {
	rows, err := t.tx.QueryContext(ctx, `SELECT name, config FROM policies`)
	if err != nil {
		return nil, err
	}
	defer closeRows(rows)

	var policies []domain.Policy
	for rows.Next() {
		var name string
		var configJSON []byte
		if err := rows.Scan(&name, &configJSON); err != nil {
			return nil, err
		}
		var row policyRow
		if err := json.Unmarshal(configJSON, &row); err != nil {
			return nil, fmt.Errorf("decode policy %s: %w", name, err)
		}
		policies = append(policies, fromPolicyRow(name, row))
	}
	return policies, rows.Err()
}

func (t *postgresTx) UpsertPolicy(ctx context.Context, policy *domain.Policy) error {
	configJSON, err := json.Marshal(toPolicyRow(policy))
	if err != nil {
		return err
	}
	query := `INSERT INTO policies (name, config) VALUES ($1, $2)
	          ON CONFLICT (name) DO UPDATE SET config = EXCLUDED.config`
	_, err = t.tx.ExecContext(ctx, query, policy.Name, configJSON)
	return err
}

func (t *postgresTx) DeletePolicy(ctx context.Context, name string) error {
	_, err := t.tx.ExecContext(ctx, `DELETE FROM policies WHERE name = $1`, name)
	return err
}

func (t *postgresTx) PolicyInUse(ctx context.Context, name string) (bool, error) {
	var count int
	err := t.tx.QueryRowContext(ctx, `SELECT count(*) FROM zones WHERE policy_name = $1`, name).Scan(&count)
	return count > 0, err
}

// --- Keys ---

func scanKey(scanner interface{ Scan(...interface{}) error }) (domain.Key, error) {
	var k domain.Key
	err := scanner.Scan(&k.ID, &k.ZoneID, &k.Locator, &k.Role, &k.Algorithm, &k.Bits, &k.Repository,
		&k.Inception, &k.Introducing, &k.Standby, &k.KeyTag, &k.DSAtParent,
		&k.Minimise.DS, &k.Minimise.DNSKEY, &k.Minimise.RRSIGDNSKEY, &k.Minimise.RRSIG)
	return k, err
}

const keyColumns = `id, zone_id, locator, role, algorithm, bits, repository, inception, introducing, standby, key_tag, ds_at_parent,
	minimise_ds, minimise_dnskey, minimise_rrsigdnskey, minimise_rrsig`

func (t *postgresTx) ListKeys(ctx context.Context, zoneID string) ([]domain.Key, error) {
	rows, err := t.tx.QueryContext(ctx, `SELECT `+keyColumns+` FROM keys WHERE zone_id = $1`, zoneID)
	if err != nil {
		return nil, err
	}
	defer closeRows(rows)

	var keys []domain.Key
	for rows.Next() {
		k, err := scanKey(rows)
		if err != nil {
			return nil, err
		}
		keys = append(keys, k)
	}
	return keys, rows.Err()
}

func (t *postgresTx) CreateKey(ctx context.Context, key *domain.Key) error {
	query := `INSERT INTO keys (id, zone_id, locator, role, algorithm, bits, repository, inception, introducing, standby, key_tag, ds_at_parent,
	          minimise_ds, minimise_dnskey, minimise_rrsigdnskey, minimise_rrsig)
	          VALUES (gen_random_uuid(), $1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15) RETURNING id`
	return t.tx.QueryRowContext(ctx, query, key.ZoneID, key.Locator, key.Role, key.Algorithm, key.Bits, key.Repository,
		key.Inception, key.Introducing, key.Standby, key.KeyTag, key.DSAtParent,
		key.Minimise.DS, key.Minimise.DNSKEY, key.Minimise.RRSIGDNSKEY, key.Minimise.RRSIG).Scan(&key.ID)
}

func (t *postgresTx) UpdateKey(ctx context.Context, key *domain.Key) error {
	query := `UPDATE keys SET introducing = $1, standby = $2, key_tag = $3, ds_at_parent = $4 WHERE id = $5`
	_, err := t.tx.ExecContext(ctx, query, key.Introducing, key.Standby, key.KeyTag, key.DSAtParent, key.ID)
	return err
}

func (t *postgresTx) DeleteKey(ctx context.Context, keyID string) error {
	_, err := t.tx.ExecContext(ctx, `DELETE FROM keys WHERE id = $1`, keyID)
	return err
}

// --- Key states ---

func (t *postgresTx) GetKeyStates(ctx context.Context, keyID string) ([4]domain.KeyState, error) {
	var states [4]domain.KeyState
	for i := range states {
		states[i] = domain.KeyState{KeyID: keyID, Record: domain.AllRecordTypes[i], State: domain.HIDDEN}
	}

	rows, err := t.tx.QueryContext(ctx, `SELECT key_id, record, state, last_change, ttl, minimise FROM key_states WHERE key_id = $1`, keyID)
	if err != nil {
		return states, err
	}
	defer closeRows(rows)

	for rows.Next() {
		var s domain.KeyState
		if err := rows.Scan(&s.KeyID, &s.Record, &s.State, &s.LastChange, &s.TTL, &s.Minimise); err != nil {
			return states, err
		}
		states[s.Record] = s
	}
	return states, rows.Err()
}

func (t *postgresTx) UpdateKeyState(ctx context.Context, state domain.KeyState) error {
	query := `INSERT INTO key_states (key_id, record, state, last_change, ttl, minimise) VALUES ($1, $2, $3, $4, $5, $6)
	          ON CONFLICT (key_id, record) DO UPDATE SET state = EXCLUDED.state, last_change = EXCLUDED.last_change,
	          ttl = EXCLUDED.ttl, minimise = EXCLUDED.minimise`
	_, err := t.tx.ExecContext(ctx, query, state.KeyID, state.Record, state.State, state.LastChange, state.TTL, state.Minimise)
	return err
}

// --- Key dependencies ---

func (t *postgresTx) ListKeyDependencies(ctx context.Context, zoneID string) ([]domain.KeyDependency, error) {
	query := `SELECT d.from_key_id, d.to_key_id, d.record FROM key_dependencies d
	          JOIN keys k ON k.id = d.from_key_id WHERE k.zone_id = $1`
	rows, err := t.tx.QueryContext(ctx, query, zoneID)
	if err != nil {
		return nil, err
	}
	defer closeRows(rows)

	var deps []domain.KeyDependency
	for rows.Next() {
		var d domain.KeyDependency
		if err := rows.Scan(&d.FromKeyID, &d.ToKeyID, &d.Record); err != nil {
			return nil, err
		}
		deps = append(deps, d)
	}
	return deps, rows.Err()
}

func (t *postgresTx) CreateKeyDependency(ctx context.Context, dep domain.KeyDependency) error {
	query := `INSERT INTO key_dependencies (from_key_id, to_key_id, record) VALUES ($1, $2, $3)
	          ON CONFLICT (from_key_id, to_key_id, record) DO NOTHING`
	_, err := t.tx.ExecContext(ctx, query, dep.FromKeyID, dep.ToKeyID, dep.Record)
	return err
}

func (t *postgresTx) DeleteKeyDependency(ctx context.Context, dep domain.KeyDependency) error {
	query := `DELETE FROM key_dependencies WHERE from_key_id = $1 AND to_key_id = $2 AND record = $3`
	_, err := t.tx.ExecContext(ctx, query, dep.FromKeyID, dep.ToKeyID, dep.Record)
	return err
}

// --- HSM keys ---

const hsmKeyColumns = `locator, bits, algorithm, repository, policy_name, role, inception, candidate_for_sharing, revoke, backup_state, used_by_zones`

func scanHsmKey(scanner interface{ Scan(...interface{}) error }) (domain.HsmKey, error) {
	var k domain.HsmKey
	var usedBy []byte
	err := scanner.Scan(&k.Locator, &k.Bits, &k.Algorithm, &k.Repository, &k.PolicyName, &k.Role, &k.Inception,
		&k.CandidateForSharing, &k.Revoke, &k.BackupState, &usedBy)
	if err != nil {
		return k, err
	}
	if err := unmarshalJSON(usedBy, &k.UsedByZones); err != nil {
		return k, fmt.Errorf("decode hsm key used_by_zones: %w", err)
	}
	return k, nil
}

func (t *postgresTx) ListHsmKeys(ctx context.Context, filter ports.HsmKeyFilter) ([]domain.HsmKey, error) {
	query, args := hsmKeyFilterQuery(`SELECT `+hsmKeyColumns+` FROM hsm_keys`, filter)
	rows, err := t.tx.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer closeRows(rows)

	var keys []domain.HsmKey
	for rows.Next() {
		k, err := scanHsmKey(rows)
		if err != nil {
			return nil, err
		}
		keys = append(keys, k)
	}
	return keys, rows.Err()
}

func hsmKeyFilterQuery(base string, filter ports.HsmKeyFilter) (string, []interface{}) {
	query := base + ` WHERE bits = $1 AND algorithm = $2 AND repository = $3 AND policy_name = $4 AND role = $5`
	args := []interface{}{filter.Bits, filter.Algorithm, filter.Repository, filter.PolicyName, filter.Role}
	if filter.Unclaimed {
		query += ` AND used_by_zones = '[]'::jsonb`
	}
	return query, args
}

func (t *postgresTx) GetHsmKeyByLocator(ctx context.Context, locator string) (*domain.HsmKey, error) {
	row := t.tx.QueryRowContext(ctx, `SELECT `+hsmKeyColumns+` FROM hsm_keys WHERE locator = $1`, locator)
	k, err := scanHsmKey(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &k, nil
}

// ClaimHsmKey locks and returns one unclaimed row matching filter, using
// FOR UPDATE SKIP LOCKED so concurrent enforcers racing for the same slot
// don't block on each other.
func (t *postgresTx) ClaimHsmKey(ctx context.Context, filter ports.HsmKeyFilter) (*domain.HsmKey, error) {
	query, args := hsmKeyFilterQuery(`SELECT `+hsmKeyColumns+` FROM hsm_keys`, ports.HsmKeyFilter{
		Bits: filter.Bits, Algorithm: filter.Algorithm, Repository: filter.Repository,
		PolicyName: filter.PolicyName, Role: filter.Role, Unclaimed: true,
	})
	query += ` ORDER BY inception ASC LIMIT 1 FOR UPDATE SKIP LOCKED`
	row := t.tx.QueryRowContext(ctx, query, args...)
	k, err := scanHsmKey(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &k, nil
}

func (t *postgresTx) InsertHsmKey(ctx context.Context, key domain.HsmKey) error {
	usedBy, err := marshalJSON(key.UsedByZones)
	if err != nil {
		return err
	}
	query := `INSERT INTO hsm_keys (` + hsmKeyColumns + `) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)`
	_, err = t.tx.ExecContext(ctx, query, key.Locator, key.Bits, key.Algorithm, key.Repository, key.PolicyName, key.Role,
		key.Inception, key.CandidateForSharing, key.Revoke, key.BackupState, usedBy)
	return err
}

func (t *postgresTx) UpdateHsmKey(ctx context.Context, key domain.HsmKey) error {
	usedBy, err := marshalJSON(key.UsedByZones)
	if err != nil {
		return err
	}
	query := `UPDATE hsm_keys SET candidate_for_sharing = $1, revoke = $2, backup_state = $3, used_by_zones = $4 WHERE locator = $5`
	_, err = t.tx.ExecContext(ctx, query, key.CandidateForSharing, key.Revoke, key.BackupState, usedBy, key.Locator)
	return err
}

// --- Tasks ---

func (t *postgresTx) EnqueueTask(ctx context.Context, task ports.Task) error {
	query := `INSERT INTO tasks (id, target, kind, due_at, backoff) VALUES ($1, $2, $3, $4, $5)
	          ON CONFLICT (id) DO UPDATE SET due_at = LEAST(tasks.due_at, EXCLUDED.due_at), backoff = EXCLUDED.backoff`
	_, err := t.tx.ExecContext(ctx, query, task.ID, task.Target, task.Kind, task.DueAt, task.Backoff)
	return err
}

func (t *postgresTx) ListDueTasks(ctx context.Context, before int64) ([]ports.Task, error) {
	rows, err := t.tx.QueryContext(ctx, `SELECT id, target, kind, due_at, backoff FROM tasks WHERE due_at <= $1`, before)
	if err != nil {
		return nil, err
	}
	defer closeRows(rows)

	var tasks []ports.Task
	for rows.Next() {
		var task ports.Task
		if err := rows.Scan(&task.ID, &task.Target, &task.Kind, &task.DueAt, &task.Backoff); err != nil {
			return nil, err
		}
		tasks = append(tasks, task)
	}
	return tasks, rows.Err()
}
