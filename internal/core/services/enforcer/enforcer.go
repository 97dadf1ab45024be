// Package enforcer implements the single per-zone operation the rest of
// the system exists to drive: enforce(zone), which reconciles policy
// against live keys and advances every key's state lattice inside one
// transaction (spec §4.5).
package enforcer

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/poyrazK/enforcerd/internal/core/domain"
	"github.com/poyrazK/enforcerd/internal/core/ports"
	"github.com/poyrazK/enforcerd/internal/core/services/reconciler"
	"github.com/poyrazK/enforcerd/internal/core/services/stateengine"
)

// Enforcer runs enforce(zone) against a Database port.
type Enforcer struct {
	db      ports.Database
	factory reconciler.KeyFactory
	clock   ports.Clock
	logger  *slog.Logger
}

// New returns an Enforcer.
func New(db ports.Database, factory reconciler.KeyFactory, clock ports.Clock, logger *slog.Logger) *Enforcer {
	if logger == nil {
		logger = slog.Default()
	}
	return &Enforcer{db: db, factory: factory, clock: clock, logger: logger}
}

// Enforce implements §4.5 steps 1-9 for a single zone, identified by name.
func (e *Enforcer) Enforce(ctx context.Context, zoneName string) (nextChange int64, err error) {
	now := e.clock.Now()

	tx, err := e.db.BeginTx(ctx)
	if err != nil {
		return 0, fmt.Errorf("%w: begin transaction: %v", domain.ErrDatabaseUnavailable, err)
	}
	defer func() {
		if rbErr := tx.Rollback(); rbErr != nil && err == nil {
			e.logger.Error("failed to roll back enforce transaction", "zone", zoneName, "error", rbErr)
		}
	}()

	if err = tx.AdvisoryLockZone(ctx, zoneName); err != nil {
		return 0, fmt.Errorf("%w: advisory lock zone %s: %v", domain.ErrDatabaseUnavailable, zoneName, err)
	}

	zone, err := tx.GetZoneByName(ctx, zoneName)
	if err != nil {
		return 0, err
	}

	policy, err := tx.GetPolicyByName(ctx, zone.PolicyName)
	if err != nil {
		return 0, err
	}

	keys, err := tx.ListKeys(ctx, zone.ID)
	if err != nil {
		return 0, err
	}

	states := make(map[string][4]domain.KeyState, len(keys))
	for _, k := range keys {
		s, stateErr := tx.GetKeyStates(ctx, k.ID)
		if stateErr != nil {
			return 0, stateErr
		}
		states[k.ID] = s
	}

	// Step 2: reconcile policy against live keys.
	result, err := reconciler.Reconcile(ctx, zone, *policy, keys, states, e.factory, now)
	if err != nil {
		return 0, err
	}

	for i := range result.NewKeys {
		nk := &result.NewKeys[i]
		if createErr := tx.CreateKey(ctx, nk); createErr != nil {
			return 0, createErr
		}
		var ks [4]domain.KeyState
		for _, record := range domain.AllRecordTypes {
			state := domain.NOCARE
			if record == domain.RecordDNSKEY || caresAbout(nk.Role, record) {
				state = domain.HIDDEN
			}
			s := domain.KeyState{KeyID: nk.ID, Record: record, State: state, LastChange: now}
			if updErr := tx.UpdateKeyState(ctx, s); updErr != nil {
				return 0, updErr
			}
			ks[record] = s
		}
		states[nk.ID] = ks
		keys = append(keys, *nk)
	}

	for _, id := range result.RetiredKeyIDs {
		for i := range keys {
			if keys[i].ID == id {
				keys[i].Introducing = false
				if updErr := tx.UpdateKey(ctx, &keys[i]); updErr != nil {
					return 0, updErr
				}
			}
		}
	}

	// Step 4: purge keys the reconciler flagged as fully retired, and
	// release their slot in the owning HsmKey's UsedByZones.
	if len(result.PurgedKeyIDs) > 0 {
		keys, err = e.purgeKeys(ctx, tx, zone.Name, keys, states, result.PurgedKeyIDs)
		if err != nil {
			return 0, err
		}
	}

	deps, err := tx.ListKeyDependencies(ctx, zone.ID)
	if err != nil {
		return 0, err
	}

	zoneNextWake, signconfDirty, transitions, err := stateengine.Advance(ctx, zone, keys, states, deps, result.AllowUnsigned, now, *policy)
	if err != nil {
		return 0, err
	}

	for _, t := range transitions {
		if updErr := tx.UpdateKeyState(ctx, states[t.KeyID][t.Record]); updErr != nil {
			return 0, updErr
		}
		// Steps 4-5: DS-at-parent follows DS transitions.
		if t.Record == domain.RecordDS {
			for i := range keys {
				if keys[i].ID != t.KeyID {
					continue
				}
				switch t.To {
				case domain.RUMOURED:
					keys[i].DSAtParent = domain.DSSubmit
				case domain.UNRETENTIVE:
					keys[i].DSAtParent = domain.DSRetract
				}
				if updErr := tx.UpdateKey(ctx, &keys[i]); updErr != nil {
					return 0, updErr
				}
			}
		}
	}

	// Step 6: next-change is the earlier of the reconciler's and the
	// state engine's wake requests.
	nextChange = minWake(result.NextWake, zoneNextWake)
	zone.NextChange = nextChange
	zone.SignconfDirty = zone.SignconfDirty || signconfDirty

	if updErr := tx.UpdateZone(ctx, zone); updErr != nil {
		return 0, updErr
	}

	// Step 7: enqueue signconf if dirty.
	if zone.SignconfDirty {
		if enqErr := tx.EnqueueTask(ctx, ports.Task{ID: "signconf:" + zone.Name, Target: zone.Name, Kind: "signconf", DueAt: now}); enqErr != nil {
			return 0, enqErr
		}
	}

	// Step 8: warn on pending DS actions.
	for _, k := range keys {
		switch k.DSAtParent {
		case domain.DSSubmit:
			e.logger.Warn("please submit DS to parent", "zone", zone.Name, "keytag", k.KeyTag)
		case domain.DSRetract:
			e.logger.Warn("please retract DS from parent", "zone", zone.Name, "keytag", k.KeyTag)
		}
	}

	if err = tx.Commit(); err != nil {
		return 0, fmt.Errorf("%w: commit enforce transaction: %v", domain.ErrDatabaseUnavailable, err)
	}

	return nextChange, nil
}

// purgeKeys deletes each key named in purgedIDs, releases its slot in the
// owning HsmKey's UsedByZones, and returns keys with those entries removed.
// states is updated in place to match.
func (e *Enforcer) purgeKeys(ctx context.Context, tx ports.Tx, zoneName string, keys []domain.Key, states map[string][4]domain.KeyState, purgedIDs []string) ([]domain.Key, error) {
	purged := make(map[string]bool, len(purgedIDs))
	for _, id := range purgedIDs {
		purged[id] = true
	}

	kept := keys[:0]
	for _, k := range keys {
		if !purged[k.ID] {
			kept = append(kept, k)
			continue
		}

		if delErr := tx.DeleteKey(ctx, k.ID); delErr != nil {
			return nil, delErr
		}
		delete(states, k.ID)

		hsm, hsmErr := tx.GetHsmKeyByLocator(ctx, k.Locator)
		if hsmErr != nil {
			return nil, hsmErr
		}
		zones := hsm.UsedByZones[:0]
		for _, z := range hsm.UsedByZones {
			if z != zoneName {
				zones = append(zones, z)
			}
		}
		hsm.UsedByZones = zones
		if updErr := tx.UpdateHsmKey(ctx, *hsm); updErr != nil {
			return nil, updErr
		}

		e.logger.Info("purged retired key", "zone", zoneName, "key", k.ID, "locator", k.Locator)
	}

	return kept, nil
}

func caresAbout(role domain.KeyRole, record domain.RecordType) bool {
	switch record {
	case domain.RecordDS:
		return role.CaresAboutDS()
	case domain.RecordRRSIGDNSKEY:
		return role.CaresAboutDS()
	case domain.RecordRRSIG:
		return role.CaresAboutRRSIG()
	default:
		return true
	}
}

func minWake(a, b int64) int64 {
	if a == domain.NeverWake {
		return b
	}
	if b == domain.NeverWake {
		return a
	}
	if a < b {
		return a
	}
	return b
}
