// Package reconciler keeps a zone's live Keys in sync with its policy's
// key-role slots: ageing out keys that no longer match a slot, minting
// replacements when a slot's youngest matching key has expired, and
// purging fully-retired keys once their purge-after window has elapsed
// (spec §4.4).
package reconciler

import (
	"context"

	"github.com/poyrazK/enforcerd/internal/core/domain"
	"github.com/poyrazK/enforcerd/internal/core/ports"
)

// KeyFactory is the subset of keyfactory.Factory the reconciler needs,
// narrowed to a port so the reconciler can be tested without a real HSM.
type KeyFactory interface {
	CreateNewKey(ctx context.Context, filter ports.HsmKeyFilter) (*domain.HsmKey, error)
	CreateSharedKey(ctx context.Context, filter ports.HsmKeyFilter, zone string) (*domain.HsmKey, error)
	UseSharedKey(ctx context.Context, filter ports.HsmKeyFilter, zone string) (*domain.HsmKey, error)
}

const shortageRetryDelay = 60

// Result carries everything Reconcile decided, for the enforcer to apply.
type Result struct {
	NextWake      int64
	AllowUnsigned bool
	NewKeys       []domain.Key
	RetiredKeyIDs []string
	PurgedKeyIDs  []string
}

// Reconcile implements §4.4 steps 1-4 for zone z under policy p given its
// current live keys, their current per-record states, and now (UTC epoch
// seconds).
func Reconcile(ctx context.Context, zone *domain.Zone, policy domain.Policy, keys []domain.Key, states map[string][4]domain.KeyState, factory KeyFactory, now int64) (Result, error) {
	res := Result{NextWake: domain.NeverWake}

	// Step 1: age out keys that no longer match any slot.
	for i := range keys {
		matched := false
		for _, slot := range policy.Keys {
			if keys[i].MatchesSlot(slot) {
				matched = true
				break
			}
		}
		if !matched && keys[i].Introducing {
			keys[i].Introducing = false
			res.RetiredKeyIDs = append(res.RetiredKeyIDs, keys[i].ID)
		}
	}

	// Step 2: allow-unsigned iff the policy has no key slots at all.
	res.AllowUnsigned = !policy.HasKeySlots()

	// Step 3: for every slot, ensure standby+1 live, unexpired instances.
	for _, slot := range policy.Keys {
		required := slot.Standby + 1
		matching := matchingKeys(keys, slot)
		live := 0
		for _, k := range matching {
			if !keyExpired(k, slot, zone, now) {
				live++
				wake := k.Inception + slot.Lifetime
				if res.NextWake == domain.NeverWake || wake < res.NextWake {
					res.NextWake = wake
				}
			}
		}
		for live < required {
			newKey, shortage, err := mintKey(ctx, zone, policy, slot, factory)
			if err != nil {
				return res, err
			}
			if shortage {
				if res.NextWake == domain.NeverWake || now+shortageRetryDelay < res.NextWake {
					res.NextWake = now + shortageRetryDelay
				}
				break
			}
			newKey.Inception = now
			newKey.Introducing = true
			res.NewKeys = append(res.NewKeys, newKey)

			for i := range keys {
				if keys[i].Locator != newKey.Locator && keys[i].MatchesSlot(slot) && keys[i].Introducing {
					keys[i].Introducing = false
					res.RetiredKeyIDs = append(res.RetiredKeyIDs, keys[i].ID)
				}
			}
			live++
		}
	}

	// Step 4: purge any key whose four record states are all HIDDEN-or-
	// NOCARE and whose last HIDDEN transition happened more than
	// policy.PurgeAfter in the past. The caller is responsible for the
	// actual tx.DeleteKey and for releasing the key's slot in its owning
	// HsmKey's UsedByZones.
	for _, k := range keys {
		s, ok := states[k.ID]
		if !ok {
			continue
		}
		if keyPurgeable(s, policy.PurgeAfter, now) {
			res.PurgedKeyIDs = append(res.PurgedKeyIDs, k.ID)
		}
	}

	for role := range zone.ManualRollNow {
		zone.ManualRollNow[role] = false
	}

	return res, nil
}

// keyPurgeable reports whether every one of a key's four record states is
// HIDDEN or NOCARE, and the most recent transition into HIDDEN happened
// more than purgeAfter seconds before now. A policy with no purge-after
// configured (<= 0) never purges; zero means "not opted in", not
// "immediately".
func keyPurgeable(states [4]domain.KeyState, purgeAfter int64, now int64) bool {
	if purgeAfter <= 0 {
		return false
	}
	lastHidden := int64(-1)
	for _, s := range states {
		switch s.State {
		case domain.HIDDEN:
			if s.LastChange > lastHidden {
				lastHidden = s.LastChange
			}
		case domain.NOCARE:
			// doesn't block purge
		default:
			return false
		}
	}
	if lastHidden < 0 {
		return false
	}
	return now-lastHidden > purgeAfter
}

func matchingKeys(keys []domain.Key, slot domain.KeyRoleConfig) []domain.Key {
	var out []domain.Key
	for _, k := range keys {
		if k.MatchesSlot(slot) {
			out = append(out, k)
		}
	}
	return out
}

// keyExpired reports whether the youngest key matching a slot should be
// treated as expired: either its natural lifetime has elapsed, or the
// zone's manual-roll-now flag for this role forces it.
func keyExpired(k domain.Key, slot domain.KeyRoleConfig, zone *domain.Zone, now int64) bool {
	if zone.ManualRollNow[slot.Role] {
		return true
	}
	return k.Inception+slot.Lifetime <= now
}

func mintKey(ctx context.Context, zone *domain.Zone, policy domain.Policy, slot domain.KeyRoleConfig, factory KeyFactory) (domain.Key, bool, error) {
	filter := ports.HsmKeyFilter{
		Bits:       slot.Bits,
		Algorithm:  slot.Algorithm,
		Repository: slot.Repository,
		PolicyName: policy.Name,
		Role:       slot.Role,
	}

	var hsm *domain.HsmKey
	var err error
	if policy.ShareKeys {
		hsm, err = factory.UseSharedKey(ctx, filter, zone.Name)
		if err != nil {
			hsm, err = factory.CreateSharedKey(ctx, filter, zone.Name)
		}
	} else {
		hsm, err = factory.CreateNewKey(ctx, filter)
	}
	if err != nil {
		if err == domain.ErrShortage {
			return domain.Key{}, true, nil
		}
		return domain.Key{}, false, err
	}

	key := domain.Key{
		ZoneID:     zone.ID,
		Locator:    hsm.Locator,
		Role:       slot.Role,
		Algorithm:  hsm.Algorithm,
		Bits:       hsm.Bits,
		Repository: hsm.Repository,
		Minimise:   slot.Minimise,
	}
	return key, false, nil
}
