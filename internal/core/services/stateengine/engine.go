package stateengine

import (
	"context"

	"github.com/poyrazK/enforcerd/internal/core/domain"
)

// Transition records one committed (key, record) state change, used by the
// enforcer to drive DS-at-parent updates and signconf-dirty marking.
type Transition struct {
	KeyID  string
	Record domain.RecordType
	From   domain.State
	To     domain.State
}

// Advance sweeps every (key, record) pair toward its goal state until no
// further transition commits, implementing §4.3's three-test gate plus the
// KeyDependency gate resolving spec Open Question 2: a key with an
// outstanding dependency on Record cannot leave that record's current
// state toward HIDDEN until the dependency's target key reaches
// OMNIPRESENT on the same record.
//
// states is keyed by Key.ID; it is mutated in place to reflect committed
// transitions. nextWake is the earliest min-transition-time among
// transitions that failed only the timing test, or domain.NeverWake if
// none remain outstanding.
func Advance(
	_ context.Context,
	zone *domain.Zone,
	keys []domain.Key,
	states map[string][4]domain.KeyState,
	deps []domain.KeyDependency,
	allowUnsigned bool,
	now int64,
	policy domain.Policy,
) (nextWake int64, dirty bool, transitions []Transition, err error) {
	blockedUntilOmnipresent := make(map[string]map[domain.RecordType]string) // keyID -> record -> blocking key ID
	for _, d := range deps {
		if blockedUntilOmnipresent[d.FromKeyID] == nil {
			blockedUntilOmnipresent[d.FromKeyID] = make(map[domain.RecordType]string)
		}
		blockedUntilOmnipresent[d.FromKeyID][d.Record] = d.ToKeyID
	}

	byID := make(map[string]domain.Key, len(keys))
	for _, k := range keys {
		byID[k.ID] = k
	}

	nextWake = domain.NeverWake
	for {
		committedThisSweep := false

		for _, key := range keys {
			cur := states[key.ID]
			for _, record := range domain.AllRecordTypes {
				ks := cur[record]
				if ks.State == domain.NOCARE {
					continue
				}
				goal := GoalNextState(key.Introducing, ks.State)
				if goal == ks.State {
					continue
				}

				if !key.Introducing {
					if blocker, blocked := blockedUntilOmnipresent[key.ID][record]; blocked {
						if blockerStates, ok := states[blocker]; !ok || blockerStates[record].State != domain.OMNIPRESENT {
							continue
						}
					}
				}

				if !PolicyAdmissible(record, goal, key.Minimise, cur) {
					continue
				}

				if !dnssecAdmissible(keys, states, key.ID, record, goal, allowUnsigned) {
					continue
				}

				minTime := MinTransitionTime(record, goal, ks, *zone, policy)
				if minTime > now {
					if nextWake == domain.NeverWake || minTime < nextWake {
						nextWake = minTime
					}
					continue
				}

				committed := ks
				committed.State = goal
				committed.LastChange = now
				committed.TTL = EffectiveTTL(record, PolicyTTLFor(record, policy), *zone, now)
				cur[record] = committed
				states[key.ID] = cur

				transitions = append(transitions, Transition{KeyID: key.ID, Record: record, From: ks.State, To: goal})
				if record == domain.RecordDNSKEY || record == domain.RecordRRSIGDNSKEY {
					dirty = true
				}
				committedThisSweep = true
			}
		}

		if !committedThisSweep {
			break
		}
	}

	return nextWake, dirty, transitions, nil
}

// dnssecAdmissible builds the current and trial snapshots for Test 2 and
// delegates to DNSSECAdmissible.
func dnssecAdmissible(
	keys []domain.Key,
	states map[string][4]domain.KeyState,
	candidateKeyID string,
	record domain.RecordType,
	goal domain.State,
	allowUnsigned bool,
) bool {
	current := make([]snapshotKey, 0, len(keys))
	trial := make([]snapshotKey, 0, len(keys))
	for _, k := range keys {
		s := states[k.ID]
		current = append(current, snapshotKey{ID: k.ID, Algorithm: k.Algorithm, States: s})
		if k.ID == candidateKeyID {
			s[record].State = goal
		}
		trial = append(trial, snapshotKey{ID: k.ID, Algorithm: k.Algorithm, States: s})
	}
	return DNSSECAdmissible(current, trial, allowUnsigned)
}
