// Package stateengine advances each (Key, RecordType) pair through the
// five-state DNSSEC presence lattice, gated by three tests performed in
// order: policy admissibility, DNSSEC validity (the 3-rule check), and
// timing admissibility. The tables in this file are constant data, not
// control flow — the sweep loop in engine.go is the only place that
// branches on them.
package stateengine

import "github.com/poyrazK/enforcerd/internal/core/domain"

// goalProjection maps (introducing, current state) to the state the engine
// should attempt to move toward next (spec §4.3's goal-projection table).
var goalProjection = map[bool]map[domain.State]domain.State{
	true: {
		domain.HIDDEN:      domain.RUMOURED,
		domain.RUMOURED:    domain.OMNIPRESENT,
		domain.OMNIPRESENT: domain.OMNIPRESENT,
		domain.UNRETENTIVE: domain.RUMOURED,
		domain.NOCARE:      domain.NOCARE,
	},
	false: {
		domain.RUMOURED:    domain.HIDDEN,
		domain.OMNIPRESENT: domain.UNRETENTIVE,
		domain.UNRETENTIVE: domain.HIDDEN,
		domain.HIDDEN:      domain.HIDDEN,
		domain.NOCARE:      domain.NOCARE,
	},
}

// GoalNextState returns the desired next state for a key moving in the
// given direction, currently sitting in cur.
func GoalNextState(introducing bool, cur domain.State) domain.State {
	if cur == domain.NOCARE {
		return domain.NOCARE
	}
	next, ok := goalProjection[introducing][cur]
	if !ok {
		return cur
	}
	return next
}

// recordPrecondition is evaluated only when the candidate transition moves
// a record type into RUMOURED; every other transition is unconditionally
// policy-admissible.
type recordPrecondition func(minimise domain.MinimiseSelector, states [4]domain.KeyState) bool

var policyPreconditions = map[domain.RecordType]recordPrecondition{
	domain.RecordDS: func(m domain.MinimiseSelector, s [4]domain.KeyState) bool {
		return !m.DS || s[domain.RecordDNSKEY].State == domain.OMNIPRESENT
	},
	domain.RecordDNSKEY: func(m domain.MinimiseSelector, s [4]domain.KeyState) bool {
		return !m.DNSKEY || (s[domain.RecordDS].State == domain.OMNIPRESENT && s[domain.RecordRRSIG].State == domain.OMNIPRESENT)
	},
	domain.RecordRRSIGDNSKEY: func(m domain.MinimiseSelector, s [4]domain.KeyState) bool {
		return s[domain.RecordDNSKEY].State != domain.HIDDEN
	},
	domain.RecordRRSIG: func(m domain.MinimiseSelector, s [4]domain.KeyState) bool {
		return !m.RRSIG || s[domain.RecordDNSKEY].State == domain.OMNIPRESENT
	},
}

// PolicyAdmissible implements Test 1 (§4.3): a transition into RUMOURED is
// gated by the record-specific precondition above; every other target
// state is always admissible.
func PolicyAdmissible(record domain.RecordType, into domain.State, minimise domain.MinimiseSelector, states [4]domain.KeyState) bool {
	if into != domain.RUMOURED {
		return true
	}
	pre, ok := policyPreconditions[record]
	if !ok {
		return true
	}
	return pre(minimise, states)
}

// MinTransitionTime implements Test 3 (§4.3): the earliest wall-clock time
// a transition into `into` on `record` may be committed, given the
// KeyState it is leaving and the zone/policy timing parameters.
func MinTransitionTime(record domain.RecordType, into domain.State, from domain.KeyState, zone domain.Zone, policy domain.Policy) int64 {
	switch into {
	case domain.RUMOURED, domain.UNRETENTIVE:
		return from.LastChange
	case domain.OMNIPRESENT:
		switch record {
		case domain.RecordDS:
			return from.LastChange + from.TTL + policy.ZoneTiming.RegistrationDelay + policy.ZoneTiming.PropagationDelay
		case domain.RecordDNSKEY, domain.RecordRRSIGDNSKEY:
			return from.LastChange + from.TTL + policy.ZoneTiming.PropagationDelay + policy.PublishSafety
		case domain.RecordRRSIG:
			return from.LastChange + from.TTL + policy.ZoneTiming.PropagationDelay
		}
	case domain.HIDDEN:
		switch record {
		case domain.RecordDNSKEY, domain.RecordRRSIGDNSKEY:
			return from.LastChange + from.TTL + policy.ZoneTiming.PropagationDelay + policy.RetireSafety
		case domain.RecordRRSIG:
			return from.LastChange + from.TTL + policy.ZoneTiming.PropagationDelay
		case domain.RecordDS:
			return from.LastChange
		}
	}
	return from.LastChange
}

// PolicyTTLFor resolves policy-TTL(r) from §4.3: DS uses the zone-timing
// DS-TTL (the parent's TTL on the DS RRset), every other record type uses
// the policy's common key TTL.
func PolicyTTLFor(record domain.RecordType, policy domain.Policy) int64 {
	if record == domain.RecordDS {
		return policy.ZoneTiming.DSTTL
	}
	return policy.KeyTTL
}

// EffectiveTTL is the `max(policy-TTL(r), time-remaining until the zone's
// previously-published-larger-TTL expiry)` rule from §4.3, tracked via the
// zone's three TTL-end-dates.
func EffectiveTTL(record domain.RecordType, policyTTL int64, zone domain.Zone, now int64) int64 {
	remaining := zone.TTLEndDates[record] - now
	if remaining > policyTTL {
		return remaining
	}
	return policyTTL
}
