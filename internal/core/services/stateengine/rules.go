package stateengine

import "github.com/poyrazK/enforcerd/internal/core/domain"

// snapshotKey is everything the 3-rule check needs about one key: its
// algorithm (for witness scoping) and its four-record state vector.
type snapshotKey struct {
	ID        string
	Algorithm uint8
	States    [4]domain.KeyState
}

// any is the witness-mask wildcard; it matches every State.
const any = domain.State(-1)

type mask [4]domain.State // DS, DNSKEY, RRSIG-over-DNSKEY, RRSIG

func (m mask) matches(s [4]domain.KeyState) bool {
	for i, want := range m {
		if want == any {
			continue
		}
		if s[i].State != want {
			return false
		}
	}
	return true
}

func findWitness(keys []snapshotKey, m mask) (snapshotKey, bool) {
	for _, k := range keys {
		if m.matches(k.States) {
			return k, true
		}
	}
	return snapshotKey{}, false
}

// findPair looks for two distinct same-algorithm keys matching ma and mb
// respectively (order-sensitive: the first key found satisfying ma is
// paired against any other key of the same algorithm satisfying mb).
func findPair(keys []snapshotKey, ma, mb mask) bool {
	for _, a := range keys {
		if !ma.matches(a.States) {
			continue
		}
		for _, b := range keys {
			if a.ID == b.ID || a.Algorithm != b.Algorithm {
				continue
			}
			if mb.matches(b.States) {
				return true
			}
		}
	}
	return false
}

// rule1Holds is the DS-visibility rule: at least one key's DS is visible
// (OMNIPRESENT or RUMOURED), unless allow-unsigned waives it entirely.
func rule1Holds(keys []snapshotKey, allowUnsigned bool) bool {
	if allowUnsigned {
		return true
	}
	_, ok := findWitness(keys, mask{domain.OMNIPRESENT, any, any, any})
	if ok {
		return true
	}
	_, ok = findWitness(keys, mask{domain.RUMOURED, any, any, any})
	return ok
}

// rule2Holds is the DNSKEY-validity rule.
func rule2Holds(keys []snapshotKey, allowUnsigned bool) bool {
	if _, ok := findWitness(keys, mask{domain.OMNIPRESENT, domain.OMNIPRESENT, domain.OMNIPRESENT, any}); ok {
		return true
	}
	if findPair(keys,
		mask{domain.RUMOURED, domain.OMNIPRESENT, domain.OMNIPRESENT, any},
		mask{domain.UNRETENTIVE, domain.OMNIPRESENT, domain.OMNIPRESENT, any},
	) {
		return true
	}
	if findPairAny(keys,
		[]mask{{domain.OMNIPRESENT, domain.RUMOURED, domain.RUMOURED, any}, {domain.OMNIPRESENT, domain.OMNIPRESENT, domain.RUMOURED, any}},
		[]mask{{domain.OMNIPRESENT, domain.UNRETENTIVE, domain.UNRETENTIVE, any}, {domain.OMNIPRESENT, domain.UNRETENTIVE, domain.OMNIPRESENT, any}},
	) {
		return true
	}
	if allowUnsigned {
		if _, ok := findWitness(keys, mask{domain.HIDDEN, domain.OMNIPRESENT, domain.OMNIPRESENT, any}); ok {
			return true
		}
	}
	return false
}

// rule3Holds is the signature-validity rule.
func rule3Holds(keys []snapshotKey, allowUnsigned bool) bool {
	if _, ok := findWitness(keys, mask{any, domain.OMNIPRESENT, any, domain.OMNIPRESENT}); ok {
		return true
	}
	if findPair(keys,
		mask{any, domain.RUMOURED, any, domain.OMNIPRESENT},
		mask{any, domain.UNRETENTIVE, any, domain.OMNIPRESENT},
	) {
		return true
	}
	if findPair(keys,
		mask{any, domain.OMNIPRESENT, any, domain.RUMOURED},
		mask{any, domain.OMNIPRESENT, any, domain.UNRETENTIVE},
	) {
		return true
	}
	if allowUnsigned {
		if _, ok := findWitness(keys, mask{any, domain.HIDDEN, any, domain.OMNIPRESENT}); ok {
			return true
		}
	}
	return false
}

// findPairAny tries every combination of a mask from masksA against a mask
// from masksB, used by rule2's "(OMN,{RUM|OMN},RUM,*) AND (OMN,UNR,{UNR|OMN},*)"
// disjunction over both positions.
func findPairAny(keys []snapshotKey, masksA, masksB []mask) bool {
	for _, ma := range masksA {
		for _, mb := range masksB {
			if findPair(keys, ma, mb) {
				return true
			}
		}
	}
	return false
}

// DNSSECAdmissible implements Test 2 (§4.3): the candidate transition is
// substituted into a trial snapshot, and all three rules must hold in the
// trial whenever they held in the current situation.
func DNSSECAdmissible(current, trial []snapshotKey, allowUnsigned bool) bool {
	checks := []func([]snapshotKey, bool) bool{rule1Holds, rule2Holds, rule3Holds}
	for _, held := range checks {
		if held(current, allowUnsigned) && !held(trial, allowUnsigned) {
			return false
		}
	}
	return true
}
