package domain

// NeverWake is the sentinel next-change value meaning "do not schedule a
// wake; only an external event (a command) should touch this zone again."
const NeverWake int64 = -1

// Zone is the owner of zero or more Keys, governed by one Policy.
type Zone struct {
	ID                   string
	Name                 string
	PolicyName           string
	NextChange           int64
	SignconfDirty        bool
	TTLEndDates          map[RecordType]int64
	ManualRollNow        map[KeyRole]bool
	LastComputedNextRoll map[KeyRole]int64
}

// NewZone returns a Zone with its maps initialised and NextChange set to
// NeverWake, ready for the reconciler's first pass.
func NewZone(id, name, policyName string) *Zone {
	return &Zone{
		ID:                   id,
		Name:                 name,
		PolicyName:           policyName,
		NextChange:           NeverWake,
		TTLEndDates:          make(map[RecordType]int64),
		ManualRollNow:        make(map[KeyRole]bool),
		LastComputedNextRoll: make(map[KeyRole]int64),
	}
}
