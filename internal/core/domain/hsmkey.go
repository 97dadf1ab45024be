package domain

// BackupState tracks whether an HsmKey's private material has been backed
// up outside the HSM, mirroring the source's pre-generated-pool bookkeeping.
type BackupState int

const (
	BackupNone BackupState = iota
	BackupRequired
	BackupDone
)

// HsmKey is the enforcer's handle to a key object inside an HSM: opaque
// private material identified by Locator, plus the attributes the key
// factory uses to match pre-generated pool entries against policy slots.
type HsmKey struct {
	Locator             string
	Bits                int
	Algorithm           uint8
	Repository          string
	PolicyName          string
	Role                KeyRole
	Inception           int64 // 0 = unclaimed
	CandidateForSharing bool
	Revoke              bool
	BackupState         BackupState
	UsedByZones         []string
}

// Unclaimed reports whether this HsmKey has not yet been handed out to a
// zone's Key.
func (h HsmKey) Unclaimed() bool {
	return h.Inception == 0
}

// UsedBy reports whether zone already appears in UsedByZones.
func (h HsmKey) UsedBy(zone string) bool {
	for _, z := range h.UsedByZones {
		if z == zone {
			return true
		}
	}
	return false
}
