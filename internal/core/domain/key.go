package domain

// DSState is the lifecycle of a KSK's DS record as tracked at the parent,
// distinct from the KeyState machine that governs the zone's own records.
type DSState int

const (
	DSUnsubmitted DSState = iota
	DSSubmit
	DSSubmitted
	DSSeen
	DSRetract
	DSRetracted
)

func (d DSState) String() string {
	switch d {
	case DSUnsubmitted:
		return "UNSUBMITTED"
	case DSSubmit:
		return "SUBMIT"
	case DSSubmitted:
		return "SUBMITTED"
	case DSSeen:
		return "SEEN"
	case DSRetract:
		return "RETRACT"
	case DSRetracted:
		return "RETRACTED"
	default:
		return "UNKNOWN"
	}
}

// MinimiseSelector resolves spec Open Question 1: rather than reverse
// engineering a KskRollType/ZskRollType/CskRollType enum, minimisation is
// modelled as four independent bits, one per record type, set directly by
// the owning KeyRoleConfig.
type MinimiseSelector struct {
	DS          bool
	DNSKEY      bool
	RRSIGDNSKEY bool
	RRSIG       bool
}

// For reports whether minimisation is requested for the given record type.
func (m MinimiseSelector) For(r RecordType) bool {
	switch r {
	case RecordDS:
		return m.DS
	case RecordDNSKEY:
		return m.DNSKEY
	case RecordRRSIGDNSKEY:
		return m.RRSIGDNSKEY
	case RecordRRSIG:
		return m.RRSIG
	default:
		return false
	}
}

// Key is an intended presence of cryptographic material in a zone. The
// goal direction (Introducing) and the per-record KeyState lattice
// together determine what the state engine will attempt next.
type Key struct {
	ID          string
	ZoneID      string
	Locator     string
	Role        KeyRole
	Algorithm   uint8
	// Bits and Repository are carried over from the owning HsmKey at the
	// time the key was claimed, so the reconciler can compare a Key
	// against a policy slot without a second lookup.
	Bits        int
	Repository  string
	Inception   int64
	Introducing bool
	Standby     bool
	KeyTag      uint16
	DSAtParent  DSState
	Minimise    MinimiseSelector
}

// MatchesSlot reports whether this key's (role, algorithm, bits,
// repository) matches a policy's key-role configuration slot.
func (k Key) MatchesSlot(slot KeyRoleConfig) bool {
	return k.Role == slot.Role && k.Algorithm == slot.Algorithm && k.Bits == slot.Bits && k.Repository == slot.Repository
}

// Publish reports whether the DNSKEY for this key should currently appear
// in the zone. Derived, never stored independently of KeyState.
func Publish(dnskey KeyState) bool {
	return dnskey.State == OMNIPRESENT || dnskey.State == RUMOURED
}

// Active reports whether this key is currently signing, i.e. its RRSIG
// KeyState is present enough to be trusted.
func Active(rrsig KeyState) bool {
	return rrsig.State == OMNIPRESENT || rrsig.State == RUMOURED
}
