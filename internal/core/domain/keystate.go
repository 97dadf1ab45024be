package domain

// RecordType identifies one of the four record families a Key carries
// lifecycle state for.
type RecordType int

const (
	RecordDS RecordType = iota
	RecordDNSKEY
	RecordRRSIGDNSKEY
	RecordRRSIG
)

// String returns a short human-readable label, used in log lines and
// operator-facing warnings.
func (r RecordType) String() string {
	switch r {
	case RecordDS:
		return "DS"
	case RecordDNSKEY:
		return "DNSKEY"
	case RecordRRSIGDNSKEY:
		return "RRSIG-DNSKEY"
	case RecordRRSIG:
		return "RRSIG"
	default:
		return "UNKNOWN"
	}
}

// AllRecordTypes lists the four record types every Key carries a KeyState
// for, in the fixed order used when allocating the [4]KeyState arrays kept
// by the state engine.
var AllRecordTypes = [4]RecordType{RecordDS, RecordDNSKEY, RecordRRSIGDNSKEY, RecordRRSIG}

// State is a position in the five-state DNSSEC presence lattice.
type State int

const (
	HIDDEN State = iota
	RUMOURED
	OMNIPRESENT
	UNRETENTIVE
	NOCARE
)

func (s State) String() string {
	switch s {
	case HIDDEN:
		return "HIDDEN"
	case RUMOURED:
		return "RUMOURED"
	case OMNIPRESENT:
		return "OMNIPRESENT"
	case UNRETENTIVE:
		return "UNRETENTIVE"
	case NOCARE:
		return "NOCARE"
	default:
		return "UNKNOWN"
	}
}

// KeyState is the lifecycle state of one (Key, RecordType) pair.
type KeyState struct {
	KeyID     string
	Record    RecordType
	State     State
	LastChange int64 // UTC epoch seconds
	TTL        int64 // effective TTL in force when State was last set
	Minimise   bool
}
