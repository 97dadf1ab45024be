package domain

// DenialMode selects how a policy publishes authenticated denial of
// existence.
type DenialMode int

const (
	DenialNSEC DenialMode = iota
	DenialNSEC3
)

func (d DenialMode) String() string {
	if d == DenialNSEC3 {
		return "NSEC3"
	}
	return "NSEC"
}

// DenialParams holds the parameters governing how a policy's zones deny
// existence of names, including the NSEC3 salt lifecycle.
type DenialParams struct {
	Mode           DenialMode
	OptOut         bool
	TTL            int64
	ResaltPeriod   int64
	HashAlgorithm  uint8
	Iterations     int
	SaltLength     int
	Salt           []byte
	SaltLastChange int64
}

// SignatureParams governs RRSIG lifetime and refresh cadence for zones
// under a policy.
type SignatureParams struct {
	Resign         int64
	Refresh        int64
	Validity       int64
	Jitter         int64
	InceptionOffset int64
	MaxZoneTTL     int64
}

// ZoneTimingParams captures the operator's assumptions about how long it
// takes a record change to become visible, used as safety margins by the
// state engine's timing-admissibility test.
type ZoneTimingParams struct {
	PropagationDelay  int64
	SOATTL            int64
	SOAMinimum        int64
	RegistrationDelay int64
	DSTTL             int64
}

// KeyRoleConfig is one per-role key slot in a policy: the recipe the
// reconciler uses to keep the right number of Keys of this role alive.
type KeyRoleConfig struct {
	Role            KeyRole
	Algorithm       uint8
	Bits            int
	Repository      string
	Lifetime        int64
	Standby         int
	ManualRollover  bool
	RFC5011         bool
	Minimise        MinimiseSelector
}

// Policy is a named set of signing and key-lifecycle parameters shared by
// any number of zones.
type Policy struct {
	Name          string
	Signatures    SignatureParams
	Denial        DenialParams
	Keys          map[KeyRole]KeyRoleConfig
	ZoneTiming    ZoneTimingParams
	KeyTTL        int64
	RetireSafety  int64
	PublishSafety int64
	ShareKeys     bool
	PurgeAfter    int64
	PassThrough   bool
}

// HasKeySlots reports whether the policy defines any key role configuration
// at all. A policy with no slots drives allow-unsigned (§4.4 step 2).
func (p Policy) HasKeySlots() bool {
	return len(p.Keys) > 0
}
