package domain

// KeyDependency is a directed edge between two Keys of the same zone:
// retirement of FromKeyID on Record is blocked until ToKeyID reaches
// OMNIPRESENT on Record. Added when a rollover begins; removed once the
// target precondition holds.
type KeyDependency struct {
	FromKeyID string
	ToKeyID   string
	Record    RecordType
}
