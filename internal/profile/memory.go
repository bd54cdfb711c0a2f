package profile

// Memory holds the profile that most recently produced a successful join.
// It starts empty at every boot and is written only by successful joins,
// never by configuration changes or failed attempts.
//
// Memory is owned by the supervisor's tick loop and is not safe for
// concurrent use.
type Memory struct {
	remembered Profile
	set        bool
	persist    func(Profile)
}

// NewMemory returns an empty Memory. persist, when non-nil, is invoked
// with each newly remembered profile so the record can be stored for
// post-restart visibility; the callback must swallow its own failures.
func NewMemory(persist func(Profile)) *Memory {
	return &Memory{persist: persist}
}

// Remember records p as the last profile to join successfully,
// overwriting any earlier record.
func (m *Memory) Remember(p Profile) {
	m.remembered = p
	m.set = true
	if m.persist != nil {
		m.persist(p)
	}
}

// Recall returns the remembered profile. ok is false until the first
// successful join of this boot.
func (m *Memory) Recall() (p Profile, ok bool) {
	return m.remembered, m.set
}

// Forget clears the record, used when the remembered profile is
// removed from configuration.
func (m *Memory) Forget() {
	m.remembered = Profile{}
	m.set = false
}
