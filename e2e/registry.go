package e2e

import (
	"fmt"
	"sync"

	someip "github.com/eshenhu/someip"
)

// Profile implements a protection scheme. Protect installs an E2E
// header on the message; Validate checks an attached header.
type Profile interface {
	Protect(msg *someip.Message, config Config) error
	Validate(msg *someip.Message, config Config) error
	HeaderSize() int
	Name() string
	ID() uint32
}

// registry maps profiles by numeric id and by name. Lookups and
// registration share one mutex so dynamic registration is safe
// concurrently with use.
type registry struct {
	mu     sync.Mutex
	byID   map[uint32]Profile
	byName map[string]Profile
}

var profiles = &registry{
	byID:   make(map[uint32]Profile),
	byName: make(map[string]Profile),
}

func init() {
	// The reference profile is always available.
	_ = RegisterProfile(&basicProfile{seq: newSeqTracker()})
}

// RegisterProfile adds a profile to the process-wide registry. It
// fails when the id or the name is already taken.
func RegisterProfile(p Profile) error {
	if p == nil {
		return someip.ErrInvalidArgument
	}
	profiles.mu.Lock()
	defer profiles.mu.Unlock()

	if _, ok := profiles.byID[p.ID()]; ok {
		return fmt.Errorf("e2e: profile id %d already registered", p.ID())
	}
	if _, ok := profiles.byName[p.Name()]; ok {
		return fmt.Errorf("e2e: profile name %q already registered", p.Name())
	}
	profiles.byID[p.ID()] = p
	profiles.byName[p.Name()] = p
	return nil
}

// UnregisterProfile removes a profile by id.
func UnregisterProfile(id uint32) bool {
	profiles.mu.Lock()
	defer profiles.mu.Unlock()

	p, ok := profiles.byID[id]
	if !ok {
		return false
	}
	delete(profiles.byName, p.Name())
	delete(profiles.byID, id)
	return true
}

// ProfileByID looks up a profile by numeric id.
func ProfileByID(id uint32) (Profile, bool) {
	profiles.mu.Lock()
	defer profiles.mu.Unlock()
	p, ok := profiles.byID[id]
	return p, ok
}

// ProfileByName looks up a profile by name.
func ProfileByName(name string) (Profile, bool) {
	profiles.mu.Lock()
	defer profiles.mu.Unlock()
	p, ok := profiles.byName[name]
	return p, ok
}

// IsRegistered reports whether a profile id is taken.
func IsRegistered(id uint32) bool {
	profiles.mu.Lock()
	defer profiles.mu.Unlock()
	_, ok := profiles.byID[id]
	return ok
}

// DefaultProfile returns the reference profile (id 0).
func DefaultProfile() (Profile, bool) {
	return ProfileByID(0)
}

// resolveProfile picks the profile for a config: by id, then by name,
// then the default.
func resolveProfile(config Config) (Profile, error) {
	if p, ok := ProfileByID(config.ProfileID); ok {
		return p, nil
	}
	if p, ok := ProfileByName(config.ProfileName); ok {
		return p, nil
	}
	if p, ok := DefaultProfile(); ok {
		return p, nil
	}
	return nil, someip.ErrNotInitialized
}

// Protect resolves the configured profile and installs an E2E header
// on the message.
func Protect(msg *someip.Message, config Config) error {
	p, err := resolveProfile(config)
	if err != nil {
		return err
	}
	return p.Protect(msg, config)
}

// Validate resolves the configured profile and checks the message's
// E2E header.
func Validate(msg *someip.Message, config Config) error {
	p, err := resolveProfile(config)
	if err != nil {
		return err
	}
	return p.Validate(msg, config)
}
