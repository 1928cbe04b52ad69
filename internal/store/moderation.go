package store

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"sort"
	"time"

	"github.com/vovakirdan/msgroom-server/internal/auth"
)

// ErrUnknownKey is returned when a staff key does not exist.
var ErrUnknownKey = errors.New("unknown key")

// KeyInfo describes a staff key without exposing the record.
type KeyInfo struct {
	Key        string   `json:"key"`
	Flags      []string `json:"flags"`
	Identities []string `json:"identities"`
}

// Moderation is the in-memory view of the moderation record. Every mutation
// is applied to a copy, flushed to the backend and only then made visible, so
// a failed flush leaves the current state untouched.
//
// Moderation is not safe for concurrent use; a single owner serializes access.
type Moderation struct {
	backend  Backend
	state    *State
	keyFlags map[string]FlagSet
	observe  func(time.Duration, error)
}

// Open loads the record from backend.
func Open(ctx context.Context, backend Backend) (*Moderation, error) {
	m := &Moderation{backend: backend}
	if err := m.Reload(ctx); err != nil {
		return nil, err
	}
	return m, nil
}

// Reload replaces the in-memory state with the backend's record.
func (m *Moderation) Reload(ctx context.Context) error {
	st, err := m.backend.Load(ctx)
	if err != nil {
		return fmt.Errorf("load moderation state: %w", err)
	}
	st.normalize()
	flags, err := parseKeyFlags(st)
	if err != nil {
		return err
	}
	m.state = st
	m.keyFlags = flags
	return nil
}

// ObserveFlush registers a callback invoked after every flush attempt.
func (m *Moderation) ObserveFlush(fn func(time.Duration, error)) {
	m.observe = fn
}

// Close closes the backend.
func (m *Moderation) Close() error {
	return m.backend.Close()
}

// Snapshot returns a copy of the current record.
func (m *Moderation) Snapshot() *State {
	return m.state.Clone()
}

func parseKeyFlags(st *State) (map[string]FlagSet, error) {
	out := make(map[string]FlagSet, len(st.Keys))
	for key, entry := range st.Keys {
		set, err := ParseFlags(entry.Flags)
		if err != nil {
			return nil, fmt.Errorf("key %q: %w", key, err)
		}
		if set == 0 {
			set = set.With(FlagStaff)
		}
		out[key] = set
	}
	return out, nil
}

// update applies fn to a copy of the state and flushes it when fn reports a
// change. The copy becomes current only after a successful flush.
func (m *Moderation) update(ctx context.Context, fn func(st *State) bool) (bool, error) {
	next := m.state.Clone()
	if !fn(next) {
		return false, nil
	}
	flags, err := parseKeyFlags(next)
	if err != nil {
		return false, err
	}

	start := time.Now()
	err = m.backend.Save(ctx, next)
	if m.observe != nil {
		m.observe(time.Since(start), err)
	}
	if err != nil {
		return false, fmt.Errorf("flush moderation state: %w", err)
	}

	m.state = next
	m.keyFlags = flags
	return true, nil
}

// ==== reads ====

// IsBanned reports whether id is banned.
func (m *Moderation) IsBanned(id string) bool {
	return slices.Contains(m.state.Banned, id)
}

// IsShadowbanned reports whether id is shadowbanned.
func (m *Moderation) IsShadowbanned(id string) bool {
	return slices.Contains(m.state.Shadowbanned, id)
}

// IsAllowListed reports whether id bypasses the IP deny list.
func (m *Moderation) IsAllowListed(id string) bool {
	return slices.Contains(m.state.IPAllow, id)
}

// IPDenied reports whether id is deny-listed and not allow-listed.
func (m *Moderation) IPDenied(id string) bool {
	if m.IsAllowListed(id) {
		return false
	}
	return slices.Contains(m.state.IPDeny, id)
}

// LoginKeyValid reports whether key is a registered login key.
func (m *Moderation) LoginKeyValid(key string) bool {
	return key != "" && slices.Contains(m.state.LoginKeys, key)
}

// LoginKeys returns the registered login keys.
func (m *Moderation) LoginKeys() []string {
	return slices.Clone(m.state.LoginKeys)
}

// ChannelLocked reports whether channel has a password.
func (m *Moderation) ChannelLocked(channel string) bool {
	_, ok := m.state.ChannelPasswords[channel]
	return ok
}

// CheckChannelPassword verifies password against the channel's stored hash.
func (m *Moderation) CheckChannelPassword(channel, password string) bool {
	hash, ok := m.state.ChannelPasswords[channel]
	if !ok {
		return true
	}
	if password == "" {
		return false
	}
	return auth.ComparePassword(hash, password) == nil
}

// LockedChannels lists channels that have a password.
func (m *Moderation) LockedChannels() []string {
	out := make([]string, 0, len(m.state.ChannelPasswords))
	for ch := range m.state.ChannelPasswords {
		out = append(out, ch)
	}
	sort.Strings(out)
	return out
}

// KeyExists reports whether key is a staff key.
func (m *Moderation) KeyExists(key string) bool {
	_, ok := m.keyFlags[key]
	return ok
}

// FlagsFor returns the union of the flags of every key that authorized id.
func (m *Moderation) FlagsFor(id string) FlagSet {
	var set FlagSet
	for key, entry := range m.state.Keys {
		if slices.Contains(entry.Identities, id) {
			set = set.Union(m.keyFlags[key])
		}
	}
	return set
}

// Keys lists the staff keys sorted by key.
func (m *Moderation) Keys() []KeyInfo {
	out := make([]KeyInfo, 0, len(m.state.Keys))
	for key, entry := range m.state.Keys {
		out = append(out, KeyInfo{
			Key:        key,
			Flags:      m.keyFlags[key].Names(),
			Identities: slices.Clone(entry.Identities),
		})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Key < out[j].Key })
	return out
}

// ==== mutations ====

// Authorize adds id to key's authorized identities and returns the key's
// flags. Authorizing an identity twice is not an error.
func (m *Moderation) Authorize(ctx context.Context, key, id string) (FlagSet, error) {
	flags, ok := m.keyFlags[key]
	if !ok || key == "" {
		return 0, ErrUnknownKey
	}
	_, err := m.update(ctx, func(st *State) bool {
		entry := st.Keys[key]
		var added bool
		entry.Identities, added = addUnique(entry.Identities, id)
		return added
	})
	if err != nil {
		return 0, err
	}
	return flags, nil
}

// Disauthorize removes id from every key. It returns the flags id held
// through those keys.
func (m *Moderation) Disauthorize(ctx context.Context, id string) (FlagSet, error) {
	revoked := m.FlagsFor(id)
	changed, err := m.update(ctx, func(st *State) bool {
		var found bool
		for _, entry := range st.Keys {
			var removed bool
			entry.Identities, removed = removeValue(entry.Identities, id)
			found = found || removed
		}
		return found
	})
	if err != nil || !changed {
		return 0, err
	}
	return revoked, nil
}

// Ban adds id to the ban list.
func (m *Moderation) Ban(ctx context.Context, id string) (bool, error) {
	return m.update(ctx, func(st *State) bool {
		var added bool
		st.Banned, added = addUnique(st.Banned, id)
		return added
	})
}

// Unban removes id from the ban list.
func (m *Moderation) Unban(ctx context.Context, id string) (bool, error) {
	return m.update(ctx, func(st *State) bool {
		var removed bool
		st.Banned, removed = removeValue(st.Banned, id)
		return removed
	})
}

// Shadowban adds id to the shadowban list.
func (m *Moderation) Shadowban(ctx context.Context, id string) (bool, error) {
	return m.update(ctx, func(st *State) bool {
		var added bool
		st.Shadowbanned, added = addUnique(st.Shadowbanned, id)
		return added
	})
}

// Shadowunban removes id from the shadowban list.
func (m *Moderation) Shadowunban(ctx context.Context, id string) (bool, error) {
	return m.update(ctx, func(st *State) bool {
		var removed bool
		st.Shadowbanned, removed = removeValue(st.Shadowbanned, id)
		return removed
	})
}

// Whitelist puts id on the IP allow list and takes it off the deny list.
func (m *Moderation) Whitelist(ctx context.Context, id string) (bool, error) {
	return m.update(ctx, func(st *State) bool {
		var added, removed bool
		st.IPAllow, added = addUnique(st.IPAllow, id)
		st.IPDeny, removed = removeValue(st.IPDeny, id)
		return added || removed
	})
}

// Blacklist puts id on the IP deny list and takes it off the allow list.
func (m *Moderation) Blacklist(ctx context.Context, id string) (bool, error) {
	return m.update(ctx, func(st *State) bool {
		var added, removed bool
		st.IPDeny, added = addUnique(st.IPDeny, id)
		st.IPAllow, removed = removeValue(st.IPAllow, id)
		return added || removed
	})
}

// AddLoginKey registers a login key.
func (m *Moderation) AddLoginKey(ctx context.Context, key string) (bool, error) {
	return m.update(ctx, func(st *State) bool {
		var added bool
		st.LoginKeys, added = addUnique(st.LoginKeys, key)
		return added
	})
}

// DeleteLoginKey removes a login key.
func (m *Moderation) DeleteLoginKey(ctx context.Context, key string) (bool, error) {
	return m.update(ctx, func(st *State) bool {
		var removed bool
		st.LoginKeys, removed = removeValue(st.LoginKeys, key)
		return removed
	})
}

// AddKey creates a staff key or replaces the flags of an existing one.
func (m *Moderation) AddKey(ctx context.Context, key string, flags FlagSet) error {
	if key == "" {
		return ErrUnknownKey
	}
	if flags == 0 {
		flags = flags.With(FlagStaff)
	}
	_, err := m.update(ctx, func(st *State) bool {
		entry, ok := st.Keys[key]
		if !ok {
			entry = &KeyEntry{Identities: []string{}}
			st.Keys[key] = entry
		}
		entry.Flags = flags.Names()
		return true
	})
	return err
}

// DeleteKey removes a staff key.
func (m *Moderation) DeleteKey(ctx context.Context, key string) (bool, error) {
	return m.update(ctx, func(st *State) bool {
		if _, ok := st.Keys[key]; !ok {
			return false
		}
		delete(st.Keys, key)
		return true
	})
}

// LockChannel sets the channel password, replacing any previous one.
func (m *Moderation) LockChannel(ctx context.Context, channel, password string) error {
	hash, err := auth.HashPassword(password)
	if err != nil {
		return err
	}
	_, err = m.update(ctx, func(st *State) bool {
		st.ChannelPasswords[channel] = hash
		return true
	})
	return err
}

// UnlockChannel removes the channel password.
func (m *Moderation) UnlockChannel(ctx context.Context, channel string) (bool, error) {
	return m.update(ctx, func(st *State) bool {
		if _, ok := st.ChannelPasswords[channel]; !ok {
			return false
		}
		delete(st.ChannelPasswords, channel)
		return true
	})
}
