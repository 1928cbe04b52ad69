// Package store holds the durable moderation record: staff keys, bans,
// IP allow/deny lists, login keys and channel passwords.
package store

import (
	"context"
	"encoding/json"
	"fmt"
	"slices"
)

// KeyEntry is a staff key with the identities it has authorized.
type KeyEntry struct {
	Identities []string `json:"identities"`
	Flags      []string `json:"flags"`
}

// State is the persisted moderation record.
type State struct {
	Keys             map[string]*KeyEntry `json:"keys"`
	Banned           []string             `json:"banned"`
	Shadowbanned     []string             `json:"shadowbanned"`
	IPAllow          []string             `json:"ip_allow"`
	IPDeny           []string             `json:"ip_deny"`
	LoginKeys        []string             `json:"login_keys"`
	ChannelPasswords map[string]string    `json:"channel_passwords"`
}

// Backend persists the moderation record as a whole.
type Backend interface {
	// Load returns the stored record, creating an empty one if none exists.
	Load(ctx context.Context) (*State, error)

	// Save replaces the stored record.
	Save(ctx context.Context, st *State) error

	// Close releases backend resources.
	Close() error
}

// NewState returns an empty record.
func NewState() *State {
	st := &State{}
	st.normalize()
	return st
}

func (s *State) normalize() {
	if s.Keys == nil {
		s.Keys = make(map[string]*KeyEntry)
	}
	if s.ChannelPasswords == nil {
		s.ChannelPasswords = make(map[string]string)
	}
	for key, entry := range s.Keys {
		if entry == nil {
			s.Keys[key] = &KeyEntry{}
		}
	}
}

// Validate checks every key's flags against the flag vocabulary.
func (s *State) Validate() error {
	for key, entry := range s.Keys {
		if entry == nil {
			continue
		}
		if _, err := ParseFlags(entry.Flags); err != nil {
			return fmt.Errorf("key %q: %w", key, err)
		}
	}
	return nil
}

// Clone returns a deep copy.
func (s *State) Clone() *State {
	out := &State{
		Keys:             make(map[string]*KeyEntry, len(s.Keys)),
		Banned:           slices.Clone(s.Banned),
		Shadowbanned:     slices.Clone(s.Shadowbanned),
		IPAllow:          slices.Clone(s.IPAllow),
		IPDeny:           slices.Clone(s.IPDeny),
		LoginKeys:        slices.Clone(s.LoginKeys),
		ChannelPasswords: make(map[string]string, len(s.ChannelPasswords)),
	}
	for key, entry := range s.Keys {
		if entry == nil {
			out.Keys[key] = &KeyEntry{}
			continue
		}
		out.Keys[key] = &KeyEntry{
			Identities: slices.Clone(entry.Identities),
			Flags:      slices.Clone(entry.Flags),
		}
	}
	for ch, pw := range s.ChannelPasswords {
		out.ChannelPasswords[ch] = pw
	}
	return out
}

// Encode serializes a record.
func Encode(st *State) ([]byte, error) {
	data, err := json.MarshalIndent(st, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("encode state: %w", err)
	}
	return data, nil
}

// Decode parses and validates a record.
func Decode(data []byte) (*State, error) {
	st := &State{}
	if err := json.Unmarshal(data, st); err != nil {
		return nil, fmt.Errorf("decode state: %w", err)
	}
	st.normalize()
	if err := st.Validate(); err != nil {
		return nil, err
	}
	return st, nil
}

func addUnique(list []string, v string) ([]string, bool) {
	if slices.Contains(list, v) {
		return list, false
	}
	return append(list, v), true
}

func removeValue(list []string, v string) ([]string, bool) {
	idx := slices.Index(list, v)
	if idx < 0 {
		return list, false
	}
	return slices.Delete(list, idx, idx+1), true
}
