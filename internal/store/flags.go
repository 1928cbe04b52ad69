package store

import (
	"errors"
	"fmt"
	"strings"
)

// ErrUnknownFlag is returned when a persisted or supplied flag is outside the
// supported vocabulary.
var ErrUnknownFlag = errors.New("unknown flag")

// Flag is a single capability tag.
type Flag uint8

const (
	// FlagStaff marks a moderator.
	FlagStaff Flag = 1 << iota
	// FlagAdmin marks an administrator.
	FlagAdmin
	// FlagBot marks an automated client.
	FlagBot
)

var flagNames = []struct {
	flag Flag
	name string
}{
	{FlagStaff, "staff"},
	{FlagAdmin, "admin"},
	{FlagBot, "bot"},
}

func (f Flag) String() string {
	for _, fn := range flagNames {
		if fn.flag == f {
			return fn.name
		}
	}
	return fmt.Sprintf("flag(%d)", uint8(f))
}

// ParseFlag resolves a flag name.
func ParseFlag(name string) (Flag, error) {
	name = strings.ToLower(strings.TrimSpace(name))
	for _, fn := range flagNames {
		if fn.name == name {
			return fn.flag, nil
		}
	}
	return 0, fmt.Errorf("%w: %q", ErrUnknownFlag, name)
}

// FlagSet is a set of flags.
type FlagSet uint8

// ParseFlags resolves a list of flag names into a set.
func ParseFlags(names []string) (FlagSet, error) {
	var set FlagSet
	for _, name := range names {
		f, err := ParseFlag(name)
		if err != nil {
			return 0, err
		}
		set = set.With(f)
	}
	return set, nil
}

// Has reports whether f is in the set.
func (s FlagSet) Has(f Flag) bool { return s&FlagSet(f) != 0 }

// With returns the set including f.
func (s FlagSet) With(f Flag) FlagSet { return s | FlagSet(f) }

// Union returns the union of both sets.
func (s FlagSet) Union(o FlagSet) FlagSet { return s | o }

// Without returns s minus every flag in o.
func (s FlagSet) Without(o FlagSet) FlagSet { return s &^ o }

// Elevated reports whether the set grants access to restricted commands.
func (s FlagSet) Elevated() bool { return s.Has(FlagStaff) || s.Has(FlagAdmin) }

// Names lists the flag names in vocabulary order.
func (s FlagSet) Names() []string {
	names := make([]string, 0, len(flagNames))
	for _, fn := range flagNames {
		if s.Has(fn.flag) {
			names = append(names, fn.name)
		}
	}
	return names
}

func (s FlagSet) String() string {
	return "[" + strings.Join(s.Names(), ",") + "]"
}
