// Package permissions implements the bitmask capability model.
//
// Each Permission is a power of two. A subject's permissions are stored as a
// Set: every known bit mapped to a boolean, serialized with the bit value as
// a decimal string key. Administrator satisfies every check.
package permissions

import (
	"fmt"
	"slices"
	"strconv"
	"strings"
)

type Permission uint64

// New permissions must take the next unused power of two.
const (
	Administrator Permission = 1 << iota
	ManagePermissions
	DeleteServers
	CreateServers
	EditServers
	ListOthersServers
	ListServers
)

// All lists every known permission in bit order.
var All = []Permission{
	Administrator,
	ManagePermissions,
	DeleteServers,
	CreateServers,
	EditServers,
	ListOthersServers,
	ListServers,
}

var names = map[Permission]string{
	Administrator:     "ADMINISTRATOR",
	ManagePermissions: "MANAGE_PERMISSIONS",
	DeleteServers:     "DELETE_SERVERS",
	CreateServers:     "CREATE_SERVERS",
	EditServers:       "EDIT_SERVERS",
	ListOthersServers: "LIST_OTHERS_SERVERS",
	ListServers:       "LIST_SERVERS",
}

// Name returns the display name of p.
func Name(p Permission) string {
	if n, ok := names[p]; ok {
		return n
	}
	return fmt.Sprintf("UNKNOWN_PERMISSION(%d)", uint64(p))
}

func (p Permission) String() string { return Name(p) }

func Names(ps []Permission) []string {
	out := make([]string, 0, len(ps))
	for _, p := range ps {
		out = append(out, Name(p))
	}
	return out
}

// Parse accepts a display name (case-insensitive) or a bit value.
func Parse(s string) (Permission, error) {
	s = strings.TrimSpace(s)
	if n, err := strconv.ParseUint(s, 10, 64); err == nil {
		p := Permission(n)
		if _, ok := names[p]; ok {
			return p, nil
		}
		return 0, fmt.Errorf("unknown permission %d", n)
	}
	want := strings.ToUpper(strings.ReplaceAll(s, " ", "_"))
	for p, n := range names {
		if n == want {
			return p, nil
		}
	}
	return 0, fmt.Errorf("unknown permission %q", s)
}

// Set maps every known permission to whether it is held.
type Set map[Permission]bool

// NewSet returns a Set with every known permission false.
func NewSet() Set {
	s := make(Set, len(All))
	for _, p := range All {
		s[p] = false
	}
	return s
}

// Normalize returns a copy of s with missing known bits filled in as false.
func Normalize(s Set) Set {
	out := NewSet()
	for p, v := range s {
		out[p] = v
	}
	return out
}

func (s Set) Has(p Permission) bool {
	return s[Administrator] || s[p]
}

// Held lists the permissions set to true, in bit order.
func (s Set) Held() []Permission {
	var out []Permission
	for p, v := range s {
		if v {
			out = append(out, p)
		}
	}
	slices.Sort(out)
	return out
}

// FromHeld builds a canonical Set from a list of held bits.
func FromHeld(held []Permission) Set {
	s := NewSet()
	for _, p := range held {
		s[p] = true
	}
	return s
}

// Check reports whether s satisfies every perm. When it does not, missing is
// the first permission that failed.
func Check(s Set, perms ...Permission) (ok bool, missing Permission) {
	if s[Administrator] {
		return true, 0
	}
	for _, p := range perms {
		if !s[p] {
			return false, p
		}
	}
	return true, 0
}
