package protocol

import (
	"fmt"
	"strings"
)

const (
	// RouteSeparator splits the event name, target list and except list.
	RouteSeparator = "|"

	// ListSeparator splits the entries of a target or except list.
	ListSeparator = ","
)

// Route is the structured form of a routed event field.
//
// On the wire it is packed into the event string as `event`,
// `event|t1,t2` or `event|t1,t2|e1,e2`. A broadcast with an except list has
// an empty target list: `event||e1,e2`.
type Route struct {
	Event   string
	Targets []string
	Except  []string
}

// ValidateName rejects names that would corrupt the packed event field.
func ValidateName(name string) error {
	if strings.ContainsAny(name, RouteSeparator+ListSeparator) {
		return fmt.Errorf("invalid name %q: %w", name, ErrReservedCharacter)
	}

	return nil
}

// Pack encodes r into a single event string.
func (r Route) Pack() (string, error) {
	if err := ValidateName(r.Event); err != nil {
		return "", err
	}

	for _, names := range [][]string{r.Targets, r.Except} {
		for _, name := range names {
			if err := ValidateName(name); err != nil {
				return "", err
			}
		}
	}

	switch {
	case len(r.Except) > 0:
		return r.Event + RouteSeparator + strings.Join(r.Targets, ListSeparator) +
			RouteSeparator + strings.Join(r.Except, ListSeparator), nil

	case len(r.Targets) > 0:
		return r.Event + RouteSeparator + strings.Join(r.Targets, ListSeparator), nil

	default:
		return r.Event, nil
	}
}

// ParseRoute splits a packed event string.
func ParseRoute(packed string) Route {
	parts := strings.SplitN(packed, RouteSeparator, 3)

	r := Route{Event: parts[0]}
	if len(parts) > 1 {
		r.Targets = SplitList(parts[1])
	}
	if len(parts) > 2 {
		r.Except = SplitList(parts[2])
	}

	return r
}

// SplitList splits a comma separated name list, dropping empty names.
func SplitList(s string) []string {
	if s == "" {
		return nil
	}

	var out []string
	for _, item := range strings.Split(s, ListSeparator) {
		if item != "" {
			out = append(out, item)
		}
	}

	return out
}
