package server

import (
	"strings"

	"github.com/tidwall/sjson"
)

// Snapshot returns the registry as a JSON document:
//
//   {"id":"","stats":{"sockets":2,"rooms":1},"sockets":["a","b"],"rooms":{"lobby":["a"]}}
func (s *Server) Snapshot() ([]byte, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	doc := []byte(`{}`)

	var err error
	if doc, err = sjson.SetBytes(doc, "id", s.id); err != nil {
		return nil, err
	}

	if doc, err = sjson.SetBytes(doc, "stats.sockets", len(s.sockets)); err != nil {
		return nil, err
	}

	if doc, err = sjson.SetBytes(doc, "stats.rooms", len(s.rooms)); err != nil {
		return nil, err
	}

	if doc, err = sjson.SetBytes(doc, "sockets", sortedKeys(s.sockets)); err != nil {
		return nil, err
	}

	if doc, err = sjson.SetRawBytes(doc, "rooms", []byte(`{}`)); err != nil {
		return nil, err
	}

	for room, members := range s.rooms {
		if doc, err = sjson.SetBytes(doc, "rooms."+escapePathKey(room), sortedKeys(members)); err != nil {
			return nil, err
		}
	}

	return doc, nil
}

// escapePathKey makes name a single literal sjson path component.
func escapePathKey(name string) string {
	var b strings.Builder

	if name != "" && strings.Trim(name, "0123456789") == "" {
		// Numeric keys would otherwise address array elements
		b.WriteByte(':')
	}

	for _, r := range name {
		switch r {
		case '.', '*', '?', '\\', '#', '@', '|', ':', '!', '=', '<', '>', '%':
			b.WriteByte('\\')
		}
		b.WriteRune(r)
	}

	return b.String()
}
