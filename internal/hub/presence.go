package hub

import "sort"

// PresenceRecord asserts that Player is currently on the game server named Origin.
// Data is an opaque payload supplied by the game server.
type PresenceRecord struct {
	Player string `json:"name"`
	Origin string `json:"server"`
	Data   string `json:"data,omitempty"`
}

// PresenceStore indexes online players by name. At most one record exists per name.
// It is not safe for concurrent use; the Hub owns it from its event loop.
type PresenceStore struct {
	players map[string]PresenceRecord
}

// NewPresenceStore creates an empty PresenceStore.
func NewPresenceStore() *PresenceStore {
	return &PresenceStore{players: make(map[string]PresenceRecord)}
}

// Join upserts rec. The last join for a name wins.
func (s *PresenceStore) Join(rec PresenceRecord) {
	s.players[rec.Player] = rec
}

// Leave removes the record for name, whatever its origin. It reports whether a
// record was removed.
func (s *PresenceStore) Leave(name string) bool {
	if _, ok := s.players[name]; !ok {
		return false
	}
	delete(s.players, name)
	return true
}

// Get returns the record for name.
func (s *PresenceStore) Get(name string) (PresenceRecord, bool) {
	rec, ok := s.players[name]
	return rec, ok
}

// Online reports whether name has a record.
func (s *PresenceStore) Online(name string) bool {
	_, ok := s.players[name]
	return ok
}

// Names returns every player name, sorted.
func (s *PresenceStore) Names() []string {
	names := make([]string, 0, len(s.players))
	for name := range s.players {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// RemoveByOrigin deletes every record whose origin equals origin and returns how
// many were removed. Records for other origins are untouched.
func (s *PresenceStore) RemoveByOrigin(origin string) int {
	removed := 0
	for name, rec := range s.players {
		if rec.Origin == origin {
			delete(s.players, name)
			removed++
		}
	}
	return removed
}

// Len returns the number of records.
func (s *PresenceStore) Len() int {
	return len(s.players)
}
