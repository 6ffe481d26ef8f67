// internal/room/room_store.go
package room

import (
	"log"
	"sync"
)

// Store manages active rooms in memory, keyed by join code.
// It provides thread-safe access to add, retrieve, and delete rooms.
type Store struct {
	mu    sync.Mutex       // Protects access to the rooms map.
	rooms map[string]*Room // Map of join code to Room pointer.
}

// NewStore initializes and returns an empty Store.
func NewStore() *Store {
	return &Store{
		rooms: make(map[string]*Room),
	}
}

// AddRoom adds a new room to the store. Configure the room's OnEmpty
// callback before adding it so the store cleans up when the last user
// leaves.
func (s *Store) AddRoom(r *Room) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.rooms[r.Code]; exists {
		log.Printf("RoomStore WARNING: Attempted to add room %s which already exists.", r.Code)
		return
	}
	s.rooms[r.Code] = r
	log.Printf("RoomStore: Added room %s.", r.Code)
}

// DeleteRoom removes a room from the store by its code, typically via the
// room's OnEmpty callback.
func (s *Store) DeleteRoom(code string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.rooms[code]; exists {
		delete(s.rooms, code)
		log.Printf("RoomStore: Deleted room %s.", code)
	}
}

// GetRoom retrieves a room by its join code.
func (s *Store) GetRoom(code string) (*Room, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.rooms[code]
	return r, ok
}

// GetRooms returns a copy of the map containing all active rooms, for
// listing and debugging. The copy prevents races with concurrent mutation.
func (s *Store) GetRooms() map[string]*Room {
	s.mu.Lock()
	defer s.mu.Unlock()
	roomsCopy := make(map[string]*Room, len(s.rooms))
	for k, v := range s.rooms {
		roomsCopy[k] = v
	}
	return roomsCopy
}
