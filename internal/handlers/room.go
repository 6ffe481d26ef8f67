// internal/handlers/room.go
package handlers

import (
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"github.com/anirbans/bidball/internal/database"
)

type roomResponse struct {
	Code   string `json:"code"`
	HostID string `json:"hostId"`
	Phase  string `json:"phase"`
}

// CreateRoomHandler creates an in-memory room hosted by the caller and
// returns its join code. No DB write happens until the first snapshot
// publish.
func CreateRoomHandler(as *AuctionServer) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		userID, username, err := EnsureGuest(w, r)
		if err != nil {
			http.Error(w, "failed to establish guest session", http.StatusInternalServerError)
			return
		}

		rm := as.NewRoom(userID, username)

		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(roomResponse{
			Code:   rm.Code,
			HostID: rm.HostID,
			Phase:  string(rm.Phase()),
		})
	}
}

// GetRoomHandler resolves a join code, materializing a local replica from
// the shared room record when the room lives in another process. A code
// that matches neither is a hard 404; clients must not retry it.
func GetRoomHandler(as *AuctionServer) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		code := roomCodeFromPath(r.URL.Path, "/rooms/")
		if code == "" {
			http.Error(w, "missing room code", http.StatusBadRequest)
			return
		}

		rm, err := as.ResolveRoom(r.Context(), code)
		if err != nil {
			if errors.Is(err, database.ErrRoomNotFound) {
				http.Error(w, "room not found", http.StatusNotFound)
				return
			}
			http.Error(w, "failed to look up room", http.StatusInternalServerError)
			return
		}

		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(roomResponse{
			Code:   rm.Code,
			HostID: rm.HostID,
			Phase:  string(rm.Phase()),
		})
	}
}

// ListRoomsHandler returns the in-memory store for debugging.
func ListRoomsHandler(as *AuctionServer) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		rooms := as.Rooms.GetRooms()
		codes := make([]roomResponse, 0, len(rooms))
		for _, rm := range rooms {
			codes = append(codes, roomResponse{
				Code:   rm.Code,
				HostID: rm.HostID,
				Phase:  string(rm.Phase()),
			})
		}
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(codes)
	}
}

// roomCodeFromPath pulls the code segment out of the URL and normalizes it.
func roomCodeFromPath(path, prefix string) string {
	rest := strings.TrimPrefix(path, prefix)
	if idx := strings.Index(rest, "/"); idx != -1 {
		rest = rest[:idx]
	}
	return strings.ToUpper(strings.TrimSpace(rest))
}
