package handlers

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strings"

	"github.com/google/uuid"

	"github.com/anirbans/bidball/internal/auth"
)

// EnsureGuest resolves the caller's guest identity from the auth_token
// cookie, minting a fresh one when the cookie is missing or invalid.
// Returns the user ID and display name.
func EnsureGuest(w http.ResponseWriter, r *http.Request) (string, string, error) {
	cookieHeader := r.Header.Get("Cookie")
	if strings.Contains(cookieHeader, "auth_token=") {
		token := extractCookieToken(cookieHeader, "auth_token")
		userID, username, err := auth.AuthenticateJWT(token)
		if err == nil {
			return userID, username, nil
		}
		// fall through and mint a replacement
	}

	userID := uuid.NewString()
	username := guestName(r)
	token, err := auth.CreateGuestJWT(userID, username)
	if err != nil {
		return "", "", fmt.Errorf("failed to create guest JWT: %w", err)
	}
	http.SetCookie(w, &http.Cookie{
		Name:     "auth_token",
		Value:    token,
		HttpOnly: true,
		Path:     "/",
		MaxAge:   auth.TOKEN_EXPIRE_TIME_SEC,
	})
	return userID, username, nil
}

// guestName takes the requested display name from the query string, with a
// generic fallback.
func guestName(r *http.Request) string {
	name := strings.TrimSpace(r.URL.Query().Get("name"))
	if name == "" {
		return "Guest"
	}
	if len(name) > 24 {
		name = name[:24]
	}
	return name
}

type guestResponse struct {
	UserID   string `json:"userId"`
	Username string `json:"username"`
}

// GuestHandler establishes (or refreshes) a guest session and returns the
// identity. Clients call this before opening a room websocket so the cookie
// is set up front.
func GuestHandler(w http.ResponseWriter, r *http.Request) {
	userID, username, err := EnsureGuest(w, r)
	if err != nil {
		http.Error(w, "failed to establish guest session", http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(guestResponse{UserID: userID, Username: username})
}
