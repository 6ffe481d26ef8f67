package handlers

import "strings"

// extractCookieToken pulls a named cookie's value out of a raw Cookie
// header, or "" when the cookie is absent. Matches whole cookie names, so
// a "guest_auth_token" cookie never satisfies a lookup for "auth_token".
func extractCookieToken(cookieHeader, cookieName string) string {
	for _, part := range strings.Split(cookieHeader, ";") {
		if val, ok := strings.CutPrefix(strings.TrimSpace(part), cookieName+"="); ok {
			return val
		}
	}
	return ""
}
