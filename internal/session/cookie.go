package session

import (
	"net/http"
	"time"
)

// Cookie writes and reads the session cookie. It is always HttpOnly and
// SameSite=Lax; Secure is set in production.
type Cookie struct {
	Name   string
	Secure bool
}

// Set stores tok in the response, with a max-age matching the token lifetime.
func (c Cookie) Set(w http.ResponseWriter, tok Token) {
	http.SetCookie(w, &http.Cookie{
		Name:     c.Name,
		Value:    tok.Value,
		Path:     "/",
		MaxAge:   int(tok.MaxAge / time.Second),
		Expires:  tok.ExpiresAt,
		HttpOnly: true,
		Secure:   c.Secure,
		SameSite: http.SameSiteLaxMode,
	})
}

// Clear instructs the client to drop the cookie.
func (c Cookie) Clear(w http.ResponseWriter) {
	http.SetCookie(w, &http.Cookie{
		Name:     c.Name,
		Value:    "",
		Path:     "/",
		MaxAge:   -1,
		Expires:  time.Unix(0, 0),
		HttpOnly: true,
		Secure:   c.Secure,
		SameSite: http.SameSiteLaxMode,
	})
}

// Read returns the cookie value, or "" if the request carries none.
func (c Cookie) Read(r *http.Request) string {
	ck, err := r.Cookie(c.Name)
	if err != nil {
		return ""
	}
	return ck.Value
}
