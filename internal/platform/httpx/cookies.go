package httpx

import (
	"crypto/rand"
	"crypto/subtle"
	"encoding/base64"
	"net/http"
	"time"
)

// Cookie names for the session surface. The refresh cookie is HttpOnly and
// scoped to the auth paths; the CSRF cookie is intentionally script-readable
// so clients can mirror it into the X-CSRF-Token header (double submit).
const (
	RefreshCookieName = "cg_refresh"
	CSRFCookieName    = "cg_csrf"
	CSRFHeaderName    = "X-CSRF-Token"
)

// SetSessionCookies installs the refresh and CSRF cookies after a successful
// login or refresh.
func SetSessionCookies(w http.ResponseWriter, refreshToken string, ttl time.Duration, secure bool) error {
	csrf, err := generateCSRFToken()
	if err != nil {
		return err
	}
	maxAge := int(ttl / time.Second)
	http.SetCookie(w, &http.Cookie{
		Name:     RefreshCookieName,
		Value:    refreshToken,
		Path:     "/api/auth",
		MaxAge:   maxAge,
		HttpOnly: true,
		Secure:   secure,
		SameSite: http.SameSiteStrictMode,
	})
	http.SetCookie(w, &http.Cookie{
		Name:     CSRFCookieName,
		Value:    csrf,
		Path:     "/",
		MaxAge:   maxAge,
		HttpOnly: false,
		Secure:   secure,
		SameSite: http.SameSiteStrictMode,
	})
	return nil
}

// ClearSessionCookies removes both cookies on logout.
func ClearSessionCookies(w http.ResponseWriter, secure bool) {
	http.SetCookie(w, &http.Cookie{
		Name:     RefreshCookieName,
		Value:    "",
		Path:     "/api/auth",
		MaxAge:   -1,
		HttpOnly: true,
		Secure:   secure,
		SameSite: http.SameSiteStrictMode,
	})
	http.SetCookie(w, &http.Cookie{
		Name:     CSRFCookieName,
		Value:    "",
		Path:     "/",
		MaxAge:   -1,
		Secure:   secure,
		SameSite: http.SameSiteStrictMode,
	})
}

// RefreshTokenFromRequest returns the refresh token presented by the client
// and whether it arrived via cookie. Cookie-borne tokens must pass the CSRF
// check; body-borne tokens (native clients) need no CSRF.
func RefreshTokenFromRequest(r *http.Request, bodyToken string) (token string, fromCookie bool) {
	if bodyToken != "" {
		return bodyToken, false
	}
	c, err := r.Cookie(RefreshCookieName)
	if err != nil || c.Value == "" {
		return "", false
	}
	return c.Value, true
}

// CheckCSRF verifies the double-submit pair: the X-CSRF-Token header must
// equal the CSRF cookie value.
func CheckCSRF(r *http.Request) bool {
	c, err := r.Cookie(CSRFCookieName)
	if err != nil || c.Value == "" {
		return false
	}
	header := r.Header.Get(CSRFHeaderName)
	if header == "" {
		return false
	}
	return subtle.ConstantTimeCompare([]byte(c.Value), []byte(header)) == 1
}

func generateCSRFToken() (string, error) {
	b := make([]byte, 32)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return base64.RawURLEncoding.EncodeToString(b), nil
}
