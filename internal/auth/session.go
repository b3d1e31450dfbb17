package auth

import (
	"crypto/sha256"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/gorilla/securecookie"
	"golang.org/x/crypto/hkdf"
)

const (
	sessionCookieName = "taskcal_session"
	sessionTTL        = 7 * 24 * time.Hour
)

// SessionManager signs and encrypts session and short-lived state cookies.
type SessionManager struct {
	codec  *securecookie.SecureCookie
	secure bool
	now    func() time.Time
}

type sessionValue struct {
	UserID string `json:"uid"`
	Exp    int64  `json:"exp"`
}

// NewSessionManager derives independent hash and block keys from secret. Cookies are
// marked Secure when baseURL is https.
func NewSessionManager(secret, baseURL string) (*SessionManager, error) {
	hashKey, err := deriveKey(secret, "taskcal session hash", 64)
	if err != nil {
		return nil, err
	}
	blockKey, err := deriveKey(secret, "taskcal session block", 32)
	if err != nil {
		return nil, err
	}
	sc := securecookie.New(hashKey, blockKey)
	sc.MaxAge(int(sessionTTL / time.Second))
	sc.SetSerializer(securecookie.JSONEncoder{})

	secure := true
	if base, err := url.Parse(baseURL); err == nil && base.Scheme != "https" {
		secure = false
	}
	return &SessionManager{codec: sc, secure: secure, now: time.Now}, nil
}

func deriveKey(secret, info string, size int) ([]byte, error) {
	key := make([]byte, size)
	if _, err := io.ReadFull(hkdf.New(sha256.New, []byte(secret), nil, []byte(info)), key); err != nil {
		return nil, fmt.Errorf("derive %s key: %w", info, err)
	}
	return key, nil
}

// Secure reports whether cookies carry the Secure flag.
func (m *SessionManager) Secure() bool {
	return m.secure
}

// Issue sets the session cookie for userID.
func (m *SessionManager) Issue(w http.ResponseWriter, userID string) error {
	exp := m.now().Add(sessionTTL)
	return m.set(w, sessionCookieName, sessionValue{UserID: userID, Exp: exp.Unix()}, exp)
}

// Clear removes the session cookie.
func (m *SessionManager) Clear(w http.ResponseWriter) {
	m.ClearState(w, sessionCookieName)
}

// CurrentUserID extracts the user id from the request session if present and unexpired.
func (m *SessionManager) CurrentUserID(r *http.Request) (string, bool) {
	var v sessionValue
	if err := m.ReadState(r, sessionCookieName, &v); err != nil {
		return "", false
	}
	if v.UserID == "" || time.Unix(v.Exp, 0).Before(m.now()) {
		return "", false
	}
	return v.UserID, true
}

// SetState stores value in a short-lived signed cookie, such as an OAuth state nonce.
func (m *SessionManager) SetState(w http.ResponseWriter, name string, value any, ttl time.Duration) error {
	return m.set(w, name, value, m.now().Add(ttl))
}

// ReadState decodes a cookie written by SetState into dst.
func (m *SessionManager) ReadState(r *http.Request, name string, dst any) error {
	c, err := r.Cookie(name)
	if err != nil {
		return err
	}
	return m.codec.Decode(name, c.Value, dst)
}

// ClearState expires the named cookie.
func (m *SessionManager) ClearState(w http.ResponseWriter, name string) {
	http.SetCookie(w, &http.Cookie{
		Name:     name,
		Value:    "",
		Path:     "/",
		Expires:  time.Unix(0, 0),
		MaxAge:   -1,
		HttpOnly: true,
		Secure:   m.secure,
		SameSite: http.SameSiteLaxMode,
	})
}

func (m *SessionManager) set(w http.ResponseWriter, name string, value any, expires time.Time) error {
	encoded, err := m.codec.Encode(name, value)
	if err != nil {
		return err
	}
	http.SetCookie(w, &http.Cookie{
		Name:     name,
		Value:    encoded,
		Path:     "/",
		Expires:  expires,
		HttpOnly: true,
		Secure:   m.secure,
		SameSite: http.SameSiteLaxMode,
	})
	return nil
}
