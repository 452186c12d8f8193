// Package authprovider is a reference implementation of the auth-provider
// integration contract spec.md §1 and §4.f describe: a plug-in service that
// issues access tokens (AUTH_LOGIN, AUTH_REFRESH) and answers the registry's
// verifyAccess check before a SERVICE_CALL is forwarded to an auth-gated
// service. The core never imports this package directly — it only ever
// talks to an auth provider over HTTP, the way spec.md §1 scopes plug-in
// services as external collaborators — but the repo carries one concrete,
// testable implementation of the contract, grounded on the teacher's own
// internal/auth JWT validation (github.com/golang-jwt/jwt/v5).
package authprovider

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/mcbrumagin/yamf/pkg/command"
)

// claims is the JWT payload this provider issues and validates.
type claims struct {
	Username string `json:"username"`
	jwt.RegisteredClaims
}

// Provider issues and validates HS256 JWTs for a fixed set of admin
// credentials (spec.md §6's ADMIN_USER/ADMIN_SECRET).
type Provider struct {
	secret     []byte
	username   string
	password   string
	accessTTL  time.Duration
	refreshTTL time.Duration
}

// New builds a Provider. secret signs every issued token; username/password
// are the single configured credential pair a caller must present to
// AUTH_LOGIN.
func New(secret []byte, username, password string) *Provider {
	return &Provider{
		secret:     secret,
		username:   username,
		password:   password,
		accessTTL:  15 * time.Minute,
		refreshTTL: 24 * time.Hour,
	}
}

// ServeHTTP dispatches on the yamf-command header the way any plug-in
// service handler would (spec.md §6's service contract), since the registry
// reaches this provider the same way it reaches any other service.
func (p *Provider) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	switch command.Parse(r.Header.Get(command.HeaderCommand)) {
	case command.AuthLogin:
		p.login(w, r)
	case command.AuthRefresh:
		p.refresh(w, r)
	default:
		p.verify(w, r)
	}
}

type loginRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

type tokenResponse struct {
	Token        string `json:"token"`
	RefreshToken string `json:"refreshToken"`
}

func (p *Provider) login(w http.ResponseWriter, r *http.Request) {
	var req loginRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid request body"})
		return
	}
	if req.Username != p.username || req.Password != p.password {
		writeJSON(w, http.StatusUnauthorized, map[string]string{"error": "invalid credentials"})
		return
	}

	access, err := p.sign(req.Username, p.accessTTL)
	if err != nil {
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "failed to issue token"})
		return
	}
	refresh, err := p.sign(req.Username, p.refreshTTL)
	if err != nil {
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "failed to issue token"})
		return
	}
	writeJSON(w, http.StatusOK, tokenResponse{Token: access, RefreshToken: refresh})
}

type refreshRequest struct {
	RefreshToken string `json:"refreshToken"`
}

func (p *Provider) refresh(w http.ResponseWriter, r *http.Request) {
	var req refreshRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid request body"})
		return
	}
	parsed, err := p.parse(req.RefreshToken)
	if err != nil {
		writeJSON(w, http.StatusUnauthorized, map[string]string{"error": "invalid refresh token"})
		return
	}
	access, err := p.sign(parsed.Username, p.accessTTL)
	if err != nil {
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "failed to issue token"})
		return
	}
	writeJSON(w, http.StatusOK, tokenResponse{Token: access})
}

type verifyAccessRequest struct {
	VerifyAccess string `json:"verifyAccess"`
}

type verifyAccessResponse struct {
	Valid bool   `json:"valid"`
	Error string `json:"error,omitempty"`
}

// verify implements the verifyAccess side of the contract (spec.md §4.f):
// the registry POSTs {"verifyAccess": token} and expects {"valid": bool}.
func (p *Provider) verify(w http.ResponseWriter, r *http.Request) {
	var req verifyAccessRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusOK, verifyAccessResponse{Valid: false, Error: "invalid request body"})
		return
	}
	if _, err := p.parse(req.VerifyAccess); err != nil {
		writeJSON(w, http.StatusOK, verifyAccessResponse{Valid: false, Error: err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, verifyAccessResponse{Valid: true})
}

func (p *Provider) sign(username string, ttl time.Duration) (string, error) {
	now := time.Now()
	c := claims{
		Username: username,
		RegisteredClaims: jwt.RegisteredClaims{
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, c).SignedString(p.secret)
}

func (p *Provider) parse(token string) (*claims, error) {
	if token == "" {
		return nil, errors.New("token is empty")
	}
	var c claims
	parsed, err := jwt.ParseWithClaims(token, &c, func(t *jwt.Token) (any, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, errors.New("unexpected signing method")
		}
		return p.secret, nil
	})
	if err != nil {
		return nil, err
	}
	if !parsed.Valid {
		return nil, errors.New("token is not valid")
	}
	return &c, nil
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
