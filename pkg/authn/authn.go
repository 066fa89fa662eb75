// Package authn implements the gateway's connection-level authentication:
// shared-token, shared-password, trusted tunnel-identity header, and an
// optional LDAP directory backend, plus the default-scopes-by-role table
// applied to a freshly authenticated connection. Adapted from the teacher's
// pkg/web/auth.go AuthManager (bcrypt password compare, session bookkeeping,
// directory fallback), generalized from HTTP cookie sessions to the
// connection-handshake auth record this protocol's connect method produces.
package authn

import (
	"context"
	"crypto/subtle"
	"fmt"
	"net/http"
	"sync"
	"time"

	"golang.org/x/crypto/bcrypt"

	"github.com/cloudbro-kube-ai/k13d/pkg/registry"
)

// Mode names one of the four accepted authentication strategies.
type Mode string

const (
	ModeToken   Mode = "token"
	ModePassword Mode = "password"
	ModeTunnel  Mode = "tunnel"
	ModeLDAP    Mode = "ldap"
)

// Identity is the auth record a successful handshake produces, carried by
// the connection for the rest of its lifetime.
type Identity struct {
	DeviceID string
	Role     registry.Role
	Scopes   map[registry.Scope]struct{}
	Source   Mode
	Username string // presented username for password/ldap, header value for tunnel, empty for token
}

// TunnelConfig gates the trusted-header auth mode. Enabled must be set
// explicitly; an unset HeaderName with Enabled true leaves tunnel auth off,
// never a silent bypass.
type TunnelConfig struct {
	Enabled    bool
	HeaderName string
}

// LDAPConfig configures the supplemental directory backend. Off by default;
// wiring it is a deployment choice, never required for local use.
type LDAPConfig struct {
	Enabled      bool
	URL          string // e.g. "ldaps://dc.internal:636"
	BindDN       string
	BindPassword string
	BaseDN       string
	UserFilter   string            // e.g. "(&(objectClass=user)(sAMAccountName=%s))"
	GroupScopes  map[string]registry.Scope // directory group CN -> granted scope
}

// Credentials is what a connect handshake presents.
type Credentials struct {
	Token    string
	Password string
	Username string
	// TunnelHeader is the value read from TunnelConfig.HeaderName by the
	// transport layer, if present.
	TunnelHeader string
}

// DefaultScopes returns the scope set a role receives absent an explicit
// elevation, per the spec's default-by-role rule: nodes get nothing on the
// control plane, operators get read-only.
func DefaultScopes(role registry.Role) map[registry.Scope]struct{} {
	switch role {
	case registry.RoleOperator:
		return map[registry.Scope]struct{}{registry.ScopeRead: {}}
	default:
		return map[registry.Scope]struct{}{}
	}
}

// operatorScopes are granted in full to an operator who authenticated by
// proving knowledge of the shared token or password: in this single-tenant
// deployment model that secret itself is the authorization boundary, so
// whoever holds it is trusted with every control-plane capability. Tunnel
// and LDAP identities stay at DefaultScopes (read-only) plus whatever
// Elevate or an LDAP group mapping grants, since those modes identify a
// specific person rather than proving possession of the admin secret.
var operatorScopes = []registry.Scope{
	registry.ScopeRead, registry.ScopeWrite, registry.ScopeApprovals,
	registry.ScopePairing, registry.ScopeAdmin,
}

// ErrUnauthorized is returned for any failed authentication attempt; callers
// map it to the protocol's UNAUTHORIZED error code without further detail,
// so failure reasons never leak to the remote peer.
var ErrUnauthorized = fmt.Errorf("authn: unauthorized")

// Authenticator validates Credentials against the gateway's configured
// modes and produces an Identity on success.
type Authenticator struct {
	mu sync.RWMutex

	// sharedToken/sharedPasswordHash are compared in constant time; either
	// may be empty to disable that mode.
	sharedToken       string
	sharedPasswordHash string

	tunnel TunnelConfig
	ldap   *ldapBackend

	elevated map[string]map[registry.Scope]struct{} // username/deviceId -> extra scopes
}

// Config is the Authenticator's full construction input.
type Config struct {
	SharedToken    string
	SharedPassword string // plaintext; hashed once at construction
	Tunnel         TunnelConfig
	LDAP           LDAPConfig
}

// New builds an Authenticator from Config. A plaintext SharedPassword is
// hashed immediately and never retained.
func New(cfg Config) (*Authenticator, error) {
	a := &Authenticator{
		sharedToken: cfg.SharedToken,
		tunnel:      cfg.Tunnel,
		elevated:    make(map[string]map[registry.Scope]struct{}),
	}
	if cfg.SharedPassword != "" {
		hash, err := bcrypt.GenerateFromPassword([]byte(cfg.SharedPassword), bcrypt.DefaultCost)
		if err != nil {
			return nil, fmt.Errorf("authn: hashing shared password: %w", err)
		}
		a.sharedPasswordHash = string(hash)
	}
	if cfg.LDAP.Enabled {
		backend, err := newLDAPBackend(cfg.LDAP)
		if err != nil {
			return nil, fmt.Errorf("authn: ldap backend: %w", err)
		}
		a.ldap = backend
	}
	return a, nil
}

// Authenticate validates creds against every configured mode in order:
// token, password, tunnel header, LDAP. The first matching mode wins.
func (a *Authenticator) Authenticate(ctx context.Context, creds Credentials, role registry.Role, deviceID string) (Identity, error) {
	a.mu.RLock()
	token, passHash, tunnel := a.sharedToken, a.sharedPasswordHash, a.tunnel
	a.mu.RUnlock()

	if token != "" && creds.Token != "" {
		if constantTimeEqual(token, creds.Token) {
			return a.identity(role, deviceID, ModeToken, ""), nil
		}
	}

	if passHash != "" && creds.Password != "" {
		if bcrypt.CompareHashAndPassword([]byte(passHash), []byte(creds.Password)) == nil {
			return a.identity(role, deviceID, ModePassword, creds.Username), nil
		}
	}

	if tunnel.Enabled && tunnel.HeaderName != "" && creds.TunnelHeader != "" {
		return a.identity(role, deviceID, ModeTunnel, creds.TunnelHeader), nil
	}

	if a.ldap != nil && creds.Username != "" && creds.Password != "" {
		groups, err := a.ldap.authenticate(ctx, creds.Username, creds.Password)
		if err == nil {
			id := a.identity(role, deviceID, ModeLDAP, creds.Username)
			for _, g := range groups {
				if scope, ok := a.ldap.cfg.GroupScopes[g]; ok {
					id.Scopes[scope] = struct{}{}
				}
			}
			return id, nil
		}
	}

	return Identity{}, ErrUnauthorized
}

// Elevate grants key (username or deviceId) additional scopes beyond its
// role default, for operator promotion via configuration or an admin action.
func (a *Authenticator) Elevate(key string, scopes ...registry.Scope) {
	a.mu.Lock()
	defer a.mu.Unlock()
	set, ok := a.elevated[key]
	if !ok {
		set = make(map[registry.Scope]struct{})
		a.elevated[key] = set
	}
	for _, s := range scopes {
		set[s] = struct{}{}
	}
}

func (a *Authenticator) identity(role registry.Role, deviceID string, mode Mode, username string) Identity {
	scopes := DefaultScopes(role)
	if role == registry.RoleOperator && (mode == ModeToken || mode == ModePassword) {
		for _, s := range operatorScopes {
			scopes[s] = struct{}{}
		}
	}
	a.mu.RLock()
	if extra, ok := a.elevated[username]; ok {
		for s := range extra {
			scopes[s] = struct{}{}
		}
	}
	if extra, ok := a.elevated[deviceID]; ok {
		for s := range extra {
			scopes[s] = struct{}{}
		}
	}
	a.mu.RUnlock()
	return Identity{DeviceID: deviceID, Role: role, Scopes: scopes, Source: mode, Username: username}
}

func constantTimeEqual(a, b string) bool {
	return subtle.ConstantTimeCompare([]byte(a), []byte(b)) == 1
}

// TunnelHeaderFromRequest extracts the configured header from an HTTP
// request during the websocket upgrade, before the connect frame is parsed.
func TunnelHeaderFromRequest(r *http.Request, cfg TunnelConfig) string {
	if !cfg.Enabled || cfg.HeaderName == "" {
		return ""
	}
	return r.Header.Get(cfg.HeaderName)
}

// UnauthenticatedDeadline is the short read deadline applied to a freshly
// accepted connection before its connect frame authenticates it, per the
// spec's parked-unauthenticated-state rule.
const UnauthenticatedDeadline = 10 * time.Second
