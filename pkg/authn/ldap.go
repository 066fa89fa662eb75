package authn

import (
	"context"
	"fmt"
	"strings"

	"github.com/go-ldap/ldap/v3"
)

// ldapBackend is the supplemental directory auth path, grounded on the
// teacher's AuthenticateLDAP flow (bind as service account, search for the
// user, bind again as the user to verify the password, read group
// membership) but built directly on go-ldap/v3 rather than the teacher's
// unexported provider type.
type ldapBackend struct {
	cfg LDAPConfig
}

func newLDAPBackend(cfg LDAPConfig) (*ldapBackend, error) {
	if cfg.URL == "" || cfg.BaseDN == "" {
		return nil, fmt.Errorf("ldap: URL and BaseDN are required")
	}
	if cfg.UserFilter == "" {
		cfg.UserFilter = "(&(objectClass=person)(sAMAccountName=%s))"
	}
	return &ldapBackend{cfg: cfg}, nil
}

// authenticate binds as the configured service account, searches for
// username, then re-binds as the resolved DN with password to verify it.
// Returns the user's directory group CNs on success.
func (b *ldapBackend) authenticate(ctx context.Context, username, password string) ([]string, error) {
	conn, err := ldap.DialURL(b.cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("ldap: dial: %w", err)
	}
	defer conn.Close()

	if b.cfg.BindDN != "" {
		if err := conn.Bind(b.cfg.BindDN, b.cfg.BindPassword); err != nil {
			return nil, fmt.Errorf("ldap: service bind: %w", err)
		}
	}

	filter := fmt.Sprintf(b.cfg.UserFilter, ldap.EscapeFilter(username))
	req := ldap.NewSearchRequest(
		b.cfg.BaseDN, ldap.ScopeWholeSubtree, ldap.NeverDerefAliases, 1, 0, false,
		filter, []string{"dn", "memberOf"}, nil,
	)
	res, err := conn.Search(req)
	if err != nil {
		return nil, fmt.Errorf("ldap: search: %w", err)
	}
	if len(res.Entries) != 1 {
		return nil, fmt.Errorf("ldap: user %q not found or ambiguous", username)
	}
	entry := res.Entries[0]

	if err := conn.Bind(entry.DN, password); err != nil {
		return nil, fmt.Errorf("ldap: user bind: %w", err)
	}

	groups := make([]string, 0, len(entry.GetAttributeValues("memberOf")))
	for _, dn := range entry.GetAttributeValues("memberOf") {
		groups = append(groups, firstRDNValue(dn))
	}
	return groups, nil
}

// firstRDNValue extracts the CN value from a group DN like
// "CN=ops,OU=Groups,DC=example,DC=com" -> "ops".
func firstRDNValue(dn string) string {
	parsed, err := ldap.ParseDN(dn)
	if err != nil || len(parsed.RDNs) == 0 || len(parsed.RDNs[0].Attributes) == 0 {
		// fall back to a naive split so a malformed DN still yields something
		parts := strings.SplitN(dn, ",", 2)
		kv := strings.SplitN(parts[0], "=", 2)
		if len(kv) == 2 {
			return kv[1]
		}
		return dn
	}
	return parsed.RDNs[0].Attributes[0].Value
}
