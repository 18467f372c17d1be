// internal/tenant/secrets.go
//
// DSN secret references.
//
// Dedicated datasource URLs in the control plane never embed real
// passwords.  The password segment holds a reference of the form
//
//	vault:<kv-path>#<key>
//
// resolved at handle-construction time through the secrets client.
// Because resolution happens on every (re)construction, rotating the
// secret in Vault plus an explicit Evict is all an operator needs.
package tenant

import (
	"context"
	"fmt"
	"strings"
)

const vaultMarker = "vault:"

// resolveDSN replaces a single `vault:<path>#<key>` token inside dsn
// with the secret it names.  DSNs without a marker pass through
// untouched; a marker with no secrets client configured is an error.
func (c *Conns) resolveDSN(ctx context.Context, dsn string) (string, error) {
	start := strings.Index(dsn, vaultMarker)
	if start == -1 {
		return dsn, nil
	}
	if c.secrets == nil {
		return "", fmt.Errorf("dsn contains a vault reference but no secrets client is configured")
	}

	// The token runs to the next DSN delimiter (@ for URL form, space
	// for key=value form) or end of string.
	end := len(dsn)
	for i := start; i < len(dsn); i++ {
		if dsn[i] == '@' || dsn[i] == ' ' {
			end = i
			break
		}
	}
	ref := dsn[start+len(vaultMarker) : end]

	path, key, ok := strings.Cut(ref, "#")
	if !ok {
		return "", fmt.Errorf("malformed vault reference %q: want vault:<path>#<key>", ref)
	}
	secret, err := c.secrets.GetKV(ctx, path, key)
	if err != nil {
		return "", fmt.Errorf("resolve vault reference %q: %w", path, err)
	}
	return dsn[:start] + secret + dsn[end:], nil
}
