package relay

import (
	"math/rand/v2"
	"strings"
)

// CredentialPool selects one credential per call from a compound
// credential string. A request's Authorization header may carry several
// tokens, comma-separated; selection is uniform-random with no ordering
// guarantee.
type CredentialPool struct {
	credentials []string
}

// NewCredentialPool splits a compound credential string into individual
// tokens, dropping empty segments.
func NewCredentialPool(compound string) *CredentialPool {
	parts := strings.Split(compound, ",")
	creds := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			creds = append(creds, p)
		}
	}
	return &CredentialPool{credentials: creds}
}

// Pick returns one credential uniformly at random, or "" when the pool is
// empty.
func (p *CredentialPool) Pick() string {
	if len(p.credentials) == 0 {
		return ""
	}
	return p.credentials[rand.IntN(len(p.credentials))]
}

// Size returns the number of credentials in the pool.
func (p *CredentialPool) Size() int {
	return len(p.credentials)
}
