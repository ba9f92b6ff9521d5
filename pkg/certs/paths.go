// pkg/certs/paths.go

package certs

import "github.com/CodeMonkeyCybersecurity/charon/pkg/hoststate"

// CertPaths locates issued certificate material on the host. Both paths
// are absolute and referenced verbatim from the proxy template.
type CertPaths struct {
	Fullchain string
	Privkey   string
}

// PathsFor returns the canonical layout for a domain under the cert root.
func PathsFor(domain string) CertPaths {
	return CertPaths{
		Fullchain: hoststate.CertFullchainPath(domain),
		Privkey:   hoststate.CertPrivkeyPath(domain),
	}
}
