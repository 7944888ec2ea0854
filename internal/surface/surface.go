package surface

import (
	"fmt"
	"net"
	"net/http"
	"strings"
)

// Surface is one of the two disjoint deployment contexts
type Surface string

const (
	External Surface = "external"
	Internal Surface = "internal"
)

const (
	apiPrefix     = "/api/v2/"
	internalLabel = "internal"
	productLabel  = "medforge"
)

// All returns every known surface
func All() []Surface {
	return []Surface{External, Internal}
}

// Parse converts a configured value into a Surface
func Parse(value string) (Surface, error) {
	switch Surface(strings.ToLower(strings.TrimSpace(value))) {
	case External:
		return External, nil
	case Internal:
		return Internal, nil
	}
	return "", fmt.Errorf("unknown surface %q", value)
}

func (s Surface) String() string {
	return string(s)
}

// FromHost classifies a hostname. Anything not rooted at the reserved
// internal label, including an empty host, is external.
func FromHost(hostname string) Surface {
	host := strings.ToLower(strings.TrimSpace(hostname))
	if h, _, err := net.SplitHostPort(host); err == nil {
		host = h
	}
	host = strings.TrimSuffix(host, ".")

	if host == internalLabel ||
		strings.HasPrefix(host, internalLabel+"."+productLabel+".") ||
		strings.Contains(host, "."+internalLabel+"."+productLabel+".") {
		return Internal
	}
	return External
}

// FromRequest infers the surface of an incoming request, preferring the
// host a proxy forwarded over the one it connected to.
func FromRequest(r *http.Request) Surface {
	host := r.Header.Get("X-Forwarded-Host")
	if host == "" {
		host = r.Host
	}
	// X-Forwarded-Host may carry a list; the first hop is the client-facing one
	if i := strings.IndexByte(host, ','); i >= 0 {
		host = host[:i]
	}
	return FromHost(host)
}

// NamespacedPath rewrites a logical resource path into the API namespace of s
func NamespacedPath(s Surface, logical string) string {
	if !strings.HasPrefix(logical, "/") {
		logical = "/" + logical
	}
	return apiPrefix + string(s) + logical
}

// OfPath recovers the surface encoded in a namespaced path
func OfPath(path string) (Surface, bool) {
	rest, ok := strings.CutPrefix(path, apiPrefix)
	if !ok {
		return "", false
	}
	segment, _, _ := strings.Cut(rest, "/")
	s, err := Parse(segment)
	if err != nil || segment != string(s) {
		return "", false
	}
	return s, true
}

// Host builds the public hostname serving s under domain
func Host(s Surface, domain string) string {
	return fmt.Sprintf("%s.%s.%s", s, productLabel, domain)
}
