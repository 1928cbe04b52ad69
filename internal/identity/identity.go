// Package identity derives the pseudonymous identities that tie sessions to
// real-world actors across reconnects.
package identity

import (
	"crypto/md5"
	"encoding/hex"
	"fmt"
	"net"
	"net/http"
	"net/netip"
	"strconv"
	"strings"

	"github.com/google/uuid"
)

// Length is the fixed width of every identity.
const Length = 32

// CloudflareHeader is the header Cloudflare sets to the client address.
const CloudflareHeader = "CF-Connecting-IP"

var palette = []string{"#b38c16", "#2bb7b7", "#9c27b0", "#f44336", "#009688"}

// Derive maps a source address to an identity. In hash mode the result is the
// uppercase hex MD5 digest of addr, so the same address always yields the same
// identity. In random mode every call returns a fresh token.
func Derive(addr string, random bool) string {
	if random {
		id := uuid.New()
		return strings.ToUpper(hex.EncodeToString(id[:]))
	}
	sum := md5.Sum([]byte(addr))
	digest := strings.ToUpper(hex.EncodeToString(sum[:]))
	return digest[:Length]
}

// Valid reports whether s has the shape of an identity.
func Valid(s string) bool {
	if len(s) != Length {
		return false
	}
	for i := 0; i < len(s); i++ {
		c := s[i]
		if (c < '0' || c > '9') && (c < 'A' || c > 'Z') {
			return false
		}
	}
	return true
}

// Color returns the display color assigned to an identity.
func Color(id string) string {
	prefix := id
	if len(prefix) > 4 {
		prefix = prefix[:4]
	}
	n, err := strconv.ParseInt(prefix, 36, 64)
	if err != nil || n < 0 {
		return palette[0]
	}
	return palette[n%int64(len(palette))]
}

// AddrResolver picks the client address of a request. The proxy header is
// honoured only when the direct peer falls inside a trusted proxy range;
// every other peer is identified by its transport address.
type AddrResolver struct {
	header  string
	trusted []netip.Prefix
}

// ParseProxies parses trusted proxy entries, each a single address or a CIDR
// range.
func ParseProxies(entries []string) ([]netip.Prefix, error) {
	out := make([]netip.Prefix, 0, len(entries))
	for _, e := range entries {
		e = strings.TrimSpace(e)
		if e == "" {
			continue
		}
		if strings.Contains(e, "/") {
			p, err := netip.ParsePrefix(e)
			if err != nil {
				return nil, fmt.Errorf("trusted proxy %q: %w", e, err)
			}
			out = append(out, p.Masked())
			continue
		}
		a, err := netip.ParseAddr(e)
		if err != nil {
			return nil, fmt.Errorf("trusted proxy %q: %w", e, err)
		}
		a = a.Unmap()
		out = append(out, netip.PrefixFrom(a, a.BitLen()))
	}
	return out, nil
}

// NewAddrResolver builds a resolver. An empty header or an empty proxy list
// means the header is never consulted.
func NewAddrResolver(header string, proxies []string) (*AddrResolver, error) {
	trusted, err := ParseProxies(proxies)
	if err != nil {
		return nil, err
	}
	return &AddrResolver{header: header, trusted: trusted}, nil
}

// SourceAddr returns the address sessions of r are identified by. A nil
// resolver always uses the transport address.
func (a *AddrResolver) SourceAddr(r *http.Request) string {
	host := remoteHost(r)
	if a == nil || a.header == "" || !a.trustedPeer(host) {
		return host
	}
	v := strings.TrimSpace(r.Header.Get(a.header))
	if i := strings.IndexByte(v, ','); i >= 0 {
		v = strings.TrimSpace(v[:i])
	}
	if v == "" {
		return host
	}
	return v
}

func (a *AddrResolver) trustedPeer(host string) bool {
	addr, err := netip.ParseAddr(host)
	if err != nil {
		return false
	}
	addr = addr.Unmap()
	for _, p := range a.trusted {
		if p.Contains(addr) {
			return true
		}
	}
	return false
}

func remoteHost(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
