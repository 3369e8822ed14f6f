package activity

import (
	"net"
	"net/http"
	"strings"
)

// RequestMeta carries the parts of an inbound request the recorder needs.
type RequestMeta struct {
	ForwardedFor string
	RealIP       string
	RemoteAddr   string
	UserAgent    string
}

func FromRequest(r *http.Request) RequestMeta {
	if r == nil {
		return RequestMeta{}
	}
	return RequestMeta{
		ForwardedFor: r.Header.Get("X-Forwarded-For"),
		RealIP:       r.Header.Get("X-Real-IP"),
		RemoteAddr:   r.RemoteAddr,
		UserAgent:    r.UserAgent(),
	}
}

// ClientIP picks the first usable address from X-Forwarded-For (first entry
// only), X-Real-IP and the transport peer, in that order.
func (m RequestMeta) ClientIP() string {
	candidates := []string{
		firstForwarded(m.ForwardedFor),
		m.RealIP,
		stripPort(m.RemoteAddr),
	}
	for _, candidate := range candidates {
		if ip := NormalizeIP(candidate); ip != "" {
			return ip
		}
	}
	return ""
}

// NormalizeIP unwraps IPv4-mapped IPv6 addresses and maps ::1 to 127.0.0.1.
// It returns "" for anything that is not an IP address.
func NormalizeIP(value string) string {
	value = strings.TrimSpace(value)
	value = strings.TrimPrefix(strings.TrimSuffix(value, "]"), "[")
	if value == "" {
		return ""
	}
	if strings.HasPrefix(strings.ToLower(value), "::ffff:") {
		value = value[len("::ffff:"):]
	}
	parsed := net.ParseIP(value)
	if parsed == nil {
		return ""
	}
	if parsed.Equal(net.IPv6loopback) {
		return "127.0.0.1"
	}
	if v4 := parsed.To4(); v4 != nil {
		return v4.String()
	}
	return parsed.String()
}

func firstForwarded(header string) string {
	first, _, _ := strings.Cut(header, ",")
	return strings.TrimSpace(first)
}

func stripPort(addr string) string {
	addr = strings.TrimSpace(addr)
	if host, _, err := net.SplitHostPort(addr); err == nil {
		return host
	}
	return addr
}
