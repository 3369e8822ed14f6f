package config

import (
	"net"

	"github.com/labstack/echo/v4"
)

// IPExtractor returns how echo resolves c.RealIP(). Without trusted proxies
// only the transport peer counts, so clients cannot pick their own address.
func (c *Config) IPExtractor() echo.IPExtractor {
	if len(c.TrustedProxies) == 0 {
		return echo.ExtractIPDirect()
	}
	options := []echo.TrustOption{
		echo.TrustLoopback(false),
		echo.TrustLinkLocal(false),
		echo.TrustPrivateNet(false),
	}
	for _, cidr := range c.TrustedProxies {
		if _, network, err := net.ParseCIDR(cidr); err == nil {
			options = append(options, echo.TrustIPRange(network))
		}
	}
	return echo.ExtractIPFromXFFHeader(options...)
}
