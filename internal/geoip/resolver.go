// Package geoip resolves request addresses to an approximate country and city.
// Lookups are best effort: every failure degrades to UnknownLocation.
package geoip

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/sirupsen/logrus"
)

const (
	Unknown  = "Unknown"
	Loopback = "127.0.0.1"

	maxResponseBytes = 64 << 10
)

var (
	DefaultSelfIPProviders = []string{
		"https://api.ipify.org?format=json",
		"https://api64.ipify.org?format=json",
		"https://ipinfo.io/json",
	}
	DefaultGeoProviderURL = "http://ip-api.com/json/{ip}?fields=status,message,country,city,query"

	errProviderStatus = errors.New("geoip: provider reported failure")
)

type Location struct {
	Country string
	City    string
	IP      string
}

type Resolver interface {
	Resolve(ctx context.Context, ip string) Location
}

type Config struct {
	SelfIPProviders []string
	GeoProviderURL  string
	SelfIPTimeout   time.Duration
	GeoTimeout      time.Duration
}

type HTTPResolver struct {
	client *http.Client
	config Config
	logger logrus.FieldLogger
}

func NewHTTPResolver(config Config, client *http.Client, logger logrus.FieldLogger) *HTTPResolver {
	if client == nil {
		client = &http.Client{}
	}
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	if config.SelfIPProviders == nil {
		config.SelfIPProviders = DefaultSelfIPProviders
	}
	if strings.TrimSpace(config.GeoProviderURL) == "" {
		config.GeoProviderURL = DefaultGeoProviderURL
	}
	if config.SelfIPTimeout <= 0 {
		config.SelfIPTimeout = 2 * time.Second
	}
	if config.GeoTimeout <= 0 {
		config.GeoTimeout = 4 * time.Second
	}
	return &HTTPResolver{client: client, config: config, logger: logger.WithField("component", "geoip")}
}

func (r *HTTPResolver) Resolve(ctx context.Context, ip string) Location {
	ip = strings.TrimSpace(ip)
	if isLoopback(ip) {
		if public, ok := r.discoverPublicIP(ctx); ok {
			ip = public
		} else if ip == "" {
			ip = Loopback
		}
	}

	location, err := r.lookup(ctx, ip)
	if err != nil {
		r.logger.WithError(err).WithField("ip", ip).Debug("geolocation unavailable")
		return Location{Country: Unknown, City: Unknown, IP: ip}
	}
	return location
}

// discoverPublicIP asks each provider in order and stops at the first answer.
func (r *HTTPResolver) discoverPublicIP(ctx context.Context) (string, bool) {
	for _, provider := range r.config.SelfIPProviders {
		ip, err := r.fetchSelfIP(ctx, provider)
		if err != nil {
			r.logger.WithError(err).WithField("provider", provider).Debug("public ip provider failed")
			continue
		}
		return ip, true
	}
	return "", false
}

func (r *HTTPResolver) fetchSelfIP(ctx context.Context, provider string) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, r.config.SelfIPTimeout)
	defer cancel()

	body, err := r.get(ctx, provider)
	if err != nil {
		return "", err
	}

	var payload struct {
		IP string `json:"ip"`
	}
	candidate := strings.TrimSpace(string(body))
	if err := json.Unmarshal(body, &payload); err == nil {
		candidate = strings.TrimSpace(payload.IP)
	}
	if net.ParseIP(candidate) == nil {
		return "", fmt.Errorf("geoip: provider returned %q", candidate)
	}
	return candidate, nil
}

type geoResponse struct {
	Status  string `json:"status"`
	Message string `json:"message"`
	Country string `json:"country"`
	City    string `json:"city"`
	Query   string `json:"query"`
}

func (r *HTTPResolver) lookup(ctx context.Context, ip string) (Location, error) {
	ctx, cancel := context.WithTimeout(ctx, r.config.GeoTimeout)
	defer cancel()

	endpoint := strings.ReplaceAll(r.config.GeoProviderURL, "{ip}", url.PathEscape(ip))
	body, err := r.get(ctx, endpoint)
	if err != nil {
		return Location{}, err
	}

	var payload geoResponse
	if err := json.Unmarshal(body, &payload); err != nil {
		return Location{}, fmt.Errorf("geoip: decode: %w", err)
	}
	if !strings.EqualFold(payload.Status, "success") {
		return Location{}, fmt.Errorf("%w: %s", errProviderStatus, payload.Message)
	}

	location := Location{
		Country: orUnknown(payload.Country),
		City:    orUnknown(payload.City),
		IP:      ip,
	}
	if echoed := strings.TrimSpace(payload.Query); echoed != "" {
		location.IP = echoed
	}
	return location, nil
}

func (r *HTTPResolver) get(ctx context.Context, endpoint string) ([]byte, error) {
	request, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, err
	}
	request.Header.Set("Accept", "application/json")
	response, err := r.client.Do(request)
	if err != nil {
		return nil, err
	}
	defer response.Body.Close()
	if response.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("geoip: %s returned status %d", request.URL.Host, response.StatusCode)
	}
	return io.ReadAll(io.LimitReader(response.Body, maxResponseBytes))
}

func isLoopback(ip string) bool {
	if ip == "" || ip == Loopback {
		return true
	}
	parsed := net.ParseIP(ip)
	return parsed != nil && parsed.IsLoopback()
}

func orUnknown(value string) string {
	if strings.TrimSpace(value) == "" {
		return Unknown
	}
	return value
}
