package pool

import (
	"errors"
	"fmt"
	"net"
	"net/url"
	"strings"

	"golang.org/x/net/idna"
)

var (
	ErrInvalidURL      = errors.New("pool: invalid url")
	ErrInvalidProxyURL = errors.New("pool: invalid proxy url")
)

var defaultPorts = map[string]string{"http": "80", "https": "443"}

// Key identifies a destination. Host is lower-cased and IDNA encoded, Port
// is always set.
type Key struct {
	Scheme, Host, Port string
}

func (k Key) String() string {
	return k.Scheme + "://" + net.JoinHostPort(k.Host, k.Port)
}

func keyFromURL(u *url.URL) (Key, error) {
	scheme := strings.ToLower(u.Scheme)
	host := strings.ToLower(u.Hostname())
	if host == "" {
		return Key{}, fmt.Errorf("%w: %q has no host", ErrInvalidURL, u.String())
	}
	if ascii, err := idna.Punycode.ToASCII(host); err == nil {
		host = ascii
	}
	port := u.Port()
	if port == "" {
		port = defaultPorts[scheme]
	}
	return Key{Scheme: scheme, Host: host, Port: port}, nil
}

// KeyFromURL derives the destination key of a request URL.
func KeyFromURL(raw string) (Key, error) {
	u, err := url.Parse(raw)
	if err != nil {
		return Key{}, fmt.Errorf("%w: %v", ErrInvalidURL, err)
	}
	return keyFromURL(u)
}

// ParseProxyURL parses a proxy address. A missing scheme means http, only
// http and https proxies are understood.
func ParseProxyURL(raw string) (*url.URL, error) {
	if !strings.Contains(raw, "://") {
		raw = "http://" + raw
	}
	u, err := url.Parse(raw)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidProxyURL, err)
	}
	if u.Hostname() == "" {
		return nil, fmt.Errorf("%w: %q has no host", ErrInvalidProxyURL, raw)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return nil, fmt.Errorf("%w: unsupported proxy scheme %q", ErrInvalidProxyURL, u.Scheme)
	}
	return u, nil
}

// routeKey is the registry key. Direct and proxied routes never collide
// because proxied is part of the key.
type routeKey struct {
	proxied bool
	proxy   Key
	auth    string
	dest    Key
}

func (k routeKey) String() string {
	if !k.proxied {
		return k.dest.String()
	}
	return k.dest.String() + " via " + k.proxy.String()
}
