package handle

import (
	"context"
	"net"
)

// ResolveConfig tunes how a handle resolves destination hosts.
type ResolveConfig struct {
	CustomDNSServer string            // "host:port" of a DNS server to query instead of the system one
	Network         string            // one of "ip4", "ip6", default is "ip"
	StaticHosts     map[string]string // resembles /etc/hosts
}

func (c *ResolveConfig) Clone() *ResolveConfig {
	if c == nil {
		return nil
	}
	hosts := make(map[string]string, len(c.StaticHosts))
	for k, v := range c.StaticHosts {
		hosts[k] = v
	}
	return &ResolveConfig{
		CustomDNSServer: c.CustomDNSServer,
		Network:         c.Network,
		StaticHosts:     hosts,
	}
}

// tcpNetwork maps the resolve preference onto a dial network.
func (c *ResolveConfig) tcpNetwork() string {
	if c != nil {
		switch c.Network {
		case "ip4":
			return "tcp4"
		case "ip6":
			return "tcp6"
		}
	}
	return "tcp"
}

func (c *ResolveConfig) staticHost(host string) (string, bool) {
	if c == nil {
		return "", false
	}
	ip, ok := c.StaticHosts[host]
	return ip, ok
}

// this type should not be used outside this file.
// prevents non-custom DNS server contexts to iterate through all keys
type dnsServerCtx struct {
	context.Context
	server string
}

var dnsServerCtxKey = &dnsServerCtx{nil, "dns-server"} // non-nil pointer to any object, definitely unique

func (c dnsServerCtx) Value(key interface{}) interface{} {
	if key == dnsServerCtxKey {
		return c.server
	}
	return c.Context.Value(key)
}

var zeroDialer net.Dialer

var customServerResolver = net.Resolver{
	PreferGo: true,
	Dial: func(ctx context.Context, network, address string) (net.Conn, error) {
		if v, ok := ctx.Value(dnsServerCtxKey).(string); ok && v != "" {
			return zeroDialer.DialContext(ctx, network, v)
		}
		return zeroDialer.DialContext(ctx, network, address)
	},
}

var customDNSDialer = net.Dialer{Resolver: &customServerResolver}

// dialTCP dials host:port honouring the resolve configuration.
func dialTCP(ctx context.Context, cfg *ResolveConfig, host, port string) (net.Conn, error) {
	dialer, dst := &zeroDialer, net.JoinHostPort(host, port)
	if ip, ok := cfg.staticHost(host); ok {
		dst = net.JoinHostPort(ip, port)
	}
	if cfg != nil && cfg.CustomDNSServer != "" {
		ctx = dnsServerCtx{ctx, cfg.CustomDNSServer}
		dialer = &customDNSDialer
	}
	return dialer.DialContext(ctx, cfg.tcpNetwork(), dst)
}
