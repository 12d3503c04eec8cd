package pool

import (
	"net/url"
	"strconv"

	"github.com/frankli0324/go-http-adapter/internal/handle"
)

// ProxiedPool is a HandlerPool whose handles talk through a proxy.
type ProxiedPool struct {
	*HandlerPool
	raw   string
	proxy *url.URL
}

var _ Pool = (*ProxiedPool)(nil)

func NewProxiedPool(raw string, proxy *url.URL, o Options) *ProxiedPool {
	return &ProxiedPool{HandlerPool: NewHandlerPool(o), raw: raw, proxy: proxy}
}

// ProxyURL is the proxy address the pool was created for.
func (p *ProxiedPool) ProxyURL() string { return p.raw }

func (p *ProxiedPool) Configure(o *handle.Options) {
	o.Proxy = p.proxy.Hostname()
	o.ProxyScheme = p.proxy.Scheme
	if port, err := strconv.Atoi(p.proxy.Port()); err == nil {
		o.ProxyPort = port
	}
	o.ProxyAuth = handle.AuthAny
	if u := p.proxy.User; u != nil {
		pass, _ := u.Password()
		o.ProxyUserPwd = u.Username() + ":" + pass
	}
}
