package adapter

import "github.com/frankli0324/go-http-adapter/internal/handle"

// we need a dedicated resolver for two scenarios:
//
//  1. to pin hostnames to addresses without touching /etc/hosts
//  2. to customize the DNS server used for resolving hostname
//
// the standard library only follows the system configuration
// (e.g. /etc/resolv.conf) for DNS servers, leaving us the
// [net.Resolver.Dial] hook of a Go resolver as the only option.
type ResolveConfig = handle.ResolveConfig
