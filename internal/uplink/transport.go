// Package uplink 实现对上游 registry 的只读访问：条件拉取清单、流式下载
// tarball，并用熔断器隔离单个 uplink 的故障。
package uplink

import (
	"context"
	"net"
	"net/http"
	"time"

	"github.com/rs/dnscache"
)

// sharedResolver 为所有 uplink 复用一份 DNS 缓存，后台定期刷新。
var sharedResolver = newResolver()

func newResolver() *dnscache.Resolver {
	resolver := &dnscache.Resolver{}
	go func() {
		ticker := time.NewTicker(5 * time.Minute)
		defer ticker.Stop()
		for range ticker.C {
			resolver.Refresh(true)
		}
	}()
	return resolver
}

// newTransport 组合长连接复用与 DNS 缓存拨号，所有 uplink 客户端共享配置。
func newTransport() *http.Transport {
	dialer := &net.Dialer{
		Timeout:   30 * time.Second,
		KeepAlive: 30 * time.Second,
	}

	return &http.Transport{
		Proxy:                 http.ProxyFromEnvironment,
		MaxIdleConns:          100,
		MaxIdleConnsPerHost:   100,
		IdleConnTimeout:       90 * time.Second,
		TLSHandshakeTimeout:   10 * time.Second,
		ExpectContinueTimeout: 1 * time.Second,
		ForceAttemptHTTP2:     true,
		DialContext: func(ctx context.Context, network, addr string) (net.Conn, error) {
			host, port, err := net.SplitHostPort(addr)
			if err != nil {
				return nil, err
			}
			ips, err := sharedResolver.LookupHost(ctx, host)
			if err != nil {
				return nil, err
			}
			var lastErr error
			for _, ip := range ips {
				conn, dialErr := dialer.DialContext(ctx, network, net.JoinHostPort(ip, port))
				if dialErr == nil {
					return conn, nil
				}
				lastErr = dialErr
			}
			if lastErr != nil {
				return nil, lastErr
			}
			return dialer.DialContext(ctx, network, addr)
		},
	}
}
