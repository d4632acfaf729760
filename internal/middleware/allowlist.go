package middleware

import (
	"net"
	"net/http"
	"strings"

	"cadastral-api/internal/logger"
)

// Allowlist：源站访问白名单（单 IP 与 CIDR，支持 v4/v6）
// 部署在 CDN 或网关之后时，只放行回源网段与调试 IP，其余返回 403
// 约束：来源 IP 默认取 RemoteAddr；设置 RealIPHeader 时取该头的首个有效 IP
type Allowlist struct {
	ips          map[string]struct{}
	cidrs        []*net.IPNet
	realIPHeader string
}

// NewAllowlist：解析白名单；无法解析的条目记录日志后忽略
func NewAllowlist(ips, cidrs []string, allowLocal bool, realIPHeader string) *Allowlist {
	a := &Allowlist{ips: map[string]struct{}{}, realIPHeader: strings.TrimSpace(realIPHeader)}
	if allowLocal {
		ips = append(ips, "127.0.0.1", "::1")
	}
	for _, p := range ips {
		if ip := net.ParseIP(strings.TrimSpace(p)); ip != nil {
			a.ips[ip.String()] = struct{}{}
		} else {
			logger.L().Warn("allowlist_bad_ip", "value", p)
		}
	}
	for _, c := range cidrs {
		if _, n, err := net.ParseCIDR(strings.TrimSpace(c)); err == nil {
			a.cidrs = append(a.cidrs, n)
		} else {
			logger.L().Warn("allowlist_bad_cidr", "value", c)
		}
	}
	return a
}

// Allowed：IP 是否在白名单内
func (a *Allowlist) Allowed(ip net.IP) bool {
	if ip == nil {
		return false
	}
	if _, ok := a.ips[ip.String()]; ok {
		return true
	}
	for _, n := range a.cidrs {
		if n.Contains(ip) {
			return true
		}
	}
	return false
}

func (a *Allowlist) sourceIP(r *http.Request) net.IP {
	if a.realIPHeader != "" {
		if raw := r.Header.Get(a.realIPHeader); raw != "" {
			if ip := net.ParseIP(strings.TrimSpace(strings.Split(raw, ",")[0])); ip != nil {
				return ip
			}
		}
	}
	host := r.RemoteAddr
	if h, _, err := net.SplitHostPort(host); err == nil {
		host = h
	}
	return net.ParseIP(host)
}

// Wrap：白名单中间件；a 为 nil 时原样返回 next
func (a *Allowlist) Wrap(next http.Handler) http.Handler {
	if a == nil {
		return next
	}
	logger.L().Info("allowlist_enabled", "ips", len(a.ips), "cidrs", len(a.cidrs))
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ip := a.sourceIP(r)
		if !a.Allowed(ip) {
			logger.L().Debug("allowlist_block", "ip", ip.String(), "path", r.URL.Path)
			w.Header().Set("content-type", "application/json; charset=utf-8")
			w.WriteHeader(http.StatusForbidden)
			_, _ = w.Write([]byte(`{"error":"forbidden"}`))
			return
		}
		next.ServeHTTP(w, r)
	})
}
