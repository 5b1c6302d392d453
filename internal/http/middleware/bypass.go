package middleware

import (
	"net"
	"net/http"
	"strings"

	"github.com/posuite/request-guard/internal/config"
)

// BypassEvaluator reports whether a request skips a limiter and why.
type BypassEvaluator func(r *http.Request) (bool, string)

// WhitelistIPs accepts exact addresses and CIDR ranges.
func WhitelistIPs(entries []string) BypassEvaluator {
	var nets []*net.IPNet
	var ips []net.IP
	for _, e := range entries {
		e = strings.TrimSpace(e)
		if e == "" {
			continue
		}
		if _, n, err := net.ParseCIDR(e); err == nil {
			nets = append(nets, n)
			continue
		}
		if ip := net.ParseIP(e); ip != nil {
			ips = append(ips, ip)
		}
	}
	return func(r *http.Request) (bool, string) {
		ip := parseRequestIP(r)
		if ip == nil {
			return false, ""
		}
		for _, allowed := range ips {
			if allowed.Equal(ip) {
				return true, "whitelisted_ip"
			}
		}
		for _, n := range nets {
			if n.Contains(ip) {
				return true, "whitelisted_ip"
			}
		}
		return false, ""
	}
}

// DevelopmentMode skips limiting only when mode allows it.
func DevelopmentMode(mode config.SecurityMode) BypassEvaluator {
	return func(*http.Request) (bool, string) {
		if mode.SkipRateLimits() {
			return true, "development"
		}
		return false, ""
	}
}

func SkipIf(reason string, pred func(*http.Request) bool) BypassEvaluator {
	return func(r *http.Request) (bool, string) {
		if pred(r) {
			return true, reason
		}
		return false, ""
	}
}

// AnySkip returns the first evaluator that bypasses.
func AnySkip(evaluators ...BypassEvaluator) BypassEvaluator {
	return func(r *http.Request) (bool, string) {
		for _, eval := range evaluators {
			if eval == nil {
				continue
			}
			if ok, reason := eval(r); ok {
				return true, reason
			}
		}
		return false, ""
	}
}
