package server

import (
	"net"
	"net/http"
	"strings"
)

// ------------------------------------------------------------
// 접근 로그용 클라이언트 IP
//
// admin/gateway 포트는 보통 ALB 나 사이드카 뒤에 있으므로
// RemoteAddr 는 프록시 주소일 가능성이 높다.
// 우선순위:
//  1. X-Forwarded-For 의 첫 번째 public IP
//  2. X-Real-IP
//  3. RemoteAddr
//
// 로그에만 쓰고 인가 판단에는 쓰지 않는다.
// ------------------------------------------------------------
func clientIP(r *http.Request) string {
	if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
		for _, part := range strings.Split(xff, ",") {
			if ip := parseIP(part); isPublicIP(ip) {
				return ip.String()
			}
		}
	}

	if ip := parseIP(r.Header.Get("X-Real-IP")); ip != nil {
		return ip.String()
	}

	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		host = r.RemoteAddr
	}
	if ip := parseIP(host); ip != nil {
		return ip.String()
	}
	return ""
}

// private / loopback / link-local 은 프록시 hop 으로 보고 건너뛴다
func isPublicIP(ip net.IP) bool {
	if ip == nil {
		return false
	}
	return !ip.IsPrivate() && !ip.IsLoopback() && !ip.IsLinkLocalUnicast() && !ip.IsLinkLocalMulticast()
}

func parseIP(s string) net.IP {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil
	}
	return net.ParseIP(s)
}
