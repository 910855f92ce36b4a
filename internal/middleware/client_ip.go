// Package middleware はHTTPミドルウェアを提供する。
package middleware

import (
	"context"
	"errors"
	"net"
	"net/http"
	"strings"
)

// contextKey はコンテキストに値を格納するための型安全なキー。
type contextKey string

var clientIPContextKey = contextKey("client_ip")

// ErrNoClientIP はコンテキストにクライアントIPが無いことを表す。
var ErrNoClientIP = errors.New("client IP not found in context")

// NewClientIPMiddleware はリクエスト元のIPアドレスをコンテキストに注入するミドルウェアを返す。
// trustForwarded が true の場合、X-Forwarded-For の先頭エントリを優先する。
func NewClientIPMiddleware(trustForwarded bool) func(next http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ip := clientIP(r, trustForwarded)
			next.ServeHTTP(w, r.WithContext(ContextWithClientIP(r.Context(), ip)))
		})
	}
}

// ContextWithClientIP はクライアントIPを格納したコンテキストを返す。
func ContextWithClientIP(ctx context.Context, ip string) context.Context {
	return context.WithValue(ctx, clientIPContextKey, ip)
}

// ClientIPFromContext はコンテキストからクライアントIPを取得する。
func ClientIPFromContext(ctx context.Context) (string, error) {
	ip, ok := ctx.Value(clientIPContextKey).(string)
	if !ok || ip == "" {
		return "", ErrNoClientIP
	}
	return ip, nil
}

func clientIP(r *http.Request, trustForwarded bool) string {
	if trustForwarded {
		if fwd := r.Header.Get("X-Forwarded-For"); fwd != "" {
			first, _, _ := strings.Cut(fwd, ",")
			if ip := net.ParseIP(strings.TrimSpace(first)); ip != nil {
				return ip.String()
			}
		}
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
