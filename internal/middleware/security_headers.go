package middleware

import "net/http"

// proxyCSP はSVGなどを直接開かれてもスクリプトを実行させない。
const proxyCSP = "default-src 'none'; frame-ancestors 'none'; sandbox"

// NewSecurityHeadersMiddleware はプロキシの応答にセキュリティヘッダーを付ける。
// 画像は別オリジンのページから読み込まれるため、CORP は cross-origin とする。
func NewSecurityHeadersMiddleware() func(next http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			h := w.Header()
			h.Set("X-Content-Type-Options", "nosniff")
			h.Set("Content-Security-Policy", proxyCSP)
			h.Set("Cross-Origin-Resource-Policy", "cross-origin")
			h.Set("Referrer-Policy", "no-referrer")
			next.ServeHTTP(w, r)
		})
	}
}
