// Package security は画像プロキシの上流アクセスを安全にするための機能を提供する。
package security

import (
	"errors"
	"fmt"
	"net"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/doyensec/safeurl"
)

// ErrDisallowedURL は画像URLがプロキシ対象として許可されないことを表す。
var ErrDisallowedURL = errors.New("disallowed image URL")

// URLGuard は画像プロキシが上流へアクセスする前の検証と、安全なクライアントの生成を行う。
type URLGuard interface {
	// NewSafeClient はプライベートIP等への接続をダイアル時に拒否するHTTPクライアントを生成する。
	NewSafeClient(timeout time.Duration) *http.Client

	// ValidateImageURL はURLを静的に検証し、パース済みのURLを返す。
	ValidateImageURL(rawURL string) (*url.URL, error)
}

var allowedSchemes = []string{"http", "https"}

// blockedNetworks はDNS解決前の静的検証で拒否するネットワーク範囲。
var blockedNetworks []net.IPNet

func init() {
	cidrs := []string{
		"10.0.0.0/8",
		"172.16.0.0/12",
		"192.168.0.0/16",
		"127.0.0.0/8",
		// クラウドメタデータIP (169.254.169.254) を含む
		"169.254.0.0/16",
		"100.64.0.0/10",
		"0.0.0.0/8",
		"::1/128",
		"fe80::/10",
		"fc00::/7",
	}
	for _, cidr := range cidrs {
		_, network, err := net.ParseCIDR(cidr)
		if err != nil {
			panic(fmt.Sprintf("invalid CIDR in blockedNetworks: %s: %v", cidr, err))
		}
		blockedNetworks = append(blockedNetworks, *network)
	}
}

// ImageGuard はURLGuardの実装。
type ImageGuard struct {
	ports []int
}

// NewImageGuard は標準ポート(80, 443)のみを許可するImageGuardを生成する。
func NewImageGuard() *ImageGuard {
	return &ImageGuard{ports: []int{80, 443}}
}

// NewSafeClient はsafeurlでラップしたHTTPクライアントを返す。
// DNS解決後のIPアドレスもダイアル時に検証されるため、DNS再バインディングも防止される。
func (g *ImageGuard) NewSafeClient(timeout time.Duration) *http.Client {
	config := safeurl.GetConfigBuilder().
		SetTimeout(timeout).
		SetAllowedSchemes(allowedSchemes...).
		SetAllowedPorts(g.ports...).
		Build()

	return safeurl.Client(config).Client
}

// ValidateImageURL は絶対URLであること、スキーム、ホスト、ポートを検証する。
func (g *ImageGuard) ValidateImageURL(rawURL string) (*url.URL, error) {
	parsed, err := url.Parse(strings.TrimSpace(rawURL))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrDisallowedURL, err)
	}
	if !parsed.IsAbs() {
		return nil, fmt.Errorf("%w: not an absolute URL: %q", ErrDisallowedURL, rawURL)
	}

	scheme := strings.ToLower(parsed.Scheme)
	if !isAllowedScheme(scheme) {
		return nil, fmt.Errorf("%w: scheme %q", ErrDisallowedURL, scheme)
	}
	if parsed.User != nil {
		return nil, fmt.Errorf("%w: credentials in URL", ErrDisallowedURL)
	}

	host := parsed.Hostname()
	if host == "" {
		return nil, fmt.Errorf("%w: empty host", ErrDisallowedURL)
	}
	if p := parsed.Port(); p != "" && !g.allowedPort(p) {
		return nil, fmt.Errorf("%w: port %s", ErrDisallowedURL, p)
	}

	if ip := net.ParseIP(host); ip != nil {
		if isBlockedIP(ip) {
			return nil, fmt.Errorf("%w: blocked IP address %s", ErrDisallowedURL, ip)
		}
		return parsed, nil
	}
	if isBlockedHostname(host) {
		return nil, fmt.Errorf("%w: blocked host %s", ErrDisallowedURL, host)
	}
	return parsed, nil
}

func (g *ImageGuard) allowedPort(port string) bool {
	for _, p := range g.ports {
		if fmt.Sprint(p) == port {
			return true
		}
	}
	return false
}

func isAllowedScheme(scheme string) bool {
	for _, allowed := range allowedSchemes {
		if strings.EqualFold(scheme, allowed) {
			return true
		}
	}
	return false
}

func isBlockedIP(ip net.IP) bool {
	for _, network := range blockedNetworks {
		if network.Contains(ip) {
			return true
		}
	}
	return false
}

// isBlockedHostname は localhost とそのサブドメインを拒否する。
func isBlockedHostname(host string) bool {
	lower := strings.TrimSuffix(strings.ToLower(host), ".")
	return lower == "localhost" || strings.HasSuffix(lower, ".localhost")
}
