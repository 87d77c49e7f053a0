// Package security はIdPとの通信とIdP由来のデータを扱う際の防御を提供する。
package security

import (
	"errors"
	"fmt"
	"net/http"
	"net/netip"
	"net/url"
	"strings"
	"time"

	"github.com/doyensec/safeurl"
)

// EndpointGuard はIdPエンドポイントへの外向き通信を保護する。
// 設定ミスや名前解決の改ざんでトークンやclient secretが内部ネットワークに送られることを防ぐ。
type EndpointGuard interface {
	// NewSafeClient はhttps:443のみに接続するHTTPクライアントを生成する。
	// 内部向けアドレスへの接続はDNS解決後のダイヤル時点でブロックされる。
	NewSafeClient(timeout time.Duration) *http.Client

	// ValidateEndpoint はエンドポイントURLを起動時に静的に検証する。
	ValidateEndpoint(rawURL string) error

	// ValidateEndpoints は複数のURLを検証し、すべての違反をまとめて返す。
	ValidateEndpoints(rawURLs ...string) error
}

const allowedScheme = "https"

// blockedPrefixes はIdPとして到達してはならないアドレス範囲。
var blockedPrefixes = []netip.Prefix{
	netip.MustParsePrefix("0.0.0.0/8"),      // カレントネットワーク
	netip.MustParsePrefix("10.0.0.0/8"),     // RFC 1918
	netip.MustParsePrefix("172.16.0.0/12"),  // RFC 1918
	netip.MustParsePrefix("192.168.0.0/16"), // RFC 1918
	netip.MustParsePrefix("127.0.0.0/8"),    // ループバック
	netip.MustParsePrefix("169.254.0.0/16"), // リンクローカル。クラウドのメタデータIPを含む
	netip.MustParsePrefix("100.64.0.0/10"),  // CGNAT
	netip.MustParsePrefix("::1/128"),
	netip.MustParsePrefix("fe80::/10"),
	netip.MustParsePrefix("fc00::/7"),
}

// blockedHostnames はサフィックス一致でブロックするホスト名。
var blockedHostnames = []string{
	"localhost",
	"metadata.google.internal",
}

type ssrfGuard struct{}

// NewSSRFGuard はsafeurlベースのEndpointGuardを生成する。
func NewSSRFGuard() *ssrfGuard {
	return &ssrfGuard{}
}

// NewSafeClient はsafeurlのクライアントを返す。
// safeurlはnet.DialerのControlフックで解決後のIPを検証するため、DNS再バインディングも防げる。
func (g *ssrfGuard) NewSafeClient(timeout time.Duration) *http.Client {
	config := safeurl.GetConfigBuilder().
		SetTimeout(timeout).
		SetAllowedSchemes(allowedScheme).
		SetAllowedPorts(443).
		Build()

	return safeurl.Client(config).Client
}

// ValidateEndpoint はURLのスキーム、ポート、ホストを検証する。名前解決は行わない。
func (g *ssrfGuard) ValidateEndpoint(rawURL string) error {
	if rawURL == "" {
		return errors.New("empty URL")
	}
	u, err := url.Parse(rawURL)
	if err != nil {
		return fmt.Errorf("invalid URL: %w", err)
	}
	if !strings.EqualFold(u.Scheme, allowedScheme) {
		return fmt.Errorf("disallowed scheme %q: only %s is allowed", u.Scheme, allowedScheme)
	}
	host := u.Hostname()
	if host == "" {
		return fmt.Errorf("empty host in URL: %s", rawURL)
	}
	if port := u.Port(); port != "" && port != "443" {
		return fmt.Errorf("disallowed port: %s", port)
	}

	if addr, err := netip.ParseAddr(host); err == nil {
		if isBlockedAddr(addr) {
			return fmt.Errorf("blocked IP address: %s", addr)
		}
		return nil
	}
	if isBlockedHostname(host) {
		return fmt.Errorf("blocked host: %s", host)
	}
	return nil
}

// ValidateEndpoints はすべてのURLを検証する。
func (g *ssrfGuard) ValidateEndpoints(rawURLs ...string) error {
	var errs []error
	for _, raw := range rawURLs {
		if err := g.ValidateEndpoint(raw); err != nil {
			errs = append(errs, fmt.Errorf("endpoint %q: %w", raw, err))
		}
	}
	return errors.Join(errs...)
}

func isBlockedAddr(addr netip.Addr) bool {
	addr = addr.Unmap()
	for _, prefix := range blockedPrefixes {
		if prefix.Contains(addr) {
			return true
		}
	}
	return false
}

func isBlockedHostname(host string) bool {
	host = strings.ToLower(strings.TrimSuffix(host, "."))
	for _, blocked := range blockedHostnames {
		if host == blocked || strings.HasSuffix(host, "."+blocked) {
			return true
		}
	}
	return false
}
