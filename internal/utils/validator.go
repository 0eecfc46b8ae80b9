package utils

import (
	"net"
	"net/url"
	"strings"
)

// maxURLLength 提交地址的最大长度
const maxURLLength = 2048

// trackingParams 分享链接中与内容无关的参数, 去掉后同一视频命中同一缓存键
var trackingParams = map[string]bool{
	"fbclid":       true,
	"gclid":        true,
	"igshid":       true,
	"si":           true,
	"feature":      true,
	"pp":           true,
	"spm":          true,
	"share_source": true,
	"share_medium": true,
	"from":         true,
}

// IsValidURL 仅接受指向公网主机的 http/https 地址
func IsValidURL(rawURL string) bool {
	if rawURL == "" || len(rawURL) > maxURLLength {
		return false
	}

	u, err := url.Parse(rawURL)
	if err != nil {
		return false
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return false
	}

	host := u.Hostname()
	if host == "" || strings.EqualFold(host, "localhost") {
		return false
	}
	if ip := net.ParseIP(host); ip != nil {
		return !(ip.IsLoopback() || ip.IsPrivate() || ip.IsUnspecified() || ip.IsLinkLocalUnicast())
	}
	return true
}

// NormalizeURL 统一协议与主机大小写, 去掉片段和追踪参数
func NormalizeURL(rawURL string) string {
	rawURL = strings.TrimSpace(rawURL)
	u, err := url.Parse(rawURL)
	if err != nil {
		return rawURL
	}

	u.Scheme = strings.ToLower(u.Scheme)
	u.Host = strings.ToLower(u.Host)
	u.Fragment = ""

	q := u.Query()
	for param := range q {
		if trackingParams[param] || strings.HasPrefix(param, "utm_") {
			q.Del(param)
		}
	}

	u.RawQuery = q.Encode()
	return u.String()
}

// SanitizeString 清理字符串中的多余空白
func SanitizeString(s string) string {
	return strings.Join(strings.Fields(s), " ")
}
