package extractor

import (
	"fmt"
	"net/url"
	"strings"

	"github.com/onnwee/channel-harvest/recovery"
)

// allowed hosts; mobile and bare hosts are mapped onto www.
var allowedHosts = map[string]string{
	"youtube.com":     "www.youtube.com",
	"www.youtube.com": "www.youtube.com",
	"m.youtube.com":   "www.youtube.com",
}

// NormalizeChannelURL validates a channel reference and returns its canonical
// form: https scheme, www host, and one of the recognized path shapes
// (/channel/<id>, /c/<name>, /user/<name>, /@<handle>). Anything else is
// rejected fail-fast as a validation error.
func NormalizeChannelURL(raw string) (string, error) {
	raw = strings.TrimSpace(raw)
	u, err := url.Parse(raw)
	if err != nil {
		return "", recovery.Ef(recovery.KindValidation, "normalize_url", "unparseable channel URL %q: %v", raw, err)
	}
	if u.Scheme != "https" {
		return "", recovery.Ef(recovery.KindValidation, "normalize_url", "channel URL must use https, got %q", raw)
	}
	host, ok := allowedHosts[strings.ToLower(u.Host)]
	if !ok {
		return "", recovery.Ef(recovery.KindValidation, "normalize_url", "unrecognized host %q", u.Host)
	}
	path := strings.TrimSuffix(u.Path, "/")
	segs := strings.Split(strings.TrimPrefix(path, "/"), "/")
	valid := false
	switch {
	case len(segs) == 2 && segs[0] == "channel":
		valid = len(segs[1]) >= 10
	case len(segs) == 2 && (segs[0] == "c" || segs[0] == "user"):
		valid = segs[1] != ""
	case len(segs) == 1 && strings.HasPrefix(segs[0], "@"):
		valid = len(segs[0]) > 1
	}
	if !valid {
		return "", recovery.Ef(recovery.KindValidation, "normalize_url", "unrecognized channel path %q", u.Path)
	}
	return fmt.Sprintf("https://%s%s", host, path), nil
}

// channelIDFromURL best-effort derives a platform channel id from a channel
// URL: the native id for /channel/ URLs, the handle for /@ URLs.
func channelIDFromURL(channelURL string) string {
	u, err := url.Parse(channelURL)
	if err != nil {
		return ""
	}
	path := strings.Trim(u.Path, "/")
	switch {
	case strings.HasPrefix(path, "channel/"):
		return strings.TrimPrefix(path, "channel/")
	case strings.HasPrefix(path, "@"):
		return path
	}
	return ""
}
