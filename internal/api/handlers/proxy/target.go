package proxy

import "strings"

const chatCompletionsSuffix = "/chat/completions"

// ChatTargetURL maps an inbound chat-completion path onto the provider base URL.
func ChatTargetURL(base, path string) string {
	base = strings.TrimRight(base, "/")
	if strings.HasSuffix(strings.TrimRight(path, "/"), chatCompletionsSuffix) {
		return base + chatCompletionsSuffix
	}
	return base + "/" + strings.TrimLeft(path, "/")
}

// PassthroughTargetURL maps any inbound path onto the provider base URL.
// A leading v1/ is dropped when the base already ends in /v1.
func PassthroughTargetURL(base, path, rawQuery string) string {
	base = strings.TrimRight(base, "/")
	clean := strings.TrimLeft(path, "/")
	if strings.HasSuffix(base, "/v1") && strings.HasPrefix(clean, "v1/") {
		clean = strings.TrimPrefix(clean, "v1/")
	}
	target := base + "/" + clean
	if rawQuery != "" {
		target += "?" + rawQuery
	}
	return target
}
