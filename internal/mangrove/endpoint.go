package mangrove

import (
	"fmt"
	"strings"
)

// DefaultEndpoints maps network names accepted in place of a URL.
var DefaultEndpoints = map[string]string{
	"local": "http://127.0.0.1:8545",
}

// ResolveEndpoint turns a URL or a known network name into a dialable URL.
func ResolveEndpoint(endpoint string) (string, error) {
	endpoint = strings.TrimSpace(endpoint)
	if endpoint == "" {
		return "", fmt.Errorf("node endpoint required (set RPC_URL or --endpoint)")
	}
	if url, ok := DefaultEndpoints[endpoint]; ok {
		return url, nil
	}
	if !strings.HasPrefix(endpoint, "ws") && !strings.HasPrefix(endpoint, "http") {
		return "", fmt.Errorf("node endpoint must be ws(s)://..., http(s)://... or a known network name, got %q", endpoint)
	}
	if strings.Contains(endpoint, "YOUR_KEY") {
		return "", fmt.Errorf("node endpoint still contains placeholder YOUR_KEY")
	}
	return endpoint, nil
}

// SupportsSubscriptions reports whether the endpoint's transport can push
// logs (eth_subscribe); plain HTTP cannot.
func SupportsSubscriptions(url string) bool {
	return strings.HasPrefix(url, "ws")
}
