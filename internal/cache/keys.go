package cache

import "fmt"

// RateLimitPattern matches every key built by RateLimitKey.
const RateLimitPattern = "ratelimit:*"

func RateLimitKey(credentialID string) string {
	return fmt.Sprintf("ratelimit:%s", credentialID)
}
