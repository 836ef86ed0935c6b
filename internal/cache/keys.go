package cache

import "fmt"

func RateLimitKey(keyPrefix string) string {
	return fmt.Sprintf("sellibra:ratelimit:%s", keyPrefix)
}
