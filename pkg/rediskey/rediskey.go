package rediskey

import "fmt"

const (
	LockPrefix     = "lock"
	SequencePrefix = "seq"
	PayoutPrefix   = "payout"
)

func NamespaceKey(namespace, key string) string {
	return fmt.Sprintf("%s:%s", namespace, key)
}

// AffiliatePayoutLockKey returns "lock:payout:affiliate:{userID}"
func AffiliatePayoutLockKey(userID string) string {
	return NamespaceKey(LockPrefix, fmt.Sprintf("%s:affiliate:%s", PayoutPrefix, userID))
}

// TradingPayoutLockKey returns "lock:payout:trading:{platform}:{accountID}"
func TradingPayoutLockKey(platform, accountID string) string {
	return NamespaceKey(LockPrefix, fmt.Sprintf("%s:trading:%s:%s", PayoutPrefix, platform, accountID))
}

// SequenceKey returns "seq:{prefix}:{day}"
func SequenceKey(prefix, day string) string {
	return NamespaceKey(SequencePrefix, fmt.Sprintf("%s:%s", prefix, day))
}
