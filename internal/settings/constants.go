package settings

// DB config keys and defaults for settings.
const (
	// MinBalanceKey is the balance a user must hold before a chat call is attempted.
	MinBalanceKey = "MIN_BALANCE"
	// MinChargeKey is the minimum charge per completed chat call.
	MinChargeKey = "MIN_CHARGE"
	// RatePer1KTokensKey is the flat price per 1000 tokens in minor units (decimal string).
	RatePer1KTokensKey = "RATE_PER_1K_TOKENS"
	// PerModelPricingKey switches metering to catalog prices.
	PerModelPricingKey = "PER_MODEL_PRICING"
	// RateLimitKey controls the default rate limit per second.
	RateLimitKey = "RATE_LIMIT"
	// RateLimitRedisEnabledKey toggles Redis-backed rate limiting.
	RateLimitRedisEnabledKey = "RATE_LIMIT_REDIS_ENABLED"
	// RateLimitRedisAddrKey defines the Redis address for rate limiting.
	RateLimitRedisAddrKey = "RATE_LIMIT_REDIS_ADDR"
	// RateLimitRedisPasswordKey defines the Redis password for rate limiting.
	RateLimitRedisPasswordKey = "RATE_LIMIT_REDIS_PASSWORD"
	// RateLimitRedisDBKey defines the Redis DB index for rate limiting.
	RateLimitRedisDBKey = "RATE_LIMIT_REDIS_DB"
	// RateLimitRedisPrefixKey defines the Redis key prefix for rate limiting.
	RateLimitRedisPrefixKey = "RATE_LIMIT_REDIS_PREFIX"

	// DefaultMinBalance is one major unit.
	DefaultMinBalance = 100
	// DefaultMinCharge is the fallback minimum charge.
	DefaultMinCharge = 10
	// DefaultRatePer1KTokens charges 0.01 minor units per token.
	DefaultRatePer1KTokens = "10"
	// DefaultPerModelPricing keeps the flat rate by default.
	DefaultPerModelPricing = false
	// DefaultRateLimit is the fallback rate limit (0 means unlimited).
	DefaultRateLimit = 0
	// DefaultRateLimitRedisPrefix is the fallback Redis key prefix.
	DefaultRateLimitRedisPrefix = "chatbilling:rl"
)

// Known reports whether key is one of the settings above.
func Known(key string) bool {
	switch key {
	case MinBalanceKey, MinChargeKey, RatePer1KTokensKey, PerModelPricingKey,
		RateLimitKey, RateLimitRedisEnabledKey, RateLimitRedisAddrKey,
		RateLimitRedisPasswordKey, RateLimitRedisDBKey, RateLimitRedisPrefixKey:
		return true
	default:
		return false
	}
}
