package ratelimit

import (
	"strings"

	internalsettings "github.com/router-for-me/ChatBilling/internal/settings"
)

// Options is the rate limit slice of the settings snapshot.
type Options struct {
	DefaultLimit  int
	RedisEnabled  bool
	RedisAddr     string
	RedisPassword string
	RedisDB       int
	RedisPrefix   string
}

func (o Options) redisTarget() redisTarget {
	return redisTarget{addr: o.RedisAddr, password: o.RedisPassword, db: o.RedisDB, prefix: o.RedisPrefix}
}

// OptionsFromSettings reads the RATE_LIMIT* keys of the current snapshot.
// Unparsable values keep their defaults.
func OptionsFromSettings() Options {
	opts := Options{
		DefaultLimit: internalsettings.DefaultRateLimit,
		RedisPrefix:  internalsettings.DefaultRateLimitRedisPrefix,
	}
	readInt := func(key string, dst *int) {
		if raw, ok := internalsettings.DBConfigValue(key); ok {
			if v, okParse := internalsettings.ParseNonNegativeInt(raw); okParse {
				*dst = int(v)
			}
		}
	}
	readString := func(key string, dst *string) {
		if raw, ok := internalsettings.DBConfigValue(key); ok {
			if v, okParse := internalsettings.ParseString(raw); okParse {
				*dst = strings.TrimSpace(v)
			}
		}
	}

	readInt(internalsettings.RateLimitKey, &opts.DefaultLimit)
	readInt(internalsettings.RateLimitRedisDBKey, &opts.RedisDB)
	readString(internalsettings.RateLimitRedisAddrKey, &opts.RedisAddr)
	readString(internalsettings.RateLimitRedisPasswordKey, &opts.RedisPassword)
	readString(internalsettings.RateLimitRedisPrefixKey, &opts.RedisPrefix)
	if raw, ok := internalsettings.DBConfigValue(internalsettings.RateLimitRedisEnabledKey); ok {
		if enabled, okParse := internalsettings.ParseBool(raw); okParse {
			opts.RedisEnabled = enabled
		}
	}
	if opts.RedisPrefix == "" {
		opts.RedisPrefix = internalsettings.DefaultRateLimitRedisPrefix
	}
	return opts
}
