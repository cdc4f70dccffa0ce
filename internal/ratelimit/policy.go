package ratelimit

import (
	"strconv"

	"github.com/router-for-me/ChatBilling/internal/models"
)

// Origin names where a Policy's limit came from.
type Origin string

const (
	OriginNone    Origin = "none"
	OriginUser    Origin = "user"
	OriginDefault Origin = "default"
)

// Policy is the per-second message limit that applies to one user.
type Policy struct {
	Limit  int
	Origin Origin
	key    string
}

// Limited reports whether requests are counted at all.
func (p Policy) Limited() bool { return p.Limit > 0 && p.key != "" }

// PolicyFor picks the user's own rate_limit, else defaultLimit. Zero means
// the user sends unthrottled.
func PolicyFor(user *models.User, defaultLimit int) Policy {
	if user == nil || user.ID == 0 {
		return Policy{Origin: OriginNone}
	}
	key := "chat:user:" + strconv.FormatUint(user.ID, 10)
	switch {
	case user.RateLimit > 0:
		return Policy{Limit: user.RateLimit, Origin: OriginUser, key: key}
	case defaultLimit > 0:
		return Policy{Limit: defaultLimit, Origin: OriginDefault, key: key}
	default:
		return Policy{Origin: OriginNone}
	}
}
