package respond

import (
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/router-for-me/ChatBilling/internal/apperr"
	log "github.com/sirupsen/logrus"
)

// Error renders err as {"error", "kind"} with the status of its kind.
// Internal causes are logged and never echoed.
func Error(c *gin.Context, err error) {
	kind := apperr.KindOf(err)
	status := apperr.HTTPStatus(kind)
	if kind == apperr.KindInternal {
		log.WithError(err).WithFields(log.Fields{
			"method": c.Request.Method,
			"path":   c.FullPath(),
		}).Error("request failed")
	}
	_ = c.Error(err)
	c.AbortWithStatusJSON(status, gin.H{"error": apperr.MessageOf(err), "kind": string(kind)})
}

// BadRequest renders an invalid_argument error with message.
func BadRequest(c *gin.Context, message string) {
	Error(c, apperr.New(apperr.KindInvalidArgument, message))
}

// IDParam parses a positive integer path parameter.
func IDParam(c *gin.Context, name string) (uint64, bool) {
	id, errParse := strconv.ParseUint(strings.TrimSpace(c.Param(name)), 10, 64)
	if errParse != nil || id == 0 {
		BadRequest(c, "invalid "+name)
		return 0, false
	}
	return id, true
}

// IntQuery parses an optional integer query parameter, returning def when absent.
func IntQuery(c *gin.Context, name string, def int) (int, bool) {
	raw := strings.TrimSpace(c.Query(name))
	if raw == "" {
		return def, true
	}
	value, errParse := strconv.Atoi(raw)
	if errParse != nil {
		BadRequest(c, "invalid "+name)
		return 0, false
	}
	return value, true
}
