package handlers

import (
	"github.com/gin-gonic/gin"
	"github.com/router-for-me/ChatBilling/internal/models"
)

// Context keys set by the front auth middleware.
const (
	ContextIdentityKey = "frontIdentity"
	ContextUserKey     = "frontUser"
	ContextAPIKeyIDKey = "frontAPIKeyID"
)

// currentUser returns the authenticated user.
func currentUser(c *gin.Context) *models.User {
	if value, ok := c.Get(ContextUserKey); ok {
		if user, okUser := value.(*models.User); okUser {
			return user
		}
	}
	return nil
}

// getUserID returns the authenticated user ID, or 0.
func getUserID(c *gin.Context) uint64 {
	if user := currentUser(c); user != nil {
		return user.ID
	}
	return 0
}

// getAPIKeyID returns the key used to authenticate, if any.
func getAPIKeyID(c *gin.Context) *uint64 {
	if value, ok := c.Get(ContextAPIKeyIDKey); ok {
		if id, okID := value.(uint64); okID && id != 0 {
			return &id
		}
	}
	return nil
}
