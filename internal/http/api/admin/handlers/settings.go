package handlers

import (
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/router-for-me/ChatBilling/internal/http/api/respond"
	"github.com/router-for-me/ChatBilling/internal/models"
	internalsettings "github.com/router-for-me/ChatBilling/internal/settings"
	"gorm.io/datatypes"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// SettingHandler manages runtime settings.
type SettingHandler struct {
	db *gorm.DB // Database handle for settings.
}

// NewSettingHandler constructs a settings handler.
func NewSettingHandler(db *gorm.DB) *SettingHandler {
	return &SettingHandler{db: db}
}

var nonNegativeIntSettingKeys = map[string]struct{}{
	internalsettings.MinBalanceKey:       {},
	internalsettings.MinChargeKey:        {},
	internalsettings.RateLimitKey:        {},
	internalsettings.RateLimitRedisDBKey: {},
}

var boolSettingKeys = map[string]struct{}{
	internalsettings.PerModelPricingKey:       {},
	internalsettings.RateLimitRedisEnabledKey: {},
}

var stringSettingKeys = map[string]struct{}{
	internalsettings.RateLimitRedisAddrKey:     {},
	internalsettings.RateLimitRedisPasswordKey: {},
	internalsettings.RateLimitRedisPrefixKey:   {},
}

var (
	errUnknownSettingKey       = errors.New("unknown setting key")
	errNonNegativeIntegerValue = errors.New("value must be a non-negative integer")
	errNonNegativeDecimalValue = errors.New("value must be a non-negative decimal")
	errBooleanValue            = errors.New("value must be a boolean")
	errStringValue             = errors.New("value must be a string")
)

// List returns all settings sorted by key.
func (h *SettingHandler) List(c *gin.Context) {
	var rows []models.Setting
	if errFind := h.db.WithContext(c.Request.Context()).Order("key ASC").Find(&rows).Error; errFind != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "list settings failed", "kind": "internal_error"})
		return
	}
	out := make([]gin.H, 0, len(rows))
	for i := range rows {
		out = append(out, h.formatSetting(&rows[i]))
	}
	c.JSON(http.StatusOK, gin.H{"settings": out})
}

// Get returns a setting by key.
func (h *SettingHandler) Get(c *gin.Context) {
	key := strings.TrimSpace(c.Param("key"))
	var setting models.Setting
	if errFind := h.db.WithContext(c.Request.Context()).Where("key = ?", key).First(&setting).Error; errFind != nil {
		if errors.Is(errFind, gorm.ErrRecordNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "not found", "kind": "not_found"})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": "query failed", "kind": "internal_error"})
		return
	}
	c.JSON(http.StatusOK, h.formatSetting(&setting))
}

// updateSettingRequest captures the payload for updating a setting.
type updateSettingRequest struct {
	Value json.RawMessage `json:"value"` // New JSON value.
}

// Update writes a known setting and refreshes the snapshot.
func (h *SettingHandler) Update(c *gin.Context) {
	key := strings.TrimSpace(c.Param("key"))
	var body updateSettingRequest
	if errBind := c.ShouldBindJSON(&body); errBind != nil {
		respond.BadRequest(c, "invalid json")
		return
	}
	if errValidate := validateSettingValue(key, body.Value); errValidate != nil {
		respond.BadRequest(c, errValidate.Error())
		return
	}

	ctx := c.Request.Context()
	setting := models.Setting{Key: key, Value: datatypes.JSON(body.Value), UpdatedAt: time.Now().UTC()}
	if errUpsert := h.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "key"}},
		DoUpdates: clause.AssignmentColumns([]string{"value", "updated_at"}),
	}).Create(&setting).Error; errUpsert != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "update failed", "kind": "internal_error"})
		return
	}
	if errRefresh := internalsettings.Load(ctx, h.db); errRefresh != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "refresh settings snapshot failed", "kind": "internal_error"})
		return
	}
	c.JSON(http.StatusOK, h.formatSetting(&setting))
}

// Delete removes a setting so its default applies, then refreshes the snapshot.
func (h *SettingHandler) Delete(c *gin.Context) {
	key := strings.TrimSpace(c.Param("key"))
	ctx := c.Request.Context()
	res := h.db.WithContext(ctx).Where("key = ?", key).Delete(&models.Setting{})
	if res.Error != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "delete failed", "kind": "internal_error"})
		return
	}
	if res.RowsAffected == 0 {
		c.JSON(http.StatusNotFound, gin.H{"error": "not found", "kind": "not_found"})
		return
	}
	if errRefresh := internalsettings.Load(ctx, h.db); errRefresh != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "refresh settings snapshot failed", "kind": "internal_error"})
		return
	}
	c.Status(http.StatusNoContent)
}

func validateSettingValue(key string, value json.RawMessage) error {
	if !internalsettings.Known(key) {
		return errUnknownSettingKey
	}
	if key == internalsettings.RatePer1KTokensKey {
		if _, ok := internalsettings.ParseNonNegativeDecimal(value); !ok {
			return errNonNegativeDecimalValue
		}
		return nil
	}
	if _, ok := nonNegativeIntSettingKeys[key]; ok {
		if _, okInt := internalsettings.ParseNonNegativeInt(value); !okInt {
			return errNonNegativeIntegerValue
		}
		return nil
	}
	if _, ok := boolSettingKeys[key]; ok {
		if _, okBool := internalsettings.ParseBool(value); !okBool {
			return errBooleanValue
		}
		return nil
	}
	if _, ok := stringSettingKeys[key]; ok {
		if _, okString := internalsettings.ParseString(value); !okString {
			return errStringValue
		}
	}
	return nil
}

// formatSetting formats a setting row into response JSON. Secrets are masked.
func (h *SettingHandler) formatSetting(s *models.Setting) gin.H {
	value := json.RawMessage(s.Value)
	if s.Key == internalsettings.RateLimitRedisPasswordKey && len(value) > 0 && string(value) != `""` {
		value = json.RawMessage(`"********"`)
	}
	return gin.H{
		"key":        s.Key,
		"value":      value,
		"updated_at": s.UpdatedAt,
	}
}
