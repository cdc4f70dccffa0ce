package db

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/router-for-me/ChatBilling/internal/models"
	internalsettings "github.com/router-for-me/ChatBilling/internal/settings"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

// Migrate runs database migrations for the current dialect.
func Migrate(conn *gorm.DB) error {
	if conn == nil {
		return fmt.Errorf("db: nil connection")
	}
	switch DialectName(conn) {
	case DialectSQLite, DialectPostgres, "":
	default:
		return fmt.Errorf("db: unsupported dialect: %s", DialectName(conn))
	}

	if errAutoMigrate := conn.AutoMigrate(
		&models.User{},
		&models.APIKey{},
		&models.Model{},
		&models.Conversation{},
		&models.Message{},
		&models.Transaction{},
		&models.Setting{},
	); errAutoMigrate != nil {
		return fmt.Errorf("db: migrate: %w", errAutoMigrate)
	}

	return ensureDefaultSettings(conn)
}

// ensureDefaultSettings seeds runtime settings that are missing or empty.
func ensureDefaultSettings(conn *gorm.DB) error {
	defaults := []struct {
		key   string
		value any
	}{
		{internalsettings.MinBalanceKey, internalsettings.DefaultMinBalance},
		{internalsettings.MinChargeKey, internalsettings.DefaultMinCharge},
		{internalsettings.RatePer1KTokensKey, internalsettings.DefaultRatePer1KTokens},
		{internalsettings.PerModelPricingKey, internalsettings.DefaultPerModelPricing},
		{internalsettings.RateLimitKey, internalsettings.DefaultRateLimit},
	}
	for _, item := range defaults {
		if errEnsure := ensureSetting(conn, item.key, item.value); errEnsure != nil {
			return errEnsure
		}
	}
	return nil
}

// ensureSetting ensures a setting exists and defaults when empty.
func ensureSetting(conn *gorm.DB, key string, value any) error {
	payload, errMarshal := json.Marshal(value)
	if errMarshal != nil {
		return fmt.Errorf("db: marshal %s setting: %w", key, errMarshal)
	}
	rawValue := datatypes.JSON(payload)

	var existing models.Setting
	if errFind := conn.Where("key = ?", key).First(&existing).Error; errFind == nil {
		trimmed := strings.TrimSpace(string(existing.Value))
		if len(existing.Value) == 0 || trimmed == "" || trimmed == "null" {
			if errUpdate := conn.Model(&existing).Updates(map[string]any{
				"value":      rawValue,
				"updated_at": time.Now().UTC(),
			}).Error; errUpdate != nil {
				return fmt.Errorf("db: update %s setting: %w", key, errUpdate)
			}
		}
		return nil
	} else if !errors.Is(errFind, gorm.ErrRecordNotFound) {
		return fmt.Errorf("db: query %s setting: %w", key, errFind)
	}

	setting := models.Setting{
		Key:       key,
		Value:     rawValue,
		UpdatedAt: time.Now().UTC(),
	}
	if errCreate := conn.Create(&setting).Error; errCreate != nil {
		return fmt.Errorf("db: create %s setting: %w", key, errCreate)
	}
	return nil
}
