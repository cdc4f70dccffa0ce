// Package users resolves identity-provider logins to local accounts.
package users

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/router-for-me/ChatBilling/internal/apperr"
	"github.com/router-for-me/ChatBilling/internal/db"
	"github.com/router-for-me/ChatBilling/internal/models"
	"github.com/router-for-me/ChatBilling/internal/security"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

const (
	defaultListLimit = 50
	maxListLimit     = 200
)

// Store reads and writes users.
type Store struct {
	db          *gorm.DB
	ownerOpenID string
}

// NewStore constructs a user Store. The account whose openId equals
// ownerOpenID is promoted to admin on every login.
func NewStore(conn *gorm.DB, ownerOpenID string) *Store {
	return &Store{db: conn, ownerOpenID: strings.TrimSpace(ownerOpenID)}
}

// Upsert creates or refreshes the account for id and returns it.
func (s *Store) Upsert(ctx context.Context, id security.Identity, now time.Time) (*models.User, error) {
	openID := strings.TrimSpace(id.OpenID)
	if openID == "" {
		return nil, apperr.New(apperr.KindInvalidArgument, "open id is required")
	}
	if now.IsZero() {
		now = time.Now()
	}
	now = now.UTC()

	role := models.UserRoleUser
	if s.ownerOpenID != "" && openID == s.ownerOpenID {
		role = models.UserRoleAdmin
	}
	row := models.User{
		OpenID:         openID,
		Name:           strings.TrimSpace(id.Name),
		Email:          strings.TrimSpace(id.Email),
		LoginMethod:    strings.TrimSpace(id.LoginMethod),
		Role:           role,
		LastSignedInAt: now,
		CreatedAt:      now,
		UpdatedAt:      now,
	}

	updates := map[string]any{
		"last_signed_in_at": now,
		"updated_at":        now,
	}
	if row.Name != "" {
		updates["name"] = row.Name
	}
	if row.Email != "" {
		updates["email"] = row.Email
	}
	if row.LoginMethod != "" {
		updates["login_method"] = row.LoginMethod
	}
	if role == models.UserRoleAdmin {
		updates["role"] = role
	}

	conn := s.db.WithContext(ctx)
	if errUpsert := conn.Omit(clause.Associations).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "open_id"}},
		DoUpdates: clause.Assignments(updates),
	}).Create(&row).Error; errUpsert != nil {
		return nil, apperr.Wrap(apperr.KindInternal, "upsert user failed", errUpsert)
	}
	return s.GetByOpenID(ctx, openID)
}

// Get returns the user with the given ID.
func (s *Store) Get(ctx context.Context, userID uint64) (*models.User, error) {
	return s.take(ctx, "id = ?", userID)
}

// GetByOpenID returns the user with the given openId.
func (s *Store) GetByOpenID(ctx context.Context, openID string) (*models.User, error) {
	return s.take(ctx, "open_id = ?", strings.TrimSpace(openID))
}

func (s *Store) take(ctx context.Context, query string, arg any) (*models.User, error) {
	var row models.User
	if errFind := s.db.WithContext(ctx).Where(query, arg).Take(&row).Error; errFind != nil {
		if errors.Is(errFind, gorm.ErrRecordNotFound) {
			return nil, apperr.New(apperr.KindNotFound, "user not found")
		}
		return nil, apperr.Wrap(apperr.KindInternal, "query user failed", errFind)
	}
	return &row, nil
}

// ListFilter narrows List. Search matches name, email, openId or ID.
type ListFilter struct {
	Search string
	Role   models.UserRole
	Limit  int
	Offset int
}

// List returns users, newest first.
func (s *Store) List(ctx context.Context, filter ListFilter) ([]models.User, int64, error) {
	q := s.db.WithContext(ctx).Model(&models.User{})
	if filter.Role != "" {
		q = q.Where("role = ?", filter.Role)
	}
	if search := strings.TrimSpace(filter.Search); search != "" {
		searchPattern := "%" + search + "%"
		ciPattern := db.NormalizeLikePattern(s.db, searchPattern)
		q = q.Where(
			db.CaseInsensitiveLikeExpr(s.db, "name")+" OR "+
				db.CaseInsensitiveLikeExpr(s.db, "email")+" OR "+
				db.CaseInsensitiveLikeExpr(s.db, "open_id")+" OR CAST(id AS TEXT) = ?",
			ciPattern,
			ciPattern,
			ciPattern,
			search,
		)
	}

	var total int64
	if errCount := q.Count(&total).Error; errCount != nil {
		return nil, 0, apperr.Wrap(apperr.KindInternal, "count users failed", errCount)
	}

	limit := filter.Limit
	if limit <= 0 {
		limit = defaultListLimit
	}
	if limit > maxListLimit {
		limit = maxListLimit
	}
	offset := filter.Offset
	if offset < 0 {
		offset = 0
	}
	var rows []models.User
	if errFind := q.Order("created_at DESC").Order("id DESC").Limit(limit).Offset(offset).Find(&rows).Error; errFind != nil {
		return nil, 0, apperr.Wrap(apperr.KindInternal, "list users failed", errFind)
	}
	return rows, total, nil
}

// Update carries optional admin changes to a user.
type Update struct {
	Role      *models.UserRole
	RateLimit *int
}

// Apply writes the non-nil fields of upd.
func (s *Store) Apply(ctx context.Context, userID uint64, upd Update) (*models.User, error) {
	updates := map[string]any{}
	if upd.Role != nil {
		if !upd.Role.Valid() {
			return nil, apperr.New(apperr.KindInvalidArgument, "invalid role")
		}
		updates["role"] = *upd.Role
	}
	if upd.RateLimit != nil {
		if *upd.RateLimit < 0 {
			return nil, apperr.New(apperr.KindInvalidArgument, "rate limit must be non-negative")
		}
		updates["rate_limit"] = *upd.RateLimit
	}
	if len(updates) == 0 {
		return s.Get(ctx, userID)
	}
	updates["updated_at"] = time.Now().UTC()
	res := s.db.WithContext(ctx).Model(&models.User{}).Where("id = ?", userID).Updates(updates)
	if res.Error != nil {
		return nil, apperr.Wrap(apperr.KindInternal, "update user failed", res.Error)
	}
	if res.RowsAffected == 0 {
		return nil, apperr.New(apperr.KindNotFound, "user not found")
	}
	return s.Get(ctx, userID)
}
