package services

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"jcm-p2p-backend/internal/config"
	"jcm-p2p-backend/internal/models"
	"jcm-p2p-backend/pkg/utils"
)

type UserService struct {
	db  *gorm.DB
	cfg config.Config
	log *zap.Logger
}

func NewUserService(db *gorm.DB, cfg config.Config, log *zap.Logger) *UserService {
	return &UserService{db: db, cfg: cfg, log: log}
}

type LoginResult struct {
	Token string          `json:"token"`
	User  models.UserView `json:"user"`
}

// Register creates the user and its zero-balance wallet in one transaction.
func (s *UserService) Register(ctx context.Context, in models.RegisterInput) (*models.User, error) {
	phone, err := utils.NormalizeMSISDN(in.Phone)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidInput, err)
	}

	hash, err := utils.HashPassword(in.Password)
	if err != nil {
		return nil, fmt.Errorf("hash password: %w", err)
	}

	user := models.User{
		Name:         strings.TrimSpace(in.Name),
		Email:        normalizeEmail(in.Email),
		PasswordHash: hash,
		Phone:        phone,
		JoinedDate:   time.Now().UTC(),
	}

	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var n int64
		if err := tx.Model(&models.User{}).Where("phone = ?", phone).Count(&n).Error; err != nil {
			return err
		}
		if n > 0 {
			return fmt.Errorf("%w: Phone number already registered", ErrConflict)
		}
		if err := tx.Model(&models.User{}).Where("email = ?", user.Email).Count(&n).Error; err != nil {
			return err
		}
		if n > 0 {
			return fmt.Errorf("%w: Email already registered", ErrConflict)
		}

		if err := tx.Create(&user).Error; err != nil {
			return err
		}
		return tx.Create(&models.Wallet{UserID: user.ID, Balance: decimal.Zero}).Error
	})
	switch {
	case err == nil:
	case errors.Is(err, ErrConflict):
		return nil, err
	case errors.Is(err, gorm.ErrDuplicatedKey):
		return nil, fmt.Errorf("%w: Email or phone number already registered", ErrConflict)
	default:
		return nil, persistence(err)
	}

	s.log.Info("user registered", zap.Uint64("user_id", user.ID))
	return &user, nil
}

func (s *UserService) Login(ctx context.Context, in models.LoginInput) (*LoginResult, error) {
	var user models.User
	err := s.db.WithContext(ctx).Where("email = ?", normalizeEmail(in.Email)).First(&user).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, fmt.Errorf("%w: invalid email or password", ErrUnauthorized)
	}
	if err != nil {
		return nil, persistence(err)
	}

	if !utils.CheckPassword(in.Password, user.PasswordHash) {
		return nil, fmt.Errorf("%w: invalid email or password", ErrUnauthorized)
	}

	// Remember the device for push notifications.
	if in.FCMToken != "" && in.FCMToken != user.FCMToken {
		if err := s.db.WithContext(ctx).Model(&user).Update("fcm_token", in.FCMToken).Error; err != nil {
			s.log.Warn("store fcm token", zap.Uint64("user_id", user.ID), zap.Error(err))
		}
	}

	token, err := utils.GenerateToken(s.cfg.JWTSecret, s.cfg.TokenTTL, user.ID, user.Email)
	if err != nil {
		return nil, fmt.Errorf("generate token: %w", err)
	}
	return &LoginResult{Token: token, User: user.View()}, nil
}

func (s *UserService) Profile(ctx context.Context, userID uint64) (models.UserView, error) {
	user, err := s.find(ctx, userID)
	if err != nil {
		return models.UserView{}, err
	}
	return user.View(), nil
}

func (s *UserService) UpdatePhone(ctx context.Context, userID uint64, raw string) (models.UserView, error) {
	phone, err := utils.NormalizeMSISDN(raw)
	if err != nil {
		return models.UserView{}, fmt.Errorf("%w: %v", ErrInvalidInput, err)
	}

	user, err := s.find(ctx, userID)
	if err != nil {
		return models.UserView{}, err
	}

	var n int64
	if err := s.db.WithContext(ctx).Model(&models.User{}).
		Where("phone = ? AND id <> ?", phone, userID).Count(&n).Error; err != nil {
		return models.UserView{}, persistence(err)
	}
	if n > 0 {
		return models.UserView{}, fmt.Errorf("%w: Phone number already registered", ErrConflict)
	}

	err = s.db.WithContext(ctx).Model(user).Update("phone", phone).Error
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		return models.UserView{}, fmt.Errorf("%w: Phone number already registered", ErrConflict)
	}
	if err != nil {
		return models.UserView{}, persistence(err)
	}
	user.Phone = phone
	return user.View(), nil
}

// PicturePath returns where an upload named original should be written for
// the user, as <uploadDir>/<userID>_<unixMillis>_<basename>.
func (s *UserService) PicturePath(userID uint64, original string) string {
	name := fmt.Sprintf("%d_%d_%s", userID, time.Now().UnixMilli(), filepath.Base(original))
	return filepath.Join(s.cfg.UploadDir, name)
}

// SetPicture records the stored file as the user's profile picture.
func (s *UserService) SetPicture(ctx context.Context, userID uint64, path string) (models.UserView, error) {
	user, err := s.find(ctx, userID)
	if err != nil {
		return models.UserView{}, err
	}
	ref := filepath.ToSlash(path)
	if err := s.db.WithContext(ctx).Model(user).Update("profile_picture", ref).Error; err != nil {
		return models.UserView{}, persistence(err)
	}
	user.ProfilePicture = &ref
	return user.View(), nil
}

func (s *UserService) find(ctx context.Context, userID uint64) (*models.User, error) {
	var user models.User
	err := s.db.WithContext(ctx).First(&user, userID).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, fmt.Errorf("%w: user %d", ErrNotFound, userID)
	}
	if err != nil {
		return nil, persistence(err)
	}
	return &user, nil
}

func normalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

func persistence(err error) error {
	return fmt.Errorf("%w: %v", ErrPersistence, err)
}
