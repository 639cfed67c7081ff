package directory

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/MarcoPoloResearchLab/villagewatch/internal/auth"
	"github.com/MarcoPoloResearchLab/villagewatch/internal/models"
	"gorm.io/gorm"
)

// ErrInvalidIdentity indicates the claims did not contain a usable identifier.
var ErrInvalidIdentity = errors.New("directory: invalid identity")

// ServiceConfig describes the dependencies required for directory lookups.
type ServiceConfig struct {
	Database *gorm.DB
}

// Service reads users and villages owned by the external directory. Records are read on every
// call so role changes made by the directory take effect immediately.
type Service struct {
	db *gorm.DB
}

// NewService constructs the directory service.
func NewService(cfg ServiceConfig) (*Service, error) {
	if cfg.Database == nil {
		return nil, fmt.Errorf("directory: database connection required")
	}
	return &Service{db: cfg.Database}, nil
}

// ResolveCaller loads the user behind a validated session.
func (s *Service) ResolveCaller(ctx context.Context, claims auth.SessionClaims) (models.User, error) {
	userID := canonicalUserID(claims)
	if userID == "" {
		return models.User{}, ErrInvalidIdentity
	}
	return s.GetUser(ctx, userID)
}

// GetUser returns a single user or models.ErrNotFound.
func (s *Service) GetUser(ctx context.Context, userID string) (models.User, error) {
	var user models.User
	err := s.db.WithContext(ctx).Where("id = ?", userID).Take(&user).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return models.User{}, fmt.Errorf("directory: user %s: %w", userID, models.ErrNotFound)
	}
	if err != nil {
		return models.User{}, err
	}
	return user, nil
}

// UsersInVillages returns every user whose village is in villageIDs, ordered by id. Users without
// a village never match.
func (s *Service) UsersInVillages(ctx context.Context, villageIDs []string) ([]models.User, error) {
	unique := dedupe(villageIDs)
	if len(unique) == 0 {
		return nil, nil
	}
	var users []models.User
	err := s.db.WithContext(ctx).
		Where("village_id IS NOT NULL AND village_id IN ?", unique).
		Order("id ASC").
		Find(&users).Error
	if err != nil {
		return nil, err
	}
	return users, nil
}

// ListVillages returns the village directory ordered by district and name.
func (s *Service) ListVillages(ctx context.Context) ([]models.Village, error) {
	var villages []models.Village
	if err := s.db.WithContext(ctx).Order("district ASC, name ASC").Find(&villages).Error; err != nil {
		return nil, err
	}
	return villages, nil
}

// canonicalUserID strips a "provider:" prefix left by the sign-in provider.
func canonicalUserID(claims auth.SessionClaims) string {
	raw := strings.TrimSpace(claims.UserID)
	if raw == "" {
		raw = strings.TrimSpace(claims.Subject)
	}
	if provider, subject, found := strings.Cut(raw, ":"); found {
		if strings.TrimSpace(provider) != "" && strings.TrimSpace(subject) != "" {
			return strings.TrimSpace(subject)
		}
	}
	return raw
}

func dedupe(values []string) []string {
	seen := make(map[string]struct{}, len(values))
	unique := make([]string, 0, len(values))
	for _, value := range values {
		trimmed := strings.TrimSpace(value)
		if trimmed == "" {
			continue
		}
		if _, ok := seen[trimmed]; ok {
			continue
		}
		seen[trimmed] = struct{}{}
		unique = append(unique, trimmed)
	}
	return unique
}
