package directory

import (
	"context"
	"errors"
	"testing"

	"github.com/MarcoPoloResearchLab/villagewatch/internal/auth"
	"github.com/MarcoPoloResearchLab/villagewatch/internal/models"
	sqlite "github.com/glebarez/sqlite"
	"gorm.io/gorm"
)

func newTestService(t *testing.T) (*Service, *gorm.DB) {
	t.Helper()
	db, err := gorm.Open(sqlite.Open("file:"+t.Name()+"?mode=memory&cache=shared"), &gorm.Config{})
	if err != nil {
		t.Fatalf("failed to open sqlite: %v", err)
	}
	if err := db.AutoMigrate(&models.User{}, &models.Village{}); err != nil {
		t.Fatalf("failed to migrate directory schema: %v", err)
	}
	service, err := NewService(ServiceConfig{Database: db})
	if err != nil {
		t.Fatalf("failed to create service: %v", err)
	}
	return service, db
}

func stringPtr(value string) *string {
	return &value
}

func TestUsersInVillagesFiltersByMembership(t *testing.T) {
	service, db := newTestService(t)
	users := []models.User{
		{ID: "u-3", VillageID: stringPtr("v-1")},
		{ID: "u-1", VillageID: stringPtr("v-1")},
		{ID: "u-2", VillageID: stringPtr("v-2")},
		{ID: "u-4"},
	}
	if err := db.Create(&users).Error; err != nil {
		t.Fatalf("failed to seed users: %v", err)
	}

	resolved, err := service.UsersInVillages(context.Background(), []string{"v-1", "v-1", " "})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(resolved) != 2 || resolved[0].ID != "u-1" || resolved[1].ID != "u-3" {
		t.Fatalf("unexpected users %#v", resolved)
	}

	resolved, err = service.UsersInVillages(context.Background(), nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(resolved) != 0 {
		t.Fatalf("expected no users for empty target list, got %d", len(resolved))
	}
}

func TestResolveCallerStripsProviderPrefix(t *testing.T) {
	service, db := newTestService(t)
	if err := db.Create(&models.User{ID: "12345", IsVillageAdmin: true}).Error; err != nil {
		t.Fatalf("failed to seed user: %v", err)
	}

	caller, err := service.ResolveCaller(context.Background(), auth.SessionClaims{UserID: "google:12345"})
	if err != nil {
		t.Fatalf("resolve failed: %v", err)
	}
	if caller.ID != "12345" || !caller.IsVillageAdmin {
		t.Fatalf("unexpected caller %#v", caller)
	}

	if _, err := service.ResolveCaller(context.Background(), auth.SessionClaims{}); !errors.Is(err, ErrInvalidIdentity) {
		t.Fatalf("expected invalid identity, got %v", err)
	}
	if _, err := service.ResolveCaller(context.Background(), auth.SessionClaims{UserID: "missing"}); !errors.Is(err, models.ErrNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}
}

func TestListVillagesOrdersByDistrict(t *testing.T) {
	service, db := newTestService(t)
	villages := []models.Village{
		{ID: "v-2", Name: "Pano Lefkara", District: "Larnaca"},
		{ID: "v-1", Name: "Agros", District: "Limassol"},
		{ID: "v-3", Name: "Athienou", District: "Larnaca"},
	}
	if err := db.Create(&villages).Error; err != nil {
		t.Fatalf("failed to seed villages: %v", err)
	}
	listed, err := service.ListVillages(context.Background())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(listed) != 3 || listed[0].ID != "v-3" || listed[2].ID != "v-1" {
		t.Fatalf("unexpected order %#v", listed)
	}
}
