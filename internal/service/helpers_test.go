package service

import (
	"bytes"
	"context"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/posuite/request-guard/internal/domain"
	"github.com/posuite/request-guard/internal/repository"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

type stores struct {
	db       *gorm.DB
	users    repository.UserRepository
	sessions repository.SessionRepository
}

func newStoresForTest(t *testing.T) stores {
	t.Helper()
	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared", strings.ReplaceAll(t.Name(), "/", "_"))
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{Logger: logger.Default.LogMode(logger.Silent)})
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	sqlDB, err := db.DB()
	if err != nil {
		t.Fatalf("sql db: %v", err)
	}
	sqlDB.SetMaxOpenConns(1)
	t.Cleanup(func() { _ = sqlDB.Close() })
	if err := repository.Migrate(db); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	return stores{
		db:       db,
		users:    repository.NewUserRepository(db),
		sessions: repository.NewSessionRepository(db),
	}
}

func seedUser(t *testing.T, users repository.UserRepository, u domain.User) {
	t.Helper()
	if u.Role == "" {
		u.Role = domain.RoleFieldWorker
	}
	if err := users.Create(context.Background(), &u); err != nil {
		t.Fatalf("seed user %s: %v", u.ID, err)
	}
}

// backupEntropy yields A1B2C3D4 for the first code and distinct values after it.
func backupEntropy() *bytes.Reader {
	buf := []byte{0xA1, 0xB2, 0xC3, 0xD4}
	for i := 0; i < 64; i++ {
		buf = append(buf, byte(i))
	}
	return bytes.NewReader(buf)
}

// slowUsers blocks every call until the context gives up.
type slowUsers struct{}

func (slowUsers) FindByID(ctx context.Context, _ string) (*domain.User, error) {
	<-ctx.Done()
	return nil, ctx.Err()
}

func (slowUsers) Create(ctx context.Context, _ *domain.User) error {
	<-ctx.Done()
	return ctx.Err()
}

func (slowUsers) Update(ctx context.Context, _ string, _ func(*domain.User) error) (*domain.User, error) {
	<-ctx.Done()
	return nil, ctx.Err()
}
