package alerts

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/MarcoPoloResearchLab/villagewatch/internal/directory"
	"github.com/MarcoPoloResearchLab/villagewatch/internal/models"
	"github.com/MarcoPoloResearchLab/villagewatch/internal/realtime"
	"github.com/MarcoPoloResearchLab/villagewatch/internal/sms"
	sqlite "github.com/glebarez/sqlite"
	"gorm.io/gorm"
)

type sequentialIDs struct {
	mu     sync.Mutex
	prefix string
	next   int
}

func (g *sequentialIDs) NewID() (string, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.next++
	return fmt.Sprintf("%s-%03d", g.prefix, g.next), nil
}

type steppingClock struct {
	mu      sync.Mutex
	current time.Time
}

func newSteppingClock() *steppingClock {
	return &steppingClock{current: time.Date(2026, time.March, 1, 8, 0, 0, 0, time.UTC)}
}

func (c *steppingClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.current = c.current.Add(time.Second)
	return c.current
}

type recordingPublisher struct {
	mu     sync.Mutex
	events []realtime.Event
}

func (p *recordingPublisher) Publish(event realtime.Event) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, event)
}

func (p *recordingPublisher) Events() []realtime.Event {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]realtime.Event(nil), p.events...)
}

type countingTransport struct {
	mu     sync.Mutex
	phones []string
	fail   map[string]bool
}

func (t *countingTransport) Send(_ context.Context, phone, _ string) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.phones = append(t.phones, phone)
	if t.fail[phone] {
		return fmt.Errorf("provider rejected %s", phone)
	}
	return nil
}

type workflowHarness struct {
	db        *gorm.DB
	workflow  *Workflow
	ledger    *Ledger
	publisher *recordingPublisher
	transport *countingTransport
}

func openTestDatabase(t *testing.T) *gorm.DB {
	t.Helper()
	db, err := gorm.Open(sqlite.Open("file:"+databaseName(t)+"?mode=memory&cache=shared"), &gorm.Config{})
	if err != nil {
		t.Fatalf("failed to open sqlite: %v", err)
	}
	sqlDB, err := db.DB()
	if err != nil {
		t.Fatalf("failed to access sql db: %v", err)
	}
	sqlDB.SetMaxOpenConns(1)
	t.Cleanup(func() {
		_ = sqlDB.Close()
	})
	if err := db.AutoMigrate(models.All()...); err != nil {
		t.Fatalf("failed to migrate schema: %v", err)
	}
	return db
}

func newWorkflowHarness(t *testing.T) *workflowHarness {
	t.Helper()
	db := openTestDatabase(t)
	clock := newSteppingClock()

	directoryService, err := directory.NewService(directory.ServiceConfig{Database: db})
	if err != nil {
		t.Fatalf("failed to build directory: %v", err)
	}
	ledger, err := NewLedger(LedgerConfig{Database: db, Clock: clock.Now, IDProvider: &sequentialIDs{prefix: "delivery"}})
	if err != nil {
		t.Fatalf("failed to build ledger: %v", err)
	}
	transport := &countingTransport{fail: map[string]bool{}}
	publisher := &recordingPublisher{}

	cfg := WorkflowConfig{
		Database:   db,
		Directory:  directoryService,
		Ledger:     ledger,
		Dispatcher: sms.NewDispatcher(sms.DispatcherConfig{Transport: transport}),
		Publisher:  publisher,
		Clock:      clock.Now,
		IDProvider: &sequentialIDs{prefix: "alert"},
	}
	workflow, err := NewWorkflow(cfg)
	if err != nil {
		t.Fatalf("failed to build workflow: %v", err)
	}
	return &workflowHarness{db: db, workflow: workflow, ledger: ledger, publisher: publisher, transport: transport}
}

func (h *workflowHarness) seed(t *testing.T, records ...any) {
	t.Helper()
	for _, record := range records {
		if err := h.db.Create(record).Error; err != nil {
			t.Fatalf("failed to seed %T: %v", record, err)
		}
	}
}

func (h *workflowHarness) count(t *testing.T, model any) int64 {
	t.Helper()
	var total int64
	if err := h.db.Model(model).Count(&total).Error; err != nil {
		t.Fatalf("failed to count %T: %v", model, err)
	}
	return total
}

func villageRef(id string) *string {
	return &id
}

func databaseName(t *testing.T) string {
	return strings.Map(func(r rune) rune {
		if r >= 'a' && r <= 'z' || r >= 'A' && r <= 'Z' || r >= '0' && r <= '9' {
			return r
		}
		return '_'
	}, t.Name())
}
