package connection

import (
	"context"
	"errors"
	"testing"
	"time"

	"ofbconnect/internal/domain/consent"
	"ofbconnect/internal/shared/apperr"
)

// MockRepository is a mock implementation of Repository interface
type MockRepository struct {
	CreateFunc               func(ctx context.Context, c *Connection) error
	GetByIDFunc              func(ctx context.Context, id string) (*Connection, error)
	GetByConsentIDFunc       func(ctx context.Context, consentID string) (*Connection, error)
	ListByUserIDFunc         func(ctx context.Context, userID string) ([]*Connection, error)
	ListDueFunc              func(ctx context.Context, now time.Time) ([]*Connection, error)
	UpdateStatusFunc         func(ctx context.Context, id string, status Status, at time.Time) error
	MarkSyncedFunc           func(ctx context.Context, id string, syncedAt time.Time, next *time.Time) error
	UpsertAccountFunc        func(ctx context.Context, a *Account) (*Account, bool, error)
	ListAccountsFunc         func(ctx context.Context, connectionID string) ([]*Account, error)
	UpdateAccountBalanceFunc func(ctx context.Context, accountID string, b Balance) error
}

func (m *MockRepository) Create(ctx context.Context, c *Connection) error {
	if m.CreateFunc != nil {
		return m.CreateFunc(ctx, c)
	}
	return nil
}

func (m *MockRepository) GetByID(ctx context.Context, id string) (*Connection, error) {
	if m.GetByIDFunc != nil {
		return m.GetByIDFunc(ctx, id)
	}
	return nil, nil
}

func (m *MockRepository) GetByConsentID(ctx context.Context, consentID string) (*Connection, error) {
	if m.GetByConsentIDFunc != nil {
		return m.GetByConsentIDFunc(ctx, consentID)
	}
	return nil, nil
}

func (m *MockRepository) ListByUserID(ctx context.Context, userID string) ([]*Connection, error) {
	if m.ListByUserIDFunc != nil {
		return m.ListByUserIDFunc(ctx, userID)
	}
	return nil, nil
}

func (m *MockRepository) ListDue(ctx context.Context, now time.Time) ([]*Connection, error) {
	if m.ListDueFunc != nil {
		return m.ListDueFunc(ctx, now)
	}
	return nil, nil
}

func (m *MockRepository) UpdateStatus(ctx context.Context, id string, status Status, at time.Time) error {
	if m.UpdateStatusFunc != nil {
		return m.UpdateStatusFunc(ctx, id, status, at)
	}
	return nil
}

func (m *MockRepository) MarkSynced(ctx context.Context, id string, syncedAt time.Time, next *time.Time) error {
	if m.MarkSyncedFunc != nil {
		return m.MarkSyncedFunc(ctx, id, syncedAt, next)
	}
	return nil
}

func (m *MockRepository) UpsertAccount(ctx context.Context, a *Account) (*Account, bool, error) {
	if m.UpsertAccountFunc != nil {
		return m.UpsertAccountFunc(ctx, a)
	}
	return a, true, nil
}

func (m *MockRepository) ListAccounts(ctx context.Context, connectionID string) ([]*Account, error) {
	if m.ListAccountsFunc != nil {
		return m.ListAccountsFunc(ctx, connectionID)
	}
	return nil, nil
}

func (m *MockRepository) UpdateAccountBalance(ctx context.Context, accountID string, b Balance) error {
	if m.UpdateAccountBalanceFunc != nil {
		return m.UpdateAccountBalanceFunc(ctx, accountID, b)
	}
	return nil
}

func TestNextSync(t *testing.T) {
	// 2024-01-10 is a Wednesday.
	wed := time.Date(2024, 1, 10, 8, 30, 0, 0, time.UTC)

	tests := []struct {
		name    string
		freq    Frequency
		at      string
		from    time.Time
		want    time.Time
		wantErr bool
	}{
		{"daily later today", FrequencyDaily, "09:00", wed, time.Date(2024, 1, 10, 9, 0, 0, 0, time.UTC), false},
		{"daily already passed", FrequencyDaily, "06:00", wed, time.Date(2024, 1, 11, 6, 0, 0, 0, time.UTC), false},
		{"daily exactly now", FrequencyDaily, "08:30", wed, time.Date(2024, 1, 11, 8, 30, 0, 0, time.UTC), false},
		{"weekly next monday", FrequencyWeekly, "06:00", wed, time.Date(2024, 1, 15, 6, 0, 0, 0, time.UTC), false},
		{"weekly monday before time", FrequencyWeekly, "09:00", time.Date(2024, 1, 15, 8, 0, 0, 0, time.UTC), time.Date(2024, 1, 15, 9, 0, 0, 0, time.UTC), false},
		{"weekly monday after time", FrequencyWeekly, "06:00", time.Date(2024, 1, 15, 8, 0, 0, 0, time.UTC), time.Date(2024, 1, 22, 6, 0, 0, 0, time.UTC), false},
		{"monthly next first", FrequencyMonthly, "06:00", wed, time.Date(2024, 2, 1, 6, 0, 0, 0, time.UTC), false},
		{"monthly december rollover", FrequencyMonthly, "06:00", time.Date(2024, 12, 20, 0, 0, 0, 0, time.UTC), time.Date(2025, 1, 1, 6, 0, 0, 0, time.UTC), false},
		{"monthly on the first before time", FrequencyMonthly, "06:00", time.Date(2024, 3, 1, 5, 0, 0, 0, time.UTC), time.Date(2024, 3, 1, 6, 0, 0, 0, time.UTC), false},
		{"bad time", FrequencyDaily, "25:00", wed, time.Time{}, true},
		{"bad format", FrequencyDaily, "0600", wed, time.Time{}, true},
		{"bad frequency", Frequency("hourly"), "06:00", wed, time.Time{}, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := NextSync(tt.freq, tt.at, tt.from)
			if (err != nil) != tt.wantErr {
				t.Fatalf("NextSync() error = %v, wantErr %v", err, tt.wantErr)
			}
			if !got.Equal(tt.want) {
				t.Errorf("NextSync() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestService_Create(t *testing.T) {
	tests := []struct {
		name    string
		params  CreateParams
		wantErr bool
	}{
		{
			name:   "defaults",
			params: CreateParams{UserID: "u1", ConsentID: "c1", BankCode: "001", AccountIDs: []string{"acc-1"}},
		},
		{
			name:    "no accounts",
			params:  CreateParams{UserID: "u1", ConsentID: "c1", BankCode: "001"},
			wantErr: true,
		},
		{
			name:    "bad frequency",
			params:  CreateParams{UserID: "u1", ConsentID: "c1", AccountIDs: []string{"a"}, SyncFrequency: "hourly"},
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var stored *Connection
			svc := NewService(&MockRepository{CreateFunc: func(ctx context.Context, c *Connection) error {
				stored = c
				return nil
			}}, "")
			svc.now = func() time.Time { return time.Date(2024, 1, 10, 8, 0, 0, 0, time.UTC) }

			c, err := svc.Create(context.Background(), tt.params)
			if tt.wantErr {
				if err == nil {
					t.Fatal("Create() error = nil, want error")
				}
				if stored != nil {
					t.Error("Create() persisted an invalid connection")
				}
				return
			}
			if err != nil {
				t.Fatalf("Create() failed: %v", err)
			}
			if c.Status != StatusActive || c.SyncFrequency != FrequencyDaily || c.SyncTime != "06:00" {
				t.Errorf("Create() = %+v, want active daily 06:00", c)
			}
			if c.NextSyncAt == nil || !c.NextSyncAt.Equal(time.Date(2024, 1, 11, 6, 0, 0, 0, time.UTC)) {
				t.Errorf("NextSyncAt = %v, want next day 06:00", c.NextSyncAt)
			}
		})
	}
}

func TestService_GetForUser(t *testing.T) {
	svc := NewService(&MockRepository{GetByIDFunc: func(ctx context.Context, id string) (*Connection, error) {
		if id == "conn-1" {
			return &Connection{ID: id, UserID: "u1"}, nil
		}
		return nil, nil
	}}, "")

	if _, err := svc.GetForUser(context.Background(), "conn-1", "u1"); err != nil {
		t.Errorf("GetForUser() owner error = %v", err)
	}
	if _, err := svc.GetForUser(context.Background(), "conn-1", "u2"); !errors.Is(err, apperr.ErrConnectionNotFound) {
		t.Errorf("GetForUser() other user error = %v, want ErrConnectionNotFound", err)
	}
	if _, err := svc.GetForUser(context.Background(), "missing", "u1"); !errors.Is(err, apperr.ErrConnectionNotFound) {
		t.Errorf("GetForUser() missing error = %v, want ErrConnectionNotFound", err)
	}
}

func TestService_ConsentTerminated(t *testing.T) {
	conn := &Connection{ID: "conn-1", ConsentID: "c1", Status: StatusActive}
	updates := 0
	repo := &MockRepository{
		GetByConsentIDFunc: func(ctx context.Context, consentID string) (*Connection, error) {
			if consentID == conn.ConsentID {
				return conn, nil
			}
			return nil, nil
		},
		GetByIDFunc: func(ctx context.Context, id string) (*Connection, error) {
			return conn, nil
		},
		UpdateStatusFunc: func(ctx context.Context, id string, status Status, at time.Time) error {
			updates++
			conn.Status = status
			return nil
		},
	}
	svc := NewService(repo, "")

	if err := svc.ConsentTerminated(context.Background(), &consent.Consent{ID: "c1"}); err != nil {
		t.Fatalf("ConsentTerminated() failed: %v", err)
	}
	if conn.Status != StatusDisconnected {
		t.Errorf("Status = %s, want disconnected", conn.Status)
	}

	// Repeated notifications are harmless.
	if err := svc.ConsentTerminated(context.Background(), &consent.Consent{ID: "c1"}); err != nil {
		t.Fatalf("second ConsentTerminated() failed: %v", err)
	}
	if updates != 1 {
		t.Errorf("status updates = %d, want 1", updates)
	}

	if err := svc.ConsentTerminated(context.Background(), &consent.Consent{ID: "no-connection"}); err != nil {
		t.Errorf("ConsentTerminated() without connection error = %v", err)
	}
}

func TestService_MarkSynced(t *testing.T) {
	var gotNext *time.Time
	svc := NewService(&MockRepository{MarkSyncedFunc: func(ctx context.Context, id string, syncedAt time.Time, next *time.Time) error {
		gotNext = next
		return nil
	}}, "")
	now := time.Date(2024, 1, 10, 7, 0, 0, 0, time.UTC)
	svc.now = func() time.Time { return now }

	c := &Connection{ID: "conn-1", SyncFrequency: FrequencyDaily, SyncTime: "06:00"}
	if err := svc.MarkSynced(context.Background(), c); err != nil {
		t.Fatalf("MarkSynced() failed: %v", err)
	}
	if gotNext == nil || !gotNext.Equal(time.Date(2024, 1, 11, 6, 0, 0, 0, time.UTC)) {
		t.Errorf("next sync = %v, want 2024-01-11 06:00", gotNext)
	}
	if c.LastSyncAt == nil || !c.LastSyncAt.Equal(now) {
		t.Errorf("LastSyncAt = %v, want %v", c.LastSyncAt, now)
	}
}
