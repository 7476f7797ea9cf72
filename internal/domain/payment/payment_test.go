package payment

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"
)

func TestStatus(t *testing.T) {
	tests := []struct {
		status      Status
		terminal    bool
		cancellable bool
	}{
		{StatusPending, false, true},
		{StatusScheduled, false, true},
		{StatusAccepted, false, false},
		{StatusCompleted, true, false},
		{StatusRejected, true, false},
		{StatusCancelled, true, false},
	}
	for _, tt := range tests {
		if got := tt.status.IsTerminal(); got != tt.terminal {
			t.Errorf("%s.IsTerminal() = %v", tt.status, got)
		}
		if got := tt.status.Cancellable(); got != tt.cancellable {
			t.Errorf("%s.Cancellable() = %v", tt.status, got)
		}
		if !tt.status.Valid() {
			t.Errorf("%s.Valid() = false", tt.status)
		}
	}
	if Status("DONE").Valid() {
		t.Error("unknown status reported valid")
	}
}

func TestNewPayment(t *testing.T) {
	now := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	ted := &Request{
		Type:              TypeTED,
		Amount:            decimal.RequireFromString("80"),
		RecipientBankCode: "341",
		RecipientAgency:   "0001",
		RecipientAccount:  "12345-6",
		RecipientName:     "Maria Silva",
	}
	res := &Result{PaymentID: "pay-1", ConsentID: "c-1", Status: StatusPending, IdempotencyKey: "k-1", CreatedAt: now}

	p := NewPayment("u1", "001", ted, res, now)
	if p.ID != "pay-1" || p.ConsentID != "c-1" || p.Currency != "BRL" || p.Status != StatusPending {
		t.Errorf("payment = %+v", p)
	}
	if p.Recipient != "Maria Silva (341/0001/12345-6)" {
		t.Errorf("Recipient = %q", p.Recipient)
	}
}

func TestFilter(t *testing.T) {
	f := Filter{PageSize: 500}
	f.Normalize()
	if f.Page != 1 || f.PageSize != MaxPageSize {
		t.Errorf("Normalize() = page %d size %d", f.Page, f.PageSize)
	}
	f = Filter{Page: 3, PageSize: 10}
	if f.Offset() != 20 {
		t.Errorf("Offset() = %d, want 20", f.Offset())
	}

	march := time.Date(2026, 3, 15, 0, 0, 0, 0, time.UTC)
	from, to := march.AddDate(0, 0, -14), march.AddDate(0, 0, 16)
	p := &Payment{UserID: "u1", ConsentID: "c-1", Type: TypePIX, Status: StatusCompleted, CreatedAt: march}
	tests := []struct {
		name string
		f    Filter
		want bool
	}{
		{"empty", Filter{}, true},
		{"user", Filter{UserID: "u1"}, true},
		{"other user", Filter{UserID: "u2"}, false},
		{"type", Filter{Type: TypeTED}, false},
		{"status", Filter{Status: StatusCompleted}, true},
		{"in range", Filter{From: &from, To: &to}, true},
		{"before range", Filter{From: &to}, false},
		{"consent", Filter{ConsentID: "c-2"}, false},
	}
	for _, tt := range tests {
		if got := tt.f.Matches(p); got != tt.want {
			t.Errorf("%s: Matches() = %v, want %v", tt.name, got, tt.want)
		}
	}
}
