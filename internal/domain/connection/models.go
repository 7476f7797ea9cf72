// Package connection tracks the bank connections created from active consents
// and the accounts discovered under them.
package connection

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

type Status string

const (
	StatusActive       Status = "active"
	StatusPending      Status = "pending"
	StatusDisconnected Status = "disconnected"
)

// Frequency is how often a connection is synced by the scheduler.
type Frequency string

const (
	FrequencyDaily   Frequency = "daily"
	FrequencyWeekly  Frequency = "weekly"
	FrequencyMonthly Frequency = "monthly"
)

func (f Frequency) Valid() bool {
	switch f {
	case FrequencyDaily, FrequencyWeekly, FrequencyMonthly:
		return true
	}
	return false
}

// Connection links one consent at one bank to the accounts it exposes.
type Connection struct {
	ID        string
	UserID    string
	ConsentID string
	BankCode  string
	BankName  string
	Status    Status
	// AccountIDs are the external identifiers of the discovered accounts.
	AccountIDs    []string
	LastSyncAt    *time.Time
	SyncFrequency Frequency
	SyncTime      string
	NextSyncAt    *time.Time
	CreatedAt     time.Time
	UpdatedAt     time.Time
}

// Account mirrors a bank account. ExternalID is unique per connection.
type Account struct {
	ID           string
	ConnectionID string
	ExternalID   string
	Type         string
	Subtype      string
	Currency     string
	BrandName    string
	CompanyCNPJ  string
	MaskedNumber string
	MaskedAgency string

	AvailableBalance *decimal.Decimal
	BlockedBalance   *decimal.Decimal
	InvestedBalance  *decimal.Decimal
	BalanceUpdatedAt *time.Time

	CreatedAt time.Time
	UpdatedAt time.Time
}

// Balance is the latest balance snapshot of an account.
type Balance struct {
	Available             decimal.Decimal
	Blocked               decimal.Decimal
	AutomaticallyInvested decimal.Decimal
	Currency              string
	UpdatedAt             time.Time
}

type CreateParams struct {
	UserID        string
	ConsentID     string
	BankCode      string
	BankName      string
	AccountIDs    []string
	SyncFrequency Frequency
	SyncTime      string
}

// NextSync returns the first scheduled instant strictly after from. Daily syncs run
// every day at syncTime, weekly syncs on Mondays, monthly syncs on the 1st.
func NextSync(freq Frequency, syncTime string, from time.Time) (time.Time, error) {
	hour, minute, err := parseClock(syncTime)
	if err != nil {
		return time.Time{}, err
	}
	at := func(d time.Time) time.Time {
		return time.Date(d.Year(), d.Month(), d.Day(), hour, minute, 0, 0, from.Location())
	}

	switch freq {
	case FrequencyDaily:
		next := at(from)
		if !next.After(from) {
			next = next.AddDate(0, 0, 1)
		}
		return next, nil
	case FrequencyWeekly:
		daysAhead := (int(time.Monday) - int(from.Weekday()) + 7) % 7
		next := at(from).AddDate(0, 0, daysAhead)
		if !next.After(from) {
			next = next.AddDate(0, 0, 7)
		}
		return next, nil
	case FrequencyMonthly:
		next := time.Date(from.Year(), from.Month(), 1, hour, minute, 0, 0, from.Location())
		if !next.After(from) {
			next = next.AddDate(0, 1, 0)
		}
		return next, nil
	}
	return time.Time{}, fmt.Errorf("unknown sync frequency %q", freq)
}

func parseClock(s string) (int, int, error) {
	h, m, ok := strings.Cut(s, ":")
	if !ok {
		return 0, 0, fmt.Errorf("invalid sync time %q, want HH:MM", s)
	}
	hour, err := strconv.Atoi(h)
	if err != nil || hour < 0 || hour > 23 {
		return 0, 0, fmt.Errorf("invalid hour in sync time %q", s)
	}
	minute, err := strconv.Atoi(m)
	if err != nil || minute < 0 || minute > 59 {
		return 0, 0, fmt.Errorf("invalid minute in sync time %q", s)
	}
	return hour, minute, nil
}
