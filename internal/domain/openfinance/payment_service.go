package openfinance

import (
	"context"
	"fmt"

	"github.com/rs/zerolog/log"

	"ofbconnect/internal/domain/payment"
	"ofbconnect/internal/shared/apperr"
)

// GetPayment returns the caller's payment with the status the bank reports now.
// Settled payments and payments whose consent is no longer ACTIVE are answered
// from the stored record.
func (s *ConnectService) GetPayment(ctx context.Context, userID, paymentID string) (*payment.Payment, error) {
	p, err := s.userPayment(ctx, userID, paymentID)
	if err != nil {
		return nil, err
	}
	if p.Status.IsTerminal() {
		return p, nil
	}

	c, err := s.consents.RequireActive(ctx, p.ConsentID)
	if err != nil {
		log.Debug().Err(err).Str("payment_id", p.ID).Msg("Payment status served from the stored record")
		return p, nil
	}
	st, err := s.payments.GetPayment(ctx, p, Session{UserID: c.UserID, ConsentID: c.ID, BankCode: c.BankCode})
	if err != nil {
		return nil, err
	}
	return s.applyStatus(ctx, p, st), nil
}

// CancelPayment cancels a PENDING or SCHEDULED payment at the bank. Cancelling a
// cancelled payment returns it unchanged.
func (s *ConnectService) CancelPayment(ctx context.Context, userID, paymentID string) (*payment.Payment, error) {
	p, err := s.userPayment(ctx, userID, paymentID)
	if err != nil {
		return nil, err
	}
	if p.Status == payment.StatusCancelled {
		return p, nil
	}
	if !p.Status.Cancellable() {
		return nil, fmt.Errorf("%w: payment %s is %s", apperr.ErrPaymentNotCancellable, p.ID, p.Status)
	}

	c, err := s.consents.RequireActive(ctx, p.ConsentID)
	if err != nil {
		return nil, err
	}
	st, err := s.payments.CancelPayment(ctx, p, Session{UserID: c.UserID, ConsentID: c.ID, BankCode: c.BankCode})
	if err != nil {
		log.Error().Err(err).
			Str("consent_id", c.ID).
			Str("bank_code", c.BankCode).
			Str("payment_id", p.ID).
			Msg("Payment cancellation failed")
		return nil, err
	}
	p = s.applyStatus(ctx, p, st)
	if p.Status != payment.StatusCancelled {
		return nil, fmt.Errorf("%w: bank reports payment %s as %s", apperr.ErrPaymentNotCancellable, p.ID, p.Status)
	}

	log.Info().
		Str("consent_id", c.ID).
		Str("bank_code", c.BankCode).
		Str("payment_id", p.ID).
		Msg("Payment cancelled")
	return p, nil
}

// ListPayments returns one page of the caller's payment history, newest first.
func (s *ConnectService) ListPayments(ctx context.Context, userID string, f payment.Filter) (*payment.Page, error) {
	f.UserID = userID
	f.Normalize()
	payments, total, err := s.records.List(ctx, f)
	if err != nil {
		return nil, fmt.Errorf("failed to list payments: %w", err)
	}
	return &payment.Page{Payments: payments, Total: total, Page: f.Page, PageSize: f.PageSize}, nil
}

func (s *ConnectService) userPayment(ctx context.Context, userID, paymentID string) (*payment.Payment, error) {
	p, err := s.records.Get(ctx, paymentID)
	if err != nil {
		return nil, fmt.Errorf("failed to load payment: %w", err)
	}
	if p == nil || p.UserID != userID {
		return nil, fmt.Errorf("%w: %s", apperr.ErrPaymentNotFound, paymentID)
	}
	return p, nil
}

// applyStatus stores a changed bank status. A failed write is logged; the caller
// still gets the bank's answer.
func (s *ConnectService) applyStatus(ctx context.Context, p *payment.Payment, st *payment.BankStatus) *payment.Payment {
	if st.Status == p.Status && st.Reason == p.StatusReason {
		return p
	}
	if err := s.records.UpdateStatus(ctx, p.ID, *st); err != nil {
		log.Error().Err(err).Str("payment_id", p.ID).Msg("Failed to store payment status")
	}
	log.Info().
		Str("payment_id", p.ID).
		Str("from", string(p.Status)).
		Str("to", string(st.Status)).
		Msg("Payment status changed")
	p.Status, p.StatusReason, p.UpdatedAt = st.Status, st.Reason, st.UpdatedAt
	return p
}
