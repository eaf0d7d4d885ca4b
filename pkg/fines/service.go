package fines

import (
	"errors"
	"time"

	"github.com/virtuoso-beep/library-compass/pkg/models"
	"github.com/virtuoso-beep/library-compass/pkg/store"
)

// ErrAlreadySettled is returned when paying or waiving a fine that is no
// longer unpaid. Paid and waived are terminal; they never combine.
var ErrAlreadySettled = errors.New("fine is already paid or waived")

const defaultWaiverReason = "Waived by librarian"

type Service struct {
	store *store.Store
}

func New(s *store.Store) *Service {
	return &Service{store: s}
}

// Pay settles an unpaid fine, stamping today as the payment date.
func (s *Service) Pay(fineUid string) (*models.Fine, error) {
	fine, err := s.store.MarkFinePaid(fineUid, time.Now())
	if errors.Is(err, store.ErrConflict) {
		return nil, ErrAlreadySettled
	}
	return fine, err
}

// Waive forgives an unpaid fine. An empty reason records the standard one.
func (s *Service) Waive(fineUid, reason string) (*models.Fine, error) {
	if reason == "" {
		reason = defaultWaiverReason
	}
	fine, err := s.store.MarkFineWaived(fineUid, reason)
	if errors.Is(err, store.ErrConflict) {
		return nil, ErrAlreadySettled
	}
	return fine, err
}

func (s *Service) ListUnpaid() ([]models.Fine, error) {
	return s.store.ListUnpaidFines()
}

func (s *Service) TotalUnpaid() (float64, error) {
	return s.store.TotalUnpaidFines()
}
