package reservations

import (
	"errors"
	"time"

	"github.com/google/uuid"

	"github.com/virtuoso-beep/library-compass/pkg/models"
	"github.com/virtuoso-beep/library-compass/pkg/store"
)

var (
	ErrMemberNotFound     = errors.New("member not found")
	ErrMemberNotActive    = errors.New("member account is not active")
	ErrBookNotFound       = errors.New("book not found")
	ErrDuplicateHold      = errors.New("member already has an active reservation for this book")
	ErrReservationClosed  = errors.New("reservation is already fulfilled or cancelled")
	ErrReservationUnknown = errors.New("reservation not found")
)

const holdPeriodDays = 7

type Service struct {
	store *store.Store
}

func New(s *store.Store) *Service {
	return &Service{store: s}
}

// Create places a hold for an active member on a title. A member may hold
// at most one pending reservation per book; the hold expires after 7 days.
func (s *Service) Create(memberID, bookUid string) (*models.Reservation, error) {
	member, err := s.store.FindMember(memberID)
	if errors.Is(err, store.ErrNotFound) {
		return nil, ErrMemberNotFound
	}
	if err != nil {
		return nil, err
	}
	if member.Status != models.MemberActive {
		return nil, ErrMemberNotActive
	}

	book, err := s.store.FindBookByUid(bookUid)
	if errors.Is(err, store.ErrNotFound) {
		return nil, ErrBookNotFound
	}
	if err != nil {
		return nil, err
	}

	_, err = s.store.FindPendingReservation(member.ID, book.ID)
	if err == nil {
		return nil, ErrDuplicateHold
	}
	if !errors.Is(err, store.ErrNotFound) {
		return nil, err
	}

	today := time.Now()
	reservation := &models.Reservation{
		ReservationUid:  uuid.New().String(),
		MemberID:        member.ID,
		BookID:          book.ID,
		Status:          models.ReservationPending,
		ReservationDate: today,
		ExpirationDate:  today.AddDate(0, 0, holdPeriodDays),
	}
	if err := s.store.CreateReservation(reservation); err != nil {
		return nil, err
	}
	return reservation, nil
}

func (s *Service) Cancel(reservationUid string) (*models.Reservation, error) {
	return s.close(reservationUid, models.ReservationCancelled)
}

func (s *Service) Fulfill(reservationUid string) (*models.Reservation, error) {
	return s.close(reservationUid, models.ReservationFulfilled)
}

func (s *Service) close(reservationUid string, to models.ReservationStatus) (*models.Reservation, error) {
	r, err := s.store.SetReservationStatus(reservationUid, to)
	if errors.Is(err, store.ErrNotFound) {
		return nil, ErrReservationUnknown
	}
	if errors.Is(err, store.ErrConflict) {
		return nil, ErrReservationClosed
	}
	return r, err
}

func (s *Service) ListByMember(memberID string) ([]models.Reservation, error) {
	member, err := s.store.FindMember(memberID)
	if errors.Is(err, store.ErrNotFound) {
		return nil, ErrMemberNotFound
	}
	if err != nil {
		return nil, err
	}
	return s.store.ListReservationsByMember(member.ID)
}

func (s *Service) PendingCount() (int, error) {
	return s.store.CountPendingReservations()
}
