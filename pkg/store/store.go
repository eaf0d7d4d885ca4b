package store

import (
	"errors"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/virtuoso-beep/library-compass/pkg/circuitbreaker"
	"github.com/virtuoso-beep/library-compass/pkg/models"
)

// Store is the persistence gateway for the circulation schema. Every status
// change is a conditional update (WHERE current state = expected state) so a
// lost race surfaces as ErrConflict instead of a silent double write. Writes
// pass through a circuit breaker so a dead backend fails fast.
type Store struct {
	db      *gorm.DB
	breaker *circuitbreaker.Breaker
}

func New(db *gorm.DB) *Store {
	return &Store{
		db:      db,
		breaker: circuitbreaker.New(5, 30*time.Second),
	}
}

// DB exposes the underlying handle for health checks.
func (s *Store) DB() *gorm.DB {
	return s.db
}

// --- members ---

func (s *Store) FindMember(memberID string) (*models.Member, error) {
	var m models.Member
	if err := s.db.Where("member_id = ?", memberID).First(&m).Error; err != nil {
		return nil, notFound(err)
	}
	return &m, nil
}

func (s *Store) FindMemberByEmail(email string) (*models.Member, error) {
	var m models.Member
	if err := s.db.Where("email = ?", email).First(&m).Error; err != nil {
		return nil, notFound(err)
	}
	return &m, nil
}

func (s *Store) CreateMember(m *models.Member) error {
	return s.breaker.Do(func() error {
		return s.db.Create(m).Error
	})
}

func (s *Store) SearchMembers(query string) ([]models.Member, error) {
	var members []models.Member
	q := s.db.Order("full_name")
	if query != "" {
		q = q.Where("full_name LIKE ?", "%"+query+"%")
	}
	if err := q.Find(&members).Error; err != nil {
		return nil, err
	}
	return members, nil
}

func (s *Store) CountOpenBorrowings(memberID uint) (int, error) {
	var count int64
	err := s.db.Model(&models.BorrowingTransaction{}).
		Where("member_id = ? AND return_date IS NULL", memberID).
		Count(&count).Error
	if err != nil {
		return 0, err
	}
	return int(count), nil
}

// --- catalog ---

func (s *Store) CreateBook(b *models.Book) error {
	return s.breaker.Do(func() error {
		return s.db.Create(b).Error
	})
}

func (s *Store) FindBookByUid(bookUid string) (*models.Book, error) {
	var b models.Book
	if err := s.db.Where("book_uid = ?", bookUid).First(&b).Error; err != nil {
		return nil, notFound(err)
	}
	return &b, nil
}

func (s *Store) ListBooks(query string, page, size int) ([]models.Book, int64, error) {
	q := s.db.Model(&models.Book{})
	if query != "" {
		q = q.Where("title LIKE ? OR author LIKE ?", "%"+query+"%", "%"+query+"%")
	}

	var total int64
	if err := q.Count(&total).Error; err != nil {
		return nil, 0, err
	}

	var books []models.Book
	offset := (page - 1) * size
	if err := q.Order("title").Offset(offset).Limit(size).Find(&books).Error; err != nil {
		return nil, 0, err
	}
	return books, total, nil
}

func (s *Store) CreateBookCopy(c *models.BookCopy) error {
	return s.breaker.Do(func() error {
		return s.db.Create(c).Error
	})
}

func (s *Store) FindBookCopyByAccession(accessionNumber string) (*models.BookCopy, error) {
	var c models.BookCopy
	err := s.db.Preload("Book").
		Where("accession_number = ?", accessionNumber).
		First(&c).Error
	if err != nil {
		return nil, notFound(err)
	}
	return &c, nil
}

func (s *Store) ListCopiesByBook(bookID uint) ([]models.BookCopy, error) {
	var copies []models.BookCopy
	err := s.db.Where("book_id = ?", bookID).Order("accession_number").Find(&copies).Error
	if err != nil {
		return nil, err
	}
	return copies, nil
}

// UpdateCopyStatus moves a copy from one status to another. Zero affected
// rows means the copy was not in the expected status and the caller lost a
// race (or was working from stale data).
func (s *Store) UpdateCopyStatus(copyID uint, from, to models.CopyStatus) error {
	return s.breaker.Do(func() error {
		res := s.db.Model(&models.BookCopy{}).
			Where("id = ? AND status = ?", copyID, from).
			Update("status", to)
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			return ErrConflict
		}
		return nil
	})
}

// --- borrowing transactions ---

func (s *Store) FindOpenBorrowingByCopy(copyID uint) (*models.BorrowingTransaction, error) {
	var tx models.BorrowingTransaction
	err := s.db.Preload("Member").Preload("BookCopy").Preload("BookCopy.Book").
		Where("book_copy_id = ? AND return_date IS NULL", copyID).
		First(&tx).Error
	if err != nil {
		return nil, notFound(err)
	}
	return &tx, nil
}

func (s *Store) ListOverdueBorrowings(today time.Time) ([]models.BorrowingTransaction, error) {
	var txs []models.BorrowingTransaction
	err := s.db.Preload("Member").Preload("BookCopy").Preload("BookCopy.Book").
		Where("return_date IS NULL AND due_date < ?", today).
		Order("due_date").
		Find(&txs).Error
	if err != nil {
		return nil, err
	}
	return txs, nil
}

// BorrowCopy claims the copy and opens a borrowing transaction as one atomic
// commit. The claim is conditional on the copy still being available, so of
// two simultaneous borrow attempts exactly one succeeds.
func (s *Store) BorrowCopy(memberID, copyID uint, borrowedDate, dueDate time.Time) (*models.BorrowingTransaction, error) {
	tx := &models.BorrowingTransaction{
		TransactionUid: uuid.New().String(),
		MemberID:       memberID,
		BookCopyID:     copyID,
		BorrowedDate:   borrowedDate,
		DueDate:        dueDate,
	}
	err := s.breaker.Do(func() error {
		return s.db.Transaction(func(dbtx *gorm.DB) error {
			res := dbtx.Model(&models.BookCopy{}).
				Where("id = ? AND status = ?", copyID, models.CopyAvailable).
				Update("status", models.CopyBorrowed)
			if res.Error != nil {
				return res.Error
			}
			if res.RowsAffected == 0 {
				return ErrConflict
			}
			return dbtx.Create(tx).Error
		})
	})
	if err != nil {
		return nil, err
	}
	return tx, nil
}

// ReturnCopy closes the transaction and releases the copy as one atomic
// commit. Closing is conditional on the transaction still being open and
// the copy still being borrowed; a double return rolls back with ErrConflict.
func (s *Store) ReturnCopy(transactionID, copyID uint, returnDate time.Time) (*models.BorrowingTransaction, error) {
	err := s.breaker.Do(func() error {
		return s.db.Transaction(func(dbtx *gorm.DB) error {
			res := dbtx.Model(&models.BorrowingTransaction{}).
				Where("id = ? AND return_date IS NULL", transactionID).
				Update("return_date", returnDate)
			if res.Error != nil {
				return res.Error
			}
			if res.RowsAffected == 0 {
				return ErrConflict
			}

			res = dbtx.Model(&models.BookCopy{}).
				Where("id = ? AND status = ?", copyID, models.CopyBorrowed).
				Update("status", models.CopyAvailable)
			if res.Error != nil {
				return res.Error
			}
			if res.RowsAffected == 0 {
				return ErrConflict
			}
			return nil
		})
	})
	if err != nil {
		return nil, err
	}

	var tx models.BorrowingTransaction
	if err := s.db.Preload("Member").First(&tx, transactionID).Error; err != nil {
		return nil, notFound(err)
	}
	return &tx, nil
}

// --- fines ---

func (s *Store) InsertFine(memberID uint, transactionID *uint, amount float64, reason string) (*models.Fine, error) {
	fine := &models.Fine{
		FineUid:       uuid.New().String(),
		MemberID:      memberID,
		TransactionID: transactionID,
		Amount:        amount,
		Reason:        reason,
		Status:        models.FineUnpaid,
	}
	err := s.breaker.Do(func() error {
		return s.db.Create(fine).Error
	})
	if err != nil {
		return nil, err
	}
	return fine, nil
}

func (s *Store) FindFineByUid(fineUid string) (*models.Fine, error) {
	var f models.Fine
	if err := s.db.Preload("Member").Where("fine_uid = ?", fineUid).First(&f).Error; err != nil {
		return nil, notFound(err)
	}
	return &f, nil
}

// MarkFinePaid settles an unpaid fine. A fine that was already paid or
// waived is left untouched and reported as a conflict.
func (s *Store) MarkFinePaid(fineUid string, paymentDate time.Time) (*models.Fine, error) {
	if _, err := s.FindFineByUid(fineUid); err != nil {
		return nil, err
	}
	err := s.breaker.Do(func() error {
		res := s.db.Model(&models.Fine{}).
			Where("fine_uid = ? AND status = ?", fineUid, models.FineUnpaid).
			Updates(map[string]interface{}{
				"status":       models.FinePaid,
				"payment_date": paymentDate,
			})
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			return ErrConflict
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return s.FindFineByUid(fineUid)
}

// MarkFineWaived waives an unpaid fine, with the same conflict rule as
// MarkFinePaid.
func (s *Store) MarkFineWaived(fineUid, reason string) (*models.Fine, error) {
	if _, err := s.FindFineByUid(fineUid); err != nil {
		return nil, err
	}
	err := s.breaker.Do(func() error {
		res := s.db.Model(&models.Fine{}).
			Where("fine_uid = ? AND status = ?", fineUid, models.FineUnpaid).
			Updates(map[string]interface{}{
				"status":        models.FineWaived,
				"waiver_reason": reason,
			})
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			return ErrConflict
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return s.FindFineByUid(fineUid)
}

func (s *Store) ListUnpaidFines() ([]models.Fine, error) {
	var fines []models.Fine
	err := s.db.Preload("Member").
		Where("status = ?", models.FineUnpaid).
		Order("created_at DESC").
		Find(&fines).Error
	if err != nil {
		return nil, err
	}
	return fines, nil
}

func (s *Store) TotalUnpaidFines() (float64, error) {
	var total float64
	err := s.db.Model(&models.Fine{}).
		Where("status = ?", models.FineUnpaid).
		Select("COALESCE(SUM(amount), 0)").
		Scan(&total).Error
	if err != nil {
		return 0, err
	}
	return total, nil
}

// --- reservations ---

func (s *Store) CreateReservation(r *models.Reservation) error {
	return s.breaker.Do(func() error {
		return s.db.Create(r).Error
	})
}

func (s *Store) FindReservationByUid(reservationUid string) (*models.Reservation, error) {
	var r models.Reservation
	err := s.db.Preload("Member").Preload("Book").
		Where("reservation_uid = ?", reservationUid).
		First(&r).Error
	if err != nil {
		return nil, notFound(err)
	}
	return &r, nil
}

func (s *Store) FindPendingReservation(memberID, bookID uint) (*models.Reservation, error) {
	var r models.Reservation
	err := s.db.
		Where("member_id = ? AND book_id = ? AND status = ?", memberID, bookID, models.ReservationPending).
		First(&r).Error
	if err != nil {
		return nil, notFound(err)
	}
	return &r, nil
}

// SetReservationStatus moves a pending reservation to a terminal status.
func (s *Store) SetReservationStatus(reservationUid string, to models.ReservationStatus) (*models.Reservation, error) {
	if _, err := s.FindReservationByUid(reservationUid); err != nil {
		return nil, err
	}
	err := s.breaker.Do(func() error {
		res := s.db.Model(&models.Reservation{}).
			Where("reservation_uid = ? AND status = ?", reservationUid, models.ReservationPending).
			Update("status", to)
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			return ErrConflict
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return s.FindReservationByUid(reservationUid)
}

func (s *Store) ListReservationsByMember(memberID uint) ([]models.Reservation, error) {
	var reservations []models.Reservation
	err := s.db.Preload("Book").
		Where("member_id = ?", memberID).
		Order("reservation_date DESC").
		Find(&reservations).Error
	if err != nil {
		return nil, err
	}
	return reservations, nil
}

func (s *Store) CountPendingReservations() (int, error) {
	var count int64
	err := s.db.Model(&models.Reservation{}).
		Where("status = ?", models.ReservationPending).
		Count(&count).Error
	if err != nil {
		return 0, err
	}
	return int(count), nil
}

func notFound(err error) error {
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return ErrNotFound
	}
	return err
}
