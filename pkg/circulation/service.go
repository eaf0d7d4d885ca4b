package circulation

import (
	"errors"
	"fmt"
	"log"
	"math"
	"time"

	"github.com/virtuoso-beep/library-compass/pkg/models"
	"github.com/virtuoso-beep/library-compass/pkg/queue"
	"github.com/virtuoso-beep/library-compass/pkg/store"
)

var (
	ErrMemberNotFound        = errors.New("member not found")
	ErrMemberNotActive       = errors.New("member account is not active")
	ErrBorrowingLimitReached = errors.New("member has reached the borrowing limit")
	ErrCopyNotFound          = errors.New("book copy not found")
	ErrCopyNotAvailable      = errors.New("book copy is not available")
	ErrNoOpenBorrowing       = errors.New("no open borrowing for this copy")
)

// MemberBorrowingInfo is everything the desk needs to decide borrowing
// eligibility in one read.
type MemberBorrowingInfo struct {
	ID                  uint                `json:"-"`
	MemberID            string              `json:"memberId"`
	FullName            string              `json:"fullName"`
	Email               string              `json:"email"`
	Status              models.MemberStatus `json:"status"`
	MaxBooksAllowed     int                 `json:"maxBooksAllowed"`
	BorrowingPeriodDays int                 `json:"borrowingPeriodDays"`
	CurrentBorrowings   int                 `json:"currentBorrowings"`
}

type BookCopyBorrowingInfo struct {
	ID              uint              `json:"-"`
	AccessionNumber string            `json:"accessionNumber"`
	Status          models.CopyStatus `json:"status"`
	Location        string            `json:"location"`
	Title           string            `json:"title"`
	Author          string            `json:"author"`
	ISBN            string            `json:"isbn"`
}

type BorrowingReturnInfo struct {
	TransactionUid  string    `json:"transactionUid"`
	BorrowedDate    time.Time `json:"borrowedDate"`
	DueDate         time.Time `json:"dueDate"`
	MemberID        string    `json:"memberId"`
	MemberName      string    `json:"memberName"`
	AccessionNumber string    `json:"accessionNumber"`
	Title           string    `json:"title"`
}

type ReturnResult struct {
	Transaction *models.BorrowingTransaction
	Fine        *models.Fine
	DaysOverdue int
}

// Service implements the circulation workflow: eligibility lookups, the
// borrow and return transitions, and reconciliation of fines that failed to
// write after a committed return.
type Service struct {
	store   *store.Store
	pending *queue.Queue
}

func New(s *store.Store) *Service {
	return &Service{
		store:   s,
		pending: queue.New(),
	}
}

// LookupMemberForBorrowing resolves a member id to borrowing eligibility
// data. Empty or unknown ids resolve to nil rather than an error.
func (s *Service) LookupMemberForBorrowing(memberID string) (*MemberBorrowingInfo, error) {
	if memberID == "" {
		return nil, nil
	}

	member, err := s.store.FindMember(memberID)
	if errors.Is(err, store.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	current, err := s.store.CountOpenBorrowings(member.ID)
	if err != nil {
		return nil, err
	}

	return &MemberBorrowingInfo{
		ID:                  member.ID,
		MemberID:            member.MemberID,
		FullName:            member.FullName,
		Email:               member.Email,
		Status:              member.Status,
		MaxBooksAllowed:     member.MaxBooksAllowed,
		BorrowingPeriodDays: member.BorrowingPeriodDays,
		CurrentBorrowings:   current,
	}, nil
}

// LookupBookCopyForBorrowing resolves a copy by its accession number,
// enriched with the parent title. Empty or unknown accession numbers
// resolve to nil.
func (s *Service) LookupBookCopyForBorrowing(accessionNumber string) (*BookCopyBorrowingInfo, error) {
	if accessionNumber == "" {
		return nil, nil
	}

	copy, err := s.store.FindBookCopyByAccession(accessionNumber)
	if errors.Is(err, store.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	return &BookCopyBorrowingInfo{
		ID:              copy.ID,
		AccessionNumber: copy.AccessionNumber,
		Status:          copy.Status,
		Location:        copy.Location,
		Title:           copy.Book.Title,
		Author:          copy.Book.Author,
		ISBN:            copy.Book.ISBN,
	}, nil
}

// LookupBorrowingForReturn resolves the single open transaction for the copy
// with the given accession number, or nil if the copy is unknown or not
// currently checked out.
func (s *Service) LookupBorrowingForReturn(accessionNumber string) (*BorrowingReturnInfo, error) {
	if accessionNumber == "" {
		return nil, nil
	}

	copy, err := s.store.FindBookCopyByAccession(accessionNumber)
	if errors.Is(err, store.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	tx, err := s.store.FindOpenBorrowingByCopy(copy.ID)
	if errors.Is(err, store.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	return &BorrowingReturnInfo{
		TransactionUid:  tx.TransactionUid,
		BorrowedDate:    tx.BorrowedDate,
		DueDate:         tx.DueDate,
		MemberID:        tx.Member.MemberID,
		MemberName:      tx.Member.FullName,
		AccessionNumber: copy.AccessionNumber,
		Title:           copy.Book.Title,
	}, nil
}

// ProcessBookBorrowing checks the member out with the copy. Eligibility is
// validated here, and the final claim on the copy is conditional, so two
// simultaneous borrow attempts against the same copy cannot both succeed.
// The due date comes from the member's privilege snapshot, not the live
// policy table.
func (s *Service) ProcessBookBorrowing(memberID, accessionNumber string) (*models.BorrowingTransaction, error) {
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

	current, err := s.store.CountOpenBorrowings(member.ID)
	if err != nil {
		return nil, err
	}
	if current >= member.MaxBooksAllowed {
		return nil, ErrBorrowingLimitReached
	}

	copy, err := s.store.FindBookCopyByAccession(accessionNumber)
	if errors.Is(err, store.ErrNotFound) {
		return nil, ErrCopyNotFound
	}
	if err != nil {
		return nil, err
	}
	if copy.Status != models.CopyAvailable {
		return nil, ErrCopyNotAvailable
	}

	today := time.Now()
	dueDate := today.AddDate(0, 0, member.BorrowingPeriodDays)

	tx, err := s.store.BorrowCopy(member.ID, copy.ID, today, dueDate)
	if errors.Is(err, store.ErrConflict) {
		return nil, ErrCopyNotAvailable
	}
	if err != nil {
		return nil, err
	}
	return tx, nil
}

// ProcessBookReturn checks the copy back in, closing the open transaction
// and creating an overdue fine when the return is late. The close and the
// copy release commit together; the fine does not. A failed fine write is
// parked for reconciliation instead of failing the already committed return.
func (s *Service) ProcessBookReturn(accessionNumber string) (*ReturnResult, error) {
	copy, err := s.store.FindBookCopyByAccession(accessionNumber)
	if errors.Is(err, store.ErrNotFound) {
		return nil, ErrCopyNotFound
	}
	if err != nil {
		return nil, err
	}

	open, err := s.store.FindOpenBorrowingByCopy(copy.ID)
	if errors.Is(err, store.ErrNotFound) {
		return nil, ErrNoOpenBorrowing
	}
	if err != nil {
		return nil, err
	}

	today := time.Now()
	closed, err := s.store.ReturnCopy(open.ID, copy.ID, today)
	if errors.Is(err, store.ErrConflict) {
		return nil, ErrNoOpenBorrowing
	}
	if err != nil {
		return nil, err
	}

	result := &ReturnResult{
		Transaction: closed,
		DaysOverdue: DaysOverdue(open.DueDate, today),
	}

	if result.DaysOverdue > 0 {
		amount := float64(result.DaysOverdue) * open.Member.FineRatePerDay
		reason := fmt.Sprintf("Overdue by %d days", result.DaysOverdue)

		fine, err := s.store.InsertFine(open.MemberID, &open.ID, amount, reason)
		if err != nil {
			// The return is committed; park the fine for reconciliation.
			log.Printf("Failed to create fine for transaction %s: %v", open.TransactionUid, err)
			s.pending.Enqueue(&queue.PendingFine{
				MemberID:      open.MemberID,
				TransactionID: open.ID,
				Amount:        amount,
				Reason:        reason,
				RetryAt:       time.Now(),
				MaxRetries:    5,
			})
		} else {
			result.Fine = fine
		}
	}

	return result, nil
}

// ReconcileFines retries every parked fine that is due for another attempt
// and reports how many were written.
func (s *Service) ReconcileFines() int {
	written := 0
	for {
		pf := s.pending.Dequeue()
		if pf == nil {
			return written
		}

		txID := pf.TransactionID
		_, err := s.store.InsertFine(pf.MemberID, &txID, pf.Amount, pf.Reason)
		if err == nil {
			written++
			continue
		}

		pf.RetryCount++
		if pf.RetryCount >= pf.MaxRetries {
			log.Printf("Dropping fine for member %d after %d attempts: %v", pf.MemberID, pf.RetryCount, err)
			continue
		}
		pf.RetryAt = time.Now().Add(time.Duration(pf.RetryCount) * 30 * time.Second)
		s.pending.Enqueue(pf)
	}
}

// PendingFineCount reports how many fines are awaiting reconciliation.
func (s *Service) PendingFineCount() int {
	return s.pending.Size()
}

// PendingFines snapshots the fines awaiting reconciliation for operator
// inspection.
func (s *Service) PendingFines() []*queue.PendingFine {
	return s.pending.Items()
}

// ListOverdue returns every open transaction past its due date.
func (s *Service) ListOverdue() ([]models.BorrowingTransaction, error) {
	return s.store.ListOverdueBorrowings(time.Now())
}

// DaysOverdue counts whole calendar days between the due date and today,
// comparing dates with the time of day stripped. Never negative.
func DaysOverdue(dueDate, today time.Time) int {
	due := midnight(dueDate)
	now := midnight(today)
	if !now.After(due) {
		return 0
	}
	return int(math.Ceil(now.Sub(due).Hours() / 24))
}

func midnight(t time.Time) time.Time {
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, t.Location())
}
