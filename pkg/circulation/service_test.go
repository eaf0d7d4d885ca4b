package circulation

import (
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"

	"github.com/virtuoso-beep/library-compass/pkg/models"
	"github.com/virtuoso-beep/library-compass/pkg/store"
)

func setupService(t *testing.T) (*Service, *store.Store, *gorm.DB) {
	t.Helper()
	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{})
	if err != nil {
		t.Fatalf("failed to connect test database: %v", err)
	}
	if err := db.AutoMigrate(models.All()...); err != nil {
		t.Fatalf("failed to migrate test database: %v", err)
	}
	st := store.New(db)
	return New(st), st, db
}

func seedMember(t *testing.T, st *store.Store, memberID string, memberType models.MemberType, status models.MemberStatus) *models.Member {
	t.Helper()
	p := models.PrivilegesForType(memberType)
	m := &models.Member{
		MemberID:            memberID,
		FullName:            "Test Member",
		Email:               memberID + "@example.com",
		Type:                memberType,
		Status:              status,
		MaxBooksAllowed:     p.MaxBooks,
		BorrowingPeriodDays: p.BorrowingDays,
		RenewalLimit:        p.RenewalLimit,
		FineRatePerDay:      p.FineRatePerDay,
		RegistrationDate:    time.Now(),
	}
	assert.NoError(t, st.CreateMember(m))
	return m
}

func seedCopy(t *testing.T, st *store.Store, accession string) *models.BookCopy {
	t.Helper()
	book := &models.Book{
		BookUid: uuid.New().String(),
		Title:   "Clean Architecture",
		Author:  "Robert C. Martin",
		ISBN:    "978-0134494166",
	}
	assert.NoError(t, st.CreateBook(book))

	c := &models.BookCopy{
		AccessionNumber: accession,
		BookID:          book.ID,
		Status:          models.CopyAvailable,
	}
	assert.NoError(t, st.CreateBookCopy(c))
	return c
}

func TestLookupMemberForBorrowingSoftNil(t *testing.T) {
	svc, _, _ := setupService(t)

	info, err := svc.LookupMemberForBorrowing("")
	assert.NoError(t, err)
	assert.Nil(t, info)

	info, err = svc.LookupMemberForBorrowing("M-404")
	assert.NoError(t, err)
	assert.Nil(t, info)
}

func TestLookupMemberForBorrowingJoinsOpenCount(t *testing.T) {
	svc, st, _ := setupService(t)
	seedMember(t, st, "M-001", models.TypeStudent, models.MemberActive)

	info, err := svc.LookupMemberForBorrowing("M-001")
	assert.NoError(t, err)
	assert.Equal(t, 5, info.MaxBooksAllowed)
	assert.Equal(t, 14, info.BorrowingPeriodDays)
	assert.Equal(t, 0, info.CurrentBorrowings)

	_, err = svc.ProcessBookBorrowing("M-001", seedCopy(t, st, "ACC-001").AccessionNumber)
	assert.NoError(t, err)

	// Repeated lookups without intervening writes agree.
	first, err := svc.LookupMemberForBorrowing("M-001")
	assert.NoError(t, err)
	second, err := svc.LookupMemberForBorrowing("M-001")
	assert.NoError(t, err)
	assert.Equal(t, 1, first.CurrentBorrowings)
	assert.Equal(t, first.CurrentBorrowings, second.CurrentBorrowings)
}

func TestLookupBookCopyForBorrowing(t *testing.T) {
	svc, st, _ := setupService(t)
	seedCopy(t, st, "ACC-001")

	info, err := svc.LookupBookCopyForBorrowing("ACC-001")
	assert.NoError(t, err)
	assert.Equal(t, models.CopyAvailable, info.Status)
	assert.Equal(t, "Clean Architecture", info.Title)
	assert.Equal(t, "978-0134494166", info.ISBN)

	info, err = svc.LookupBookCopyForBorrowing("ACC-404")
	assert.NoError(t, err)
	assert.Nil(t, info)
}

func TestLookupBorrowingForReturn(t *testing.T) {
	svc, st, _ := setupService(t)
	seedMember(t, st, "M-001", models.TypeStudent, models.MemberActive)
	seedCopy(t, st, "ACC-001")

	// Not checked out yet.
	info, err := svc.LookupBorrowingForReturn("ACC-001")
	assert.NoError(t, err)
	assert.Nil(t, info)

	_, err = svc.ProcessBookBorrowing("M-001", "ACC-001")
	assert.NoError(t, err)

	info, err = svc.LookupBorrowingForReturn("ACC-001")
	assert.NoError(t, err)
	assert.Equal(t, "M-001", info.MemberID)
	assert.Equal(t, "Clean Architecture", info.Title)
}

func TestProcessBookBorrowingValidation(t *testing.T) {
	svc, st, _ := setupService(t)
	seedMember(t, st, "M-SUSP", models.TypeStudent, models.MemberSuspended)
	seedCopy(t, st, "ACC-001")

	_, err := svc.ProcessBookBorrowing("M-404", "ACC-001")
	assert.ErrorIs(t, err, ErrMemberNotFound)

	_, err = svc.ProcessBookBorrowing("M-SUSP", "ACC-001")
	assert.ErrorIs(t, err, ErrMemberNotActive)

	seedMember(t, st, "M-001", models.TypeStudent, models.MemberActive)
	_, err = svc.ProcessBookBorrowing("M-001", "ACC-404")
	assert.ErrorIs(t, err, ErrCopyNotFound)
}

func TestProcessBookBorrowingEnforcesLimit(t *testing.T) {
	svc, st, _ := setupService(t)
	seedMember(t, st, "G-001", models.TypeGuest, models.MemberActive)

	for i, acc := range []string{"ACC-001", "ACC-002"} {
		seedCopy(t, st, acc)
		_, err := svc.ProcessBookBorrowing("G-001", acc)
		assert.NoError(t, err, "borrow %d", i+1)
	}

	seedCopy(t, st, "ACC-003")
	_, err := svc.ProcessBookBorrowing("G-001", "ACC-003")
	assert.ErrorIs(t, err, ErrBorrowingLimitReached)
}

func TestProcessBookBorrowingDueDateFromSnapshot(t *testing.T) {
	svc, st, _ := setupService(t)
	seedMember(t, st, "F-001", models.TypeFaculty, models.MemberActive)
	seedCopy(t, st, "ACC-001")

	tx, err := svc.ProcessBookBorrowing("F-001", "ACC-001")
	assert.NoError(t, err)

	wantDue := time.Now().AddDate(0, 0, 30).Format("2006-01-02")
	assert.Equal(t, wantDue, tx.DueDate.Format("2006-01-02"))

	copy, err := st.FindBookCopyByAccession("ACC-001")
	assert.NoError(t, err)
	assert.Equal(t, models.CopyBorrowed, copy.Status)

	_, err = svc.ProcessBookBorrowing("F-001", "ACC-001")
	assert.ErrorIs(t, err, ErrCopyNotAvailable)
}

func TestProcessBookReturnOnTime(t *testing.T) {
	svc, st, _ := setupService(t)
	seedMember(t, st, "M-001", models.TypeStudent, models.MemberActive)
	seedCopy(t, st, "ACC-001")

	_, err := svc.ProcessBookBorrowing("M-001", "ACC-001")
	assert.NoError(t, err)

	result, err := svc.ProcessBookReturn("ACC-001")
	assert.NoError(t, err)
	assert.Equal(t, 0, result.DaysOverdue)
	assert.Nil(t, result.Fine)
	assert.NotNil(t, result.Transaction.ReturnDate)

	copy, err := st.FindBookCopyByAccession("ACC-001")
	assert.NoError(t, err)
	assert.Equal(t, models.CopyAvailable, copy.Status)

	// Second return of the same copy is a conflicting state, not a re-close.
	_, err = svc.ProcessBookReturn("ACC-001")
	assert.ErrorIs(t, err, ErrNoOpenBorrowing)
}

func TestProcessBookReturnCreatesOverdueFine(t *testing.T) {
	svc, st, _ := setupService(t)
	member := seedMember(t, st, "M-001", models.TypeStudent, models.MemberActive)
	copy := seedCopy(t, st, "ACC-001")

	// Checked out 19 days ago with a 14-day period: 5 days late.
	_, err := st.BorrowCopy(member.ID, copy.ID, time.Now().AddDate(0, 0, -19), time.Now().AddDate(0, 0, -5))
	assert.NoError(t, err)

	result, err := svc.ProcessBookReturn("ACC-001")
	assert.NoError(t, err)
	assert.Equal(t, 5, result.DaysOverdue)
	assert.NotNil(t, result.Fine)
	assert.Equal(t, 25.0, result.Fine.Amount)
	assert.Equal(t, "Overdue by 5 days", result.Fine.Reason)
	assert.Equal(t, models.FineUnpaid, result.Fine.Status)
}

func TestProcessBookReturnParksFailedFine(t *testing.T) {
	svc, st, db := setupService(t)
	member := seedMember(t, st, "M-001", models.TypeStudent, models.MemberActive)
	copy := seedCopy(t, st, "ACC-001")

	_, err := st.BorrowCopy(member.ID, copy.ID, time.Now().AddDate(0, 0, -19), time.Now().AddDate(0, 0, -5))
	assert.NoError(t, err)

	// Make the fine insert fail without touching the return path.
	assert.NoError(t, db.Migrator().DropTable(&models.Fine{}))

	result, err := svc.ProcessBookReturn("ACC-001")
	assert.NoError(t, err)
	assert.Equal(t, 5, result.DaysOverdue)
	assert.Nil(t, result.Fine)
	assert.Equal(t, 1, svc.PendingFineCount())

	assert.NoError(t, db.AutoMigrate(&models.Fine{}))

	written := svc.ReconcileFines()
	assert.Equal(t, 1, written)
	assert.Equal(t, 0, svc.PendingFineCount())

	fines, err := st.ListUnpaidFines()
	assert.NoError(t, err)
	assert.Len(t, fines, 1)
	assert.Equal(t, 25.0, fines[0].Amount)
}

func TestDaysOverdue(t *testing.T) {
	date := func(s string) time.Time {
		d, err := time.Parse("2006-01-02", s)
		assert.NoError(t, err)
		return d
	}

	assert.Equal(t, 5, DaysOverdue(date("2024-01-15"), date("2024-01-20")))
	assert.Equal(t, 0, DaysOverdue(date("2024-01-15"), date("2024-01-15")))
	assert.Equal(t, 0, DaysOverdue(date("2024-01-15"), date("2024-01-10")))

	// Time of day is stripped before comparing.
	lateEvening := time.Date(2024, 1, 16, 23, 59, 0, 0, time.UTC)
	assert.Equal(t, 1, DaysOverdue(date("2024-01-15"), lateEvening))
	sameDayEvening := time.Date(2024, 1, 15, 23, 59, 0, 0, time.UTC)
	assert.Equal(t, 0, DaysOverdue(date("2024-01-15"), sameDayEvening))
}
