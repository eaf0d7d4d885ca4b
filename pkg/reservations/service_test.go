package reservations

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

func setupService(t *testing.T) (*Service, *store.Store) {
	t.Helper()
	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{})
	if err != nil {
		t.Fatalf("failed to connect test database: %v", err)
	}
	if err := db.AutoMigrate(models.All()...); err != nil {
		t.Fatalf("failed to migrate test database: %v", err)
	}
	st := store.New(db)
	return New(st), st
}

func seedMember(t *testing.T, st *store.Store, memberID string, status models.MemberStatus) *models.Member {
	t.Helper()
	p := models.PrivilegesForType(models.TypeStudent)
	m := &models.Member{
		MemberID:            memberID,
		FullName:            "Test Member",
		Email:               memberID + "@example.com",
		Type:                models.TypeStudent,
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

func seedBook(t *testing.T, st *store.Store) *models.Book {
	t.Helper()
	b := &models.Book{
		BookUid: uuid.New().String(),
		Title:   "Domain-Driven Design",
		Author:  "Eric Evans",
	}
	assert.NoError(t, st.CreateBook(b))
	return b
}

func TestCreateReservation(t *testing.T) {
	svc, st := setupService(t)
	seedMember(t, st, "M-001", models.MemberActive)
	book := seedBook(t, st)

	r, err := svc.Create("M-001", book.BookUid)
	assert.NoError(t, err)
	assert.Equal(t, models.ReservationPending, r.Status)

	wantExpiry := time.Now().AddDate(0, 0, 7).Format("2006-01-02")
	assert.Equal(t, wantExpiry, r.ExpirationDate.Format("2006-01-02"))
}

func TestCreateReservationRejectsInactiveMember(t *testing.T) {
	svc, st := setupService(t)
	seedMember(t, st, "M-EXP", models.MemberExpired)
	book := seedBook(t, st)

	_, err := svc.Create("M-EXP", book.BookUid)
	assert.ErrorIs(t, err, ErrMemberNotActive)

	_, err = svc.Create("M-404", book.BookUid)
	assert.ErrorIs(t, err, ErrMemberNotFound)
}

func TestCreateReservationRejectsDuplicateHold(t *testing.T) {
	svc, st := setupService(t)
	seedMember(t, st, "M-001", models.MemberActive)
	book := seedBook(t, st)

	_, err := svc.Create("M-001", book.BookUid)
	assert.NoError(t, err)

	_, err = svc.Create("M-001", book.BookUid)
	assert.ErrorIs(t, err, ErrDuplicateHold)
}

func TestCreateReservationAllowedAfterCancel(t *testing.T) {
	svc, st := setupService(t)
	seedMember(t, st, "M-001", models.MemberActive)
	book := seedBook(t, st)

	first, err := svc.Create("M-001", book.BookUid)
	assert.NoError(t, err)

	_, err = svc.Cancel(first.ReservationUid)
	assert.NoError(t, err)

	_, err = svc.Create("M-001", book.BookUid)
	assert.NoError(t, err)
}

func TestFulfillAndCancelAreTerminal(t *testing.T) {
	svc, st := setupService(t)
	seedMember(t, st, "M-001", models.MemberActive)
	book := seedBook(t, st)

	r, err := svc.Create("M-001", book.BookUid)
	assert.NoError(t, err)

	fulfilled, err := svc.Fulfill(r.ReservationUid)
	assert.NoError(t, err)
	assert.Equal(t, models.ReservationFulfilled, fulfilled.Status)

	_, err = svc.Cancel(r.ReservationUid)
	assert.ErrorIs(t, err, ErrReservationClosed)

	_, err = svc.Fulfill("no-such-reservation")
	assert.ErrorIs(t, err, ErrReservationUnknown)
}

func TestPendingCount(t *testing.T) {
	svc, st := setupService(t)
	seedMember(t, st, "M-001", models.MemberActive)
	seedMember(t, st, "M-002", models.MemberActive)
	book := seedBook(t, st)

	_, err := svc.Create("M-001", book.BookUid)
	assert.NoError(t, err)
	r2, err := svc.Create("M-002", book.BookUid)
	assert.NoError(t, err)

	count, err := svc.PendingCount()
	assert.NoError(t, err)
	assert.Equal(t, 2, count)

	_, err = svc.Cancel(r2.ReservationUid)
	assert.NoError(t, err)

	count, err = svc.PendingCount()
	assert.NoError(t, err)
	assert.Equal(t, 1, count)
}
