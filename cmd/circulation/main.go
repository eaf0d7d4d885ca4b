package main

import (
	"errors"
	"log"
	"net/http"
	"os"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/virtuoso-beep/library-compass/pkg/circuitbreaker"
	"github.com/virtuoso-beep/library-compass/pkg/circulation"
	"github.com/virtuoso-beep/library-compass/pkg/database"
	"github.com/virtuoso-beep/library-compass/pkg/fines"
	"github.com/virtuoso-beep/library-compass/pkg/members"
	"github.com/virtuoso-beep/library-compass/pkg/models"
	"github.com/virtuoso-beep/library-compass/pkg/reservations"
	"github.com/virtuoso-beep/library-compass/pkg/store"
)

const dateFormat = "2006-01-02"

// server wires every service explicitly; there are no package-level
// singletons.
type server struct {
	store        *store.Store
	circulation  *circulation.Service
	fines        *fines.Service
	members      *members.Service
	reservations *reservations.Service
}

func main() {
	log.Println("Starting circulation service...")

	db, err := database.Init(database.ConfigFromEnv())
	if err != nil {
		log.Fatalf("Database init failed: %v", err)
	}

	st := store.New(db)
	srv := &server{
		store:        st,
		circulation:  circulation.New(st),
		fines:        fines.New(st),
		members:      members.New(st),
		reservations: reservations.New(st),
	}

	srv.seedTestData()

	engine := gin.Default()
	srv.registerRoutes(engine)

	port := getEnv("PORT", "8080")
	log.Printf("Circulation service starting on :%s", port)
	if err := engine.Run(":" + port); err != nil {
		log.Fatalf("Server failed: %v", err)
	}
}

func (s *server) registerRoutes(engine *gin.Engine) {
	engine.GET("/api/v1/members", s.searchMembers)
	engine.POST("/api/v1/members", s.registerMember)
	engine.GET("/api/v1/members/:memberId", s.getMember)
	engine.GET("/api/v1/members/:memberId/borrowing-info", s.getMemberBorrowingInfo)
	engine.GET("/api/v1/members/:memberId/reservations", s.getMemberReservations)

	engine.GET("/api/v1/books", s.getBooks)
	engine.GET("/api/v1/books/:bookUid/copies", s.getBookCopies)
	engine.GET("/api/v1/copies/:accessionNumber/borrowing-info", s.getCopyBorrowingInfo)
	engine.GET("/api/v1/copies/:accessionNumber/return-info", s.getReturnInfo)
	engine.POST("/api/v1/copies/:accessionNumber/status", s.updateCopyStatus)

	engine.POST("/api/v1/borrowings", s.borrowBook)
	engine.POST("/api/v1/borrowings/return", s.returnBook)
	engine.GET("/api/v1/borrowings/overdue", s.getOverdueBorrowings)

	engine.GET("/api/v1/fines/unpaid", s.getUnpaidFines)
	engine.GET("/api/v1/fines/unpaid/total", s.getTotalUnpaidFines)
	engine.POST("/api/v1/fines/:fineUid/pay", s.payFine)
	engine.POST("/api/v1/fines/:fineUid/waive", s.waiveFine)

	engine.POST("/api/v1/reservations", s.createReservation)
	engine.POST("/api/v1/reservations/:reservationUid/cancel", s.cancelReservation)
	engine.POST("/api/v1/reservations/:reservationUid/fulfill", s.fulfillReservation)
	engine.GET("/api/v1/reservations/pending/count", s.getPendingReservationsCount)

	engine.GET("/manage/fines/pending", s.getPendingFines)
	engine.POST("/manage/fines/reconcile", s.reconcileFines)
	engine.GET("/manage/health", s.healthCheck)
}

// --- members ---

func (s *server) registerMember(c *gin.Context) {
	var request members.RegisterRequest
	if err := c.ShouldBindJSON(&request); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request", "details": err.Error()})
		return
	}

	member, err := s.members.Register(request)
	if errors.Is(err, members.ErrEmailTaken) {
		c.JSON(http.StatusConflict, gin.H{"error": err.Error()})
		return
	}
	if err != nil {
		s.storeError(c, err)
		return
	}
	c.JSON(http.StatusCreated, memberJSON(member))
}

func (s *server) searchMembers(c *gin.Context) {
	found, err := s.members.Search(c.Query("query"))
	if err != nil {
		s.storeError(c, err)
		return
	}
	items := make([]gin.H, len(found))
	for i := range found {
		items[i] = memberJSON(&found[i])
	}
	c.JSON(http.StatusOK, items)
}

func (s *server) getMember(c *gin.Context) {
	member, err := s.members.GetByMemberID(c.Param("memberId"))
	if errors.Is(err, store.ErrNotFound) {
		c.JSON(http.StatusNotFound, gin.H{"error": "Member not found"})
		return
	}
	if err != nil {
		s.storeError(c, err)
		return
	}
	c.JSON(http.StatusOK, memberJSON(member))
}

func (s *server) getMemberBorrowingInfo(c *gin.Context) {
	info, err := s.circulation.LookupMemberForBorrowing(c.Param("memberId"))
	if err != nil {
		s.storeError(c, err)
		return
	}
	if info == nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "Member not found"})
		return
	}
	c.JSON(http.StatusOK, info)
}

// --- catalog ---

func (s *server) getBooks(c *gin.Context) {
	pageStr := c.DefaultQuery("page", "1")
	sizeStr := c.DefaultQuery("size", "10")

	page, err := strconv.Atoi(pageStr)
	if err != nil || page < 1 {
		page = 1
	}
	size, err := strconv.Atoi(sizeStr)
	if err != nil || size < 1 || size > 100 {
		size = 10
	}

	books, total, err := s.store.ListBooks(c.Query("query"), page, size)
	if err != nil {
		s.storeError(c, err)
		return
	}

	items := make([]gin.H, len(books))
	for i, b := range books {
		items[i] = gin.H{
			"bookUid":         b.BookUid,
			"title":           b.Title,
			"author":          b.Author,
			"isbn":            b.ISBN,
			"publicationYear": b.PublicationYear,
		}
	}
	c.JSON(http.StatusOK, gin.H{
		"page":          page,
		"pageSize":      size,
		"totalElements": total,
		"items":         items,
	})
}

func (s *server) getBookCopies(c *gin.Context) {
	book, err := s.store.FindBookByUid(c.Param("bookUid"))
	if errors.Is(err, store.ErrNotFound) {
		c.JSON(http.StatusNotFound, gin.H{"error": "Book not found"})
		return
	}
	if err != nil {
		s.storeError(c, err)
		return
	}

	copies, err := s.store.ListCopiesByBook(book.ID)
	if err != nil {
		s.storeError(c, err)
		return
	}

	items := make([]gin.H, len(copies))
	for i, copy := range copies {
		items[i] = gin.H{
			"accessionNumber": copy.AccessionNumber,
			"status":          copy.Status,
			"location":        copy.Location,
		}
	}
	c.JSON(http.StatusOK, items)
}

func (s *server) getCopyBorrowingInfo(c *gin.Context) {
	info, err := s.circulation.LookupBookCopyForBorrowing(c.Param("accessionNumber"))
	if err != nil {
		s.storeError(c, err)
		return
	}
	if info == nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "Book copy not found"})
		return
	}
	c.JSON(http.StatusOK, info)
}

// updateCopyStatus moves a copy into a maintenance state (or back to
// available). Borrowed copies are owned by the return flow and cannot be
// re-stated by hand.
func (s *server) updateCopyStatus(c *gin.Context) {
	var request struct {
		Status models.CopyStatus `json:"status" binding:"required"`
	}
	if err := c.ShouldBindJSON(&request); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request", "details": err.Error()})
		return
	}
	switch request.Status {
	case models.CopyAvailable, models.CopyLost, models.CopyDamaged, models.CopyForRepair:
	default:
		c.JSON(http.StatusBadRequest, gin.H{"error": "Status must be available, lost, damaged or for_repair"})
		return
	}

	copy, err := s.store.FindBookCopyByAccession(c.Param("accessionNumber"))
	if errors.Is(err, store.ErrNotFound) {
		c.JSON(http.StatusNotFound, gin.H{"error": "Book copy not found"})
		return
	}
	if err != nil {
		s.storeError(c, err)
		return
	}
	if copy.Status == models.CopyBorrowed {
		c.JSON(http.StatusConflict, gin.H{"error": "Copy is checked out; process the return first"})
		return
	}

	if err := s.store.UpdateCopyStatus(copy.ID, copy.Status, request.Status); err != nil {
		if errors.Is(err, store.ErrConflict) {
			c.JSON(http.StatusConflict, gin.H{"error": "Copy status changed concurrently"})
			return
		}
		s.storeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"accessionNumber": copy.AccessionNumber,
		"status":          request.Status,
	})
}

// --- circulation ---

func (s *server) getReturnInfo(c *gin.Context) {
	info, err := s.circulation.LookupBorrowingForReturn(c.Param("accessionNumber"))
	if err != nil {
		s.storeError(c, err)
		return
	}
	if info == nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "No open borrowing for this copy"})
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"transactionUid":  info.TransactionUid,
		"borrowedDate":    info.BorrowedDate.Format(dateFormat),
		"dueDate":         info.DueDate.Format(dateFormat),
		"memberId":        info.MemberID,
		"memberName":      info.MemberName,
		"accessionNumber": info.AccessionNumber,
		"title":           info.Title,
	})
}

func (s *server) borrowBook(c *gin.Context) {
	var request struct {
		MemberID        string `json:"memberId" binding:"required"`
		AccessionNumber string `json:"accessionNumber" binding:"required"`
	}
	if err := c.ShouldBindJSON(&request); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request", "details": err.Error()})
		return
	}

	tx, err := s.circulation.ProcessBookBorrowing(request.MemberID, request.AccessionNumber)
	if err != nil {
		s.circulationError(c, err)
		return
	}

	c.JSON(http.StatusCreated, gin.H{
		"transactionUid": tx.TransactionUid,
		"borrowedDate":   tx.BorrowedDate.Format(dateFormat),
		"dueDate":        tx.DueDate.Format(dateFormat),
	})
}

func (s *server) returnBook(c *gin.Context) {
	var request struct {
		AccessionNumber string `json:"accessionNumber" binding:"required"`
	}
	if err := c.ShouldBindJSON(&request); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request", "details": err.Error()})
		return
	}

	result, err := s.circulation.ProcessBookReturn(request.AccessionNumber)
	if err != nil {
		s.circulationError(c, err)
		return
	}

	response := gin.H{
		"transactionUid": result.Transaction.TransactionUid,
		"returnDate":     result.Transaction.ReturnDate.Format(dateFormat),
		"daysOverdue":    result.DaysOverdue,
	}
	if result.Fine != nil {
		response["fine"] = gin.H{
			"fineUid": result.Fine.FineUid,
			"amount":  result.Fine.Amount,
			"reason":  result.Fine.Reason,
		}
	}
	c.JSON(http.StatusOK, response)
}

func (s *server) getOverdueBorrowings(c *gin.Context) {
	overdue, err := s.circulation.ListOverdue()
	if err != nil {
		s.storeError(c, err)
		return
	}

	today := time.Now()
	items := make([]gin.H, len(overdue))
	for i, tx := range overdue {
		items[i] = gin.H{
			"transactionUid":  tx.TransactionUid,
			"memberId":        tx.Member.MemberID,
			"memberName":      tx.Member.FullName,
			"accessionNumber": tx.BookCopy.AccessionNumber,
			"title":           tx.BookCopy.Book.Title,
			"dueDate":         tx.DueDate.Format(dateFormat),
			"daysOverdue":     circulation.DaysOverdue(tx.DueDate, today),
		}
	}
	c.JSON(http.StatusOK, items)
}

// --- fines ---

func (s *server) getUnpaidFines(c *gin.Context) {
	unpaid, err := s.fines.ListUnpaid()
	if err != nil {
		s.storeError(c, err)
		return
	}
	items := make([]gin.H, len(unpaid))
	for i, f := range unpaid {
		items[i] = fineJSON(&f)
	}
	c.JSON(http.StatusOK, items)
}

func (s *server) getTotalUnpaidFines(c *gin.Context) {
	total, err := s.fines.TotalUnpaid()
	if err != nil {
		s.storeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"total": total})
}

func (s *server) payFine(c *gin.Context) {
	fine, err := s.fines.Pay(c.Param("fineUid"))
	if err != nil {
		s.fineError(c, err)
		return
	}
	c.JSON(http.StatusOK, fineJSON(fine))
}

func (s *server) waiveFine(c *gin.Context) {
	var request struct {
		Reason string `json:"reason"`
	}
	// The body is optional; an absent reason records the default.
	_ = c.ShouldBindJSON(&request)

	fine, err := s.fines.Waive(c.Param("fineUid"), request.Reason)
	if err != nil {
		s.fineError(c, err)
		return
	}
	c.JSON(http.StatusOK, fineJSON(fine))
}

func (s *server) getPendingFines(c *gin.Context) {
	pending := s.circulation.PendingFines()
	items := make([]gin.H, len(pending))
	for i, pf := range pending {
		items[i] = gin.H{
			"memberId":      pf.MemberID,
			"transactionId": pf.TransactionID,
			"amount":        pf.Amount,
			"reason":        pf.Reason,
			"retryCount":    pf.RetryCount,
			"retryAt":       pf.RetryAt.Format(time.RFC3339),
		}
	}
	c.JSON(http.StatusOK, items)
}

func (s *server) reconcileFines(c *gin.Context) {
	written := s.circulation.ReconcileFines()
	c.JSON(http.StatusOK, gin.H{
		"written": written,
		"pending": s.circulation.PendingFineCount(),
	})
}

// --- reservations ---

func (s *server) createReservation(c *gin.Context) {
	var request struct {
		MemberID string `json:"memberId" binding:"required"`
		BookUid  string `json:"bookUid" binding:"required"`
	}
	if err := c.ShouldBindJSON(&request); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request", "details": err.Error()})
		return
	}

	reservation, err := s.reservations.Create(request.MemberID, request.BookUid)
	if err != nil {
		s.reservationError(c, err)
		return
	}

	c.JSON(http.StatusCreated, gin.H{
		"reservationUid":  reservation.ReservationUid,
		"status":          reservation.Status,
		"reservationDate": reservation.ReservationDate.Format(dateFormat),
		"expirationDate":  reservation.ExpirationDate.Format(dateFormat),
	})
}

func (s *server) cancelReservation(c *gin.Context) {
	reservation, err := s.reservations.Cancel(c.Param("reservationUid"))
	if err != nil {
		s.reservationError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"reservationUid": reservation.ReservationUid,
		"status":         reservation.Status,
	})
}

func (s *server) fulfillReservation(c *gin.Context) {
	reservation, err := s.reservations.Fulfill(c.Param("reservationUid"))
	if err != nil {
		s.reservationError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"reservationUid": reservation.ReservationUid,
		"status":         reservation.Status,
	})
}

func (s *server) getMemberReservations(c *gin.Context) {
	list, err := s.reservations.ListByMember(c.Param("memberId"))
	if errors.Is(err, reservations.ErrMemberNotFound) {
		c.JSON(http.StatusNotFound, gin.H{"error": "Member not found"})
		return
	}
	if err != nil {
		s.storeError(c, err)
		return
	}

	items := make([]gin.H, len(list))
	for i, r := range list {
		items[i] = gin.H{
			"reservationUid":  r.ReservationUid,
			"status":          r.Status,
			"title":           r.Book.Title,
			"reservationDate": r.ReservationDate.Format(dateFormat),
			"expirationDate":  r.ExpirationDate.Format(dateFormat),
		}
	}
	c.JSON(http.StatusOK, items)
}

func (s *server) getPendingReservationsCount(c *gin.Context) {
	count, err := s.reservations.PendingCount()
	if err != nil {
		s.storeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"count": count})
}

// --- manage ---

func (s *server) healthCheck(c *gin.Context) {
	sqlDB, err := s.store.DB().DB()
	if err != nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{
			"status":  "DOWN",
			"details": "Database connection failed",
			"error":   err.Error(),
		})
		return
	}
	if err := sqlDB.Ping(); err != nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{
			"status":  "DOWN",
			"details": "Database ping failed",
			"error":   err.Error(),
		})
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "UP"})
}

// --- error mapping ---

func (s *server) circulationError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, circulation.ErrMemberNotFound),
		errors.Is(err, circulation.ErrCopyNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
	case errors.Is(err, circulation.ErrMemberNotActive),
		errors.Is(err, circulation.ErrBorrowingLimitReached),
		errors.Is(err, circulation.ErrCopyNotAvailable),
		errors.Is(err, circulation.ErrNoOpenBorrowing):
		c.JSON(http.StatusConflict, gin.H{"error": err.Error()})
	default:
		s.storeError(c, err)
	}
}

func (s *server) fineError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, store.ErrNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": "Fine not found"})
	case errors.Is(err, fines.ErrAlreadySettled):
		c.JSON(http.StatusConflict, gin.H{"error": err.Error()})
	default:
		s.storeError(c, err)
	}
}

func (s *server) reservationError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, reservations.ErrMemberNotFound),
		errors.Is(err, reservations.ErrBookNotFound),
		errors.Is(err, reservations.ErrReservationUnknown):
		c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
	case errors.Is(err, reservations.ErrMemberNotActive),
		errors.Is(err, reservations.ErrDuplicateHold),
		errors.Is(err, reservations.ErrReservationClosed):
		c.JSON(http.StatusConflict, gin.H{"error": err.Error()})
	default:
		s.storeError(c, err)
	}
}

func (s *server) storeError(c *gin.Context, err error) {
	if errors.Is(err, circuitbreaker.ErrOpen) {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "Persistence backend unavailable"})
		return
	}
	c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
}

func memberJSON(m *models.Member) gin.H {
	return gin.H{
		"memberId":            m.MemberID,
		"fullName":            m.FullName,
		"email":               m.Email,
		"memberType":          m.Type,
		"status":              m.Status,
		"maxBooksAllowed":     m.MaxBooksAllowed,
		"borrowingPeriodDays": m.BorrowingPeriodDays,
		"renewalLimit":        m.RenewalLimit,
		"fineRatePerDay":      m.FineRatePerDay,
		"registrationDate":    m.RegistrationDate.Format(dateFormat),
	}
}

func fineJSON(f *models.Fine) gin.H {
	h := gin.H{
		"fineUid":  f.FineUid,
		"memberId": f.Member.MemberID,
		"amount":   f.Amount,
		"reason":   f.Reason,
		"status":   f.Status,
	}
	if f.PaymentDate != nil {
		h["paymentDate"] = f.PaymentDate.Format(dateFormat)
	}
	if f.WaiverReason != "" {
		h["waiverReason"] = f.WaiverReason
	}
	return h
}

func (s *server) seedTestData() {
	if _, err := s.store.FindMember("LIB-SEED0001"); errors.Is(err, store.ErrNotFound) {
		p := models.PrivilegesForType(models.TypeFaculty)
		member := &models.Member{
			MemberID:            "LIB-SEED0001",
			FullName:            "Seed Librarian",
			Email:               "seed@library.local",
			Type:                models.TypeFaculty,
			Status:              models.MemberActive,
			MaxBooksAllowed:     p.MaxBooks,
			BorrowingPeriodDays: p.BorrowingDays,
			RenewalLimit:        p.RenewalLimit,
			FineRatePerDay:      p.FineRatePerDay,
			RegistrationDate:    time.Now(),
		}
		if err := s.store.CreateMember(member); err != nil {
			log.Printf("Failed to create seed member: %v", err)
		}
	}

	seedBooks := []struct {
		title, author, isbn, accession string
	}{
		{"The Go Programming Language", "Donovan, Kernighan", "978-0134190440", "ACC-0001"},
		{"Designing Data-Intensive Applications", "Martin Kleppmann", "978-1449373320", "ACC-0002"},
	}
	for _, sb := range seedBooks {
		if _, err := s.store.FindBookCopyByAccession(sb.accession); err == nil {
			continue
		}
		book := &models.Book{
			BookUid: uuid.New().String(),
			Title:   sb.title,
			Author:  sb.author,
			ISBN:    sb.isbn,
		}
		if err := s.store.CreateBook(book); err != nil {
			log.Printf("Failed to create seed book %q: %v", sb.title, err)
			continue
		}
		copy := &models.BookCopy{
			AccessionNumber: sb.accession,
			BookID:          book.ID,
			Status:          models.CopyAvailable,
		}
		if err := s.store.CreateBookCopy(copy); err != nil {
			log.Printf("Failed to create seed copy %s: %v", sb.accession, err)
		}
	}
	log.Println("Circulation test data seeded")
}

func getEnv(key, defaultValue string) string {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	return value
}
