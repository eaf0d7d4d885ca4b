package members

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/virtuoso-beep/library-compass/pkg/models"
	"github.com/virtuoso-beep/library-compass/pkg/store"
)

var ErrEmailTaken = errors.New("a member with this email already exists")

type RegisterRequest struct {
	FullName string            `json:"fullName" binding:"required"`
	Email    string            `json:"email" binding:"required,email"`
	Type     models.MemberType `json:"memberType" binding:"required"`
}

type Service struct {
	store *store.Store
}

func New(s *store.Store) *Service {
	return &Service{store: s}
}

// Register creates a member with a privilege snapshot taken from the policy
// table at registration time. Later policy changes never touch the snapshot.
func (s *Service) Register(req RegisterRequest) (*models.Member, error) {
	email := strings.ToLower(strings.TrimSpace(req.Email))

	_, err := s.store.FindMemberByEmail(email)
	if err == nil {
		return nil, ErrEmailTaken
	}
	if !errors.Is(err, store.ErrNotFound) {
		return nil, err
	}

	p := models.PrivilegesForType(req.Type)
	member := &models.Member{
		MemberID:            newMemberID(),
		FullName:            req.FullName,
		Email:               email,
		Type:                req.Type,
		Status:              models.MemberActive,
		MaxBooksAllowed:     p.MaxBooks,
		BorrowingPeriodDays: p.BorrowingDays,
		RenewalLimit:        p.RenewalLimit,
		FineRatePerDay:      p.FineRatePerDay,
		RegistrationDate:    time.Now(),
	}
	if err := s.store.CreateMember(member); err != nil {
		return nil, err
	}
	return member, nil
}

func (s *Service) GetByMemberID(memberID string) (*models.Member, error) {
	return s.store.FindMember(memberID)
}

func (s *Service) Search(query string) ([]models.Member, error) {
	return s.store.SearchMembers(strings.TrimSpace(query))
}

// newMemberID mints the human-facing member code printed on library cards.
func newMemberID() string {
	return fmt.Sprintf("LIB-%s", strings.ToUpper(uuid.New().String()[:8]))
}
