package models

// Privileges is the borrowing policy for a member type. Values assigned to a
// member at registration become that member's snapshot.
type Privileges struct {
	MaxBooks       int
	BorrowingDays  int
	RenewalLimit   int
	FineRatePerDay float64
}

// PrivilegesForType maps a member type to its borrowing policy. Unknown
// types get the guest policy.
func PrivilegesForType(t MemberType) Privileges {
	switch t {
	case TypeFaculty:
		return Privileges{MaxBooks: 10, BorrowingDays: 30, RenewalLimit: 3, FineRatePerDay: 3}
	case TypeStaff:
		return Privileges{MaxBooks: 7, BorrowingDays: 21, RenewalLimit: 2, FineRatePerDay: 4}
	case TypeStudent:
		return Privileges{MaxBooks: 5, BorrowingDays: 14, RenewalLimit: 2, FineRatePerDay: 5}
	default:
		return Privileges{MaxBooks: 2, BorrowingDays: 7, RenewalLimit: 1, FineRatePerDay: 10}
	}
}
