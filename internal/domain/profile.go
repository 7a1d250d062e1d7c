package domain

import "time"

// ProfileType separates business books from personal ones.
type ProfileType string

const (
	ProfileBusiness ProfileType = "BUSINESS"
	ProfilePersonal ProfileType = "PERSONAL"
)

// BusinessProfile is a ledger partition owned by one user.
type BusinessProfile struct {
	ID        string
	UserID    string
	Name      string
	Type      ProfileType
	Active    bool
	CreatedAt time.Time
}

// User carries the pointer to the profile new uploads default to.
type User struct {
	ID               string
	CurrentProfileID *string
}

// FindActiveProfile returns the first active profile of the given type.
func FindActiveProfile(profiles []BusinessProfile, t ProfileType) (BusinessProfile, bool) {
	for _, p := range profiles {
		if p.Active && p.Type == t {
			return p, true
		}
	}
	return BusinessProfile{}, false
}
