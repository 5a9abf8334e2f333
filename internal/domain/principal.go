package domain

type Role string

const (
	RoleAdmin    Role = "admin"
	RoleEmployee Role = "employee"
)

func (r Role) Valid() bool {
	return r == RoleAdmin || r == RoleEmployee
}

// ImpersonationContext records the admin behind an impersonated principal.
// It is never nested: a principal carries at most one.
type ImpersonationContext struct {
	OriginalAdminID   string `json:"id"`
	OriginalAdminName string `json:"name"`
}

// Principal is the identity carried by a verified access token. It is rebuilt
// on every verification and must not outlive the request.
type Principal struct {
	UserID        string                `json:"id"`
	Username      string                `json:"username"`
	Role          Role                  `json:"role"`
	DisplayName   string                `json:"displayName"`
	Impersonation *ImpersonationContext `json:"-"`
}

func (p Principal) IsAdmin() bool { return p.Role == RoleAdmin }

func (p Principal) IsImpersonating() bool { return p.Impersonation != nil }

// UserRecord is the stored view of a user as returned by a UserStore.
type UserRecord struct {
	ID           string
	Username     string
	DisplayName  string
	Role         Role
	PasswordHash string
	Active       bool
}

// Principal builds a plain principal from the stored record.
func (u UserRecord) Principal() Principal {
	return Principal{
		UserID:      u.ID,
		Username:    u.Username,
		Role:        u.Role,
		DisplayName: u.DisplayName,
	}
}
