package session

import "slices"

// Role names issued by the backend.
const (
	RoleAdmin   = "ROLE_ADMIN"
	RoleTeacher = "ROLE_TEACHER"
	RoleStudent = "ROLE_STUDENT"
)

// Landing paths, one per role.
const (
	AdminLandingPath   = "/admin"
	TeacherLandingPath = "/teacher"
	StudentLandingPath = "/student"
)

// UserProfile is the cached identity of the signed-in user.
type UserProfile struct {
	ID          int64    `json:"id"`
	Username    string   `json:"username"`
	DisplayName string   `json:"displayName"`
	Roles       []string `json:"roles"`
}

// HasRole reports whether the profile carries role.
func (u *UserProfile) HasRole(role string) bool {
	if u == nil {
		return false
	}
	return slices.Contains(u.Roles, role)
}

func (u *UserProfile) clone() *UserProfile {
	if u == nil {
		return nil
	}
	cp := *u
	cp.Roles = slices.Clone(u.Roles)
	return &cp
}

// LandingPathFor picks the most privileged landing path for the given
// profile: admin, then teacher, then the student default.
func LandingPathFor(u *UserProfile) string {
	switch {
	case u.HasRole(RoleAdmin):
		return AdminLandingPath
	case u.HasRole(RoleTeacher):
		return TeacherLandingPath
	default:
		return StudentLandingPath
	}
}

// LoginResponse is the payload of a successful login.
type LoginResponse struct {
	Token     string      `json:"token"`
	TokenType string      `json:"tokenType"`
	ExpiresAt string      `json:"expiresAt"`
	User      UserProfile `json:"user"`
}

// CurrentUserResponse is the payload of the identity endpoint.
type CurrentUserResponse struct {
	// User is nil when the backend answered without a profile.
	User *UserProfile `json:"user"`
}

type loginRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}
