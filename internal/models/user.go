package models

// User is a credential record keyed by username.
type User struct {
	Username      string `json:"-"`
	Password      string `json:"password"`
	Email         string `json:"email"`
	EmailPassword string `json:"email_password"`
}

// HasMailCredentials reports whether the user can send mail.
func (u *User) HasMailCredentials() bool {
	return u != nil && u.Email != "" && u.EmailPassword != ""
}
