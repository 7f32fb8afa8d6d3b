package models

// User is the minimal identity record kept next to the session token.
type User struct {
	Username string `json:"username"`
	Nickname string `json:"nickname,omitempty"`
	Email    string `json:"email,omitempty"`
}
