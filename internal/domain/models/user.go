package models

// User represents an identity record.
type User struct {
	ID       int64
	Email    string
	PassHash []byte
	PassSalt []byte
	Roles    []string
}
