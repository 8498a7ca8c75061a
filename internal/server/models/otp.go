package models

import "time"

// OTPPurpose tells which flow a verification code belongs to.
type OTPPurpose string

const (
	OTPPurposeSignup OTPPurpose = "signup"
	OTPPurposeReset  OTPPurpose = "reset"
)

// OTPVerification is one emailed code. HashedPassword is only set for
// signup; for reset the new password arrives with the code.
type OTPVerification struct {
	ID             string
	Email          string
	Code           string
	HashedPassword *string
	Purpose        OTPPurpose
	CreatedAt      time.Time
	ExpiresAt      time.Time
	IsUsed         bool
}
