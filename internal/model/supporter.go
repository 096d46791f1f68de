package model

import "time"

// UserStatus tracks a supporter's progress through onboarding.
type UserStatus string

const (
	StatusEmailRegistered      UserStatus = "email_registered"
	StatusBasicRegistered      UserStatus = "basic_registered"
	StatusSurveyCompleted      UserStatus = "survey_completed"
	StatusCSVUploaded          UserStatus = "csv_uploaded"
	StatusRegistrationComplete UserStatus = "registration_complete"
)

// Supporter is the per-user onboarding record. ID is the auth provider's
// user ID.
type Supporter struct {
	ID             string     `json:"id"`
	Email          string     `json:"email"`
	Name           string     `json:"name"`
	UserStatus     UserStatus `json:"user_status"`
	CSVFilename    string     `json:"csv_filename"`
	CSVUploadedAt  *time.Time `json:"csv_upload_date"`
	CSVRecordCount int        `json:"csv_record_count"`
	CSVUploaded    bool       `json:"csv_uploaded"`
	CreatedAt      time.Time  `json:"created_at"`
	UpdatedAt      time.Time  `json:"updated_at"`
}
