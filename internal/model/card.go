package model

import (
	"regexp"
	"strings"
	"time"
)

// CardAction classifies what the duplicate resolver decided for one record.
type CardAction string

const (
	ActionNew     CardAction = "new"
	ActionUpdated CardAction = "updated"
	ActionSkipped CardAction = "skipped"
)

// RawData carries the free-form portion of an uploaded row: the user-defined
// tag columns and a full header→value snapshot of the row. Persisted as JSON.
type RawData struct {
	MyTags    map[string]string `json:"myTags"`
	AllFields map[string]string `json:"allFields"`
}

// Contact holds the canonical business-card fields shared by private and
// shared records. Empty strings mean "absent"; the store layer converts them
// to SQL NULL on write.
type Contact struct {
	Name            string     `json:"name"`
	Company         string     `json:"company"`
	Department      string     `json:"department"`
	Position        string     `json:"position"`
	LastName        string     `json:"last_name"`
	FirstName       string     `json:"first_name"`
	Email           string     `json:"email"`
	PostalCode      string     `json:"postal_code"`
	Address         string     `json:"address"`
	CompanyPhone    string     `json:"company_phone"`
	DepartmentPhone string     `json:"department_phone"`
	DirectPhone     string     `json:"direct_phone"`
	Fax             string     `json:"fax"`
	Mobile          string     `json:"mobile"`
	URL             string     `json:"url"`
	Phone           string     `json:"phone"`         // resolved display phone
	ExchangeDate    string     `json:"exchange_date"` // raw cell value, trimmed
	ExchangedOn     *time.Time `json:"exchanged_on"`  // parsed exchange date, nil when unparseable
	RawData         RawData    `json:"raw_data"`
}

// DisplayName returns the assembled name, falling back to last+first.
func (c *Contact) DisplayName() string {
	if c.Name != "" {
		return c.Name
	}
	return strings.TrimSpace(c.LastName + " " + c.FirstName)
}

// BusinessCard is one record in a contributor's private store.
type BusinessCard struct {
	ID          string `json:"id"`
	SupporterID string `json:"supporter_id"`
	Contact
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// SharedCard is one record in the cross-user shared pool. Records are never
// hard-deleted; IsActive=false removes them from matching and counting.
type SharedCard struct {
	ID             string `json:"id"`
	ContributorID  string `json:"contributor_id"`    // supporter who first shared it
	SharedByUserID string `json:"shared_by_user_id"` // auth user who first shared it
	Contact
	IsActive  bool      `json:"is_active"`
	SharedAt  time.Time `json:"shared_at"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// ContributionType describes how a user contributed to a shared card.
type ContributionType string

const ContributionOriginal ContributionType = "original"

// ContributionData is free-form metadata about one contribution.
type ContributionData struct {
	Source      string    `json:"source"`
	UploadedAt  time.Time `json:"upload_date"`
	RecordIndex int       `json:"record_index"`
}

// Contribution links a shared card to one contributing user. A shared card
// may accumulate contributions from several users.
type Contribution struct {
	ID                     string           `json:"id"`
	SharedCardID           string           `json:"shared_card_id"`
	ContributorUserID      string           `json:"contributor_user_id"`
	ContributorSupporterID string           `json:"contributor_supporter_id"`
	Type                   ContributionType `json:"contribution_type"`
	Data                   ContributionData `json:"contribution_data"`
	CreatedAt              time.Time        `json:"created_at"`
}

// DuplicateDetail records the resolver's decision for one input record.
type DuplicateDetail struct {
	Name    string     `json:"name"`
	Company string     `json:"company"`
	Email   string     `json:"email"`
	Reason  string     `json:"reason"`
	Action  CardAction `json:"action"`
}

// DuplicateInfo summarizes one resolver pass over a batch.
type DuplicateInfo struct {
	TotalProcessed    int               `json:"total_processed"`
	NewRecords        int               `json:"new_records"`
	UpdatedRecords    int               `json:"updated_records"`
	DuplicatesSkipped int               `json:"duplicates_skipped"`
	Details           []DuplicateDetail `json:"duplicate_details"`
}

// exchangeDatePattern accepts YYYY-MM-DD and YYYY/MM/DD with 1-2 digit
// month/day. Anything else is left unparsed.
var exchangeDatePattern = regexp.MustCompile(`^\d{4}[-/]\d{1,2}[-/]\d{1,2}$`)

// ParseExchangeDate parses a business-card exchange date. Returns nil for
// absent or unrecognized values; it never fails.
func ParseExchangeDate(s string) *time.Time {
	s = strings.TrimSpace(s)
	if !exchangeDatePattern.MatchString(s) {
		return nil
	}
	t, err := time.Parse("2006-1-2", strings.ReplaceAll(s, "/", "-"))
	if err != nil {
		return nil
	}
	t = t.UTC()
	return &t
}
