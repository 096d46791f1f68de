// Package dedupe matches incoming contact records against an existing scope
// (one contributor's private store, or the cross-user shared pool) and
// classifies each as new, update, or skip.
package dedupe

import (
	"strings"
	"time"

	"github.com/cocorobi/cardpool/internal/model"
)

// Existing is the slice of an existing record the matcher needs.
type Existing struct {
	ID          string
	Name        string
	Company     string
	Email       string
	ExchangedOn *time.Time
}

// Decision is the resolver's verdict for one incoming record.
type Decision struct {
	Action     model.CardAction
	ExistingID string // set for update and skip
	Reason     string
}

// Index holds the per-call lookup maps. Matching is two-tier: email first,
// then name+company; a record with neither key can only ever be new.
type Index struct {
	byEmail       map[string]Existing
	byNameCompany map[string]Existing
}

// NewIndex builds lookup maps from all active records in scope. Later
// records win key collisions, matching insertion order precedence.
func NewIndex(existing []Existing) *Index {
	ix := &Index{
		byEmail:       make(map[string]Existing, len(existing)),
		byNameCompany: make(map[string]Existing, len(existing)),
	}
	for _, e := range existing {
		if k := emailKey(e.Email); k != "" {
			ix.byEmail[k] = e
		}
		if k := nameCompanyKey(e.Name, e.Company); k != "" {
			ix.byNameCompany[k] = e
		}
	}
	return ix
}

// Resolve classifies one incoming contact against the index.
func (ix *Index) Resolve(c *model.Contact) Decision {
	match, reason, ok := ix.lookup(c)
	if !ok {
		return Decision{Action: model.ActionNew, Reason: "no matching record"}
	}

	newDate, oldDate := c.ExchangedOn, match.ExchangedOn
	switch {
	case newDate != nil && oldDate != nil:
		if newDate.After(*oldDate) {
			return Decision{Action: model.ActionUpdated, ExistingID: match.ID, Reason: reason + ", newer exchange date"}
		}
		if newDate.Equal(*oldDate) {
			return Decision{Action: model.ActionSkipped, ExistingID: match.ID, Reason: reason + ", same exchange date"}
		}
		return Decision{Action: model.ActionSkipped, ExistingID: match.ID, Reason: reason + ", older exchange date"}
	case newDate != nil:
		return Decision{Action: model.ActionUpdated, ExistingID: match.ID, Reason: reason + ", existing record has no exchange date"}
	case oldDate != nil:
		return Decision{Action: model.ActionSkipped, ExistingID: match.ID, Reason: reason + ", existing record has an exchange date"}
	default:
		return Decision{Action: model.ActionSkipped, ExistingID: match.ID, Reason: reason + ", no exchange dates to compare"}
	}
}

func (ix *Index) lookup(c *model.Contact) (Existing, string, bool) {
	if k := emailKey(c.Email); k != "" {
		if e, ok := ix.byEmail[k]; ok {
			return e, "email match", true
		}
	}
	if k := nameCompanyKey(c.Name, c.Company); k != "" {
		if e, ok := ix.byNameCompany[k]; ok {
			return e, "name and company match", true
		}
	}
	return Existing{}, "", false
}

func emailKey(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

// nameCompanyKey requires both parts; a record with only one can never be
// matched through this tier.
func nameCompanyKey(name, company string) string {
	name = strings.TrimSpace(name)
	company = strings.TrimSpace(company)
	if name == "" || company == "" {
		return ""
	}
	return strings.ToLower(name + "_" + company)
}
