package dedupe

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/cocorobi/cardpool/internal/model"
)

func date(y int, m time.Month, d int) *time.Time {
	t := time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
	return &t
}

func TestResolveNoKey(t *testing.T) {
	ix := NewIndex([]Existing{{ID: "e1", Email: "a@example.com"}})

	// No email, no name+company pair: the record can never match anything.
	d := ix.Resolve(&model.Contact{Phone: "090-1111-2222"})
	assert.Equal(t, model.ActionNew, d.Action)

	d = ix.Resolve(&model.Contact{Name: "山田 太郎"})
	assert.Equal(t, model.ActionNew, d.Action, "name without company has no key")
}

func TestResolveEmailMatch(t *testing.T) {
	ix := NewIndex([]Existing{{ID: "e1", Email: "A@Example.com", ExchangedOn: date(2026, 1, 1)}})

	d := ix.Resolve(&model.Contact{Email: "  a@example.COM ", ExchangedOn: date(2026, 6, 1)})
	assert.Equal(t, model.ActionUpdated, d.Action)
	assert.Equal(t, "e1", d.ExistingID)
}

func TestResolveNameCompanyFallback(t *testing.T) {
	ix := NewIndex([]Existing{{ID: "e1", Name: "山田 太郎", Company: "アクメ", ExchangedOn: nil}})

	// Email present but unknown: falls through to the name+company tier.
	d := ix.Resolve(&model.Contact{
		Name:        "山田 太郎",
		Company:     "アクメ",
		Email:       "new@example.com",
		ExchangedOn: date(2026, 2, 1),
	})
	assert.Equal(t, model.ActionUpdated, d.Action)
	assert.Equal(t, "e1", d.ExistingID)
}

func TestRecencyPolicy(t *testing.T) {
	tests := []struct {
		name     string
		newDate  *time.Time
		oldDate  *time.Time
		expected model.CardAction
	}{
		{"newer wins", date(2026, 6, 1), date(2026, 1, 1), model.ActionUpdated},
		{"equal skips", date(2026, 1, 1), date(2026, 1, 1), model.ActionSkipped},
		{"older skips", date(2025, 1, 1), date(2026, 1, 1), model.ActionSkipped},
		{"dated beats undated", date(2026, 1, 1), nil, model.ActionUpdated},
		{"undated never overwrites dated", nil, date(2026, 1, 1), model.ActionSkipped},
		{"both undated skips", nil, nil, model.ActionSkipped},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ix := NewIndex([]Existing{{ID: "e1", Email: "a@example.com", ExchangedOn: tt.oldDate}})
			d := ix.Resolve(&model.Contact{Email: "a@example.com", ExchangedOn: tt.newDate})
			assert.Equal(t, tt.expected, d.Action)
			assert.Equal(t, "e1", d.ExistingID)
		})
	}
}

func TestResolveIdenticalBatchTwice(t *testing.T) {
	contacts := []model.Contact{
		{Email: "a@example.com", ExchangedOn: date(2026, 1, 1)},
		{Name: "山田 太郎", Company: "アクメ"},
		{Phone: "090-0000-0000"},
	}

	// First pass: empty scope, everything is new.
	ix := NewIndex(nil)
	for i := range contacts {
		assert.Equal(t, model.ActionNew, ix.Resolve(&contacts[i]).Action)
	}

	// Second pass with the first batch persisted: keyed records skip, the
	// keyless one stays new forever.
	existing := []Existing{
		{ID: "e1", Email: "a@example.com", ExchangedOn: date(2026, 1, 1)},
		{ID: "e2", Name: "山田 太郎", Company: "アクメ"},
		{ID: "e3"},
	}
	ix = NewIndex(existing)
	assert.Equal(t, model.ActionSkipped, ix.Resolve(&contacts[0]).Action)
	assert.Equal(t, model.ActionSkipped, ix.Resolve(&contacts[1]).Action)
	assert.Equal(t, model.ActionNew, ix.Resolve(&contacts[2]).Action)
}
