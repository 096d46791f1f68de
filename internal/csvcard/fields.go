package csvcard

// Field names a canonical business-card attribute.
type Field string

const (
	FieldCompany         Field = "company"
	FieldDepartment      Field = "department"
	FieldPosition        Field = "position"
	FieldLastName        Field = "last_name"
	FieldFirstName       Field = "first_name"
	FieldEmail           Field = "email"
	FieldPostalCode      Field = "postal_code"
	FieldAddress         Field = "address"
	FieldCompanyPhone    Field = "company_phone"
	FieldDepartmentPhone Field = "department_phone"
	FieldDirectPhone     Field = "direct_phone"
	FieldFax             Field = "fax"
	FieldMobile          Field = "mobile"
	FieldURL             Field = "url"
	FieldExchangeDate    Field = "exchange_date"
)

// headerFields maps recognized header labels to canonical fields. Matching is
// exact: no case folding, no width normalization. A header absent from this
// map is a user-defined tag column.
var headerFields = map[string]Field{
	"会社名":    FieldCompany,
	"部署名":    FieldDepartment,
	"役職":     FieldPosition,
	"姓":      FieldLastName,
	"名":      FieldFirstName,
	"e-mail": FieldEmail,
	"email":  FieldEmail,
	"メール":    FieldEmail,
	"郵便番号":   FieldPostalCode,
	"住所":     FieldAddress,
	"TEL会社":  FieldCompanyPhone,
	"TEL部門":  FieldDepartmentPhone,
	"TEL直通":  FieldDirectPhone,
	"Fax":    FieldFax,
	"FAX":    FieldFax,
	"携帯電話":   FieldMobile,
	"携帯":     FieldMobile,
	"URL":    FieldURL,
	"ホームページ": FieldURL,
	"名刺交換日":  FieldExchangeDate,
	"交換日":    FieldExchangeDate,
}

// StandardField resolves a header label to its canonical field.
func StandardField(header string) (Field, bool) {
	f, ok := headerFields[header]
	return f, ok
}

// TagHeaders returns the headers that are not standard fields, in input
// order. These are the user's own tag columns.
func TagHeaders(headers []string) []string {
	var tags []string
	for _, h := range headers {
		if h == "" {
			continue
		}
		if _, ok := headerFields[h]; !ok {
			tags = append(tags, h)
		}
	}
	return tags
}
