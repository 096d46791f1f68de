package store

import (
	"encoding/json"
	"time"

	"github.com/rotisserie/eris"

	"github.com/cocorobi/cardpool/internal/model"
)

// contactColumns is the column order shared by every card read and write.
var contactColumns = []string{
	"name", "company", "department", "position", "last_name", "first_name",
	"email", "postal_code", "address", "company_phone", "department_phone",
	"direct_phone", "fax", "mobile", "url", "phone", "exchange_date",
	"exchanged_on", "raw_data",
}

// contactArgs renders a contact into driver arguments in contactColumns
// order. Empty strings become NULL here, nowhere else.
func contactArgs(c *model.Contact) ([]any, error) {
	raw, err := json.Marshal(c.RawData)
	if err != nil {
		return nil, eris.Wrap(err, "store: marshal raw data")
	}
	return []any{
		nullif(c.Name), nullif(c.Company), nullif(c.Department), nullif(c.Position),
		nullif(c.LastName), nullif(c.FirstName), nullif(c.Email), nullif(c.PostalCode),
		nullif(c.Address), nullif(c.CompanyPhone), nullif(c.DepartmentPhone),
		nullif(c.DirectPhone), nullif(c.Fax), nullif(c.Mobile), nullif(c.URL),
		nullif(c.Phone), nullif(c.ExchangeDate), c.ExchangedOn, raw,
	}, nil
}

func nullif(s string) any {
	if s == "" {
		return nil
	}
	return s
}

func str(p *string) string {
	if p == nil {
		return ""
	}
	return *p
}

// contactScan collects nullable column values before conversion back into a
// Contact. Works with both pgx and database/sql scanning.
type contactScan struct {
	name, company, department, position, lastName, firstName *string
	email, postalCode, address                               *string
	companyPhone, departmentPhone, directPhone               *string
	fax, mobile, url, phone, exchangeDate                    *string
	exchangedOn                                              *time.Time
	rawData                                                  []byte
}

func (cs *contactScan) dests() []any {
	return []any{
		&cs.name, &cs.company, &cs.department, &cs.position, &cs.lastName,
		&cs.firstName, &cs.email, &cs.postalCode, &cs.address, &cs.companyPhone,
		&cs.departmentPhone, &cs.directPhone, &cs.fax, &cs.mobile, &cs.url,
		&cs.phone, &cs.exchangeDate, &cs.exchangedOn, &cs.rawData,
	}
}

func (cs *contactScan) contact() (model.Contact, error) {
	c := model.Contact{
		Name:            str(cs.name),
		Company:         str(cs.company),
		Department:      str(cs.department),
		Position:        str(cs.position),
		LastName:        str(cs.lastName),
		FirstName:       str(cs.firstName),
		Email:           str(cs.email),
		PostalCode:      str(cs.postalCode),
		Address:         str(cs.address),
		CompanyPhone:    str(cs.companyPhone),
		DepartmentPhone: str(cs.departmentPhone),
		DirectPhone:     str(cs.directPhone),
		Fax:             str(cs.fax),
		Mobile:          str(cs.mobile),
		URL:             str(cs.url),
		Phone:           str(cs.phone),
		ExchangeDate:    str(cs.exchangeDate),
		ExchangedOn:     cs.exchangedOn,
	}
	if len(cs.rawData) > 0 {
		if err := json.Unmarshal(cs.rawData, &c.RawData); err != nil {
			return model.Contact{}, eris.Wrap(err, "store: unmarshal raw data")
		}
	}
	return c, nil
}
