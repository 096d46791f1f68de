package csvcard

import (
	"strings"

	"github.com/cocorobi/cardpool/internal/model"
)

// Normalize converts one parsed row into a canonical contact. Standard
// headers land on their fields, everything else becomes a tag column in
// RawData.MyTags, and the whole row is snapshotted into RawData.AllFields.
func Normalize(row map[string]string) model.Contact {
	c := model.Contact{
		RawData: model.RawData{
			MyTags:    map[string]string{},
			AllFields: map[string]string{},
		},
	}

	for header, value := range row {
		if header == "" {
			continue
		}
		c.RawData.AllFields[header] = value

		field, ok := StandardField(header)
		if !ok {
			c.RawData.MyTags[header] = value
			continue
		}
		switch field {
		case FieldCompany:
			c.Company = value
		case FieldDepartment:
			c.Department = value
		case FieldPosition:
			c.Position = value
		case FieldLastName:
			c.LastName = value
		case FieldFirstName:
			c.FirstName = value
		case FieldEmail:
			c.Email = value
		case FieldPostalCode:
			c.PostalCode = value
		case FieldAddress:
			c.Address = value
		case FieldCompanyPhone:
			c.CompanyPhone = value
		case FieldDepartmentPhone:
			c.DepartmentPhone = value
		case FieldDirectPhone:
			c.DirectPhone = value
		case FieldFax:
			c.Fax = value
		case FieldMobile:
			c.Mobile = value
		case FieldURL:
			c.URL = value
		case FieldExchangeDate:
			c.ExchangeDate = value
		}
	}

	if c.LastName != "" || c.FirstName != "" {
		c.Name = strings.TrimSpace(c.LastName + " " + c.FirstName)
	}

	// First populated phone wins, office numbers ahead of mobile.
	for _, p := range []string{c.CompanyPhone, c.DirectPhone, c.DepartmentPhone, c.Mobile} {
		if p != "" {
			c.Phone = p
			break
		}
	}

	c.ExchangedOn = model.ParseExchangeDate(c.ExchangeDate)
	return c
}
