package model

import "time"

// TagSetting is a per-user consent flag for one tag: may contacts carrying
// this tag be used for sales outreach. Tags without a stored row default to
// allowed.
type TagSetting struct {
	UserID     string    `json:"user_id"`
	TagName    string    `json:"tag_name"`
	AllowSales bool      `json:"allow_sales"`
	UpdatedAt  time.Time `json:"updated_at"`
}
