package csvcard

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseTable(t *testing.T) {
	data := []byte("会社名,姓,名,部署名\nアクメ株式会社,山田,太郎,営業部\n,,,\nベータ商事,佐藤,花子\n")

	table, err := ParseTable(data)
	require.NoError(t, err)

	assert.Equal(t, []string{"会社名", "姓", "名", "部署名"}, table.Headers)
	require.Len(t, table.Rows, 2, "all-empty row should be dropped")
	assert.Equal(t, "アクメ株式会社", table.Rows[0]["会社名"])
	assert.Equal(t, "営業部", table.Rows[0]["部署名"])
	assert.Equal(t, "", table.Rows[1]["部署名"], "short row padded")
}

func TestParseTableUTF8BOM(t *testing.T) {
	data := append([]byte{0xEF, 0xBB, 0xBF}, []byte("会社名,姓\nアクメ,山田\n")...)

	table, err := ParseTable(data)
	require.NoError(t, err)
	assert.Equal(t, "会社名", table.Headers[0], "BOM must not stick to the first header")
}

func TestParseTableUTF16LE(t *testing.T) {
	// "姓,名\n山,田\n" encoded as UTF-16 LE with BOM.
	src := "姓,名\n山,田\n"
	data := []byte{0xFF, 0xFE}
	for _, r := range src {
		data = append(data, byte(r), byte(r>>8))
	}

	table, err := ParseTable(data)
	require.NoError(t, err)
	assert.Equal(t, []string{"姓", "名"}, table.Headers)
	require.Len(t, table.Rows, 1)
	assert.Equal(t, "山", table.Rows[0]["姓"])
}

func TestParseTableEmpty(t *testing.T) {
	_, err := ParseTable(nil)
	assert.Error(t, err)
}

func TestParseTableTrimsCells(t *testing.T) {
	table, err := ParseTable([]byte("会社名 , 姓\n アクメ , 山田 \n"))
	require.NoError(t, err)
	assert.Equal(t, []string{"会社名", "姓"}, table.Headers)
	assert.Equal(t, "アクメ", table.Rows[0]["会社名"])
}

func TestTagHeaders(t *testing.T) {
	headers := []string{"会社名", "展示会2024", "姓", "名", "重要顧客", "FAX", ""}
	assert.Equal(t, []string{"展示会2024", "重要顧客"}, TagHeaders(headers))
}

func TestStandardFieldSynonyms(t *testing.T) {
	tests := []struct {
		header string
		field  Field
	}{
		{"Fax", FieldFax},
		{"FAX", FieldFax},
		{"携帯電話", FieldMobile},
		{"携帯", FieldMobile},
		{"URL", FieldURL},
		{"ホームページ", FieldURL},
		{"名刺交換日", FieldExchangeDate},
		{"交換日", FieldExchangeDate},
		{"e-mail", FieldEmail},
		{"email", FieldEmail},
		{"メール", FieldEmail},
	}
	for _, tt := range tests {
		f, ok := StandardField(tt.header)
		require.True(t, ok, tt.header)
		assert.Equal(t, tt.field, f, tt.header)
	}

	// Matching is exact: unknown case or width variants are tag columns.
	for _, h := range []string{"fax", "Email", "url", "tel会社"} {
		_, ok := StandardField(h)
		assert.False(t, ok, h)
	}
}
