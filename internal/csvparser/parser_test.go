package csvparser

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseLeadRows(t *testing.T) {
	csv := `email,first_name,last_name,phone,country,offer,utm_campaign
john@example.com,John,Doe,+15550001,us,crypto-pro,summer
jane@example.com,Jane,Roe,+15550002,CA,forex-max,winter
`
	rows, err := ParseLeadRows(strings.NewReader(csv), 0)
	require.NoError(t, err)
	require.Len(t, rows, 2)

	assert.Equal(t, "john@example.com", rows[0].Email)
	assert.Equal(t, "John", rows[0].FirstName)
	assert.Equal(t, "Doe", rows[0].LastName)
	assert.Equal(t, "US", rows[0].Country)
	assert.Equal(t, "crypto-pro", rows[0].Offer)
	assert.Equal(t, map[string]string{"utm_campaign": "summer"}, rows[0].Fields)

	assert.Equal(t, "CA", rows[1].Country)
}

func TestParseLeadRowsHeaderCaseInsensitive(t *testing.T) {
	csv := "Email,First_Name\na@b.com,Alice\n"
	rows, err := ParseLeadRows(strings.NewReader(csv), 0)
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.Equal(t, "a@b.com", rows[0].Email)
	assert.Equal(t, "Alice", rows[0].FirstName)
}

func TestParseLeadRowsSkipsBlankEmails(t *testing.T) {
	csv := "email,country\n,US\na@b.com,DE\n"
	rows, err := ParseLeadRows(strings.NewReader(csv), 0)
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.Equal(t, "a@b.com", rows[0].Email)
}

func TestParseLeadRowsSourceDate(t *testing.T) {
	csv := "email,source,source_date\na@b.com,affiliate-7,2025-05-01\n"
	rows, err := ParseLeadRows(strings.NewReader(csv), 0)
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.Equal(t, "affiliate-7", rows[0].Source)
	require.NotNil(t, rows[0].SourceDate)
	assert.Equal(t, "2025-05-01", rows[0].SourceDate.Format("2006-01-02"))
}

func TestParseLeadRowsMaxRows(t *testing.T) {
	csv := "email\na@b.com\nb@b.com\nc@b.com\n"
	rows, err := ParseLeadRows(strings.NewReader(csv), 2)
	require.NoError(t, err)
	assert.Len(t, rows, 2)
}

func TestParseLeadRowsErrors(t *testing.T) {
	_, err := ParseLeadRows(strings.NewReader("first_name\nJohn\n"), 0)
	assert.Error(t, err, "missing email column")

	_, err = ParseLeadRows(strings.NewReader("email\n"), 0)
	assert.Error(t, err, "no data rows")
}
