package schema

import (
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var fixedNow = time.Date(2025, 7, 11, 9, 30, 0, 0, time.UTC)

func newTestTransformer(requireLicense bool) *Transformer {
	tokens := 0
	return NewTransformer(TransformOptions{
		DefaultCountry: "USA",
		RequireLicense: requireLicense,
		Location:       time.UTC,
		Now:            func() time.Time { return fixedNow },
		NewToken: func() string {
			tokens++
			return strings.Repeat(string(rune('a'+tokens-1)), 8)
		},
	})
}

func row(values map[string]string) Row {
	record := make([]string, len(Columns))
	for i, c := range Columns {
		record[i] = values[c]
	}
	return NewRow(Columns, record)
}

// scannerSample is the row layout produced by the real device.
func scannerSample() Row {
	return row(map[string]string{
		ColFirstName:   "JOSEPH EARL",
		ColLastName:    "SPERBER",
		ColFullAddress: "12572 208TH TRCE",
		ColCity:        "OBRIEN",
		ColState:       "FL",
		ColPostalCode:  "32071-2236",
		ColIssuedOn:    "2017-12-01",
		ColLicenseNo:   "S161485824200",
		ColExpiresOn:   "2025-11-20",
		ColLastNameAlt: "SPERBER, JOSEPH EARL",
		ColCreated:     "2025/07/10 11:20:07 (Thu Jul 10)",
		ColBirthdate:   "1982-11-20",
		ColAge:         "42",
		ColNotes:       "[DAR]: E    [DAS]: A   ",
	})
}

func TestTransform_ScannerSample(t *testing.T) {
	c, err := newTestTransformer(false).Transform(scannerSample())
	require.NoError(t, err)

	assert.Equal(t, "JOSEPH EARL", Deref(c.FirstName))
	assert.Equal(t, "SPERBER", Deref(c.LastName))
	assert.Equal(t, "SPERBER, JOSEPH EARL", Deref(c.LastNameAlt))
	assert.Equal(t, "S161485824200", c.License())
	assert.False(t, c.LicenseGenerated)
	assert.Equal(t, "32071-2236", Deref(c.PostalCode))
	assert.Equal(t, "USA", Deref(c.Country), "blank COUNTRY falls back to default")
	assert.Nil(t, c.Phone)
	assert.Nil(t, c.InsuranceID)
	assert.Equal(t, "[DAR]: E    [DAS]: A", Deref(c.Notes))

	require.NotNil(t, c.Age)
	assert.Equal(t, 42, *c.Age)
	require.NotNil(t, c.Birthdate)
	assert.Equal(t, "1982-11-20", c.Birthdate.String())
	require.NotNil(t, c.LicenseIssuedOn)
	assert.Equal(t, "2017-12-01", c.LicenseIssuedOn.String())
	require.NotNil(t, c.LicenseExpiresOn)
	assert.Equal(t, "2025-11-20", c.LicenseExpiresOn.String())

	assert.Equal(t, time.Date(2025, 7, 10, 11, 20, 7, 0, time.UTC), c.ScannerCreatedAt)
	assert.Equal(t, fixedNow, c.SyncedAt)
}

func TestTransform_EmptyRow(t *testing.T) {
	tests := []struct {
		name   string
		values map[string]string
	}{
		{name: "all blank", values: map[string]string{}},
		{name: "whitespace identity", values: map[string]string{
			ColFirstName: "  ", ColLastName: "\t", ColLicenseNo: " ",
		}},
		{name: "non-identity fields only", values: map[string]string{
			ColCity: "OBRIEN", ColCreated: "2025/07/10 11:20:07",
		}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c, err := newTestTransformer(true).Transform(row(tt.values))
			assert.Nil(t, c)
			assert.True(t, errors.Is(err, ErrEmptyRow))
		})
	}
}

func TestTransform_TrimsAndBlanksBecomeNil(t *testing.T) {
	c, err := newTestTransformer(false).Transform(row(map[string]string{
		ColFirstName: "  JOHN  ",
		ColLastName:  "DOE",
		ColCity:      "   ",
		ColCountry:   " CAN ",
		ColUser1:     "",
	}))
	require.NoError(t, err)

	assert.Equal(t, "JOHN", Deref(c.FirstName))
	assert.Nil(t, c.City)
	assert.Nil(t, c.UserField1)
	assert.Equal(t, "CAN", Deref(c.Country))
}

func TestTransform_InvalidFieldsBecomeAbsent(t *testing.T) {
	c, err := newTestTransformer(false).Transform(row(map[string]string{
		ColFirstName: "JOHN",
		ColBirthdate: "not a date",
		ColIssuedOn:  "2017-13-45",
		ColAge:       "forty",
	}))
	require.NoError(t, err)

	assert.Nil(t, c.Birthdate)
	assert.Nil(t, c.LicenseIssuedOn)
	assert.Nil(t, c.Age)
}

func TestTransform_DateLayouts(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"1982-11-20", "1982-11-20"},
		{"1982/11/20", "1982-11-20"},
		{"11/20/1982", "1982-11-20"},
		{"1/2/1990", "1990-01-02"},
		{"11-20-1982", "1982-11-20"},
		{"19821120", "1982-11-20"},
		{"Nov 20, 1982", "1982-11-20"},
		{"2017-12-01T00:00:00Z", "2017-12-01"},
		{"2017-12-01T00:00:00", "2017-12-01"},
		{"1990-1-2", "1990-01-02"},
		{"1990/1/2", "1990-01-02"},
	}

	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			d := parseDate(tt.in)
			require.NotNil(t, d)
			assert.Equal(t, tt.want, d.String())
		})
	}
}

func TestTransform_ScannerTimestamp(t *testing.T) {
	tests := []struct {
		name    string
		created string
		want    time.Time
	}{
		{
			name:    "annotated scanner format",
			created: "2025/07/10 11:20:07 (Thu Jul 10)",
			want:    time.Date(2025, 7, 10, 11, 20, 7, 0, time.UTC),
		},
		{
			name:    "plain iso",
			created: "2025-07-10 08:00:00",
			want:    time.Date(2025, 7, 10, 8, 0, 0, 0, time.UTC),
		},
		{
			name:    "rfc3339 with offset",
			created: "2025-07-10T11:20:07-04:00",
			want:    time.Date(2025, 7, 10, 15, 20, 7, 0, time.UTC),
		},
		{
			name:    "unpadded year first",
			created: "2025/7/10 9:05:07 (Thu Jul 10)",
			want:    time.Date(2025, 7, 10, 9, 5, 7, 0, time.UTC),
		},
		{
			name:    "unpadded dashes",
			created: "2025-7-10 9:05:07",
			want:    time.Date(2025, 7, 10, 9, 5, 7, 0, time.UTC),
		},
		{
			name:    "unpadded month first",
			created: "7/10/2025 11:20:07",
			want:    time.Date(2025, 7, 10, 11, 20, 7, 0, time.UTC),
		},
		{
			name:    "unpadded 12-hour clock",
			created: "7/10/2025 1:20:07 PM",
			want:    time.Date(2025, 7, 10, 13, 20, 7, 0, time.UTC),
		},
		{
			name:    "date only",
			created: "2025-07-10",
			want:    time.Date(2025, 7, 10, 0, 0, 0, 0, time.UTC),
		},
		{
			name:    "unparseable falls back to processing instant",
			created: "yesterday-ish (Thu)",
			want:    fixedNow,
		},
		{
			name:    "missing falls back to processing instant",
			created: "",
			want:    fixedNow,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c, err := newTestTransformer(false).Transform(row(map[string]string{
				ColLastName: "DOE",
				ColCreated:  tt.created,
			}))
			require.NoError(t, err)
			assert.Equal(t, tt.want, c.ScannerCreatedAt)
		})
	}
}

func TestTransform_ScannerTimestampFallback(t *testing.T) {
	tr := newTestTransformer(false)

	c, err := tr.Transform(row(map[string]string{
		ColLastName: "DOE",
		ColCreated:  "yesterday-ish (Thu)",
	}))
	require.NoError(t, err)
	assert.True(t, c.ScannerTimeFallback)
	assert.Equal(t, "yesterday-ish", c.ScannerTimeRaw)

	c, err = tr.Transform(row(map[string]string{
		ColLastName: "DOE",
		ColCreated:  "2025/7/10 9:05:07 (Thu Jul 10)",
	}))
	require.NoError(t, err)
	assert.False(t, c.ScannerTimeFallback)
	assert.Empty(t, c.ScannerTimeRaw)
}

func TestTransform_ScannerTimestampUsesLocation(t *testing.T) {
	ny, err := time.LoadLocation("America/New_York")
	if err != nil {
		t.Skipf("tzdata unavailable: %v", err)
	}
	tr := NewTransformer(TransformOptions{Location: ny})

	c, err := tr.Transform(row(map[string]string{
		ColFirstName: "JOHN",
		ColCreated:   "2025/07/10 11:20:07 (Thu Jul 10)",
	}))
	require.NoError(t, err)
	assert.Equal(t, time.Date(2025, 7, 10, 15, 20, 7, 0, time.UTC), c.ScannerCreatedAt)
}

func TestTransform_LicenseSynthesis(t *testing.T) {
	t.Run("required and absent", func(t *testing.T) {
		tr := newTestTransformer(true)
		first, err := tr.Transform(row(map[string]string{ColFirstName: "JANE"}))
		require.NoError(t, err)
		second, err := tr.Transform(row(map[string]string{ColFirstName: "JANE"}))
		require.NoError(t, err)

		assert.True(t, strings.HasPrefix(first.License(), GeneratedLicensePrefix))
		assert.True(t, first.LicenseGenerated)
		assert.NotEqual(t, first.License(), second.License(), "each invocation gets a new token")
	})

	t.Run("required and present", func(t *testing.T) {
		c, err := newTestTransformer(true).Transform(row(map[string]string{
			ColFirstName: "JANE", ColLicenseNo: "D123",
		}))
		require.NoError(t, err)
		assert.Equal(t, "D123", c.License())
		assert.False(t, c.LicenseGenerated)
	})

	t.Run("not required", func(t *testing.T) {
		c, err := newTestTransformer(false).Transform(row(map[string]string{ColFirstName: "JANE"}))
		require.NoError(t, err)
		assert.Nil(t, c.LicenseNo)
	})

	t.Run("default token generator", func(t *testing.T) {
		tr := NewTransformer(TransformOptions{RequireLicense: true})
		c, err := tr.Transform(row(map[string]string{ColFirstName: "JANE"}))
		require.NoError(t, err)
		assert.Len(t, c.License(), len(GeneratedLicensePrefix)+8)
	})
}

func TestNewRow_PadsShortRecords(t *testing.T) {
	r := NewRow([]string{ColFirstName, ColLastName, ColCity}, []string{"JOHN"})
	assert.Equal(t, "JOHN", r.Get(ColFirstName))
	assert.Equal(t, "", r.Get(ColCity))
	assert.Equal(t, "", r.Get("UNKNOWN"))
}

func TestHeaderLine(t *testing.T) {
	line := HeaderLine()
	assert.True(t, strings.HasPrefix(line, `"FIRST NAME","LAST NAME","INS.ID NO"`))
	assert.True(t, strings.HasSuffix(line, `"AGE","NOTES"`+"\n"))
	assert.Equal(t, len(Columns)-1, strings.Count(line, ","))
}

func TestCustomer_Validate(t *testing.T) {
	name := "JOHN"
	blank := ""
	padded := " DOE"

	tests := []struct {
		name    string
		c       Customer
		wantErr bool
	}{
		{"valid", Customer{FirstName: &name, ScannerCreatedAt: fixedNow}, false},
		{"no identity", Customer{ScannerCreatedAt: fixedNow}, true},
		{"empty string", Customer{FirstName: &name, City: &blank, ScannerCreatedAt: fixedNow}, true},
		{"untrimmed", Customer{FirstName: &name, LastName: &padded, ScannerCreatedAt: fixedNow}, true},
		{"missing timestamp", Customer{FirstName: &name}, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.c.Validate()
			if tt.wantErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}
