package schema

import (
	"errors"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
)

// ErrEmptyRow is returned when a row carries no first name, last name or
// license number. Header re-reads and blank trailing lines end up here.
var ErrEmptyRow = errors.New("row has no identity fields")

// GeneratedLicensePrefix marks synthesized license numbers.
const GeneratedLicensePrefix = "GENERATED_"

// dateLayouts are tried in order for date-only columns.
var dateLayouts = []string{
	"2006-01-02",
	"2006/01/02",
	"2006-1-2",
	"2006/1/2",
	"01/02/2006",
	"1/2/2006",
	"01-02-2006",
	"20060102",
	"Jan 2, 2006",
	"January 2, 2006",
	"02 Jan 2006",
	"2006-01-02T15:04:05",
	time.RFC3339,
}

// dateTimeLayouts are tried in order for the CREATED column, before falling
// back to dateLayouts. Hours parse with or without a leading zero; months
// and days need the unpadded variants.
var dateTimeLayouts = []string{
	"2006/01/02 15:04:05",
	"2006/1/2 15:04:05",
	"2006-01-02 15:04:05",
	"2006-1-2 15:04:05",
	"2006-01-02T15:04:05",
	"01/02/2006 15:04:05",
	"1/2/2006 15:04:05",
	"01/02/2006 3:04:05 PM",
	"1/2/2006 3:04:05 PM",
	"2006/1/2 15:04",
	"1/2/2006 15:04",
	time.RFC3339Nano,
}

// TransformOptions configures a Transformer.
type TransformOptions struct {
	// DefaultCountry fills COUNTRY when the scanner left it blank.
	DefaultCountry string

	// RequireLicense synthesizes a placeholder license number when DRV LC NO
	// is blank.
	RequireLicense bool

	// Location interprets CREATED timestamps that carry no offset
	// (default: time.Local).
	Location *time.Location

	// Now returns the processing instant (default: time.Now).
	Now func() time.Time

	// NewToken returns a random token for placeholder licenses
	// (default: first 8 characters of a random UUID).
	NewToken func() string
}

// Transformer maps scanner rows to canonical customer records.
// It has no side effects and is safe for concurrent use.
type Transformer struct {
	opts TransformOptions
}

// NewTransformer creates a Transformer, filling unset options with defaults.
func NewTransformer(opts TransformOptions) *Transformer {
	if opts.Location == nil {
		opts.Location = time.Local
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	if opts.NewToken == nil {
		opts.NewToken = func() string {
			return uuid.NewString()[:8]
		}
	}
	return &Transformer{opts: opts}
}

// Transform converts a row into a Customer. It returns ErrEmptyRow when the
// row has no identity fields; no other error is possible because per-field
// parse failures degrade to absence.
func (t *Transformer) Transform(row Row) (*Customer, error) {
	first := text(row.Get(ColFirstName))
	last := text(row.Get(ColLastName))
	license := text(row.Get(ColLicenseNo))
	if first == nil && last == nil && license == nil {
		return nil, ErrEmptyRow
	}

	now := t.opts.Now()

	c := &Customer{
		FirstName:            first,
		LastName:             last,
		LastNameAlt:          text(row.Get(ColLastNameAlt)),
		Birthdate:            parseDate(row.Get(ColBirthdate)),
		Age:                  parseAge(row.Get(ColAge)),
		FullAddress:          text(row.Get(ColFullAddress)),
		City:                 text(row.Get(ColCity)),
		State:                text(row.Get(ColState)),
		PostalCode:           text(row.Get(ColPostalCode)),
		Country:              text(row.Get(ColCountry)),
		Phone:                text(row.Get(ColPhone)),
		LicenseNo:            license,
		LicenseIssuedOn:      parseDate(row.Get(ColIssuedOn)),
		LicenseExpiresOn:     parseDate(row.Get(ColExpiresOn)),
		InsuranceID:          text(row.Get(ColInsuranceID)),
		InsuranceCompanyCode: text(row.Get(ColInsuranceCo)),
		InsuranceMemberNo:    text(row.Get(ColInsuranceMbr)),
		UserField1:           text(row.Get(ColUser1)),
		UserField2:           text(row.Get(ColUser2)),
		Notes:                text(row.Get(ColNotes)),
		SyncedAt:             now.UTC(),
	}

	if c.Country == nil {
		c.Country = text(t.opts.DefaultCountry)
	}

	if ts, ok := parseScannerTime(row.Get(ColCreated), t.opts.Location); ok {
		c.ScannerCreatedAt = ts.UTC()
	} else {
		c.ScannerCreatedAt = now.UTC()
		c.ScannerTimeFallback = true
		c.ScannerTimeRaw = StripAnnotation(row.Get(ColCreated))
	}

	if c.LicenseNo == nil && t.opts.RequireLicense {
		generated := GeneratedLicensePrefix + t.opts.NewToken()
		c.LicenseNo = &generated
		c.LicenseGenerated = true
	}

	return c, nil
}

// text trims s and returns nil when nothing is left.
func text(s string) *string {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil
	}
	return &s
}

func parseAge(s string) *int {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil
	}
	n, err := strconv.Atoi(s)
	if err != nil {
		return nil
	}
	return &n
}

func parseDate(s string) *Date {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil
	}
	for _, layout := range dateLayouts {
		if ts, err := time.Parse(layout, s); err == nil {
			d := DateOf(ts)
			return &d
		}
	}
	return nil
}

// StripAnnotation removes a trailing parenthetical such as "(Thu Jul 10)"
// that the scanner appends to CREATED.
func StripAnnotation(s string) string {
	if i := strings.Index(s, "("); i >= 0 {
		s = s[:i]
	}
	return strings.TrimSpace(s)
}

func parseScannerTime(s string, loc *time.Location) (time.Time, bool) {
	s = StripAnnotation(s)
	if s == "" {
		return time.Time{}, false
	}
	for _, layout := range dateTimeLayouts {
		if ts, err := time.ParseInLocation(layout, s, loc); err == nil {
			return ts, true
		}
	}
	for _, layout := range dateLayouts {
		if ts, err := time.ParseInLocation(layout, s, loc); err == nil {
			return ts, true
		}
	}
	return time.Time{}, false
}
