package schema

import (
	"database/sql/driver"
	"encoding/json"
	"fmt"
	"strings"
	"time"
)

// Scanner column names. The vocabulary is fixed by the scanner software and is
// case-sensitive.
const (
	ColFirstName    = "FIRST NAME"
	ColLastName     = "LAST NAME"
	ColInsuranceID  = "INS.ID NO"
	ColInsuranceCo  = "INS.CO"
	ColFullAddress  = "FULL ADDRESS"
	ColCity         = "CITY"
	ColState        = "STATE"
	ColPostalCode   = "CODE"
	ColCountry      = "COUNTRY"
	ColPhone        = "PHONE"
	ColIssuedOn     = "ISSUED ON"
	ColLicenseNo    = "DRV LC NO"
	ColExpiresOn    = "EXPIRES ON"
	ColInsuranceMbr = "INS.MEMBR"
	ColLastNameAlt  = "LASTNAME"
	ColCreated      = "CREATED"
	ColUser1        = "USER1"
	ColUser2        = "USER2"
	ColBirthdate    = "BIRTHDATE"
	ColAge          = "AGE"
	ColNotes        = "NOTES"
)

// Columns is the scanner header in the order the device writes it.
var Columns = []string{
	ColFirstName, ColLastName, ColInsuranceID, ColInsuranceCo, ColFullAddress,
	ColCity, ColState, ColPostalCode, ColCountry, ColPhone, ColIssuedOn,
	ColLicenseNo, ColExpiresOn, ColInsuranceMbr, ColLastNameAlt, ColCreated,
	ColUser1, ColUser2, ColBirthdate, ColAge, ColNotes,
}

// HeaderLine returns the quoted header row used when creating an empty source
// file, terminated by a newline.
func HeaderLine() string {
	quoted := make([]string, len(Columns))
	for i, c := range Columns {
		quoted[i] = `"` + c + `"`
	}
	return strings.Join(quoted, ",") + "\n"
}

// Row is one parsed data row keyed by scanner column name. Columns keeps the
// header order of the file it came from.
type Row struct {
	Columns []string
	Values  map[string]string
}

// NewRow pairs header names with record values. Missing trailing values are
// treated as empty; surplus values are dropped.
func NewRow(header, record []string) Row {
	values := make(map[string]string, len(header))
	for i, name := range header {
		if i < len(record) {
			values[name] = record[i]
		} else {
			values[name] = ""
		}
	}
	return Row{Columns: header, Values: values}
}

// Get returns the raw value for a column, or "" if the column is absent.
func (r Row) Get(column string) string {
	return r.Values[column]
}

// Customer is the canonical record produced from a scanner row.
// Optional fields are nil when absent in the source.
type Customer struct {
	// ===== Identity =====
	FirstName   *string `json:"first_name"`
	LastName    *string `json:"last_name"`
	LastNameAlt *string `json:"lastname_alt"`

	// ===== Demographics =====
	Birthdate *Date `json:"birthdate"`
	Age       *int  `json:"age"`

	// ===== Address & Contact =====
	FullAddress *string `json:"full_address"`
	City        *string `json:"city"`
	State       *string `json:"state"`
	PostalCode  *string `json:"postal_code"`
	Country     *string `json:"country"`
	Phone       *string `json:"phone"`

	// ===== License =====
	LicenseNo        *string `json:"drivers_license_no"`
	LicenseIssuedOn  *Date   `json:"license_issued_on"`
	LicenseExpiresOn *Date   `json:"license_expires_on"`

	// LicenseGenerated is true when LicenseNo is a synthesized placeholder.
	LicenseGenerated bool `json:"-"`

	// ===== Insurance =====
	InsuranceID          *string `json:"insurance_id_no"`
	InsuranceCompanyCode *string `json:"insurance_company_code"`
	InsuranceMemberNo    *string `json:"insurance_member_no"`

	// ===== Provenance =====
	ScannerCreatedAt time.Time `json:"scanner_created_at"`
	SyncedAt         time.Time `json:"synced_at"`

	// ScannerTimeFallback is true when CREATED was missing or unparseable and
	// ScannerCreatedAt holds the processing instant. ScannerTimeRaw keeps the
	// CREATED text for the fingerprint.
	ScannerTimeFallback bool   `json:"-"`
	ScannerTimeRaw      string `json:"-"`

	// ===== Free text =====
	UserField1 *string `json:"user_field_1"`
	UserField2 *string `json:"user_field_2"`
	Notes      *string `json:"notes"`
}

// DisplayName returns "first last" for logging, skipping absent parts.
func (c *Customer) DisplayName() string {
	parts := make([]string, 0, 2)
	if c.FirstName != nil {
		parts = append(parts, *c.FirstName)
	}
	if c.LastName != nil {
		parts = append(parts, *c.LastName)
	}
	return strings.Join(parts, " ")
}

// License returns the license number or "" when absent.
func (c *Customer) License() string {
	return Deref(c.LicenseNo)
}

// Validate checks the invariants a Transformer guarantees. It is used on
// records that arrive from outside the transformer (JSON Lines imports).
func (c *Customer) Validate() error {
	if c.FirstName == nil && c.LastName == nil && c.LicenseNo == nil {
		return ErrEmptyRow
	}
	for name, v := range c.textFields() {
		if v != nil && strings.TrimSpace(*v) != *v {
			return fmt.Errorf("%s is not trimmed", name)
		}
		if v != nil && *v == "" {
			return fmt.Errorf("%s is empty; use null for absent values", name)
		}
	}
	if c.ScannerCreatedAt.IsZero() {
		return fmt.Errorf("scanner_created_at is required")
	}
	return nil
}

func (c *Customer) textFields() map[string]*string {
	return map[string]*string{
		"first_name":             c.FirstName,
		"last_name":              c.LastName,
		"lastname_alt":           c.LastNameAlt,
		"full_address":           c.FullAddress,
		"city":                   c.City,
		"state":                  c.State,
		"postal_code":            c.PostalCode,
		"country":                c.Country,
		"phone":                  c.Phone,
		"drivers_license_no":     c.LicenseNo,
		"insurance_id_no":        c.InsuranceID,
		"insurance_company_code": c.InsuranceCompanyCode,
		"insurance_member_no":    c.InsuranceMemberNo,
		"user_field_1":           c.UserField1,
		"user_field_2":           c.UserField2,
		"notes":                  c.Notes,
	}
}

// Deref returns the pointed-to string or "".
func Deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}

const dateLayout = "2006-01-02"

// Date is a calendar date without a time of day.
type Date struct {
	Year  int
	Month time.Month
	Day   int
}

// DateOf returns the calendar date of t in t's location.
func DateOf(t time.Time) Date {
	y, m, d := t.Date()
	return Date{Year: y, Month: m, Day: d}
}

// String formats the date as YYYY-MM-DD.
func (d Date) String() string {
	return fmt.Sprintf("%04d-%02d-%02d", d.Year, int(d.Month), d.Day)
}

// Time returns midnight UTC on d.
func (d Date) Time() time.Time {
	return time.Date(d.Year, d.Month, d.Day, 0, 0, 0, 0, time.UTC)
}

// MarshalJSON implements json.Marshaler.
func (d Date) MarshalJSON() ([]byte, error) {
	return json.Marshal(d.String())
}

// UnmarshalJSON implements json.Unmarshaler.
func (d *Date) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return err
	}
	t, err := time.Parse(dateLayout, s)
	if err != nil {
		return fmt.Errorf("invalid date %q: %w", s, err)
	}
	*d = DateOf(t)
	return nil
}

// Value implements driver.Valuer so dates bind as YYYY-MM-DD text.
func (d Date) Value() (driver.Value, error) {
	return d.String(), nil
}
