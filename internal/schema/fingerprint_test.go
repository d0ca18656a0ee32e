package schema

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func strp(s string) *string { return &s }

func baseCustomer() *Customer {
	return &Customer{
		FirstName:        strp("JOHN"),
		LastName:         strp("DOE"),
		LicenseNo:        strp("D123"),
		ScannerCreatedAt: time.Date(2025, 7, 10, 11, 20, 7, 0, time.UTC),
	}
}

func TestFingerprint_Deterministic(t *testing.T) {
	a := baseCustomer()
	b := baseCustomer()
	b.City = strp("OBRIEN")
	b.Notes = strp("different notes")
	b.SyncedAt = time.Now()

	assert.Equal(t, FingerprintOf(a), FingerprintOf(b), "non-identity fields must not affect the fingerprint")
	assert.Len(t, FingerprintOf(a).String(), 64)
}

func TestFingerprint_SameInstantDifferentZone(t *testing.T) {
	a := baseCustomer()
	b := baseCustomer()
	b.ScannerCreatedAt = a.ScannerCreatedAt.In(time.FixedZone("EDT", -4*3600))

	assert.Equal(t, FingerprintOf(a), FingerprintOf(b))
}

func TestFingerprint_Sensitivity(t *testing.T) {
	base := FingerprintOf(baseCustomer())

	mutations := map[string]func(c *Customer){
		"first name": func(c *Customer) { c.FirstName = strp("JANE") },
		"last name":  func(c *Customer) { c.LastName = strp("ROE") },
		"license":    func(c *Customer) { c.LicenseNo = strp("D124") },
		"timestamp":  func(c *Customer) { c.ScannerCreatedAt = c.ScannerCreatedAt.Add(time.Second) },
		"absent":     func(c *Customer) { c.LicenseNo = nil },
	}

	for name, mutate := range mutations {
		t.Run(name, func(t *testing.T) {
			c := baseCustomer()
			mutate(c)
			assert.NotEqual(t, base, FingerprintOf(c))
		})
	}
}

func TestFingerprint_IgnoresGeneratedLicense(t *testing.T) {
	a := baseCustomer()
	a.LicenseNo = strp(GeneratedLicensePrefix + "aaaaaaaa")
	a.LicenseGenerated = true
	b := baseCustomer()
	b.LicenseNo = strp(GeneratedLicensePrefix + "bbbbbbbb")
	b.LicenseGenerated = true
	scanned := baseCustomer()
	scanned.LicenseNo = nil

	assert.Equal(t, FingerprintOf(a), FingerprintOf(b))
	assert.Equal(t, FingerprintOf(scanned), FingerprintOf(a))
}

func TestFingerprint_FallbackTimestampUsesRawText(t *testing.T) {
	a := baseCustomer()
	a.ScannerTimeFallback = true
	a.ScannerTimeRaw = "sometime"
	b := baseCustomer()
	b.ScannerTimeFallback = true
	b.ScannerTimeRaw = "sometime"
	b.ScannerCreatedAt = a.ScannerCreatedAt.Add(time.Hour)

	assert.Equal(t, FingerprintOf(a), FingerprintOf(b), "processing time must not leak into the fingerprint")

	b.ScannerTimeRaw = "another time"
	assert.NotEqual(t, FingerprintOf(a), FingerprintOf(b))
	assert.NotEqual(t, FingerprintOf(baseCustomer()), FingerprintOf(a))
}

func TestTransform_SameRowSameFingerprint(t *testing.T) {
	calls := 0
	tr := NewTransformer(TransformOptions{
		RequireLicense: true,
		Location:       time.UTC,
		Now: func() time.Time {
			calls++
			return time.Date(2025, 7, 11, 9, 30, calls, 0, time.UTC)
		},
	})
	r := row(map[string]string{
		ColFirstName: "MARY",
		ColLastName:  "SMITH",
		ColCreated:   "not a time (Thu Jul 10)",
	})

	first, err := tr.Transform(r)
	require.NoError(t, err)
	second, err := tr.Transform(r)
	require.NoError(t, err)

	assert.NotEqual(t, first.License(), second.License())
	assert.NotEqual(t, first.ScannerCreatedAt, second.ScannerCreatedAt)
	assert.Equal(t, FingerprintOf(first), FingerprintOf(second))
}

func TestFingerprint_FieldBoundaries(t *testing.T) {
	a := baseCustomer()
	a.FirstName = strp("JO")
	a.LastName = strp("HNDOE")
	b := baseCustomer()
	b.FirstName = strp("JOHN")
	b.LastName = strp("DOE")

	assert.NotEqual(t, FingerprintOf(a), FingerprintOf(b))
}

func TestFingerprint_Short(t *testing.T) {
	fp := FingerprintOf(baseCustomer())
	assert.Len(t, fp.Short(), 12)
	assert.Equal(t, "abc", Fingerprint("abc").Short())
}
