package loadtest

import (
	"encoding/csv"
	"fmt"
	"math/rand"
	"os"
	"strconv"
	"time"

	"github.com/Noob4Eternity/chokidar/internal/extract"
	"github.com/Noob4Eternity/chokidar/internal/schema"
)

var (
	firstNames = []string{"JOHN", "JANE", "MARIA", "DAVID", "LINDA", "JAMES", "SARAH", "ROBERT", "AIKO", "OMAR"}
	lastNames  = []string{"DOE", "SMITH", "GARCIA", "NGUYEN", "JOHNSON", "BROWN", "TANAKA", "HASSAN", "MILLER", "LOPEZ"}
	cities     = []struct{ city, state, code string }{
		{"Anytown", "NY", "12345"},
		{"Springfield", "CA", "90210"},
		{"Riverside", "TX", "73301"},
		{"Lakeview", "IL", "60601"},
	}
	insurers = []string{"ABC123", "XYZ456", "QRS789"}
)

// Generator produces synthetic scanner rows. Rows from the same seed are
// identical except for CREATED, which follows the injected clock.
type Generator struct {
	rng *rand.Rand
	now func() time.Time
	seq int
}

// NewGenerator returns a Generator seeded with seed.
func NewGenerator(seed int64, now func() time.Time) *Generator {
	if now == nil {
		now = time.Now
	}
	return &Generator{rng: rand.New(rand.NewSource(seed)), now: now}
}

// Row returns the next row in schema.Columns order. License numbers are
// unique per Generator.
func (g *Generator) Row() []string {
	g.seq++

	first := firstNames[g.rng.Intn(len(firstNames))]
	last := lastNames[g.rng.Intn(len(lastNames))]
	place := cities[g.rng.Intn(len(cities))]

	birth := time.Date(1950+g.rng.Intn(55), time.Month(1+g.rng.Intn(12)), 1+g.rng.Intn(28), 0, 0, 0, 0, time.UTC)
	issued := time.Date(2018+g.rng.Intn(6), birth.Month(), birth.Day(), 0, 0, 0, 0, time.UTC)
	now := g.now()

	values := map[string]string{
		schema.ColFirstName:    first,
		schema.ColLastName:     last,
		schema.ColInsuranceID:  fmt.Sprintf("INS%06d", g.rng.Intn(1000000)),
		schema.ColInsuranceCo:  insurers[g.rng.Intn(len(insurers))],
		schema.ColFullAddress:  fmt.Sprintf("%d Main St", 1+g.rng.Intn(9999)),
		schema.ColCity:         place.city,
		schema.ColState:        place.state,
		schema.ColPostalCode:   place.code,
		schema.ColCountry:      "USA",
		schema.ColPhone:        fmt.Sprintf("(555) %03d-%04d", g.rng.Intn(1000), g.rng.Intn(10000)),
		schema.ColIssuedOn:     issued.Format("2006-01-02"),
		schema.ColLicenseNo:    fmt.Sprintf("LT%05d%04d", g.seq, g.rng.Intn(10000)),
		schema.ColExpiresOn:    issued.AddDate(5, 0, 0).Format("2006-01-02"),
		schema.ColInsuranceMbr: fmt.Sprintf("MEM%03d", g.rng.Intn(1000)),
		schema.ColLastNameAlt:  last + ", " + first,
		schema.ColCreated:      now.Format("2006-01-02 15:04:05") + " (" + now.Format("Mon Jan 02") + ")",
		schema.ColBirthdate:    birth.Format("2006-01-02"),
		schema.ColAge:          strconv.Itoa(now.Year() - birth.Year()),
	}

	row := make([]string, len(schema.Columns))
	for i, col := range schema.Columns {
		row[i] = values[col]
	}
	return row
}

// License returns the DRV LC NO value of a generated row.
func License(row []string) string {
	for i, col := range schema.Columns {
		if col == schema.ColLicenseNo && i < len(row) {
			return row[i]
		}
	}
	return ""
}

// AppendRows appends rows to the scanner file at path, creating it with the
// scanner header first if needed.
func AppendRows(path string, rows ...[]string) error {
	if _, err := extract.EnsureFile(path); err != nil {
		return err
	}

	// #nosec G304 - path is the configured scanner file
	f, err := os.OpenFile(path, os.O_APPEND|os.O_WRONLY, 0644)
	if err != nil {
		return fmt.Errorf("failed to open %s: %w", path, err)
	}

	w := csv.NewWriter(f)
	if err := w.WriteAll(rows); err != nil {
		_ = f.Close()
		return fmt.Errorf("failed to append rows: %w", err)
	}
	return f.Close()
}
