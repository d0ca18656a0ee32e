// Package schema defines the scanner row vocabulary and the canonical customer
// record that scansync writes to the remote store.
//
// # Overview
//
// The ID scanner appends one CSV row per scan. Each row is keyed by a fixed,
// case-sensitive column vocabulary:
//
//	"FIRST NAME","LAST NAME","INS.ID NO","INS.CO","FULL ADDRESS","CITY","STATE",
//	"CODE","COUNTRY","PHONE","ISSUED ON","DRV LC NO","EXPIRES ON","INS.MEMBR",
//	"LASTNAME","CREATED","USER1","USER2","BIRTHDATE","AGE","NOTES"
//
// A Transformer maps a Row to a Customer:
//
//	tr := schema.NewTransformer(schema.TransformOptions{
//	    DefaultCountry: "USA",
//	    RequireLicense: true,
//	})
//	customer, err := tr.Transform(row)
//	if errors.Is(err, schema.ErrEmptyRow) {
//	    // header re-read or blank trailing line
//	}
//
// # Record Invariants
//
//   - Text fields are trimmed; empty-after-trim is nil, never ""
//   - Date fields hold a valid calendar date or nil
//   - Country falls back to the configured default
//   - ScannerCreatedAt is never zero (parse failures use the processing
//     instant and set ScannerTimeFallback)
//   - A missing license number is replaced by GENERATED_xxxxxxxx when required
//
// # Fingerprints
//
// Fingerprint identifies a scan for deduplication. It covers first name, last
// name, license number and scanner timestamp only; every other field may
// change without changing the fingerprint. A generated license and a
// fallback timestamp are replaced by what the scanner actually wrote, so
// re-reading the same row gives the same fingerprint.
package schema
