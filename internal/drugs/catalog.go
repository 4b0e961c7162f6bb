// Package drugs provides drug name autocomplete over a fixed catalog.
package drugs

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
)

// Suggestion limits
const (
	MinPrefixLength = 2
	DefaultLimit    = 10
	MaxLimit        = 100
)

// commonDrugs seeds the catalog when no CSV is configured
var commonDrugs = []string{
	"aspirin", "ibuprofen", "acetaminophen", "paracetamol",
	"metformin", "atorvastatin", "lisinopril", "amlodipine",
	"omeprazole", "levothyroxine", "simvastatin", "losartan",
	"gabapentin", "hydrochlorothiazide", "metoprolol", "prednisone",
	"warfarin", "amoxicillin", "azithromycin", "cephalexin",
	"ciprofloxacin", "doxycycline", "penicillin", "insulin",
	"albuterol", "fluticasone", "montelukast", "sertraline",
	"escitalopram", "duloxetine", "venlafaxine", "alprazolam",
	"clonazepam", "lorazepam", "zolpidem", "trazodone",
	"furosemide", "spironolactone", "carvedilol", "digoxin",
	"clopidogrel", "rivaroxaban", "apixaban", "dabigatran",
}

// Catalog is an immutable, ordered list of upper-cased drug names
type Catalog struct {
	names []string
}

// NewCatalog upper-cases and de-duplicates names, keeping first-seen order
func NewCatalog(names []string) *Catalog {
	seen := make(map[string]struct{}, len(names))
	out := make([]string, 0, len(names))
	for _, n := range names {
		n = strings.ToUpper(strings.TrimSpace(n))
		if n == "" {
			continue
		}
		if _, ok := seen[n]; ok {
			continue
		}
		seen[n] = struct{}{}
		out = append(out, n)
	}
	return &Catalog{names: out}
}

// DefaultCatalog returns the built-in common drug list
func DefaultCatalog() *Catalog {
	return NewCatalog(commonDrugs)
}

// LoadCatalogCSV reads the drugname column of a CSV file with a header row
func LoadCatalogCSV(path string) (*Catalog, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open drug catalog: %w", err)
	}
	defer f.Close()

	return ReadCatalogCSV(f)
}

// ReadCatalogCSV reads the drugname column from r
func ReadCatalogCSV(r io.Reader) (*Catalog, error) {
	reader := csv.NewReader(r)
	reader.FieldsPerRecord = -1
	reader.ReuseRecord = true

	header, err := reader.Read()
	if err != nil {
		return nil, fmt.Errorf("failed to read catalog header: %w", err)
	}

	column := -1
	for i, name := range header {
		if strings.EqualFold(strings.TrimSpace(name), "drugname") {
			column = i
			break
		}
	}
	if column < 0 {
		return nil, errors.New("catalog has no drugname column")
	}

	var names []string
	for {
		record, err := reader.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("failed to read catalog: %w", err)
		}
		if column < len(record) {
			names = append(names, record[column])
		}
	}
	return NewCatalog(names), nil
}

// Suggest returns up to limit names starting with prefix (case-insensitive).
// Prefixes shorter than MinPrefixLength return nothing.
func (c *Catalog) Suggest(prefix string, limit int) []string {
	prefix = strings.ToUpper(strings.TrimSpace(prefix))
	if len([]rune(prefix)) < MinPrefixLength {
		return []string{}
	}
	if limit <= 0 {
		limit = DefaultLimit
	}
	if limit > MaxLimit {
		limit = MaxLimit
	}

	out := []string{}
	for _, name := range c.names {
		if strings.HasPrefix(name, prefix) {
			out = append(out, name)
			if len(out) == limit {
				break
			}
		}
	}
	return out
}

// Len returns the number of catalog entries
func (c *Catalog) Len() int {
	return len(c.names)
}
