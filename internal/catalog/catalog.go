// Package catalog resolves scanned codes to product records.
//
// The catalog is built once at startup from a CSV table and is read-only
// afterwards, so Resolve is safe for concurrent use without locking.
package catalog

import (
	"encoding/csv"
	"io"
	"os"
	"strings"

	"github.com/go-faster/errors"

	"github.com/fairyhunter13/scan-kiosk/internal/model"
	"github.com/fairyhunter13/scan-kiosk/internal/obs"
)

var (
	// ErrEmpty is returned when a catalog source yields no usable records.
	ErrEmpty = errors.New("catalog has no usable records")
	// ErrMissingColumn is returned when a required header is absent.
	ErrMissingColumn = errors.New("catalog column missing")
)

// Header aliases accepted for each required column, compared after trimming
// whitespace and ignoring case.
var columnAliases = map[string][]string{
	"code":     {"KODE_BARCODE", "BARCODE", "CODE"},
	"name":     {"NAMA", "NAME"},
	"category": {"KATEGORI", "CATEGORY"},
	"price":    {"HARGA", "PRICE"},
}

// Catalog maps normalized numeric codes to products.
type Catalog struct {
	byCode  map[uint64]model.Product
	skipped int
}

// New builds a catalog from already-parsed products. Products whose code does
// not normalize are ignored; the first product wins for duplicate codes.
func New(products []model.Product) *Catalog {
	c := &Catalog{byCode: make(map[uint64]model.Product, len(products))}
	for _, p := range products {
		key, ok := NormalizeCode(p.Code)
		if !ok {
			c.skipped++
			continue
		}
		if _, dup := c.byCode[key]; dup {
			continue
		}
		c.byCode[key] = p
	}
	return c
}

// Load reads a CSV catalog file.
func Load(path, currencyPrefix string) (*Catalog, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, errors.Wrap(err, "open catalog")
	}
	defer f.Close()
	c, err := Read(f, currencyPrefix)
	if err != nil {
		return nil, errors.Wrapf(err, "load catalog %s", path)
	}
	return c, nil
}

// Read parses a CSV catalog. Rows with an unusable code or price are skipped
// and logged; a source with no usable rows is an error.
func Read(r io.Reader, currencyPrefix string) (*Catalog, error) {
	cr := csv.NewReader(r)
	cr.FieldsPerRecord = -1
	cr.TrimLeadingSpace = true

	header, err := cr.Read()
	if err == io.EOF {
		return nil, ErrEmpty
	}
	if err != nil {
		return nil, errors.Wrap(err, "read header")
	}
	idx, err := columnIndex(header)
	if err != nil {
		return nil, err
	}

	var products []model.Product
	skipped := 0
	line := 1
	for {
		rec, err := cr.Read()
		if err == io.EOF {
			break
		}
		line++
		if err != nil {
			return nil, errors.Wrapf(err, "read row %d", line)
		}
		field := func(col string) string {
			i := idx[col]
			if i >= len(rec) {
				return ""
			}
			return strings.TrimSpace(rec[i])
		}
		code := field("code")
		if _, ok := NormalizeCode(code); !ok {
			skipped++
			obs.Logger.Warn("catalog_row_skipped", "line", line, "reason", "bad_code", "code", code)
			continue
		}
		price, err := ParsePrice(field("price"), currencyPrefix)
		if err != nil {
			skipped++
			obs.Logger.Warn("catalog_row_skipped", "line", line, "reason", "bad_price", "code", code, "error", err)
			continue
		}
		products = append(products, model.Product{
			Code:      code,
			Name:      field("name"),
			Category:  field("category"),
			UnitPrice: price,
		})
	}

	c := New(products)
	c.skipped += skipped
	if c.Len() == 0 {
		return nil, ErrEmpty
	}
	obs.Logger.Info("catalog_loaded", "products", c.Len(), "skipped", c.skipped)
	return c, nil
}

func columnIndex(header []string) (map[string]int, error) {
	pos := make(map[string]int, len(header))
	for i, h := range header {
		h = strings.TrimPrefix(h, "\ufeff")
		h = strings.ToUpper(strings.Join(strings.Fields(h), " "))
		if _, seen := pos[h]; !seen {
			pos[h] = i
		}
	}
	idx := make(map[string]int, len(columnAliases))
	for col, aliases := range columnAliases {
		found := false
		for _, a := range aliases {
			if i, ok := pos[a]; ok {
				idx[col] = i
				found = true
				break
			}
		}
		if !found {
			return nil, errors.Wrapf(ErrMissingColumn, "%s (one of %s)", col, strings.Join(aliases, ", "))
		}
	}
	return idx, nil
}

// Resolve returns the product for code. Codes that are not numeric or not in
// the catalog resolve to false.
func (c *Catalog) Resolve(code string) (model.Product, bool) {
	key, ok := NormalizeCode(code)
	if !ok {
		return model.Product{}, false
	}
	p, ok := c.byCode[key]
	return p, ok
}

// Len returns the number of resolvable products.
func (c *Catalog) Len() int { return len(c.byCode) }

// Skipped returns how many source rows were rejected while loading.
func (c *Catalog) Skipped() int { return c.skipped }
