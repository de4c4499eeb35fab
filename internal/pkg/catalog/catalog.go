package catalog

import (
	_ "embed"
	"encoding/json"
	"fmt"
	"os"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/shopspring/decimal"

	"github.com/ManuelReschke/OrderFox/internal/pkg/order"
)

//go:embed catalog.json
var defaultCatalog []byte

// FloorWeightKg is the packaging weight every parcel starts from.
var FloorWeightKg = decimal.RequireFromString("0.5")

// Entry maps a Stripe price id to the physical product behind it.
type Entry struct {
	PriceRef    string  `json:"price_ref" validate:"required"`
	WeightKg    float64 `json:"weight_kg" validate:"gt=0"`
	DisplayName string  `json:"display_name" validate:"required"`
}

// Catalog is a read-only lookup keyed by price ref.
type Catalog struct {
	entries map[string]Entry
}

// WeightResult is the parcel weight plus the price refs that had no entry.
type WeightResult struct {
	Kg        float64
	Unmatched []string
}

// New builds a catalog from entries, rejecting invalid and duplicate ones.
func New(entries []Entry) (*Catalog, error) {
	validate := validator.New()
	c := &Catalog{entries: make(map[string]Entry, len(entries))}
	for i, e := range entries {
		e.PriceRef = strings.TrimSpace(e.PriceRef)
		if err := validate.Struct(e); err != nil {
			return nil, fmt.Errorf("catalog entry %d: %w", i, err)
		}
		if _, dup := c.entries[e.PriceRef]; dup {
			return nil, fmt.Errorf("catalog entry %d: duplicate price ref %q", i, e.PriceRef)
		}
		c.entries[e.PriceRef] = e
	}
	return c, nil
}

// Parse decodes a JSON array of entries.
func Parse(data []byte) (*Catalog, error) {
	var entries []Entry
	if err := json.Unmarshal(data, &entries); err != nil {
		return nil, fmt.Errorf("failed to parse catalog: %w", err)
	}
	return New(entries)
}

// Load reads the catalog from path, or the built-in catalog when path is empty.
func Load(path string) (*Catalog, error) {
	if strings.TrimSpace(path) == "" {
		return Parse(defaultCatalog)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read catalog %s: %w", path, err)
	}
	return Parse(data)
}

// Lookup returns the entry for a price ref.
func (c *Catalog) Lookup(priceRef string) (Entry, bool) {
	e, ok := c.entries[strings.TrimSpace(priceRef)]
	return e, ok
}

// NameItems gives items without a description their catalog display name.
func (c *Catalog) NameItems(items []order.LineItem) {
	for i := range items {
		if strings.TrimSpace(items[i].Description) != "" {
			continue
		}
		if e, ok := c.Lookup(items[i].PriceRef); ok {
			items[i].Description = e.DisplayName
		}
	}
}

// Len returns the number of entries.
func (c *Catalog) Len() int {
	return len(c.entries)
}

// Weight sums weight × quantity over the items on top of FloorWeightKg.
// Items without a catalog entry add nothing and are reported in Unmatched.
func (c *Catalog) Weight(items []order.LineItem) WeightResult {
	total := FloorWeightKg
	var unmatched []string

	for _, item := range items {
		if !item.ShippingRequired {
			continue
		}
		e, ok := c.Lookup(item.PriceRef)
		if !ok {
			unmatched = append(unmatched, item.PriceRef)
			continue
		}
		if item.Quantity <= 0 {
			continue
		}
		total = total.Add(decimal.NewFromFloat(e.WeightKg).Mul(decimal.NewFromInt(item.Quantity)))
	}

	kg, _ := total.Round(3).Float64()
	return WeightResult{Kg: kg, Unmatched: unmatched}
}
