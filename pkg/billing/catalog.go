package billing

import (
	"errors"
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/alipala/language-tutor-sub001/pkg/subscription"
)

// CatalogEntry maps one provider price to a plan.
type CatalogEntry struct {
	Ref           string                     `yaml:"ref"`
	PlanID        string                     `yaml:"plan_id"`
	BillingPeriod subscription.BillingPeriod `yaml:"billing_period"`
}

// Catalog resolves provider price references to plan ids and billing periods.
// It implements subscription.PlanResolver.
type Catalog struct {
	prices map[string]CatalogEntry
}

// NewCatalog builds a catalog from entries.
// Entries must have a ref and plan id, a known billing period, and unique refs.
func NewCatalog(entries ...CatalogEntry) (*Catalog, error) {
	c := &Catalog{prices: make(map[string]CatalogEntry, len(entries))}
	for i, e := range entries {
		e.Ref = strings.TrimSpace(e.Ref)
		switch {
		case e.Ref == "":
			return nil, fmt.Errorf("%w: entry %d has no ref", ErrInvalidCatalogEntry, i)
		case e.PlanID == "":
			return nil, fmt.Errorf("%w: price %q has no plan_id", ErrInvalidCatalogEntry, e.Ref)
		case e.BillingPeriod == "" || !e.BillingPeriod.Valid():
			return nil, fmt.Errorf("%w: price %q has billing_period %q", ErrInvalidCatalogEntry, e.Ref, e.BillingPeriod)
		}
		if _, dup := c.prices[e.Ref]; dup {
			return nil, fmt.Errorf("%w: price %q listed twice", ErrInvalidCatalogEntry, e.Ref)
		}
		c.prices[e.Ref] = e
	}
	return c, nil
}

// ParseCatalog parses a YAML document of the form
//
//	prices:
//	  - ref: price_pro_annual
//	    plan_id: pro
//	    billing_period: annual
func ParseCatalog(data []byte) (*Catalog, error) {
	var doc struct {
		Prices []CatalogEntry `yaml:"prices"`
	}
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, errors.Join(ErrFailedToParseCatalog, err)
	}
	return NewCatalog(doc.Prices...)
}

// LoadCatalog reads and parses the catalog file at path.
func LoadCatalog(path string) (*Catalog, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.Join(ErrFailedToReadCatalog, err)
	}
	return ParseCatalog(data)
}

// ResolvePrice returns the plan and billing period for a price reference.
func (c *Catalog) ResolvePrice(priceRef string) (string, subscription.BillingPeriod, bool) {
	if c == nil {
		return "", "", false
	}
	e, ok := c.prices[priceRef]
	return e.PlanID, e.BillingPeriod, ok
}

// Len returns the number of known prices.
func (c *Catalog) Len() int {
	if c == nil {
		return 0
	}
	return len(c.prices)
}
