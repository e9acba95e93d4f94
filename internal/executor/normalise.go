package executor

import (
	"errors"
	"fmt"
	"net/url"
	"strings"

	"github.com/JakeFAU/craftwatch/internal/crawler"
	"github.com/JakeFAU/craftwatch/internal/inventory"
)

const (
	// MaxABV is the exclusive ceiling for a plausible ABV.
	MaxABV = 14.0
	// MaxPricePerMl guards against mis-parsed sizes (e.g. 1 instead of 330).
	MaxPricePerMl = 10.0 / 330
)

// InvalidItemError describes a scraped record that failed validation.
type InvalidItemError struct {
	BreweryID string
	Name      string
	Reason    string
}

func (e *InvalidItemError) Error() string {
	return fmt.Sprintf("invalid item %q from %s: %s", e.Name, e.BreweryID, e.Reason)
}

func invalid(r crawler.Result, format string, args ...any) *InvalidItemError {
	name := strings.TrimSpace(r.Item.Name)
	if name == "" {
		name = r.Name
	}
	return &InvalidItemError{BreweryID: r.BreweryID, Name: name, Reason: fmt.Sprintf(format, args...)}
}

// normalise turns one result into one item per offer. Offers that fail
// validation are reported in the joined error while valid siblings are kept.
func normalise(r crawler.Result) ([]inventory.Item, error) {
	breweryID := strings.TrimSpace(r.BreweryID)
	name := strings.TrimSpace(r.Item.Name)
	switch {
	case breweryID == "":
		return nil, invalid(r, "blank brewery")
	case name == "":
		return nil, invalid(r, "blank name")
	case len(r.Item.Offers) == 0:
		return nil, invalid(r, "no offers")
	}

	var abv *float64
	if r.Item.ABV != nil {
		v := *r.Item.ABV
		if v < 0 || v >= MaxABV {
			return nil, invalid(r, "abv %.1f outside [0, %.1f)", v, MaxABV)
		}
		abv = &v
	}

	itemURL := strings.TrimSpace(r.URL)
	if !absolute(itemURL) {
		return nil, invalid(r, "url %q is not absolute", r.URL)
	}
	thumbnail := crawler.ResolveURL(itemURL, r.Item.ThumbnailURL)

	items := make([]inventory.Item, 0, len(r.Item.Offers))
	var errs []error
	for _, offer := range r.Item.Offers {
		offer, err := normaliseOffer(offer)
		if err != nil {
			errs = append(errs, invalid(r, "%v", err))
			continue
		}
		items = append(items, inventory.Item{
			BreweryID:    breweryID,
			Name:         name,
			Summary:      strings.TrimSpace(r.Item.Summary),
			Desc:         strings.TrimSpace(r.Item.Desc),
			Mixed:        r.Item.Mixed,
			Offer:        offer,
			ABV:          abv,
			Available:    r.Item.Available,
			ThumbnailURL: thumbnail,
			URL:          itemURL,
		})
	}
	return items, errors.Join(errs...)
}

func normaliseOffer(o inventory.Offer) (inventory.Offer, error) {
	if o.Quantity == 0 {
		o.Quantity = 1
	}
	if o.Quantity < 0 {
		return o, fmt.Errorf("quantity %d below 1", o.Quantity)
	}
	if o.TotalPrice <= 0 {
		return o, fmt.Errorf("price %.2f not positive", o.TotalPrice)
	}
	if o.SizeMl < 0 {
		return o, fmt.Errorf("size %dml negative", o.SizeMl)
	}
	if o.SizeMl > 0 {
		if perMl := o.PerItemPrice() / float64(o.SizeMl); perMl >= MaxPricePerMl {
			return o, fmt.Errorf("price per ml %.4f exceeds ceiling", perMl)
		}
	}
	return o, nil
}

func absolute(raw string) bool {
	u, err := url.Parse(raw)
	if err != nil {
		return false
	}
	return (u.Scheme == "http" || u.Scheme == "https") && u.Host != ""
}
