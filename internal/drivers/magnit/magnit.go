// Package magnit scrapes Magnit catalog pages.
package magnit

import (
	"bytes"
	"context"
	"fmt"
	"net/url"
	"strings"

	"github.com/PuerkitoBio/goquery"

	"github.com/navid-fn/pricio/configs"
	"github.com/navid-fn/pricio/internal/models"
	"github.com/navid-fn/pricio/internal/scraper"
)

const StoreID = "magnit"

// catalog markup
const (
	cardSelector     = "[data-sku].product-card"
	titleSelector    = ".product-card__title"
	priceSelector    = ".product-card__price"
	oldPriceSelector = ".product-card__price-old"
	unitSelector     = ".product-card__unit"
	brandSelector    = ".product-card__brand"
	linkSelector     = "a.product-card__link"
	imageSelector    = "img.product-card__image"
	categorySelector = `a[href*="/catalog/"]`
)

func init() {
	scraper.Register(StoreID, func(cfg configs.StoreConfig) scraper.Adapter { return New(cfg) })
}

// Adapter reads server-rendered catalog pages. With a browser page source the same
// selectors apply to the rendered DOM.
type Adapter struct {
	cfg  configs.StoreConfig
	base *url.URL
}

func New(cfg configs.StoreConfig) *Adapter {
	base, err := url.Parse(strings.TrimRight(cfg.BaseURL, "/") + "/")
	if err != nil {
		base = &url.URL{Scheme: "https", Host: "magnit.ru", Path: "/"}
	}
	return &Adapter{cfg: cfg, base: base}
}

func (a *Adapter) Name() string { return StoreID }

func (a *Adapter) resolve(ref string) string {
	u, err := a.base.Parse(ref)
	if err != nil {
		return ref
	}
	return u.String()
}

func (a *Adapter) categoryURL(id string) string {
	return a.resolve("catalog/" + url.PathEscape(id) + "/")
}

// Categories returns the configured categories, or the links found on the catalog page.
func (a *Adapter) Categories(ctx context.Context, pages scraper.PageGetter) ([]scraper.Category, error) {
	if len(a.cfg.Categories) > 0 {
		return scraper.ConfiguredCategories(a.cfg, a.categoryURL), nil
	}

	body, err := pages.Get(ctx, a.resolve("catalog/"))
	if err != nil {
		return nil, fmt.Errorf("load catalog: %w", err)
	}
	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("parse catalog: %w", err)
	}

	seen := make(map[string]bool)
	var categories []scraper.Category
	doc.Find(categorySelector).Each(func(_ int, s *goquery.Selection) {
		href, _ := s.Attr("href")
		id := categoryID(href)
		name := strings.Join(strings.Fields(s.Text()), " ")
		if id == "" || name == "" || seen[id] {
			return
		}
		seen[id] = true
		categories = append(categories, scraper.Category{ID: id, Name: name, URL: a.categoryURL(id)})
	})
	return categories, nil
}

// categoryID extracts "4834-moloko" from ".../catalog/4834-moloko/?sort=x".
func categoryID(href string) string {
	u, err := url.Parse(href)
	if err != nil {
		return ""
	}
	_, rest, ok := strings.Cut(u.Path, "/catalog/")
	if !ok {
		return ""
	}
	id, _, _ := strings.Cut(strings.Trim(rest, "/"), "/")
	return id
}

// Fetch walks ?page=N until a page without product cards or the page cap.
func (a *Adapter) Fetch(ctx context.Context, pages scraper.PageGetter, category scraper.Category) ([]scraper.Payload, error) {
	var payloads []scraper.Payload
	for page := 1; page <= a.cfg.MaxPages; page++ {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		pageURL := fmt.Sprintf("%s?page=%d", category.URL, page)
		body, err := pages.Get(ctx, pageURL)
		if err != nil {
			return nil, fmt.Errorf("category %s page %d: %w", category.Name, page, err)
		}

		doc, err := goquery.NewDocumentFromReader(bytes.NewReader(body))
		if err != nil || doc.Find(cardSelector).Length() == 0 {
			break
		}
		payloads = append(payloads, scraper.Payload{Category: category, URL: pageURL, Page: page, Body: body})
	}
	return payloads, nil
}

// Parse extracts one candidate per product card.
func (a *Adapter) Parse(payload scraper.Payload) ([]models.CandidateRecord, []*scraper.ParseSkipped) {
	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(payload.Body))
	if err != nil {
		return nil, []*scraper.ParseSkipped{{Store: StoreID, Reason: "malformed page " + payload.URL, Err: err}}
	}

	var records []models.CandidateRecord
	var skipped []*scraper.ParseSkipped
	doc.Find(cardSelector).Each(func(_ int, card *goquery.Selection) {
		sku := strings.TrimSpace(card.AttrOr("data-sku", ""))
		name := text(card.Find(titleSelector))
		if sku == "" || name == "" {
			skipped = append(skipped, &scraper.ParseSkipped{Store: StoreID, SKU: sku, Reason: "card without sku or title"})
			return
		}

		rec := models.CandidateRecord{
			Store:        StoreID,
			SKU:          sku,
			Name:         name,
			Brand:        text(card.Find(brandSelector)),
			Price:        text(card.Find(priceSelector)),
			CategoryPath: payload.Category.Name,
			UnitText:     text(card.Find(unitSelector)),
			Currency:     a.cfg.Currency,
		}

		// a crossed-out price means the shown price is a promotion
		if old := text(card.Find(oldPriceSelector)); old != "" {
			rec.PromoPrice = rec.Price
			rec.Price = old
		}
		if href, ok := card.Find(linkSelector).Attr("href"); ok {
			rec.URL = a.resolve(href)
		}
		if src, ok := card.Find(imageSelector).Attr("src"); ok {
			rec.ImageURL = a.resolve(src)
		}
		records = append(records, rec)
	})
	return records, skipped
}

func text(s *goquery.Selection) string {
	return strings.Join(strings.Fields(s.First().Text()), " ")
}
