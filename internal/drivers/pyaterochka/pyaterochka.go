// Package pyaterochka scrapes the Pyaterochka (5ka) catalog API.
package pyaterochka

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/url"
	"strings"

	"github.com/navid-fn/pricio/configs"
	"github.com/navid-fn/pricio/internal/models"
	"github.com/navid-fn/pricio/internal/scraper"
)

const StoreID = "5ka"

func init() {
	scraper.Register(StoreID, func(cfg configs.StoreConfig) scraper.Adapter { return New(cfg) })
}

// Adapter reads categories and products from the JSON catalog API.
type Adapter struct {
	cfg configs.StoreConfig
	api string
}

func New(cfg configs.StoreConfig) *Adapter {
	api := cfg.APIURL
	if api == "" {
		api = strings.TrimRight(cfg.BaseURL, "/") + "/api"
	}
	return &Adapter{cfg: cfg, api: strings.TrimRight(api, "/")}
}

func (a *Adapter) Name() string { return StoreID }

func (a *Adapter) storePath() string {
	return a.api + "/catalog/v2/stores/" + url.PathEscape(a.cfg.StoreCode)
}

func (a *Adapter) categoryURL(id string) string {
	return a.storePath() + "/categories/" + url.PathEscape(id) + "/products"
}

type apiCategory struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

// Categories returns the configured categories, or the API's list when none are configured.
func (a *Adapter) Categories(ctx context.Context, pages scraper.PageGetter) ([]scraper.Category, error) {
	if len(a.cfg.Categories) > 0 {
		return scraper.ConfiguredCategories(a.cfg, a.categoryURL), nil
	}

	body, err := pages.Get(ctx, a.storePath()+"/categories")
	if err != nil {
		return nil, fmt.Errorf("list categories: %w", err)
	}
	var list []apiCategory
	if err := json.Unmarshal(body, &list); err != nil {
		return nil, fmt.Errorf("decode categories: %w", err)
	}

	categories := make([]scraper.Category, 0, len(list))
	for _, c := range list {
		if c.ID == "" || c.Name == "" {
			continue
		}
		categories = append(categories, scraper.Category{ID: c.ID, Name: c.Name, URL: a.categoryURL(c.ID)})
	}
	return categories, nil
}

type productPage struct {
	Products []json.RawMessage `json:"products"`
}

// Fetch pages through a category with limit/offset until a short page or the page cap.
func (a *Adapter) Fetch(ctx context.Context, pages scraper.PageGetter, category scraper.Category) ([]scraper.Payload, error) {
	var payloads []scraper.Payload
	for page := 0; page < a.cfg.MaxPages; page++ {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		pageURL := fmt.Sprintf("%s?mode=delivery&limit=%d&offset=%d", category.URL, a.cfg.PageSize, page*a.cfg.PageSize)
		body, err := pages.Get(ctx, pageURL)
		if err != nil {
			return nil, fmt.Errorf("category %s page %d: %w", category.Name, page, err)
		}
		payloads = append(payloads, scraper.Payload{Category: category, URL: pageURL, Page: page, Body: body})

		var p productPage
		if err := json.Unmarshal(body, &p); err != nil || len(p.Products) < a.cfg.PageSize {
			break
		}
	}
	return payloads, nil
}

type product struct {
	PLU           string          `json:"plu"`
	Name          string          `json:"name"`
	Brand         string          `json:"brand"`
	UOM           string          `json:"uom"`
	Clarification string          `json:"property_clarification"`
	Prices        productPrices   `json:"prices"`
	ImageLinks    json.RawMessage `json:"image_links"`
}

type productPrices struct {
	Regular  json.RawMessage `json:"regular"`
	Discount json.RawMessage `json:"discount"`
}

// Parse decodes items one by one so a malformed item only skips itself.
func (a *Adapter) Parse(payload scraper.Payload) ([]models.CandidateRecord, []*scraper.ParseSkipped) {
	var page productPage
	if err := json.Unmarshal(payload.Body, &page); err != nil {
		return nil, []*scraper.ParseSkipped{{Store: StoreID, Reason: "malformed page " + payload.URL, Err: err}}
	}

	records := make([]models.CandidateRecord, 0, len(page.Products))
	var skipped []*scraper.ParseSkipped
	for _, raw := range page.Products {
		var p product
		if err := json.Unmarshal(raw, &p); err != nil {
			skipped = append(skipped, &scraper.ParseSkipped{Store: StoreID, Reason: "malformed item", Err: err})
			continue
		}
		plu := strings.TrimSpace(p.PLU)
		if plu == "" || strings.TrimSpace(p.Name) == "" {
			skipped = append(skipped, &scraper.ParseSkipped{Store: StoreID, SKU: plu, Reason: "missing plu or name"})
			continue
		}

		records = append(records, models.CandidateRecord{
			Store:        StoreID,
			SKU:          plu,
			Name:         p.Name,
			Brand:        p.Brand,
			Price:        rawText(p.Prices.Regular),
			PromoPrice:   rawText(p.Prices.Discount),
			CategoryPath: payload.Category.Name,
			UnitText:     p.Clarification,
			URL:          strings.TrimRight(a.cfg.BaseURL, "/") + "/product/" + url.PathEscape(plu) + "/",
			ImageURL:     firstImage(p.ImageLinks),
			Currency:     a.cfg.Currency,
		})
	}
	return records, skipped
}

// rawText turns a JSON string or number into text; null becomes "".
func rawText(raw json.RawMessage) string {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 || bytes.Equal(raw, []byte("null")) {
		return ""
	}
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return s
	}
	return string(raw)
}

// firstImage accepts {"small": ["url"], ...} or a plain list of URLs.
func firstImage(raw json.RawMessage) string {
	var sized map[string][]string
	if err := json.Unmarshal(raw, &sized); err == nil {
		for _, size := range []string{"normal", "small"} {
			if links := sized[size]; len(links) > 0 {
				return links[0]
			}
		}
	}
	var list []string
	if err := json.Unmarshal(raw, &list); err == nil && len(list) > 0 {
		return list[0]
	}
	return ""
}
