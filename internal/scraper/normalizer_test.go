package scraper

import (
	"errors"
	"testing"

	"github.com/navid-fn/pricio/internal/models"
)

func TestParsePrice(t *testing.T) {
	tests := []struct {
		name     string
		input    string
		price    string
		currency string
	}{
		{"Plain integer", "89", "89", "RUB"},
		{"Comma decimal", "89,99", "89.99", "RUB"},
		{"Dot decimal", "89.9", "89.9", "RUB"},
		{"Ruble sign", "79,99 ₽", "79.99", "RUB"},
		{"Short ruble", "120 руб.", "120", "RUB"},
		{"Thousands with nbsp", "1 299,50 ₽", "1299.5", "RUB"},
		{"Thousands with thin space", "12 499 р.", "12499", "RUB"},
		{"Millions", "1 299 000", "1299000", "RUB"},
		{"Thousands with dot decimal", "2 450.5 руб", "2450.5", "RUB"},
		{"Dollar prefix", "$5.25", "5.25", "USD"},
		{"Euro suffix", "3,10 €", "3.1", "EUR"},
		{"Surrounding spaces", "  42  ", "42", "RUB"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			price, currency, err := ParsePrice(tt.input, "RUB")
			if err != nil {
				t.Fatalf("ParsePrice(%q) failed: %v", tt.input, err)
			}
			if price.String() != tt.price {
				t.Errorf("Expected price %s, got %s", tt.price, price)
			}
			if currency != tt.currency {
				t.Errorf("Expected currency %s, got %s", tt.currency, currency)
			}
		})
	}
}

func TestParsePriceRejects(t *testing.T) {
	tests := []struct {
		name  string
		input string
	}{
		{"Not available", "N/A"},
		{"Empty", ""},
		{"Whitespace", "   "},
		{"Zero", "0,00"},
		{"Negative", "-10"},
		{"Both separators", "1.299,50"},
		{"Thousands or decimal", "1,299"},
		{"Repeated separator", "1.299.000"},
		{"Three decimals", "12.5000"},
		{"Trailing separator", "89,"},
		{"Words", "по запросу"},
		{"Rubles and kopecks split by space", "89 99"},
		{"Single digit groups", "1 2 3"},
		{"Short group before decimal", "12 5,50"},
		{"Long leading group", "1299 000"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, _, err := ParsePrice(tt.input, "RUB")
			var priceErr *PriceFormatError
			if !errors.As(err, &priceErr) {
				t.Fatalf("Expected PriceFormatError for %q, got %v", tt.input, err)
			}
		})
	}
}

func TestParsePriceDefaultCurrency(t *testing.T) {
	_, currency, err := ParsePrice("10", "")
	if err != nil {
		t.Fatal(err)
	}
	if currency != "RUB" {
		t.Errorf("Expected RUB fallback, got %s", currency)
	}
}

func TestExtractUnit(t *testing.T) {
	tests := []struct {
		name     string
		input    string
		unitText string
		unit     string
		rest     string
	}{
		{"Milliliters", "Молоко Простоквашино 2,5% 930 мл", "", "930ml", "Молоко Простоквашино 2,5%"},
		{"Liters", "Сок Добрый яблочный 1,5л", "", "1500ml", "Сок Добрый яблочный"},
		{"Grams", "Сыр Ламбер 50% 230г", "", "230g", "Сыр Ламбер 50%"},
		{"Kilograms", "Сахар песок 1 кг", "", "1000g", "Сахар песок"},
		{"Pieces", "Яйца куриные С1 10 шт", "", "10pcs", "Яйца куриные С1"},
		{"Measure and count", "Йогурт Danone 95г 4шт", "", "95gx4", "Йогурт Danone"},
		{"Unit text wins", "Вода питьевая", "0.5 л", "500ml", "Вода питьевая"},
		{"No unit", "Хлеб Бородинский", "", "", "Хлеб Бородинский"},
		{"Word starting with unit letter", "Сок 5 лимонов", "", "", "Сок 5 лимонов"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			unit, rest := ExtractUnit(tt.input, tt.unitText)
			if unit != tt.unit {
				t.Errorf("Expected unit %q, got %q", tt.unit, unit)
			}
			if rest != tt.rest {
				t.Errorf("Expected rest %q, got %q", tt.rest, rest)
			}
		})
	}
}

func TestExtractBrand(t *testing.T) {
	tests := []struct {
		input    string
		expected string
	}{
		{"Чипсы Lay's сметана и лук 140г", "Lay's"},
		{"Кофе Jacobs Monarch растворимый", "Jacobs Monarch"},
		{"Молоко ПРОСТОКВАШИНО 3,2%", "Простоквашино"},
		{"Молоко Домик в деревне 2,5%", "Домик В Деревне"},
		{"Огурцы свежие", ""},
	}

	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			if got := ExtractBrand(tt.input); got != tt.expected {
				t.Errorf("Expected %q, got %q", tt.expected, got)
			}
		})
	}
}

func TestCanonicalKey(t *testing.T) {
	key := CanonicalKey("Молоко  Пастеризованное, ЁЖИК!", "Простоквашино", "930ml")
	if key != "молоко пастеризованное ежик|простоквашино|930ml" {
		t.Errorf("Unexpected key %q", key)
	}

	embedded := CanonicalKey("Молоко Простоквашино пастеризованное", "Простоквашино", "930ml")
	separate := CanonicalKey("Молоко пастеризованное", "ПРОСТОКВАШИНО", "930ML")
	if embedded != separate {
		t.Errorf("Expected brand embedded in the name to be ignored: %q vs %q", embedded, separate)
	}

	if CanonicalKey("Молоко", "", "930ml") == CanonicalKey("Молоко", "", "1000ml") {
		t.Error("Different units must produce different keys")
	}
}

func TestNormalizeAcrossStores(t *testing.T) {
	five := models.CandidateRecord{
		Store:        "5ka",
		SKU:          "3471",
		Name:         "Молоко Простоквашино пастеризованное 2,5% 930мл",
		Price:        "89.99",
		PromoPrice:   "79.99",
		CategoryPath: "Молочная продукция / Молоко",
		Currency:     "RUB",
	}
	magnit := models.CandidateRecord{
		Store:    "magnit",
		SKU:      "1000523",
		Name:     "Молоко пастеризованное 2.5% ПРОСТОКВАШИНО",
		Brand:    "Простоквашино",
		Price:    "84,90 ₽",
		UnitText: "930 мл",
	}

	a, err := Normalize(five)
	if err != nil {
		t.Fatalf("Normalize(5ka) failed: %v", err)
	}
	b, err := Normalize(magnit)
	if err != nil {
		t.Fatalf("Normalize(magnit) failed: %v", err)
	}

	if a.CanonicalKey != b.CanonicalKey {
		t.Errorf("Expected equal canonical keys:\n  %q\n  %q", a.CanonicalKey, b.CanonicalKey)
	}
	if !a.Discount || a.Price.String() != "79.99" || a.RegularPrice.Decimal.String() != "89.99" {
		t.Errorf("Expected promo price with regular price kept, got %+v", a)
	}
	if a.Category != "Молочная продукция" {
		t.Errorf("Expected top category, got %q", a.Category)
	}
	if b.Discount {
		t.Error("Magnit record has no promo")
	}
}

func TestNormalizeErrors(t *testing.T) {
	_, err := Normalize(models.CandidateRecord{Store: "5ka", SKU: "1", Name: "Хлеб", Price: "N/A"})
	var priceErr *PriceFormatError
	if !errors.As(err, &priceErr) {
		t.Errorf("Expected PriceFormatError, got %v", err)
	}

	_, err = Normalize(models.CandidateRecord{Store: "5ka", Name: "Хлеб", Price: "10"})
	var skipped *ParseSkipped
	if !errors.As(err, &skipped) {
		t.Errorf("Expected ParseSkipped for missing SKU, got %v", err)
	}
}

func TestNormalizeIgnoresHigherPromo(t *testing.T) {
	rec, err := Normalize(models.CandidateRecord{Store: "5ka", SKU: "1", Name: "Хлеб", Price: "50", PromoPrice: "60"})
	if err != nil {
		t.Fatal(err)
	}
	if rec.Discount || rec.Price.String() != "50" {
		t.Errorf("Expected regular price without discount, got %+v", rec)
	}
}
