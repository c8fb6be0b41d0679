package notifier

import (
	"fmt"
	"html"
	"strings"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/navid-fn/pricio/internal/models"
)

var storeTitles = map[string]string{
	"5ka":    "Пятёрочка",
	"magnit": "Магнит",
}

var currencySigns = map[string]string{
	"RUB": "₽",
	"USD": "$",
	"EUR": "€",
}

// StoreTitle returns the display name of a store id.
func StoreTitle(store string) string {
	if title, ok := storeTitles[store]; ok {
		return title
	}
	return store
}

// FormatPrice renders an amount with two decimals and the currency sign.
func FormatPrice(amount decimal.Decimal, currency string) string {
	sign, ok := currencySigns[currency]
	if !ok {
		sign = currency
	}
	return amount.StringFixed(2) + " " + sign
}

// RenderMessage formats a drop event as Telegram HTML.
func RenderMessage(e models.PriceDropEvent) string {
	var b strings.Builder
	b.WriteString("🔔 <b>Цена снизилась!</b>\n\n")
	fmt.Fprintf(&b, "<b>%s</b>\n", html.EscapeString(e.ProductName))
	fmt.Fprintf(&b, "Магазин: %s\n", html.EscapeString(StoreTitle(e.Store)))
	fmt.Fprintf(&b, "Было: <s>%s</s>\n", FormatPrice(e.OldPrice, e.Currency))
	fmt.Fprintf(&b, "Стало: <b>%s</b>\n", FormatPrice(e.NewPrice, e.Currency))
	fmt.Fprintf(&b, "Экономия: %s (%s%%)", FormatPrice(e.Delta, e.Currency), e.Percent().String())
	if e.URL != "" {
		fmt.Fprintf(&b, "\n\n<a href=\"%s\">Открыть в магазине</a>", html.EscapeString(e.URL))
	}
	if e.ProductID != uuid.Nil {
		fmt.Fprintf(&b, "\n\nid товара: <code>%s</code>\nОтписаться: /unwatch %s", e.ProductID, e.ProductID)
	}
	return b.String()
}
