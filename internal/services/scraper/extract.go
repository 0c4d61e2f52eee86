package scraper

import (
	"bytes"
	"errors"
	"fmt"
	"regexp"
	"strings"

	"github.com/PuerkitoBio/goquery"
	"github.com/shopspring/decimal"

	"github.com/NordCoder/Pricerus/internal/domain/price"
	"github.com/NordCoder/Pricerus/internal/domain/scrape"
)

var ErrPriceNotFound = errors.New("price not found")

type PriceExtractor interface {
	Extract(page *Page) (decimal.Decimal, error)
}

// TitleExtractor is optionally implemented by extractors that can name the product.
type TitleExtractor interface {
	Title(page *Page) string
}

// CouponExtractor is optionally implemented by extractors that can read a
// clippable coupon off the page.
type CouponExtractor interface {
	Coupon(page *Page) string
}

var (
	priceRe         = regexp.MustCompile(`[\d,.]+`)
	couponFixedRe   = regexp.MustCompile(`\$(\d+(?:\.\d{1,2})?)`)
	couponPercentRe = regexp.MustCompile(`(\d+(?:\.\d{1,2})?)%`)
)

// AmazonExtractor reads the buy-box price of an Amazon product page.
type AmazonExtractor struct{}

var (
	_ PriceExtractor = AmazonExtractor{}
	_ TitleExtractor  = AmazonExtractor{}
	_ CouponExtractor = AmazonExtractor{}
)

func (AmazonExtractor) Extract(page *Page) (decimal.Decimal, error) {
	doc, err := parse(page)
	if err != nil {
		return decimal.Zero, err
	}
	core := doc.Find("#corePrice_feature_div").First()
	if core.Length() == 0 {
		return decimal.Zero, scrape.NewError(scrape.ClassExtraction, ErrPriceNotFound)
	}
	text := strings.TrimSpace(core.Find("span.a-offscreen").First().Text())
	if text == "" {
		return decimal.Zero, scrape.NewError(scrape.ClassExtraction, ErrPriceNotFound)
	}
	return ParsePrice(text)
}

func (AmazonExtractor) Title(page *Page) string {
	doc, err := parse(page)
	if err != nil {
		return ""
	}
	return strings.Join(strings.Fields(doc.Find("#title_feature_div").First().Text()), " ")
}

// Coupon returns "$5.00 off" or "15% off" for the promo block, or "" when
// the page has no coupon.
func (AmazonExtractor) Coupon(page *Page) string {
	doc, err := parse(page)
	if err != nil {
		return ""
	}
	block := doc.Find("#promoPriceBlockMessage_feature_div").First()
	if block.Length() == 0 {
		return ""
	}
	text := strings.TrimSpace(block.Find("span.couponLabelText").First().Text())
	if text == "" {
		text = block.Text()
	}
	return describeCoupon(text)
}

func describeCoupon(text string) string {
	if m := couponFixedRe.FindStringSubmatch(text); m != nil {
		if d, err := decimal.NewFromString(m[1]); err == nil {
			return "$" + d.StringFixed(2) + " off"
		}
	}
	if m := couponPercentRe.FindStringSubmatch(text); m != nil {
		return m[1] + "% off"
	}
	return ""
}

// ParsePrice takes the first run of digits, commas and dots; commas are
// thousands separators. The result is rounded to the stored precision.
func ParsePrice(text string) (decimal.Decimal, error) {
	m := priceRe.FindString(text)
	if m == "" {
		return decimal.Zero, scrape.NewError(scrape.ClassExtraction, fmt.Errorf("%w in %q", ErrPriceNotFound, text))
	}
	d, err := decimal.NewFromString(strings.ReplaceAll(m, ",", ""))
	if err != nil {
		return decimal.Zero, scrape.NewError(scrape.ClassExtraction, fmt.Errorf("parse price %q: %w", m, err))
	}
	if d.IsNegative() {
		return decimal.Zero, scrape.NewError(scrape.ClassExtraction, fmt.Errorf("negative price %s", d))
	}
	return price.Normalize(d), nil
}

func parse(page *Page) (*goquery.Document, error) {
	if page == nil || len(page.Body) == 0 {
		return nil, scrape.NewError(scrape.ClassExtraction, errors.New("empty page"))
	}
	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(page.Body))
	if err != nil {
		return nil, scrape.NewError(scrape.ClassExtraction, fmt.Errorf("parse html: %w", err))
	}
	return doc, nil
}

var challengeMarkers = []string{
	"enter the characters you see below",
	"to discuss automated access to amazon data",
	"are you a robot",
	"verify you are a human",
	"unusual traffic from your computer network",
}

// IsChallengePage recognizes captcha and robot-check pages served with 200.
func IsChallengePage(page *Page) bool {
	if page == nil || len(page.Body) == 0 {
		return false
	}
	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(page.Body))
	if err != nil {
		return false
	}
	if doc.Find(`form[action*="validateCaptcha"], #captchacharacters, .g-recaptcha, #challenge-form`).Length() > 0 {
		return true
	}
	title := strings.ToLower(doc.Find("title").First().Text())
	if strings.Contains(title, "robot check") || strings.Contains(title, "captcha") {
		return true
	}
	text := strings.ToLower(doc.Find("body").Text())
	for _, m := range challengeMarkers {
		if strings.Contains(text, m) {
			return true
		}
	}
	return false
}
