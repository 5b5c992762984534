// Package payment builds prefilled external payment-form URLs.
package payment

import (
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"

	"tg_member_bot/internal/config"
	"tg_member_bot/internal/domain"
)

// TailKey is the disposable query parameter appended last to every link.
//
// The form opens inside the chat application's embedded web view, which tacks
// its own #fragment onto the navigated URL. A fragment attaches to the end of
// the whole URL string, so if the last query parameter carried real data
// (like an expiration date) some form renderers would concatenate the
// fragment onto that value. Keeping one semantically-unused parameter last
// means any such corruption only ever hits the throwaway key.
const TailKey = "_tail"

// Field is one prefill parameter. Order of fields matters for the serialized
// output shape, not for semantics.
type Field struct {
	Key   string
	Value string
}

// BuildLink combines baseURL's own query (preserved, overridden on key
// collision by fields) with the given fields in order, percent-encoded, and
// appends the disposable tail parameter last. Any fragment on baseURL is
// dropped.
func BuildLink(baseURL string, fields []Field) string {
	parsed, err := url.Parse(baseURL)
	if err != nil {
		// Unparsable base: treat the whole string as a bare base URL.
		return baseURL + "?" + serialize(append(fields, Field{Key: TailKey, Value: "1"}))
	}

	overrides := make(map[string]string, len(fields))
	for _, f := range fields {
		overrides[f.Key] = f.Value
	}

	merged := make([]Field, 0, len(fields)+4)
	consumed := make(map[string]bool, len(fields))

	for _, existing := range parseQueryOrdered(parsed.RawQuery) {
		if value, ok := overrides[existing.Key]; ok {
			merged = append(merged, Field{Key: existing.Key, Value: value})
			consumed[existing.Key] = true
			continue
		}
		merged = append(merged, existing)
	}

	for _, f := range fields {
		if consumed[f.Key] {
			continue
		}
		merged = append(merged, f)
		consumed[f.Key] = true
	}

	merged = append(merged, Field{Key: TailKey, Value: "1"})

	parsed.RawQuery = serialize(merged)
	parsed.Fragment = ""

	return parsed.String()
}

// parseQueryOrdered parses a raw query string keeping parameter order, which
// url.Values would lose.
func parseQueryOrdered(rawQuery string) []Field {
	if rawQuery == "" {
		return nil
	}

	pairs := strings.Split(rawQuery, "&")
	fields := make([]Field, 0, len(pairs))
	for _, pair := range pairs {
		if pair == "" {
			continue
		}

		key, value, _ := strings.Cut(pair, "=")
		decodedKey, err := url.QueryUnescape(key)
		if err != nil {
			decodedKey = key
		}
		decodedValue, err := url.QueryUnescape(value)
		if err != nil {
			decodedValue = value
		}

		fields = append(fields, Field{Key: decodedKey, Value: decodedValue})
	}

	return fields
}

func serialize(fields []Field) string {
	parts := make([]string, 0, len(fields))
	for _, f := range fields {
		parts = append(parts, url.QueryEscape(f.Key)+"="+url.QueryEscape(f.Value))
	}
	return strings.Join(parts, "&")
}

// Builder produces payment links for plan selections.
type Builder struct {
	baseURL string
	product string

	newToken func() string
	now      func() time.Time
}

// NewBuilder constructs a Builder from configuration.
func NewBuilder(cfg config.Config) *Builder {
	return &Builder{
		baseURL:  cfg.TallyFormURL,
		product:  cfg.ProductName,
		newToken: uuid.NewString,
		now:      time.Now,
	}
}

// Link builds the prefilled form URL for one plan selection. Every link
// carries the user identity, a fresh opaque order token, and the plan
// metadata; exactly one of the two currency amount fields is non-empty, the
// other is present and empty so the form always sees both keys.
func (b *Builder) Link(plan domain.Plan, method domain.PayMethod, userID int64, username string) string {
	usdt, uah := plan.Amounts(method)

	expires := ""
	if plan.HasPeriod() {
		expires = plan.ExpiresAt(b.now()).Format("2006-01-02")
	}

	fields := []Field{
		{Key: "t", Value: strconv.FormatInt(userID, 10)},
		{Key: "u", Value: strings.TrimPrefix(strings.TrimSpace(username), "@")},
		{Key: "o", Value: b.newToken()},
		{Key: "pk", Value: plan.Key},
		{Key: "pm", Value: string(method)},
		{Key: "as", Value: usdt},
		{Key: "au", Value: uah},
		{Key: "product", Value: b.product},
		{Key: "period", Value: plan.Label},
		{Key: "ex", Value: expires},
	}

	return BuildLink(b.baseURL, fields)
}
