package notion

import (
	"strconv"
	"strings"
	"time"

	"tg_member_bot/internal/domain"
)

// page is one row returned by a database query. Properties carry their own
// wire type and are decoded through plainValue.
type page struct {
	ID          string              `json:"id"`
	CreatedTime time.Time           `json:"created_time"`
	Properties  map[string]property `json:"properties"`
}

type property struct {
	Type     string     `json:"type"`
	RichText []richText `json:"rich_text"`
	Title    []richText `json:"title"`
	Status   *nameValue `json:"status"`
	Select   *nameValue `json:"select"`
	Number   *float64   `json:"number"`
	Date     *dateValue `json:"date"`
	Email    *string    `json:"email"`
}

type richText struct {
	PlainText string `json:"plain_text"`
}

type nameValue struct {
	Name string `json:"name"`
}

type dateValue struct {
	Start string `json:"start"`
}

// plainValue normalizes any plausible wire representation of a property into
// one canonical string. Different deployments store the same field as text,
// number, status, or select; an unexpected or empty shape yields "" rather
// than an error.
func plainValue(prop property) string {
	switch prop.Type {
	case "rich_text":
		return firstPlainText(prop.RichText)
	case "title":
		return firstPlainText(prop.Title)
	case "status":
		return nameOf(prop.Status)
	case "select":
		return nameOf(prop.Select)
	case "number":
		return formatNumber(prop.Number)
	case "date":
		if prop.Date == nil {
			return ""
		}
		return strings.TrimSpace(prop.Date.Start)
	case "email":
		if prop.Email == nil {
			return ""
		}
		return strings.TrimSpace(*prop.Email)
	}

	// Type untagged or unrecognized: fall back to whichever shape is populated.
	if v := firstPlainText(prop.RichText); v != "" {
		return v
	}
	if v := firstPlainText(prop.Title); v != "" {
		return v
	}
	if v := nameOf(prop.Status); v != "" {
		return v
	}
	if v := nameOf(prop.Select); v != "" {
		return v
	}
	if v := formatNumber(prop.Number); v != "" {
		return v
	}
	return ""
}

func firstPlainText(parts []richText) string {
	if len(parts) == 0 {
		return ""
	}
	return strings.TrimSpace(parts[0].PlainText)
}

func nameOf(v *nameValue) string {
	if v == nil {
		return ""
	}
	return strings.TrimSpace(v.Name)
}

func formatNumber(n *float64) string {
	if n == nil {
		return ""
	}
	return strconv.FormatFloat(*n, 'f', -1, 64)
}

func recordsFromPages(pages []page) []domain.Record {
	records := make([]domain.Record, 0, len(pages))
	for _, p := range pages {
		records = append(records, recordFromPage(p))
	}
	return records
}

func recordFromPage(p page) domain.Record {
	props := p.Properties

	return domain.Record{
		UserID:    plainValue(props[propUserID]),
		Status:    domain.NormalizeStatus(plainValue(props[propStatus])),
		Discord:   plainValue(props[propDiscord]),
		Email:     plainValue(props[propEmail]),
		ExpiresAt: plainValue(props[propExpiresAt]),
		CreatedAt: p.CreatedTime,
	}
}
