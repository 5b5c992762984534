package notion

import (
	"encoding/json"
	"testing"

	"tg_member_bot/internal/domain"
)

func decodeProperty(t *testing.T, raw string) property {
	t.Helper()

	var prop property
	if err := json.Unmarshal([]byte(raw), &prop); err != nil {
		t.Fatalf("decode property: %v", err)
	}
	return prop
}

func TestPlainValueDispatchesOnType(t *testing.T) {
	cases := []struct {
		name string
		raw  string
		want string
	}{
		{"rich_text", `{"type":"rich_text","rich_text":[{"plain_text":" 123 "}]}`, "123"},
		{"empty rich_text", `{"type":"rich_text","rich_text":[]}`, ""},
		{"title", `{"type":"title","title":[{"plain_text":"alice"}]}`, "alice"},
		{"status", `{"type":"status","status":{"name":"Approved"}}`, "Approved"},
		{"null status", `{"type":"status","status":null}`, ""},
		{"select", `{"type":"select","select":{"name":"pending"}}`, "pending"},
		{"whole number", `{"type":"number","number":123}`, "123"},
		{"fractional number", `{"type":"number","number":1.5}`, "1.5"},
		{"null number", `{"type":"number","number":null}`, ""},
		{"date", `{"type":"date","date":{"start":"2026-06-01"}}`, "2026-06-01"},
		{"null date", `{"type":"date","date":null}`, ""},
		{"email", `{"type":"email","email":"a@b.com"}`, "a@b.com"},
		{"null email", `{"type":"email","email":null}`, ""},
		{"unknown type", `{"type":"files"}`, ""},
		{"missing property", `{}`, ""},
	}

	for _, tc := range cases {
		if got := plainValue(decodeProperty(t, tc.raw)); got != tc.want {
			t.Fatalf("%s: expected %q, got %q", tc.name, tc.want, got)
		}
	}
}

func TestPlainValueFallsBackWhenUntagged(t *testing.T) {
	prop := decodeProperty(t, `{"rich_text":[{"plain_text":"fallback"}]}`)
	if got := plainValue(prop); got != "fallback" {
		t.Fatalf("expected populated shape to win without a type tag, got %q", got)
	}

	prop = decodeProperty(t, `{"select":{"name":"approved"}}`)
	if got := plainValue(prop); got != "approved" {
		t.Fatalf("expected select fallback, got %q", got)
	}
}

func TestRecordFromPageToleratesWrongShapes(t *testing.T) {
	raw := `{
		"id": "page-1",
		"created_time": "2026-02-01T10:00:00.000Z",
		"properties": {
			"tg_id": {"type": "rich_text", "rich_text": [{"plain_text": "123"}]},
			"status": {"type": "rich_text", "rich_text": [{"plain_text": "Approved"}]},
			"discord": {"type": "number", "number": null},
			"email": {"type": "rich_text", "rich_text": []}
		}
	}`

	var p page
	if err := json.Unmarshal([]byte(raw), &p); err != nil {
		t.Fatalf("decode page: %v", err)
	}

	rec := recordFromPage(p)
	if rec.UserID != "123" {
		t.Fatalf("expected user id, got %q", rec.UserID)
	}
	if rec.Status != domain.StatusApproved {
		t.Fatalf("expected status normalized from text shape, got %q", rec.Status)
	}
	if rec.Discord != "" || rec.Email != "" {
		t.Fatalf("expected blank contacts for wrong/empty shapes, got %+v", rec)
	}
	if rec.ExpiresAt != "" {
		t.Fatalf("expected absent expires_at to stay blank, got %q", rec.ExpiresAt)
	}
}
