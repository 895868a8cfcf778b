package core

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strconv"
)

// FetchedPage is the raw record handed over by the crawler, one per fetched page.
type FetchedPage struct {
	URL         string         `json:"url"`
	Text        string         `json:"text"`
	HTML        string         `json:"html,omitempty"`
	Title       string         `json:"title,omitempty"`
	Lang        string         `json:"lang,omitempty"`
	Domain      string         `json:"domain,omitempty"`
	FetchedAt   string         `json:"fetched_at,omitempty"` // ISO-8601, or Unix seconds/milliseconds
	Status      int            `json:"status,omitempty"`
	ContentType string         `json:"content_type,omitempty"`
	Meta        map[string]any `json:"meta,omitempty"`
}

// UnmarshalJSON decodes a crawler record. Keys outside the known set are
// folded into Meta, fetched_at may be a string or a number, and raw_html is
// accepted as an alias for html.
func (p *FetchedPage) UnmarshalJSON(data []byte) error {
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(data, &fields); err != nil {
		return fmt.Errorf("%w: %w", ErrInvalidInput, err)
	}
	if fields == nil {
		return fmt.Errorf("%w: record is null", ErrInvalidInput)
	}

	*p = FetchedPage{}
	var extra map[string]any
	for key, raw := range fields {
		var err error
		switch key {
		case "url":
			err = decodeString(raw, &p.URL)
		case "text":
			err = decodeString(raw, &p.Text)
		case "html":
			err = decodeString(raw, &p.HTML)
		case "raw_html":
			var html string
			err = decodeString(raw, &html)
			if p.HTML == "" {
				p.HTML = html
			}
		case "title":
			err = decodeString(raw, &p.Title)
		case "lang":
			err = decodeString(raw, &p.Lang)
		case "domain":
			err = decodeString(raw, &p.Domain)
		case "fetched_at", "fetched_at_iso":
			var ts string
			err = decodeScalar(raw, &ts)
			if ts != "" && (p.FetchedAt == "" || key == "fetched_at_iso") {
				p.FetchedAt = ts
			}
		case "status":
			var status string
			if err = decodeScalar(raw, &status); err == nil && status != "" {
				p.Status, err = strconv.Atoi(status)
			}
		case "content_type":
			err = decodeString(raw, &p.ContentType)
		case "meta":
			if !isNull(raw) {
				err = json.Unmarshal(raw, &p.Meta)
			}
		default:
			var v any
			if err = json.Unmarshal(raw, &v); err == nil {
				if extra == nil {
					extra = make(map[string]any)
				}
				extra[key] = v
			}
		}
		if err != nil {
			return fmt.Errorf("%w: field %q: %w", ErrInvalidInput, key, err)
		}
	}

	for key, v := range extra {
		if p.Meta == nil {
			p.Meta = make(map[string]any, len(extra))
		}
		if _, exists := p.Meta[key]; !exists {
			p.Meta[key] = v
		}
	}
	return nil
}

func isNull(raw json.RawMessage) bool {
	return bytes.Equal(bytes.TrimSpace(raw), []byte("null"))
}

func decodeString(raw json.RawMessage, dst *string) error {
	if isNull(raw) {
		return nil
	}
	return json.Unmarshal(raw, dst)
}

// decodeScalar accepts a JSON string or number and stores its text form.
func decodeScalar(raw json.RawMessage, dst *string) error {
	if isNull(raw) {
		return nil
	}
	var n json.Number
	if err := json.Unmarshal(raw, &n); err == nil {
		*dst = n.String()
		return nil
	}
	return json.Unmarshal(raw, dst)
}
