package normalize

import (
	"encoding/json"
	"fmt"
	"math"
	"net/url"
	"strconv"
	"strings"
	"time"
	"unicode"

	"github.com/araddon/dateparse"
	"github.com/jaytaylor/html2text"
	"github.com/poiesic/corpus/core"
	"golang.org/x/text/language"
	"golang.org/x/text/unicode/norm"
)

// Epoch values above this are taken to be milliseconds.
const millisecondThreshold = 1e12

// 9999-12-31T23:59:59Z, the last second any store can hold.
const maxEpochSeconds = 253402300799

// Normalizer turns FetchedPage records into Document candidates.
// It holds no mutable state and is safe for concurrent use.
type Normalizer struct {
	strictLanguage bool
	htmlFallback   bool
}

// Option configures a Normalizer.
type Option func(*Normalizer) error

// WithStrictLanguage rejects records whose lang is not a valid BCP 47 tag.
// By default such tags are dropped.
func WithStrictLanguage() Option {
	return func(n *Normalizer) error {
		n.strictLanguage = true
		return nil
	}
}

// WithHTMLFallback controls whether text is extracted from the html field
// when the text field is empty. Enabled by default.
func WithHTMLFallback(enabled bool) Option {
	return func(n *Normalizer) error {
		n.htmlFallback = enabled
		return nil
	}
}

// New creates a Normalizer.
func New(opts ...Option) (*Normalizer, error) {
	n := &Normalizer{htmlFallback: true}
	for _, opt := range opts {
		if err := opt(n); err != nil {
			return nil, err
		}
	}
	return n, nil
}

// Normalize validates page and returns its canonical Document. The returned
// document has no identity or timestamps of record yet.
func (n *Normalizer) Normalize(page *core.FetchedPage) (*core.Document, error) {
	if page == nil {
		return nil, fmt.Errorf("%w: page is nil", core.ErrInvalidInput)
	}

	u, err := CanonicalURL(page.URL)
	if err != nil {
		return nil, err
	}

	text, err := n.text(page)
	if err != nil {
		return nil, err
	}

	lang, err := n.language(page.Lang)
	if err != nil {
		return nil, err
	}

	fetchedAt, err := ParseTimestamp(page.FetchedAt)
	if err != nil {
		return nil, err
	}

	if page.Status < 0 || page.Status > 999 {
		return nil, fmt.Errorf("%w: status %d out of range", core.ErrInvalidInput, page.Status)
	}

	meta, err := CanonicalMeta(page.Meta)
	if err != nil {
		return nil, err
	}

	domain := strings.ToLower(strings.TrimSpace(page.Domain))
	if domain == "" {
		domain = strings.ToLower(u.Hostname())
	}

	return &core.Document{
		URL:         u.String(),
		Title:       collapseSpace(page.Title),
		Lang:        lang,
		Domain:      domain,
		FetchedAt:   fetchedAt,
		Status:      page.Status,
		ContentType: strings.TrimSpace(page.ContentType),
		Text:        text,
		Meta:        meta,
	}, nil
}

// CanonicalURL parses raw as an absolute URL, lower-cases its scheme and host
// and drops the fragment.
func CanonicalURL(raw string) (*url.URL, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil, fmt.Errorf("%w: %w", core.ErrInvalidInput, core.ErrEmptyURL)
	}
	u, err := url.Parse(raw)
	if err != nil {
		return nil, fmt.Errorf("%w: %w: %w", core.ErrInvalidInput, core.ErrMalformedURL, err)
	}
	if !u.IsAbs() || u.Hostname() == "" {
		return nil, fmt.Errorf("%w: %w: %q is not absolute", core.ErrInvalidInput, core.ErrMalformedURL, raw)
	}
	u.Scheme = strings.ToLower(u.Scheme)
	u.Host = strings.ToLower(u.Host)
	u.Fragment = ""
	u.RawFragment = ""
	return u, nil
}

// NormalizeText applies NFC, unifies line endings, strips NUL and invalid
// UTF-8, and trims whitespace and control characters at both edges.
func NormalizeText(s string) string {
	s = strings.ToValidUTF8(s, "\uFFFD")
	s = strings.ReplaceAll(s, "\x00", "")
	s = norm.NFC.String(s)
	s = strings.ReplaceAll(s, "\r\n", "\n")
	s = strings.ReplaceAll(s, "\r", "\n")
	return strings.TrimFunc(s, func(r rune) bool {
		return unicode.IsSpace(r) || unicode.IsControl(r) || r == '\uFEFF'
	})
}

func (n *Normalizer) text(page *core.FetchedPage) (string, error) {
	text := NormalizeText(page.Text)
	if text == "" && n.htmlFallback && strings.TrimSpace(page.HTML) != "" {
		extracted, err := html2text.FromString(page.HTML, html2text.Options{OmitLinks: true})
		if err != nil {
			return "", fmt.Errorf("%w: extracting text from html: %w", core.ErrInvalidInput, err)
		}
		text = NormalizeText(extracted)
	}
	if text == "" {
		return "", fmt.Errorf("%w: %w", core.ErrInvalidInput, core.ErrEmptyText)
	}
	return text, nil
}

func (n *Normalizer) language(raw string) (string, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return "", nil
	}
	tag, err := language.Parse(raw)
	if err != nil {
		if n.strictLanguage {
			return "", fmt.Errorf("%w: %w: %q", core.ErrInvalidInput, core.ErrInvalidLanguage, raw)
		}
		return "", nil
	}
	return tag.String(), nil
}

// ParseTimestamp accepts Unix seconds or milliseconds, RFC 3339, ISO-8601
// basic and reduced forms (2024, 20240115), or any format dateparse
// recognizes. Zones default to UTC. The result is in UTC and truncated to
// microseconds so it survives a round trip through any supported store
// unchanged. Years outside 0..9999 are rejected. An empty string yields nil.
func ParseTimestamp(raw string) (*time.Time, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil, nil
	}
	invalid := fmt.Errorf("%w: %w: %q", core.ErrInvalidInput, core.ErrInvalidTimestamp, raw)

	t, matched, err := parseCalendarDigits(raw)
	if !matched {
		t, err = parseEpochOrDate(raw)
	}
	if err != nil {
		return nil, invalid
	}

	t = t.UTC().Truncate(time.Microsecond)
	if y := t.Year(); y < 0 || y > 9999 {
		return nil, invalid
	}
	return &t, nil
}

// parseCalendarDigits reads the all-digit ISO-8601 forms YYYY and YYYYMMDD,
// which would otherwise be taken for small Unix times. matched reports
// whether raw has one of those shapes at all.
func parseCalendarDigits(raw string) (t time.Time, matched bool, err error) {
	var layout string
	switch len(raw) {
	case 4:
		layout = "2006"
	case 8:
		layout = "20060102"
	default:
		return time.Time{}, false, nil
	}
	for _, r := range raw {
		if r < '0' || r > '9' {
			return time.Time{}, false, nil
		}
	}
	t, err = time.ParseInLocation(layout, raw, time.UTC)
	return t, true, err
}

func parseEpochOrDate(raw string) (time.Time, error) {
	if f, err := strconv.ParseFloat(raw, 64); err == nil {
		if math.IsNaN(f) || math.IsInf(f, 0) || f < 0 {
			return time.Time{}, core.ErrInvalidTimestamp
		}
		if f > millisecondThreshold {
			f /= 1000
		}
		if f > maxEpochSeconds {
			return time.Time{}, core.ErrInvalidTimestamp
		}
		sec, frac := math.Modf(f)
		return time.Unix(int64(sec), int64(frac*1e9)), nil
	}
	if t, err := time.Parse(time.RFC3339Nano, raw); err == nil {
		return t, nil
	}
	return dateparse.ParseIn(raw, time.UTC)
}

func collapseSpace(s string) string {
	return strings.Join(strings.Fields(s), " ")
}

// CanonicalMeta deep-copies meta through JSON so its value types match what a
// store returns after decoding.
func CanonicalMeta(meta map[string]any) (map[string]any, error) {
	if len(meta) == 0 {
		return nil, nil
	}
	raw, err := json.Marshal(meta)
	if err != nil {
		return nil, fmt.Errorf("%w: meta is not JSON encodable: %w", core.ErrInvalidInput, err)
	}
	var out map[string]any
	if err := json.Unmarshal(raw, &out); err != nil {
		return nil, fmt.Errorf("%w: %w", core.ErrInvalidInput, err)
	}
	return out, nil
}
