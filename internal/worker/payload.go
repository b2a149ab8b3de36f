package worker

import (
	"encoding/json"
	"strings"
)

// Severity classifies how insistently a notification is presented.
type Severity string

const (
	SeverityCritical Severity = "critical"
	SeverityWarning  Severity = "warning"
	SeverityInfo     Severity = "info"
)

const (
	DefaultTitle = "Notification"
	DefaultBody  = "New notification"
	DefaultURL   = "/"
)

// PushPayload is the decoded push message with every default applied.
type PushPayload struct {
	Title    string
	Body     string
	URL      string
	Icon     string
	Badge    string
	Image    string
	Severity Severity
}

// wirePayload holds the fields read from the relay's JSON. Empty strings count as absent.
type wirePayload struct {
	Title    string
	Body     string
	URL      string
	Icon     string
	Badge    string
	Image    string
	Severity string
	Critical flexBool
}

// wireFields is a decoded JSON object. Each field is read on its own so one value of an
// unexpected type never discards the rest of the payload.
type wireFields map[string]json.RawMessage

func (f wireFields) payload() wirePayload {
	w := wirePayload{
		Title:    f.text("title"),
		Body:     f.text("body"),
		URL:      f.text("url"),
		Icon:     f.text("icon"),
		Badge:    f.text("badge"),
		Image:    f.text("image"),
		Severity: f.text("severity"),
	}
	if v, ok := f["critical"]; ok {
		_ = w.Critical.UnmarshalJSON(v)
	}
	return w
}

// text reads a string field. Numbers are kept as their literal text; any other type
// counts as absent.
func (f wireFields) text(key string) string {
	v, ok := f[key]
	if !ok {
		return ""
	}
	var s string
	if json.Unmarshal(v, &s) == nil {
		return s
	}
	var n json.Number
	if json.Unmarshal(v, &n) == nil {
		return n.String()
	}
	return ""
}

// flexBool accepts true, "true" and "1". Anything else decodes to false without error
// so an odd legacy flag never turns a valid payload into a fallback one.
type flexBool bool

func (b *flexBool) UnmarshalJSON(data []byte) error {
	var v any
	if err := json.Unmarshal(data, &v); err != nil {
		*b = false
		return nil
	}
	switch t := v.(type) {
	case bool:
		*b = flexBool(t)
	case string:
		s := strings.ToLower(strings.TrimSpace(t))
		*b = flexBool(s == "true" || s == "1")
	case float64:
		*b = flexBool(t == 1)
	default:
		*b = false
	}
	return nil
}

// Resolve decodes raw push bytes into a PushPayload. It never fails: bytes that are not a
// JSON object degrade to the default title with the raw text as body.
func Resolve(raw []byte, defaults Presentation) PushPayload {
	defaults = defaults.withDefaults()
	var wire wirePayload
	if len(raw) > 0 {
		var fields wireFields
		if !isJSONObject(raw) || json.Unmarshal(raw, &fields) != nil {
			wire = wirePayload{Title: DefaultTitle, Body: string(raw)}
		} else {
			wire = fields.payload()
		}
	}
	return wire.resolve(defaults)
}

func (w wirePayload) resolve(defaults Presentation) PushPayload {
	p := PushPayload{
		Title:    firstNonEmpty(w.Title, DefaultTitle),
		Body:     firstNonEmpty(w.Body, DefaultBody),
		URL:      firstNonEmpty(w.URL, DefaultURL),
		Icon:     firstNonEmpty(w.Icon, defaults.Icon),
		Badge:    firstNonEmpty(w.Badge, defaults.Badge),
		Image:    w.Image,
		Severity: ParseSeverity(w.Severity),
	}
	if strings.TrimSpace(w.Severity) == "" && bool(w.Critical) {
		p.Severity = SeverityCritical
	}
	return p
}

// ParseSeverity normalises a severity label, defaulting to info.
func ParseSeverity(value string) Severity {
	v := strings.ToLower(strings.TrimSpace(value))
	if v == "" {
		return SeverityInfo
	}
	return Severity(v)
}

// IsCritical reports whether s demands the insistent presentation.
func (s Severity) IsCritical() bool {
	return s == SeverityCritical
}

func isJSONObject(raw []byte) bool {
	trimmed := strings.TrimSpace(string(raw))
	return strings.HasPrefix(trimmed, "{") || trimmed == "null"
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}
