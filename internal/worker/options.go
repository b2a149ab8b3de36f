package worker

import (
	"fmt"
	"net/url"
	"regexp"
	"strings"
	"time"

	"github.com/google/uuid"
)

const (
	DefaultIcon        = "/static/notification-icon.png"
	DefaultBadge       = "/static/notification-badge.png"
	DefaultCriticalTag = "critical"
)

// VibrationProfile selects the pattern used for non-critical notifications.
type VibrationProfile string

const (
	VibrationNone VibrationProfile = "none"
	VibrationMild VibrationProfile = "mild"
)

var (
	StrongVibration = []int{300, 100, 300, 100, 300}
	MildVibration   = []int{100}
)

// Presentation holds the knobs that are not derived from the payload.
type Presentation struct {
	Icon              string
	Badge             string
	CriticalTag       string
	CriticalVibration []int
	InfoVibration     VibrationProfile
	MildVibration     []int
	// InfoSilent asks the host not to play a sound for non-critical notifications.
	InfoSilent bool
	// DiagnosticFetch enables the best-effort GET of the resolved icon.
	DiagnosticFetch bool
}

// DefaultPresentation returns the presentation used when nothing is configured.
func DefaultPresentation() Presentation {
	return Presentation{
		Icon:              DefaultIcon,
		Badge:             DefaultBadge,
		CriticalTag:       DefaultCriticalTag,
		CriticalVibration: StrongVibration,
		InfoVibration:     VibrationNone,
		MildVibration:     MildVibration,
	}
}

func (p Presentation) withDefaults() Presentation {
	d := DefaultPresentation()
	if p.Icon == "" {
		p.Icon = d.Icon
	}
	if p.Badge == "" {
		p.Badge = d.Badge
	}
	if p.CriticalTag == "" {
		p.CriticalTag = d.CriticalTag
	}
	if len(p.CriticalVibration) == 0 {
		p.CriticalVibration = d.CriticalVibration
	}
	if p.InfoVibration == "" {
		p.InfoVibration = d.InfoVibration
	}
	if len(p.MildVibration) == 0 {
		p.MildVibration = d.MildVibration
	}
	return p
}

// ParseVibrationProfile accepts "none" or "mild".
func ParseVibrationProfile(value string) (VibrationProfile, error) {
	switch VibrationProfile(strings.ToLower(strings.TrimSpace(value))) {
	case "", VibrationNone:
		return VibrationNone, nil
	case VibrationMild:
		return VibrationMild, nil
	}
	return "", fmt.Errorf("unknown vibration profile %q", value)
}

// NotificationData is the metadata attached at show time and read back on click.
type NotificationData struct {
	URL string `json:"url"`
}

// NotificationOptions is what the host receives alongside the title.
type NotificationOptions struct {
	Body               string           `json:"body"`
	Icon               string           `json:"icon,omitempty"`
	Badge              string           `json:"badge,omitempty"`
	Image              string           `json:"image,omitempty"`
	Tag                string           `json:"tag"`
	Renotify           bool             `json:"renotify"`
	RequireInteraction bool             `json:"requireInteraction"`
	Silent             bool             `json:"silent"`
	Vibrate            []int            `json:"vibrate,omitempty"`
	Data               NotificationData `json:"data"`
}

// TagFunc yields identity tags for non-critical notifications.
type TagFunc func() string

// TimeTag builds "<unix-millis>-<random>" tags so stacked notifications never collide.
func TimeTag(now func() time.Time) TagFunc {
	if now == nil {
		now = time.Now
	}
	return func() string {
		return fmt.Sprintf("%d-%s", now().UnixMilli(), uuid.NewString()[:8])
	}
}

// BuildOptions maps a resolved payload to host options. Only vibration, renotify,
// requireInteraction, silent and tag depend on severity. A nil nextTag uses TimeTag.
func BuildOptions(p PushPayload, origin *url.URL, pres Presentation, nextTag TagFunc) NotificationOptions {
	pres = pres.withDefaults()
	if nextTag == nil {
		nextTag = TimeTag(nil)
	}
	icon := ResolveAsset(origin, p.Icon)
	image := icon
	if p.Image != "" {
		image = ResolveAsset(origin, p.Image)
	}
	opts := NotificationOptions{
		Body:  p.Body,
		Icon:  icon,
		Badge: ResolveAsset(origin, p.Badge),
		Image: image,
		Data:  NotificationData{URL: p.URL},
	}
	if p.Severity.IsCritical() {
		opts.RequireInteraction = true
		opts.Renotify = true
		opts.Tag = pres.CriticalTag
		opts.Vibrate = append([]int(nil), pres.CriticalVibration...)
		return opts
	}
	opts.Tag = nextTag()
	opts.Silent = pres.InfoSilent
	if pres.InfoVibration == VibrationMild {
		opts.Vibrate = append([]int(nil), pres.MildVibration...)
	}
	return opts
}

var schemePattern = regexp.MustCompile(`^[a-zA-Z][a-zA-Z0-9+.\-]*:`)

// ResolveAsset leaves fully-qualified locations untouched and prefixes everything else
// with the origin.
func ResolveAsset(origin *url.URL, value string) string {
	if value == "" {
		return ""
	}
	if schemePattern.MatchString(value) {
		return value
	}
	return originString(origin) + ensureSlash(value)
}

// SameOriginLocation builds an absolute location on origin from a stored path. Only the
// path, query and fragment of stored survive, so the result never leaves the origin.
func SameOriginLocation(origin *url.URL, stored string) string {
	target := *origin
	target.Path = "/"
	target.RawPath = ""
	target.RawQuery = ""
	target.Fragment = ""
	target.User = nil
	if stored == "" {
		return target.String()
	}
	parsed, err := url.Parse(stored)
	if err != nil {
		return target.String()
	}
	target.Path = ensureSlash(parsed.Path)
	target.RawPath = ""
	if parsed.RawPath != "" {
		target.RawPath = ensureSlash(parsed.RawPath)
	}
	target.RawQuery = parsed.RawQuery
	target.Fragment = parsed.Fragment
	return target.String()
}

func originString(origin *url.URL) string {
	return (&url.URL{Scheme: origin.Scheme, Host: origin.Host}).String()
}

func ensureSlash(p string) string {
	if strings.HasPrefix(p, "/") {
		return p
	}
	return "/" + p
}

// ParseOrigin validates an origin such as "https://example.com:8443".
func ParseOrigin(raw string) (*url.URL, error) {
	u, err := url.Parse(strings.TrimSpace(raw))
	if err != nil {
		return nil, fmt.Errorf("parse origin: %w", err)
	}
	if u.Scheme == "" || u.Host == "" {
		return nil, fmt.Errorf("origin %q must include scheme and host", raw)
	}
	return &url.URL{Scheme: u.Scheme, Host: u.Host}, nil
}
