// Package device compares trusted device fingerprints. A fingerprint is
// the device kind plus the browser name, OS name, and CPU architecture
// parsed from the user-agent string, ordered by record creation time.
package device

import (
	"strings"
	"time"

	"github.com/mileusna/useragent"
)

// Kind distinguishes browser sessions from native app sessions.
type Kind string

const (
	KindBrowser Kind = "browser"
	KindApp     Kind = "app"
)

// AccessRecord is one trusted device entry bound to a principal, and the
// snapshot embedded inside auth tokens.
type AccessRecord struct {
	Device    Kind      `json:"device"`
	Info      string    `json:"info"`
	IP        string    `json:"ip"`
	CreatedAt time.Time `json:"createdAt"`
}

// NewAccessRecord builds a record from the request's user-agent string
// and client IP. A zero createdAt means "now", truncated to whole
// seconds to match token issue-time precision.
func NewAccessRecord(info, ip string, createdAt time.Time) AccessRecord {
	if createdAt.IsZero() {
		createdAt = time.Now()
	}
	return AccessRecord{
		Device:    KindBrowser,
		Info:      info,
		IP:        ip,
		CreatedAt: createdAt.UTC().Truncate(time.Second),
	}
}

// MatchOptions tunes the fingerprint relation.
type MatchOptions struct {
	// IgnoreTime skips the issue-time ordering rule. Used when looking
	// for duplicate entries at login and when removing entries at
	// logout, where the request time is irrelevant.
	IgnoreTime bool
}

// Same reports whether request matches available under the fingerprint
// relation. The time rule rejects tokens whose embedded issue time
// predates the currently recorded trust entry for the device, which is
// what invalidates replayed tokens after a device record rotates.
func Same(request, available AccessRecord, opts MatchOptions) bool {
	if request.Device != available.Device {
		return false
	}
	if !opts.IgnoreTime && request.CreatedAt.Before(available.CreatedAt) {
		return false
	}

	reqUA := parse(request.Info)
	availUA := parse(available.Info)

	return reqUA.browser == availUA.browser &&
		reqUA.os == availUA.os &&
		reqUA.arch == availUA.arch
}

// HasAccess reports whether any stored record matches the request.
func HasAccess(request AccessRecord, available []AccessRecord, opts MatchOptions) bool {
	for _, record := range available {
		if Same(request, record, opts) {
			return true
		}
	}
	return false
}

// Remove returns available without the records matching request under
// the time-ignored relation. Used by logout.
func Remove(request AccessRecord, available []AccessRecord) []AccessRecord {
	kept := make([]AccessRecord, 0, len(available))
	for _, record := range available {
		if Same(request, record, MatchOptions{IgnoreTime: true}) {
			continue
		}
		kept = append(kept, record)
	}
	return kept
}

type fingerprint struct {
	browser string
	os      string
	arch    string
}

func parse(info string) fingerprint {
	ua := useragent.Parse(info)
	return fingerprint{
		browser: ua.Name,
		os:      ua.OS,
		arch:    cpuArchitecture(info),
	}
}

// cpuArchitecture extracts the CPU architecture token from a raw
// user-agent string. The parser library does not surface it.
func cpuArchitecture(info string) string {
	lower := strings.ToLower(info)
	switch {
	case strings.Contains(lower, "x86_64"), strings.Contains(lower, "x64"),
		strings.Contains(lower, "amd64"), strings.Contains(lower, "win64"),
		strings.Contains(lower, "wow64"):
		return "amd64"
	case strings.Contains(lower, "aarch64"), strings.Contains(lower, "arm64"):
		return "arm64"
	case strings.Contains(lower, "arm"):
		return "arm"
	case strings.Contains(lower, "i686"), strings.Contains(lower, "i386"),
		strings.Contains(lower, "x86"):
		return "386"
	default:
		return ""
	}
}
