package streams

import (
	"fmt"
	"net/url"
	"strconv"
	"strings"
	"time"
	"unicode"
	"unicode/utf8"
)

// PlaceholderImageURL returns a 40x40 placeholder showing the first letter of
// name, or "?" for an empty name. It depends only on name.
func PlaceholderImageURL(name string) string {
	letter := "?"
	if r, _ := utf8.DecodeRuneInString(strings.TrimSpace(name)); r != utf8.RuneError {
		letter = string(unicode.ToUpper(r))
	}
	return placeholderBase + url.QueryEscape(letter)
}

// ThumbnailURL fills the {width} and {height} slots of a Helix thumbnail
// template. An empty template yields the placeholder for name.
func ThumbnailURL(template string, width, height int, name string) string {
	if template == "" {
		return PlaceholderImageURL(name)
	}
	return sizeTemplate(template, width, height)
}

func sizeTemplate(template string, width, height int) string {
	r := strings.NewReplacer("{width}", strconv.Itoa(width), "{height}", strconv.Itoa(height))
	return r.Replace(template)
}

// FormatDuration renders how long a stream has been live as "2h5m", "2h" or
// "7m". ok is false when startedAt is not RFC 3339.
func FormatDuration(startedAt string, now time.Time) (s string, ok bool) {
	start, err := time.Parse(time.RFC3339, startedAt)
	if err != nil {
		return "", false
	}
	d := now.Sub(start)
	if d < 0 {
		d = 0
	}
	hours := int(d / time.Hour)
	minutes := int((d % time.Hour) / time.Minute)
	switch {
	case hours == 0:
		return fmt.Sprintf("%dm", minutes), true
	case minutes == 0:
		return fmt.Sprintf("%dh", hours), true
	default:
		return fmt.Sprintf("%dh%dm", hours, minutes), true
	}
}

// displayName picks the name shown for a broadcaster.
func displayName(userName, login string) string {
	if userName != "" {
		return userName
	}
	return login
}
