package normalize

import (
	"path/filepath"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/ccollicutt/reqtrace/pkg/event"
)

var (
	// isoPattern matches a full instant such as 2025-11-21T10:54:40.479123Z.
	isoPattern = regexp.MustCompile(`\d{4}-\d{2}-\d{2}T\d{2}:\d{2}:\d{2}(?:\.\d+)?(?:Z|[+-]\d{2}:\d{2})`)

	// isoParts splits an instant into base seconds, fraction digits and zone.
	isoParts = regexp.MustCompile(`^(\d{4}-\d{2}-\d{2}T\d{2}:\d{2}:\d{2})(?:\.(\d+))?(Z|[+-]\d{2}:\d{2})$`)

	// dateHourPattern matches a date plus hour prefix such as 2025-11-21T10.
	dateHourPattern = regexp.MustCompile(`\d{4}-\d{2}-\d{2}T\d{2}\b`)

	// fragmentPattern matches a minute:second[.fraction]Z fragment such as 54:40.479Z.
	fragmentPattern = regexp.MustCompile(`\b\d{2}:\d{2}(?:\.\d+)?Z`)
)

// fallbackLayouts are tried on a designated timestamp column whose value is
// not ISO-8601 shaped.
var fallbackLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02 15:04:05.999999999Z07:00",
	"2006-01-02 15:04:05.999999999",
	"2006-01-02T15:04:05.999999999",
}

// TimestampResolver resolves an event instant from a row's text.
type TimestampResolver struct {
	// DateHourColumn names the row column carrying a date-hour hint, used by
	// line sources that track a prefix line.
	DateHourColumn string
}

// Resolve runs the resolution order: an explicit instant in the timestamp
// column, the message or the raw text; then an instant reconstructed from a
// date-hour prefix and a minute:second fragment; otherwise absent.
func (r TimestampResolver) Resolve(column, message, raw string, row event.Row, source string) event.Timestamp {
	if column != "" {
		if ts, ok := explicit(column); ok {
			return ts
		}
		for _, layout := range fallbackLayouts {
			if t, err := time.Parse(layout, column); err == nil {
				return event.Timestamp{Kind: event.KindExplicit, Time: t, Raw: column}
			}
		}
	}

	for _, text := range distinct(message, raw) {
		if ts, ok := explicit(text); ok {
			return ts
		}
	}

	for _, text := range distinct(message, raw) {
		if ts, ok := r.reconstruct(text, row, source); ok {
			return ts
		}
	}

	return event.Timestamp{Kind: event.KindAbsent}
}

func (r TimestampResolver) reconstruct(text string, row event.Row, source string) (event.Timestamp, bool) {
	frag := fragmentPattern.FindString(text)
	if frag == "" {
		return event.Timestamp{}, false
	}

	prefix := dateHourPattern.FindString(text)
	if prefix == "" && r.DateHourColumn != "" {
		prefix, _ = row.Get(r.DateHourColumn)
	}
	if prefix == "" {
		prefix = SourcePrefix(source)
	}
	if prefix == "" {
		return event.Timestamp{}, false
	}

	candidate := prefix + ":" + frag
	t, ok := ParseInstant(candidate)
	if !ok {
		return event.Timestamp{}, false
	}
	return event.Timestamp{Kind: event.KindReconstructed, Time: t, Raw: candidate}, true
}

func explicit(text string) (event.Timestamp, bool) {
	match := isoPattern.FindString(text)
	if match == "" {
		return event.Timestamp{}, false
	}
	t, ok := ParseInstant(match)
	if !ok {
		return event.Timestamp{}, false
	}
	return event.Timestamp{Kind: event.KindExplicit, Time: t, Raw: match}, true
}

// SourcePrefix derives a date-hour prefix from a batch source name: the
// date-hour fragment inside the base name, or the base name without its
// extension when no fragment is present.
func SourcePrefix(source string) string {
	if source == "" {
		return ""
	}
	base := filepath.Base(source)
	base = strings.TrimSuffix(base, filepath.Ext(base))
	if m := dateHourPattern.FindString(base); m != "" {
		return m
	}
	return base
}

// ParseInstant parses an ISO-8601 instant with a fraction of any length. The
// fraction is read as a base-10 fraction of a second, so ".123456" adds
// 123.456ms and ".479" adds 479ms.
func ParseInstant(s string) (time.Time, bool) {
	m := isoParts.FindStringSubmatch(s)
	if m == nil {
		return time.Time{}, false
	}
	base, err := time.Parse("2006-01-02T15:04:05Z07:00", m[1]+m[3])
	if err != nil {
		return time.Time{}, false
	}
	return base.Add(FractionToDuration(m[2])), true
}

// FractionToDuration converts the digits after a decimal point into a
// duration. Digits beyond nanosecond precision are rounded.
func FractionToDuration(digits string) time.Duration {
	if digits == "" {
		return 0
	}
	const precision = 9
	roundUp := false
	if len(digits) > precision {
		roundUp = digits[precision] >= '5'
		digits = digits[:precision]
	}
	digits += strings.Repeat("0", precision-len(digits))
	n, err := strconv.ParseInt(digits, 10, 64)
	if err != nil {
		return 0
	}
	if roundUp {
		n++
	}
	return time.Duration(n)
}

func distinct(a, b string) []string {
	if a == b || b == "" {
		return []string{a}
	}
	if a == "" {
		return []string{b}
	}
	return []string{a, b}
}
