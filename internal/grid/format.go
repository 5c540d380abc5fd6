package grid

import (
	"encoding/json"
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"

	"golang.org/x/text/language"
	"golang.org/x/text/message"
	"golang.org/x/text/number"
)

// DefaultLocale is used when a Formatter is built from an empty or
// unparseable locale.
const DefaultLocale = "en-US"

// dateLayouts maps a locale (full tag first, then base language) to the
// numeric short date layout used for date columns.
var dateLayouts = map[string]string{
	"en-US": "1/2/2006",
	"en":    "02/01/2006",
	"es":    "2/1/2006",
	"pt":    "02/01/2006",
	"fr":    "02/01/2006",
	"it":    "2/1/2006",
	"de":    "2.1.2006",
	"nl":    "2-1-2006",
	"ja":    "2006/1/2",
	"zh":    "2006/1/2",
}

// dateInputLayouts are the string shapes recognised as dates.
var dateInputLayouts = []string{
	time.RFC3339Nano,
	time.RFC3339,
	"2006-01-02T15:04:05",
	"2006-01-02 15:04:05",
	"2006-01-02",
}

// Formatter renders raw cell values as display strings for one locale.
// It is safe for concurrent use.
type Formatter struct {
	tag        language.Tag
	printer    *message.Printer
	dateLayout string
}

// NewFormatter builds a Formatter for locale. An empty dateLayout selects the
// locale's short numeric date form.
func NewFormatter(locale, dateLayout string) *Formatter {
	tag, err := language.Parse(locale)
	if err != nil || locale == "" {
		tag = language.MustParse(DefaultLocale)
	}
	if dateLayout == "" {
		dateLayout = layoutFor(tag)
	}
	return &Formatter{
		tag:        tag,
		printer:    message.NewPrinter(tag),
		dateLayout: dateLayout,
	}
}

func layoutFor(tag language.Tag) string {
	if l, ok := dateLayouts[tag.String()]; ok {
		return l
	}
	base, _ := tag.Base()
	if l, ok := dateLayouts[base.String()]; ok {
		return l
	}
	return "2006-01-02"
}

// Locale returns the BCP 47 tag the formatter renders for.
func (f *Formatter) Locale() string { return f.tag.String() }

// Format maps a raw value and its declared column type to a display string.
// Every input has a defined output; nothing panics.
func (f *Formatter) Format(v any, t ColumnType) string {
	if v == nil {
		return ""
	}
	switch t {
	case TypeDate:
		switch d := v.(type) {
		case string:
			if parsed, ok := ParseDate(d); ok {
				return parsed.Format(f.dateLayout)
			}
			return d
		case time.Time:
			return d.Format(f.dateLayout)
		}
		return Stringify(v)
	case TypeNumber:
		if s, ok := f.formatNumber(v); ok {
			return s
		}
		return Stringify(v)
	default:
		return Stringify(v)
	}
}

func (f *Formatter) formatNumber(v any) (string, bool) {
	switch n := v.(type) {
	case int, int8, int16, int32, int64, uint, uint8, uint16, uint32, uint64:
		return f.printer.Sprintf("%v", number.Decimal(n)), true
	case float32:
		return f.formatFloat(float64(n)), true
	case float64:
		return f.formatFloat(n), true
	case json.Number:
		if fl, err := n.Float64(); err == nil {
			return f.formatFloat(fl), true
		}
	}
	return "", false
}

func (f *Formatter) formatFloat(n float64) string {
	switch {
	case math.IsNaN(n):
		return "NaN"
	case math.IsInf(n, 1):
		return "∞"
	case math.IsInf(n, -1):
		return "-∞"
	}
	return f.printer.Sprintf("%v", number.Decimal(n, number.MaxFractionDigits(3)))
}

// ParseDate recognises the date string shapes the formatter accepts.
func ParseDate(s string) (time.Time, bool) {
	s = strings.TrimSpace(s)
	for _, layout := range dateInputLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t, true
		}
	}
	return time.Time{}, false
}

// Stringify renders a value the way it is matched by substring filters and
// global search: nil is empty, scalars print plainly, maps and slices print
// as JSON.
func Stringify(v any) string {
	switch x := v.(type) {
	case nil:
		return ""
	case string:
		return x
	case []byte:
		return string(x)
	case bool:
		return strconv.FormatBool(x)
	case float64:
		return strconv.FormatFloat(x, 'f', -1, 64)
	case float32:
		return strconv.FormatFloat(float64(x), 'f', -1, 32)
	case time.Time:
		return x.Format(time.RFC3339)
	case map[string]any, Row, []any:
		b, err := json.Marshal(x)
		if err != nil {
			return fmt.Sprint(x)
		}
		return string(b)
	case fmt.Stringer:
		return x.String()
	default:
		return fmt.Sprint(x)
	}
}
