package scripthost

import (
	"fmt"
	"strings"
	"time"

	"github.com/ncruces/go-strftime"
)

// date is the Go-side value behind a sws.Date(...) Lua value: the
// parsed instant only. The input format is not kept; format renders
// the instant with whatever layout it is given.
type date struct {
	t time.Time
}

// parseDate parses s against the strftime-style layout fmtIn.
// go-strftime only formats, so parsing against an explicit,
// user-supplied layout is implemented here over stdlib time.Parse: no
// library in the retrieved pack does format-constrained date parsing.
func parseDate(s, fmtIn string) (date, error) {
	layout, err := strftimeToGoLayout(fmtIn)
	if err != nil {
		return date{}, fmt.Errorf("unsupported date format %q: %w", fmtIn, err)
	}
	t, err := time.Parse(layout, s)
	if err != nil {
		return date{}, fmt.Errorf("parse %q as %q: %w", s, fmtIn, err)
	}
	return date{t: t}, nil
}

// format renders the date using fmtOut's strftime directives via
// go-strftime, the pack's own date-formatting library.
func (d date) format(fmtOut string) (string, error) {
	return strftime.Format(fmtOut, d.t), nil
}

// strftimeToGoLayout translates the common strftime directive subset
// into a Go reference-time layout string.
func strftimeToGoLayout(f string) (string, error) {
	var b strings.Builder
	runes := []rune(f)
	for i := 0; i < len(runes); i++ {
		c := runes[i]
		if c != '%' || i == len(runes)-1 {
			b.WriteRune(c)
			continue
		}
		i++
		directive := runes[i]
		layout, ok := strftimeDirectives[directive]
		if !ok {
			return "", fmt.Errorf("unsupported strftime directive %%%c", directive)
		}
		b.WriteString(layout)
	}
	return b.String(), nil
}

var strftimeDirectives = map[rune]string{
	'Y': "2006",
	'y': "06",
	'm': "01",
	'd': "02",
	'e': "_2",
	'H': "15",
	'I': "03",
	'M': "04",
	'S': "05",
	'p': "PM",
	'B': "January",
	'b': "Jan",
	'A': "Monday",
	'a': "Mon",
	'z': "-0700",
	'Z': "MST",
	'%': "%",
}
