package policy

import (
	"errors"
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"
)

// ISODuration is an ISO-8601 duration such as P1Y2M3DT4H5M6.5S or P2W.
// Calendar parts are applied with time.AddDate so months and years keep
// their calendar length relative to the start instant.
type ISODuration struct {
	Negative bool
	Years    int
	Months   int
	Days     int
	Clock    time.Duration
}

// ParseISODuration parses the PnYnMnDTnHnMnS and PnW forms. Only the
// seconds component may carry a fraction.
func ParseISODuration(s string) (ISODuration, error) {
	var d ISODuration
	in := strings.TrimSpace(s)
	if strings.HasPrefix(in, "-") {
		d.Negative = true
		in = in[1:]
	}
	if !strings.HasPrefix(in, "P") || len(in) < 3 {
		return ISODuration{}, fmt.Errorf("invalid duration %q", s)
	}
	in = in[1:]

	datePart, timePart, hasTime := strings.Cut(in, "T")
	if hasTime && timePart == "" {
		return ISODuration{}, fmt.Errorf("invalid duration %q: empty time part", s)
	}

	seen := false
	for datePart != "" {
		num, unit, rest, err := nextComponent(datePart)
		if err != nil {
			return ISODuration{}, fmt.Errorf("invalid duration %q: %w", s, err)
		}
		n, err := wholeNumber(num)
		if err != nil {
			return ISODuration{}, fmt.Errorf("invalid duration %q: %w", s, err)
		}
		if n > maxDays {
			return ISODuration{}, fmt.Errorf("invalid duration %q: %w", s, errDurationRange)
		}
		switch unit {
		case 'Y':
			d.Years = n
		case 'M':
			d.Months = n
		case 'W':
			d.Days += 7 * n
		case 'D':
			d.Days += n
		default:
			return ISODuration{}, fmt.Errorf("invalid duration %q: unexpected %q in date part", s, unit)
		}
		seen = true
		datePart = rest
	}

	for timePart != "" {
		num, unit, rest, err := nextComponent(timePart)
		if err != nil {
			return ISODuration{}, fmt.Errorf("invalid duration %q: %w", s, err)
		}
		switch unit {
		case 'H', 'M':
			n, err := wholeNumber(num)
			if err != nil {
				return ISODuration{}, fmt.Errorf("invalid duration %q: %w", s, err)
			}
			per := time.Minute
			if unit == 'H' {
				per = time.Hour
			}
			if err := d.addClock(int64(n), per); err != nil {
				return ISODuration{}, fmt.Errorf("invalid duration %q: %w", s, err)
			}
		case 'S':
			f, err := strconv.ParseFloat(num, 64)
			if err != nil || f < 0 {
				return ISODuration{}, fmt.Errorf("invalid duration %q: bad seconds %q", s, num)
			}
			whole, frac := math.Modf(f)
			if whole > float64(maxDays)*86400 {
				return ISODuration{}, fmt.Errorf("invalid duration %q: %w", s, errDurationRange)
			}
			if err := d.addClock(int64(whole), time.Second); err != nil {
				return ISODuration{}, fmt.Errorf("invalid duration %q: %w", s, err)
			}
			if err := d.addClock(int64(frac*float64(time.Second)), time.Nanosecond); err != nil {
				return ISODuration{}, fmt.Errorf("invalid duration %q: %w", s, err)
			}
		default:
			return ISODuration{}, fmt.Errorf("invalid duration %q: unexpected %q in time part", s, unit)
		}
		seen = true
		timePart = rest
	}

	if !seen {
		return ISODuration{}, fmt.Errorf("invalid duration %q: no components", s)
	}
	if d.Years > maxDays/365 || d.Months > maxDays/28 || d.Days > maxDays {
		return ISODuration{}, fmt.Errorf("invalid duration %q: %w", s, errDurationRange)
	}
	return d, nil
}

// maxDays bounds every calendar part so AddDate stays far from overflow.
const maxDays = 10000 * 366

var errDurationRange = errors.New("duration out of range")

// addClock adds n units to the clock part. Whole days move into Days
// whenever the clock would leave the range of time.Duration.
func (d *ISODuration) addClock(n int64, unit time.Duration) error {
	perDay := int64(24 * time.Hour / unit)
	if n/perDay > maxDays {
		return errDurationRange
	}
	if n > math.MaxInt64/int64(unit) {
		d.Days += int(n / perDay)
		n %= perDay
	}
	v := time.Duration(n) * unit
	if d.Clock > math.MaxInt64-v {
		d.Days += int(d.Clock / (24 * time.Hour))
		d.Clock %= 24 * time.Hour
	}
	d.Clock += v
	if d.Days > maxDays {
		return errDurationRange
	}
	return nil
}

// AddTo returns t shifted by the duration.
func (d ISODuration) AddTo(t time.Time) time.Time {
	if d.Negative {
		return t.AddDate(-d.Years, -d.Months, -d.Days).Add(-d.Clock)
	}
	return t.AddDate(d.Years, d.Months, d.Days).Add(d.Clock)
}

func (d ISODuration) String() string {
	var b strings.Builder
	if d.Negative {
		b.WriteByte('-')
	}
	b.WriteByte('P')
	if d.Years != 0 {
		fmt.Fprintf(&b, "%dY", d.Years)
	}
	if d.Months != 0 {
		fmt.Fprintf(&b, "%dM", d.Months)
	}
	if d.Days != 0 {
		fmt.Fprintf(&b, "%dD", d.Days)
	}
	if d.Clock != 0 {
		fmt.Fprintf(&b, "T%gS", d.Clock.Seconds())
	}
	if d.Years == 0 && d.Months == 0 && d.Days == 0 && d.Clock == 0 {
		b.WriteString("T0S")
	}
	return b.String()
}

// nextComponent splits "12D..." into ("12", 'D', "...").
func nextComponent(s string) (string, byte, string, error) {
	i := 0
	for i < len(s) && (s[i] >= '0' && s[i] <= '9' || s[i] == '.' || s[i] == ',') {
		i++
	}
	if i == 0 || i == len(s) {
		return "", 0, "", fmt.Errorf("malformed component %q", s)
	}
	return strings.ReplaceAll(s[:i], ",", "."), s[i], s[i+1:], nil
}

func wholeNumber(s string) (int, error) {
	n, err := strconv.Atoi(s)
	if err != nil || n < 0 {
		return 0, fmt.Errorf("bad number %q", s)
	}
	return n, nil
}
