// Package logparse extracts census check-in records from Apache access-log
// lines. Extraction fails closed: any line that does not look like a
// successful GET of the census endpoint with a valid channel and generation
// is rejected with a validation error, never a crash.
package logparse

import (
	"fmt"
	"net/url"
	"regexp"
	"strconv"
	"time"

	"github.com/machinecensus/machinecensus/internal/errors"
)

// censusLineRE matches a successful census check-in request. Capture groups:
// the timestamp field (without the zone offset) and the raw query string.
var censusLineRE = regexp.MustCompile(
	`^\d+\.\d+\.\d+\.\d+[\s-]+\[(.+?) [-+]\d{4}\] "GET /census\?([^\s"]+).*?" 2\d\d`)

// timestampLayout is the fixed access-log time format. The zone offset is
// matched but discarded; timestamps are interpreted in local time, matching
// how the daily history buckets dates.
const timestampLayout = "02/Jan/2006:15:04:05"

// Record is one validated census check-in.
type Record struct {
	// Timestamp is the request time in the local zone.
	Timestamp time.Time

	// Channel is the cohort identifier (the dcd query parameter).
	Channel string

	// Generation is the client's reported check-in counter, >= 0.
	Generation int
}

// Parse extracts a Record from a raw log line. The returned error, if any,
// is always a VALIDATION error; callers skip the line and continue.
func Parse(line string) (Record, error) {
	m := censusLineRE.FindStringSubmatch(line)
	if m == nil {
		return Record{}, errors.NewParseError(errors.CodeMalformedLine,
			"line does not match census request format")
	}

	ts, err := time.ParseInLocation(timestampLayout, m[1], time.Local)
	if err != nil {
		return Record{}, errors.NewParseError(errors.CodeBadTimestamp,
			fmt.Sprintf("unparseable timestamp %q", m[1]))
	}

	values, err := url.ParseQuery(m[2])
	if err != nil {
		return Record{}, errors.NewParseError(errors.CodeBadQuery,
			fmt.Sprintf("unparseable query %q", m[2]))
	}

	channel := values.Get("dcd")
	if channel == "" {
		return Record{}, errors.NewParseError(errors.CodeBadQuery,
			fmt.Sprintf("missing or empty dcd in query %q", m[2]))
	}

	rawCount := values.Get("count")
	if rawCount == "" {
		return Record{}, errors.NewParseError(errors.CodeBadQuery,
			fmt.Sprintf("missing count in query %q", m[2]))
	}
	generation, err := strconv.Atoi(rawCount)
	if err != nil || generation < 0 {
		return Record{}, errors.NewParseError(errors.CodeBadQuery,
			fmt.Sprintf("invalid count %q in query %q", rawCount, m[2]))
	}

	return Record{
		Timestamp:  ts,
		Channel:    channel,
		Generation: generation,
	}, nil
}
