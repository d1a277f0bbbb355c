package t2sa

import (
	"fmt"
	"regexp"
	"strconv"
	"time"
)

// TimestampLayout is the layout of measurement timestamps, e.g. "03/14/2024 22:05:31".
const TimestampLayout = "01/02/2006 15:04:05"

// Offset is a parsed offset or position report of a target relative to a reference frame.
// Linear fields are in millimetres, angular fields in degrees.
type Offset struct {
	Reference string
	DX        float64
	DY        float64
	DZ        float64
	DRX       float64
	DRY       float64
	DRZ       float64
	Timestamp time.Time
}

// Point is a cartesian position in millimetres.
type Point struct {
	X float64
	Y float64
	Z float64
}

// SinglePoint is a parsed single point measurement.
type SinglePoint struct {
	Name      string
	Position  Point
	Timestamp time.Time
	Valid     bool
}

const (
	numField  = `([^;]+)`
	timeField = `(\d{2}/\d{2}/\d{4} \d{2}:\d{2}:\d{2})`
)

var (
	offsetRegex = regexp.MustCompile(
		`^RefFrame:([^;]+);X:` + numField + `;Y:` + numField + `;Z:` + numField +
			`;Rx:` + numField + `;Ry:` + numField + `;Rz:` + numField + `;` + timeField + `$`)

	singlePointRegex = regexp.MustCompile(
		`^Measured single pt (\S+) result: X:` + numField + `;Y:` + numField + `;Z:` + numField +
			`;` + timeField + ` (True|False)$`)

	// plain decimal with optional exponent, no NaN, Inf, hex or underscores
	numberRegex = regexp.MustCompile(`^[-+]?(?:\d+\.?\d*|\.\d+)(?:[eE][-+]?\d+)?$`)
)

// ParseOffset parses
//
//	RefFrame:<name>;X:<f>;Y:<f>;Z:<f>;Rx:<f>;Ry:<f>;Rz:<f>;<MM/DD/YYYY hh:mm:ss>
//
// Any deviation from the grammar returns a *ParseError and a zero Offset.
func ParseOffset(text string) (Offset, error) {
	m := offsetRegex.FindStringSubmatch(text)
	if m == nil {
		return Offset{}, &ParseError{Grammar: "offset", Input: text, Reason: "does not match RefFrame grammar"}
	}

	var vals [6]float64
	for i := range vals {
		v, err := parseNumber(m[i+2])
		if err != nil {
			return Offset{}, &ParseError{Grammar: "offset", Input: text, Reason: err.Error()}
		}
		vals[i] = v
	}

	ts, err := time.Parse(TimestampLayout, m[8])
	if err != nil {
		return Offset{}, &ParseError{Grammar: "offset", Input: text, Reason: "invalid timestamp"}
	}

	return Offset{
		Reference: m[1],
		DX:        vals[0],
		DY:        vals[1],
		DZ:        vals[2],
		DRX:       vals[3],
		DRY:       vals[4],
		DRZ:       vals[5],
		Timestamp: ts,
	}, nil
}

// String renders the offset in its wire grammar. ParseOffset(o.String()) yields o
// when the timestamp has whole-second precision and is in UTC, the reference is
// a non-empty name without ';', and every field is finite.
func (o Offset) String() string {
	return fmt.Sprintf("RefFrame:%s;X:%s;Y:%s;Z:%s;Rx:%s;Ry:%s;Rz:%s;%s",
		o.Reference,
		formatNumber(o.DX), formatNumber(o.DY), formatNumber(o.DZ),
		formatNumber(o.DRX), formatNumber(o.DRY), formatNumber(o.DRZ),
		o.Timestamp.Format(TimestampLayout),
	)
}

// ParseSinglePoint parses
//
//	Measured single pt <name> result: X:<f>;Y:<f>;Z:<f>;<MM/DD/YYYY hh:mm:ss> <True|False>
func ParseSinglePoint(text string) (SinglePoint, error) {
	m := singlePointRegex.FindStringSubmatch(text)
	if m == nil {
		return SinglePoint{}, &ParseError{Grammar: "single point", Input: text, Reason: "does not match single point grammar"}
	}

	var vals [3]float64
	for i := range vals {
		v, err := parseNumber(m[i+2])
		if err != nil {
			return SinglePoint{}, &ParseError{Grammar: "single point", Input: text, Reason: err.Error()}
		}
		vals[i] = v
	}

	ts, err := time.Parse(TimestampLayout, m[5])
	if err != nil {
		return SinglePoint{}, &ParseError{Grammar: "single point", Input: text, Reason: "invalid timestamp"}
	}

	return SinglePoint{
		Name:      m[1],
		Position:  Point{X: vals[0], Y: vals[1], Z: vals[2]},
		Timestamp: ts,
		Valid:     m[6] == "True",
	}, nil
}

// String renders the point in its wire grammar. ParseSinglePoint(p.String()) yields p
// when the timestamp has whole-second precision and is in UTC, the name is
// non-empty without whitespace, and every coordinate is finite.
func (p SinglePoint) String() string {
	valid := "False"
	if p.Valid {
		valid = "True"
	}

	return fmt.Sprintf("Measured single pt %s result: X:%s;Y:%s;Z:%s;%s %s",
		p.Name,
		formatNumber(p.Position.X), formatNumber(p.Position.Y), formatNumber(p.Position.Z),
		p.Timestamp.Format(TimestampLayout),
		valid,
	)
}

func parseNumber(s string) (float64, error) {
	if !numberRegex.MatchString(s) {
		return 0, fmt.Errorf("invalid number %q", s)
	}

	v, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid number %q", s)
	}

	return v, nil
}

func formatNumber(v float64) string {
	return strconv.FormatFloat(v, 'g', -1, 64)
}
