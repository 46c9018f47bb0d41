package award

import (
	"github.com/shopspring/decimal"
)

// ActivityTypes are the activity kinds with their own configurable base value.
var ActivityTypes = []string{
	"resource", "assign", "forum", "page", "workshop", "quiz", "lesson", "scorm", "url",
}

// PointsScale is the number of decimal places a stored point value keeps.
// The ledger columns are NUMERIC(20, 5).
const PointsScale = 5

var gradeScaleThreshold = decimal.NewFromInt(10)

// Policy turns an activity completion into a point value.
type Policy struct {
	// BasePoints maps an activity type to its base value.
	BasePoints map[string]decimal.Decimal
	// DefaultPoints applies to activity types absent from BasePoints.
	DefaultPoints decimal.Decimal
	// Multiplier scales the normalized grade before it is added.
	Multiplier decimal.Decimal
}

// DefaultPolicy pays 2 points for every known activity type, with a grade
// multiplier of 1.
func DefaultPolicy() Policy {
	two := decimal.NewFromInt(2)
	base := make(map[string]decimal.Decimal, len(ActivityTypes))
	for _, t := range ActivityTypes {
		base[t] = two
	}
	return Policy{
		BasePoints:    base,
		DefaultPoints: two,
		Multiplier:    decimal.NewFromInt(1),
	}
}

// Base returns the configured value for activityType, or DefaultPoints.
func (p Policy) Base(activityType string) decimal.Decimal {
	if v, ok := p.BasePoints[activityType]; ok {
		return v
	}
	return p.DefaultPoints
}

// NormalizeGrade brings a 0-100 grade down to the 0-10 scale. Grades of 10
// or less are already on that scale.
func NormalizeGrade(grade decimal.Decimal) decimal.Decimal {
	if grade.GreaterThan(gradeScaleThreshold) {
		return grade.Div(gradeScaleThreshold)
	}
	return grade
}

// Points is base + normalize(grade) * multiplier, rounded to PointsScale.
// A nil grade adds nothing.
func (p Policy) Points(activityType string, grade *decimal.Decimal) decimal.Decimal {
	pts := p.Base(activityType)
	if grade != nil {
		pts = pts.Add(NormalizeGrade(*grade).Mul(p.Multiplier))
	}
	return pts.Round(PointsScale)
}
