package scoring

// Grade thresholds, evaluated highest first.
var gradeLadder = []struct {
	min   float64
	grade string
	color string
}{
	{95, "A+", "excellent"},
	{90, "A", "great"},
	{85, "B+", "very-good"},
	{80, "B", "good"},
	{75, "C+", "above-average"},
	{70, "C", "average"},
	{60, "D", "below-average"},
}

const (
	gradeFail = "F"
	colorFail = "poor"
)

// GradeFor maps a total score to its letter grade and color tag.
func GradeFor(total float64) (grade, color string) {
	for _, g := range gradeLadder {
		if total >= g.min {
			return g.grade, g.color
		}
	}
	return gradeFail, colorFail
}

// gradeRanges labels each grade with its score range, highest first.
var gradeRanges = []struct{ grade, label string }{
	{"A+", "A+ (95-100)"},
	{"A", "A (90-94)"},
	{"B+", "B+ (85-89)"},
	{"B", "B (80-84)"},
	{"C+", "C+ (75-79)"},
	{"C", "C (70-74)"},
	{"D", "D (60-69)"},
	{"F", "F (<60)"},
}
