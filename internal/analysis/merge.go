package analysis

import "math"

// CanonicalDimensions are the dimensions the overall score is built from
var CanonicalDimensions = []string{"Clarity", "Language Proficiency", "Conciseness"}

// round2 rounds half away from zero to two decimals
func round2(v float64) float64 {
	return math.Round(v*100) / 100
}

// mergeDimensions averages scores by name across passes. Names keep the
// order in which they were first seen, scanning passes by dispatch index.
func mergeDimensions(passes []*pass) []Dimension {
	type acc struct {
		sum float64
		n   int
	}
	var order []string
	byName := make(map[string]*acc)
	for _, p := range passes {
		for _, d := range p.Dimensions {
			a, ok := byName[d.Name]
			if !ok {
				a = &acc{}
				byName[d.Name] = a
				order = append(order, d.Name)
			}
			a.sum += *d.Score
			a.n++
		}
	}

	out := make([]Dimension, 0, len(order))
	for _, name := range order {
		a := byName[name]
		out = append(out, Dimension{Name: name, Score: round2(a.sum / float64(a.n))})
	}
	return out
}

// mergeFluency averages fluency across passes, rounded to an integer
func mergeFluency(passes []*pass) int {
	if len(passes) == 0 {
		return 0
	}
	var sum float64
	for _, p := range passes {
		sum += *p.Fluency
	}
	return int(math.Round(sum / float64(len(passes))))
}

// OverallScore is the mean of the canonical dimensions present in dims,
// rounded to two decimals, or 0 when none are present.
func OverallScore(dims []Dimension) float64 {
	var sum float64
	var n int
	for _, d := range dims {
		for _, name := range CanonicalDimensions {
			if d.Name == name {
				sum += d.Score
				n++
				break
			}
		}
	}
	if n == 0 {
		return 0
	}
	return round2(sum / float64(n))
}

// SpeakingTime splits the clamped turn durations between primary and the
// other speakers. When the total exceeds a known duration both sums are
// scaled down to fit it. Percentages are taken against the duration, or
// against 1 second when it is unknown, and capped at 100.
func SpeakingTime(turns []ConversationTurn, primary string, duration float64) SpeakingTimeDistribution {
	var primarySec, otherSec float64
	for _, t := range turns {
		if t.Speaker == primary {
			primarySec += t.Duration()
		} else {
			otherSec += t.Duration()
		}
	}

	if total := primarySec + otherSec; duration > 0 && total > duration {
		scale := duration / total
		primarySec *= scale
		otherSec *= scale
	}

	basis := duration
	if basis <= 0 {
		basis = 1
	}
	return SpeakingTimeDistribution{
		PrimarySpeakerSeconds:    round2(primarySec),
		OtherSpeakersSeconds:     round2(otherSec),
		PrimarySpeakerPercentage: percentage(primarySec, basis),
		OtherSpeakersPercentage:  percentage(otherSec, basis),
	}
}

func percentage(seconds, basis float64) int {
	return int(math.Min(100, math.Round(seconds/basis*100)))
}
