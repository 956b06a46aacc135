package analysis

import (
	"math"
	"strconv"
	"time"

	"github.com/lexiqai/speech-coach/internal/inference"
)

// Dimension is a named 0-5 quality score
type Dimension struct {
	Name  string  `json:"name"`
	Score float64 `json:"score"`
}

// Mistake is a correction attached to a transcript turn
type Mistake struct {
	Original    string `json:"original"`
	Correction  string `json:"correction"`
	Explanation string `json:"explanation"`
}

// ConversationTurn is one transcribed span of speech. EndTime is not
// guaranteed to be after StartTime.
type ConversationTurn struct {
	Speaker   string   `json:"speaker"`
	Text      string   `json:"text"`
	StartTime float64  `json:"startTime"`
	EndTime   float64  `json:"endTime"`
	Mistake   *Mistake `json:"mistake,omitempty"`
}

// Duration returns the clamped length of the turn in seconds
func (t ConversationTurn) Duration() float64 {
	return math.Max(0, t.EndTime-t.StartTime)
}

// Feedback is the qualitative summary of a recording
type Feedback struct {
	Strengths           []string `json:"strengths"`
	AreasForImprovement []string `json:"areasForImprovement"`
}

// FillerWord counts one filler word
type FillerWord struct {
	Word  string `json:"word"`
	Count int    `json:"count"`
}

// Suggestions are personalized coaching tips
type Suggestions struct {
	AreaForFocus string   `json:"areaForFocus"`
	Suggestions  []string `json:"suggestions"`
}

// SpeakingTimeDistribution splits spoken time between the primary speaker
// and everyone else.
type SpeakingTimeDistribution struct {
	PrimarySpeakerSeconds    float64 `json:"primarySpeakerSeconds"`
	OtherSpeakersSeconds     float64 `json:"otherSpeakersSeconds"`
	PrimarySpeakerPercentage int     `json:"primarySpeakerPercentage"`
	OtherSpeakersPercentage  int     `json:"otherSpeakersPercentage"`
}

// Result is the merged outcome of one analysis
type Result struct {
	ID                          string                   `json:"id"`
	Dimensions                  []Dimension              `json:"dimensions"`
	FluencySpeechRatePercentage int                      `json:"fluencySpeechRatePercentage"`
	OverallScore                float64                  `json:"overallScore"`
	SpeakingTimeDistribution    SpeakingTimeDistribution `json:"speakingTimeDistribution"`
	Conversation                []ConversationTurn       `json:"conversation"`
	PrimarySpeakerLabel         string                   `json:"primarySpeakerLabel"`
	Feedback                    Feedback                 `json:"feedback"`
	FillerWords                 []FillerWord             `json:"fillerWords"`
	PersonalizedSuggestions     Suggestions              `json:"personalizedSuggestions"`
	AudioDurationSeconds        float64                  `json:"audioDurationSeconds"`
	PassesRequested             int                      `json:"passesRequested"`
	PassesMerged                int                      `json:"passesMerged"`
	AnalyzedAt                  time.Time                `json:"analyzedAt"`
}

// pass is one parsed model response. Pointer fields distinguish a missing
// key from a zero value.
type pass struct {
	Dimensions              []passDimension `json:"dimensions"`
	Fluency                 *float64        `json:"fluencySpeechRatePercentage"`
	Conversation            []passTurn      `json:"conversation"`
	PrimarySpeakerLabel     *string         `json:"primarySpeakerLabel"`
	Feedback                Feedback        `json:"feedback"`
	FillerWords             []FillerWord    `json:"fillerWords"`
	PersonalizedSuggestions Suggestions     `json:"personalizedSuggestions"`
}

type passDimension struct {
	Name  string   `json:"name"`
	Score *float64 `json:"score"`
}

type passTurn struct {
	Speaker   string   `json:"speaker"`
	Text      string   `json:"text"`
	StartTime *float64 `json:"startTime"`
	EndTime   *float64 `json:"endTime"`
	Mistake   *Mistake `json:"mistake,omitempty"`
}

// Validate implements inference.Validator
func (p *pass) Validate() error {
	if p.Dimensions == nil {
		return inference.SchemaError("dimensions", "missing")
	}
	for i, d := range p.Dimensions {
		if d.Name == "" {
			return inference.SchemaError(fieldAt("dimensions", i, "name"), "missing")
		}
		if d.Score == nil {
			return inference.SchemaError(fieldAt("dimensions", i, "score"), "missing")
		}
		if !inRange(*d.Score, 0, 5) {
			return inference.SchemaError(fieldAt("dimensions", i, "score"), "%v is outside 0-5", *d.Score)
		}
	}

	if p.Fluency == nil {
		return inference.SchemaError("fluencySpeechRatePercentage", "missing")
	}
	if !inRange(*p.Fluency, 0, 100) {
		return inference.SchemaError("fluencySpeechRatePercentage", "%v is outside 0-100", *p.Fluency)
	}

	if p.Conversation == nil {
		return inference.SchemaError("conversation", "missing")
	}
	for i, t := range p.Conversation {
		if t.StartTime == nil {
			return inference.SchemaError(fieldAt("conversation", i, "startTime"), "missing")
		}
		if t.EndTime == nil {
			return inference.SchemaError(fieldAt("conversation", i, "endTime"), "missing")
		}
	}

	if p.PrimarySpeakerLabel == nil {
		return inference.SchemaError("primarySpeakerLabel", "missing")
	}
	if p.FillerWords == nil {
		p.FillerWords = []FillerWord{}
	}
	return nil
}

func (p *pass) turns() []ConversationTurn {
	out := make([]ConversationTurn, len(p.Conversation))
	for i, t := range p.Conversation {
		out[i] = ConversationTurn{
			Speaker:   t.Speaker,
			Text:      t.Text,
			StartTime: *t.StartTime,
			EndTime:   *t.EndTime,
			Mistake:   t.Mistake,
		}
	}
	return out
}

func inRange(v, lo, hi float64) bool {
	return !math.IsNaN(v) && v >= lo && v <= hi
}

func fieldAt(list string, i int, field string) string {
	return list + "[" + strconv.Itoa(i) + "]." + field
}
