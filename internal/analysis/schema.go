package analysis

import "google.golang.org/genai"

const analysisPrompt = `You are an expert speech and language coach. Listen to the attached recording and evaluate the primary speaker.

Return JSON only, matching the response schema:
- dimensions: score Clarity, Language Proficiency and Conciseness from 0 to 5 (decimals allowed). You may add other dimensions.
- fluencySpeechRatePercentage: 0 to 100, how fluent and well paced the speech is.
- conversation: the full transcript split into turns, with startTime and endTime in seconds from the start of the recording. Attach a mistake with the original wording, a correction and a short explanation to turns that contain a language error.
- primarySpeakerLabel: the speaker label used in conversation for the person being coached.
- feedback: strengths and areas for improvement.
- fillerWords: each filler word the primary speaker used and how many times.
- personalizedSuggestions: one area to focus on and concrete suggestions.

Do not compute an overall score.`

func stringSchema(desc string) *genai.Schema {
	return &genai.Schema{Type: genai.TypeString, Description: desc}
}

func stringList(desc string) *genai.Schema {
	return &genai.Schema{Type: genai.TypeArray, Description: desc, Items: &genai.Schema{Type: genai.TypeString}}
}

// passSchema is the response schema of one analysis pass
func passSchema() *genai.Schema {
	return &genai.Schema{
		Type: genai.TypeObject,
		Properties: map[string]*genai.Schema{
			"dimensions": {
				Type: genai.TypeArray,
				Items: &genai.Schema{
					Type: genai.TypeObject,
					Properties: map[string]*genai.Schema{
						"name":  stringSchema("Dimension name, e.g. Clarity"),
						"score": {Type: genai.TypeNumber, Description: "Score from 0 to 5"},
					},
					Required: []string{"name", "score"},
				},
			},
			"fluencySpeechRatePercentage": {Type: genai.TypeNumber, Description: "Fluency from 0 to 100"},
			"conversation": {
				Type: genai.TypeArray,
				Items: &genai.Schema{
					Type: genai.TypeObject,
					Properties: map[string]*genai.Schema{
						"speaker":   stringSchema("Speaker label"),
						"text":      stringSchema("What was said"),
						"startTime": {Type: genai.TypeNumber, Description: "Seconds from the start"},
						"endTime":   {Type: genai.TypeNumber, Description: "Seconds from the start"},
						"mistake": {
							Type: genai.TypeObject,
							Properties: map[string]*genai.Schema{
								"original":    stringSchema("The incorrect wording"),
								"correction":  stringSchema("The corrected wording"),
								"explanation": stringSchema("Why it is wrong"),
							},
							Required: []string{"original", "correction", "explanation"},
						},
					},
					Required: []string{"speaker", "text", "startTime", "endTime"},
				},
			},
			"primarySpeakerLabel": stringSchema("Label of the coached speaker as used in conversation"),
			"feedback": {
				Type: genai.TypeObject,
				Properties: map[string]*genai.Schema{
					"strengths":           stringList("What the speaker did well"),
					"areasForImprovement": stringList("What the speaker should work on"),
				},
				Required: []string{"strengths", "areasForImprovement"},
			},
			"fillerWords": {
				Type: genai.TypeArray,
				Items: &genai.Schema{
					Type: genai.TypeObject,
					Properties: map[string]*genai.Schema{
						"word":  stringSchema("The filler word"),
						"count": {Type: genai.TypeInteger},
					},
					Required: []string{"word", "count"},
				},
			},
			"personalizedSuggestions": {
				Type: genai.TypeObject,
				Properties: map[string]*genai.Schema{
					"areaForFocus": stringSchema("The single most useful area to practice"),
					"suggestions":  stringList("Concrete exercises or tips"),
				},
				Required: []string{"areaForFocus", "suggestions"},
			},
		},
		Required: []string{
			"dimensions", "fluencySpeechRatePercentage", "conversation", "primarySpeakerLabel",
			"feedback", "fillerWords", "personalizedSuggestions",
		},
	}
}
