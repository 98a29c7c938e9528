package model

// TestImport is the top-level shape for loading a speaking test from JSON.
type TestImport struct {
	Title           string          `json:"title"`
	DurationMinutes int             `json:"duration_minutes"`
	PassScore       int             `json:"pass_score"`
	TotalScore      int             `json:"total_score"`
	Language        string          `json:"language"`
	IsPublished     bool            `json:"is_published"`
	IsDemo          bool            `json:"is_demo"`
	Sections        []SectionImport `json:"sections"`
}

// SectionImport is a section subtree in a test definition file.
type SectionImport struct {
	SectionNumber      int              `json:"section_number"`
	Title              string           `json:"title"`
	PreparationSeconds int              `json:"preparation_seconds"`
	SpeakingSeconds    int              `json:"speaking_seconds"`
	ImageURL           string           `json:"image_url,omitempty"`
	Questions          []QuestionImport `json:"questions,omitempty"`
	Sections           []SectionImport  `json:"sections,omitempty"`
}

// QuestionImport is a question in a test definition file.
type QuestionImport struct {
	QuestionNumber     int    `json:"question_number"`
	Text               string `json:"text"`
	PreparationSeconds int    `json:"preparation_seconds,omitempty"`
	SpeakingSeconds    int    `json:"speaking_seconds,omitempty"`
	KeyFactsToMention  string `json:"key_facts_to_mention,omitempty"`
	KeyFactsToAvoid    string `json:"key_facts_to_avoid,omitempty"`
	MediaURL           string `json:"media_url,omitempty"`
	MaxPoints          int    `json:"max_points,omitempty"`
}
