package persona

// CustomID selects the persona whose prompt is supplied by the user.
const CustomID = "custom"

// DefaultID is used when a session is created without an explicit persona.
const DefaultID = "default"

// Persona captures the system prompt exposed to the frontend.
type Persona struct {
	ID      string `json:"id"`
	Name    string `json:"name"`
	Prompt  string `json:"prompt"`
	VoiceID string `json:"voiceId,omitempty"`
}

// IsCustom reports whether the prompt must come from the user.
func (p Persona) IsCustom() bool {
	return p.ID == CustomID
}

// ResolvePrompt returns the system prompt for this persona. The custom
// persona takes the user's text verbatim, every other persona ignores it.
func (p Persona) ResolvePrompt(custom string) string {
	if p.IsCustom() {
		return custom
	}
	return p.Prompt
}

// Seed provides the built-in personas.
func Seed() []Persona {
	return []Persona{
		{
			ID:     DefaultID,
			Name:   "Default",
			Prompt: "You are a helpful assistant.",
		},
		{
			ID:      "pirate",
			Name:    "Pirate",
			Prompt:  "You are a pirate. All your responses must be in pirate dialect.",
			VoiceID: "en_male_glen_emo_v2_mars_bigtts",
		},
		{
			ID:      "therapist",
			Name:    "Therapist",
			Prompt:  "You are a therapist. Your responses should be empathetic and understanding.",
			VoiceID: "en_female_skye_emo_v2_mars_bigtts",
		},
		{
			ID:      "comedian",
			Name:    "Comedian",
			Prompt:  "You are a comedian. Your responses should be witty and humorous.",
			VoiceID: "en_male_corey_emo_v2_mars_bigtts",
		},
		{
			ID:   CustomID,
			Name: "Custom",
		},
	}
}
