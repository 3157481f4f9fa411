package speech

import "strings"

const (
	resourceTTSDefault = "volc.service_type.10029"
	resourceTTSMega    = "volc.megatts.default"
	resourceTTSSeed    = "seed-tts-2.0"
)

// voiceAliases maps persona ids and shorthand names to speaker ids.
var voiceAliases = map[string]string{
	"pirate":     "en_male_glen_emo_v2_mars_bigtts",
	"therapist":  "en_female_skye_emo_v2_mars_bigtts",
	"comedian":   "en_male_corey_emo_v2_mars_bigtts",
	"en_default": "en_female_amy_jupiter_bigtts",
	"en_female":  "en_female_amy_jupiter_bigtts",
	"en_male":    "en_male_corey_emo_v2_mars_bigtts",
}

// NormalizeVoice resolves requested to a speaker id. Empty input and the
// "default" alias fall back to fallback; unknown names pass through.
func NormalizeVoice(requested, fallback string) string {
	voice := strings.TrimSpace(requested)
	if voice == "" || strings.EqualFold(voice, "default") {
		return strings.TrimSpace(fallback)
	}
	if mapped, ok := voiceAliases[strings.ToLower(voice)]; ok {
		return mapped
	}
	return voice
}

// resourceForVoice picks the TTS resource id a speaker belongs to.
// Cloned voices start with "S_"; the 2.0 big-model voices carry a
// planet or "bigtts" marker in their id.
func resourceForVoice(voice string) string {
	if strings.HasPrefix(voice, "S_") {
		return resourceTTSMega
	}

	normalized := strings.ToLower(voice)
	for _, hint := range []string{"bigtts", "seed", "megatts", "uranus", "venus", "jupiter", "saturn", "mars"} {
		if strings.Contains(normalized, hint) {
			return resourceTTSSeed
		}
	}
	return resourceTTSDefault
}
