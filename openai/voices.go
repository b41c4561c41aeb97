package openai

// DefaultVoice is used when a client requests no voice at all.
const DefaultVoice = "alloy"

// voiceOverrides maps voice names from the non-realtime speech API onto
// their closest Realtime equivalents. Anything not listed here is assumed
// to already be a Realtime voice and passes through unchanged.
var voiceOverrides = map[string]string{
	"nova":  "shimmer", // bright
	"fable": "ballad",  // storyteller
	"onyx":  "ash",     // deep
}

// ResolveVoice maps a client-requested voice identifier to a Realtime-supported
// one. Total on its domain: unmapped names are returned as-is, an empty name
// resolves to DefaultVoice.
func ResolveVoice(requested string) string {
	if requested == "" {
		return DefaultVoice
	}
	if resolved, ok := voiceOverrides[requested]; ok {
		return resolved
	}
	return requested
}
