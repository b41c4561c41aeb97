package session

// DefaultInstructions is the fallback system prompt applied when neither the
// client's start_session message nor the environment supplies one.
const DefaultInstructions = "You are a helpful, concise voice assistant. Keep responses brief and natural for voice conversation."
