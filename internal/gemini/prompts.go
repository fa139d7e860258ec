package gemini

import "fmt"

// SystemInstruction frames the model as a moderation classifier
const SystemInstruction = `You are a content moderation assistant for a social media platform.
You decide whether a post is safe to publish or contains inappropriate content:
harassment, hate speech, sexual content, graphic violence, self-harm promotion,
scams or other material that violates common community guidelines.
Always answer with a single JSON object and nothing else.`

// CaptionPrompt asks for a neutral description of an uploaded image
const CaptionPrompt = `Describe this image in one short, factual sentence.
Mention people, objects, text and actions that are visible. Do not speculate.
Answer with plain text only.`

// BuildClassifyPrompt wraps the combined post text in the labelling instructions
func BuildClassifyPrompt(text string) string {
	return fmt.Sprintf(`Classify the following post.

Post:
"""
%s
"""

Respond with JSON in exactly this shape:
{"label": "safe" | "inappropriate", "confidence": <number between 0 and 1>}`, text)
}
