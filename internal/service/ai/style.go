package ai

import "duochat/internal/models"

var stylePrefixes = map[models.Style]string{
	models.StyleFunnier:      "Respond in a humorous and witty tone:\n",
	models.StyleKid:          "Explain in a very simple, friendly, and playful way for a 7-year-old:\n",
	models.StyleProfessional: "Respond in a formal, polished, and professional tone:\n",
}

// ApplyStyle prefixes prompt with the tone instruction for style.
// Unknown styles leave the prompt unchanged.
func ApplyStyle(style models.Style, prompt string) string {
	return stylePrefixes[style] + prompt
}
