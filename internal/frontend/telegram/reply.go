package telegram

import "unicode/utf16"

// maxMessageUnits is the Telegram text limit counted in UTF-16 code units.
const maxMessageUnits = 4096

const truncationMarker = "\n…"

// trimReply cuts text so it fits one Telegram message, marking the cut.
func trimReply(text string) string {
	if utf16Length(text) <= maxMessageUnits {
		return text
	}

	limit := maxMessageUnits - utf16Length(truncationMarker)
	used := 0
	for offset, value := range text {
		width := utf16RuneLength(value)
		if used+width > limit {
			return text[:offset] + truncationMarker
		}
		used += width
	}

	return text
}

func utf16Length(text string) int {
	length := 0
	for _, value := range text {
		length += utf16RuneLength(value)
	}

	return length
}

func utf16RuneLength(value rune) int {
	if width := utf16.RuneLen(value); width > 0 {
		return width
	}

	return 1
}
