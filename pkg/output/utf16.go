package output

import "unicode/utf16"

// maxUTF16UnitsPerEvent mirrors SPEC_FULL.md §4.8's "≤ 20 UTF-16 code
// units per event" requirement for platforms whose synthetic-keystroke
// API limits event size.
const maxUTF16UnitsPerEvent = 20

// chunkUTF16 splits text into substrings of at most maxUTF16UnitsPerEvent
// UTF-16 code units each, never splitting a surrogate pair across chunks.
func chunkUTF16(text string) []string {
	units := utf16.Encode([]rune(text))
	if len(units) == 0 {
		return nil
	}

	var chunks []string
	i := 0
	for i < len(units) {
		end := i + maxUTF16UnitsPerEvent
		if end > len(units) {
			end = len(units)
		}
		// Don't split a surrogate pair: if the boundary falls right after
		// a high surrogate, its low-surrogate partner is the next unit —
		// pull the boundary back so the pair stays together.
		if end < len(units) && isHighSurrogate(units[end-1]) {
			end--
		}
		chunks = append(chunks, string(utf16.Decode(units[i:end])))
		i = end
	}
	return chunks
}

func isHighSurrogate(u uint16) bool {
	return u >= 0xD800 && u <= 0xDBFF
}
