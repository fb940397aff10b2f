package smpp

import "unicode/utf8"

// PDU content limits for GSM 7-bit encoded text. A single PDU carries up
// to SinglePartLimit characters; multipart strategies reserve room for
// segmentation headers and carry MultipartChunkLimit per segment.
const (
	SinglePartLimit     = 160
	MultipartChunkLimit = 130
)

// SplitContent divides content into the wire segments the given strategy
// produces. Content that fits a single PDU is always one segment. Beyond
// that, LongMessagePayloadField keeps the full content in one oversized
// segment, the SAR and UDH strategies chunk it, and LongMessageNone
// truncates at the single-PDU limit. Cuts land on rune boundaries so no
// segment carries a torn multi-byte character.
func SplitContent(content string, strategy LongMessageStrategy) []string {
	if len(content) <= SinglePartLimit {
		return []string{content}
	}

	switch strategy {
	case LongMessagePayloadField:
		return []string{content}
	case LongMessageSAR, LongMessageUDH:
		var parts []string
		for len(content) > MultipartChunkLimit {
			cut := runeCut(content, MultipartChunkLimit)
			parts = append(parts, content[:cut])
			content = content[cut:]
		}
		return append(parts, content)
	default:
		return []string{content[:runeCut(content, SinglePartLimit)]}
	}
}

// runeCut returns the largest index not exceeding limit that falls on a
// rune boundary of s.
func runeCut(s string, limit int) int {
	if len(s) <= limit {
		return len(s)
	}
	cut := limit
	for cut > 0 && !utf8.RuneStart(s[cut]) {
		cut--
	}
	return cut
}
