package tts

import "strings"

// sentenceDelims are the characters that close a sub-chunk. Splitting
// keeps the delimiter attached to the preceding segment so pacing
// survives synthesis.
const sentenceDelims = ".!?:;-"

// SplitSpeech builds the ordered sub-chunks for one job: a short
// lead-in naming the speaker, then sentence-delimited segments of the
// message. Empty segments are dropped; a job with no usable text still
// yields the lead-in.
func SplitSpeech(display, text string) []string {
	var chunks []string
	if display = strings.TrimSpace(display); display != "" {
		chunks = append(chunks, display+" says")
	}
	chunks = append(chunks, splitSentences(text)...)
	if len(chunks) == 0 {
		if t := strings.TrimSpace(text); t != "" {
			chunks = append(chunks, t)
		}
	}
	return chunks
}

// splitSentences cuts text after each sentence delimiter, trimming the
// pieces and dropping any that are empty or pure punctuation.
func splitSentences(text string) []string {
	var (
		segs []string
		sb   strings.Builder
	)
	flush := func() {
		seg := strings.TrimSpace(sb.String())
		sb.Reset()
		if seg != "" && strings.Trim(seg, sentenceDelims) != "" {
			segs = append(segs, seg)
		}
	}
	for _, r := range text {
		sb.WriteRune(r)
		if strings.ContainsRune(sentenceDelims, r) {
			flush()
		}
	}
	flush()
	return segs
}
