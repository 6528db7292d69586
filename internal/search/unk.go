package search

// ReplaceUnknowns renders h as words, replacing every unknown token with the
// source word it attended to most. Tokens without a usable attention
// position keep the dictionary word.
func ReplaceUnknowns(h Hypothesis, source []string, unk int, words func(int) string) []string {
	out := make([]string, len(h.Tokens))
	for i, tok := range h.Tokens {
		if tok == unk && i < len(h.Attention) {
			if pos := h.Attention[i]; pos >= 0 && pos < len(source) {
				out[i] = source[pos]
				continue
			}
		}
		out[i] = words(tok)
	}
	return out
}
