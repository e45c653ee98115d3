package llm

import "strings"

// truncateAtStopWords 在最早出现的 stop 词处截断文本。
// Provider 原生支持 stop 序列时不会走到这里。
func truncateAtStopWords(text string, stop []string) string {
	if len(stop) == 0 || text == "" {
		return text
	}
	cut := len(text)
	for _, word := range stop {
		if word == "" {
			continue
		}
		if idx := strings.Index(text, word); idx >= 0 && idx < cut {
			cut = idx
		}
	}
	return text[:cut]
}
