package task

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/BaSui01/crewflow/llm"
)

// OutputFormat 任务输出格式
type OutputFormat string

const (
	FormatRaw        OutputFormat = "raw"
	FormatJSON       OutputFormat = "json"
	FormatStructured OutputFormat = "structured"
)

// Output 一次成功任务执行的产物，每次执行恰好产生一个
type Output struct {
	Raw         string         `json:"raw"`
	JSON        map[string]any `json:"json,omitempty"`
	Structured  any            `json:"structured,omitempty"`
	Agent       string         `json:"agent"`
	Format      OutputFormat   `json:"output_format"`
	Description string         `json:"description,omitempty"`
	Summary     string         `json:"summary,omitempty"`
	Messages    []llm.Message  `json:"messages,omitempty"`
	Usage       llm.Usage      `json:"usage"`
}

// summarize 描述的前 10 个词
func summarize(description string) string {
	words := strings.Fields(description)
	if len(words) <= 10 {
		return description
	}
	return strings.Join(words[:10], " ") + "..."
}

// ExtractJSON 从文本中解析 JSON 对象。整体解析失败时，
// 回退到提取第一个配平的 {...} 片段。
func ExtractJSON(text string) (map[string]any, error) {
	trimmed := strings.TrimSpace(text)

	var direct map[string]any
	if err := json.Unmarshal([]byte(trimmed), &direct); err == nil {
		return direct, nil
	}

	if fragment, ok := firstBalancedObject(trimmed); ok {
		var parsed map[string]any
		if err := json.Unmarshal([]byte(fragment), &parsed); err == nil {
			return parsed, nil
		}
	}

	return nil, fmt.Errorf("no valid JSON object found in output")
}

// firstBalancedObject 扫描出第一个花括号配平的片段，跳过字符串字面量
func firstBalancedObject(text string) (string, bool) {
	start := strings.IndexByte(text, '{')
	if start < 0 {
		return "", false
	}
	depth := 0
	inString := false
	escaped := false
	for i := start; i < len(text); i++ {
		ch := text[i]
		if inString {
			switch {
			case escaped:
				escaped = false
			case ch == '\\':
				escaped = true
			case ch == '"':
				inString = false
			}
			continue
		}
		switch ch {
		case '"':
			inString = true
		case '{':
			depth++
		case '}':
			depth--
			if depth == 0 {
				return text[start : i+1], true
			}
		}
	}
	return "", false
}
