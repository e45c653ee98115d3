package agent

import (
	"encoding/json"
	"regexp"
	"strings"
)

// ReAct 文本的解析。模型输出两种形态之一：
//
//	Thought: ...
//	Action: <tool name>
//	Action Input: <JSON or free text>
//
// 或
//
//	Thought: ...
//	Final Answer: <answer>
//
// 同时出现 Action 与 Final Answer 时，Final Answer 优先。

const missingActionError = "I just got this: I couldn't find an Action after the Thought."

const missingActionInputError = "I just got this: I found an Action but couldn't find a valid Action Input right after it."

var (
	finalAnswerRe     = regexp.MustCompile(`(?i)Final\s*Answer\s*:`)
	actionInputFullRe = regexp.MustCompile(`(?s)Action\s*\d*\s*:\s*(.+?)\s*(?:\n|\r\n?)Action\s*\d*\s*Input\s*\d*\s*:\s*(.*)`)
	actionOnlyRe      = regexp.MustCompile(`Action\s*\d*\s*:`)
	actionInputOnlyRe = regexp.MustCompile(`Action\s*\d*\s*Input\s*\d*\s*:`)
)

// Action 模型要求执行的工具动作
type Action struct {
	Thought   string
	Tool      string
	ToolInput string
	Text      string
}

// Finish 模型给出的最终答案
type Finish struct {
	Thought string
	Output  string
	Text    string
}

// ParseError 输出不符合 ReAct 语法
type ParseError struct {
	Message string
}

func (e *ParseError) Error() string { return e.Message }

// Parse 解析模型输出。返回 (action, finish, err)，三者互斥。
func Parse(text string) (*Action, *Finish, error) {
	thought := extractThought(text)

	// Final Answer 优先于 Action
	if loc := finalAnswerRe.FindStringIndex(text); loc != nil {
		answer := strings.TrimSpace(text[loc[1]:])
		answer = cleanTrailingBackticks(answer)
		return nil, &Finish{Thought: thought, Output: answer, Text: text}, nil
	}

	if m := actionInputFullRe.FindStringSubmatch(text); m != nil {
		toolName := cleanAction(m[1])
		input := strings.TrimSpace(m[2])
		input = strings.Trim(input, "\"")
		return &Action{
			Thought:   thought,
			Tool:      toolName,
			ToolInput: safeRepairJSON(input),
			Text:      text,
		}, nil, nil
	}

	if !actionOnlyRe.MatchString(text) {
		return nil, nil, &ParseError{Message: missingActionError +
			"\nYou MUST use the following format:\nThought: [your thought]\nFinal Answer: [your final answer]"}
	}
	if !actionInputOnlyRe.MatchString(text) {
		return nil, nil, &ParseError{Message: missingActionInputError}
	}
	return nil, nil, &ParseError{Message: "Could not parse the output. Please use the correct format."}
}

// extractThought 截取 Action/Final Answer 之前的思考段
func extractThought(text string) string {
	idx := strings.Index(text, "\nAction")
	if idx < 0 {
		idx = strings.Index(text, "\nFinal Answer")
	}
	if idx < 0 {
		return ""
	}
	thought := strings.TrimSpace(text[:idx])
	return strings.TrimSpace(strings.ReplaceAll(thought, "```", ""))
}

// cleanAction 去掉工具名两侧的装饰符号与尾随标点
func cleanAction(text string) string {
	s := strings.TrimSpace(text)
	for {
		trimmed := strings.TrimSpace(strings.Trim(s, "*"))
		trimmed = strings.TrimRight(trimmed, ".,:;!")
		if trimmed == s {
			return s
		}
		s = trimmed
	}
}

// cleanTrailingBackticks 去掉不成对的尾部三反引号
func cleanTrailingBackticks(text string) string {
	if strings.HasSuffix(text, "```") && strings.Count(text, "```")%2 != 0 {
		return strings.TrimSpace(strings.TrimSuffix(text, "```"))
	}
	return text
}

// safeRepairJSON 修复常见的 LLM 输出问题（三重引号）。
// 数组输入跳过修复；修复后不是合法 JSON 则返回原文。
func safeRepairJSON(input string) string {
	if strings.HasPrefix(input, "[") && strings.HasSuffix(input, "]") {
		return input
	}
	cleaned := strings.ReplaceAll(input, `"""`, `"`)
	var v any
	if json.Unmarshal([]byte(cleaned), &v) == nil {
		return cleaned
	}
	return input
}
