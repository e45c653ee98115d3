package agent

import "strings"

// 提示词切片。按是否有工具、是否原生调用拼装。
var promptSlices = map[string]string{
	"role_playing": "You are {role}. {backstory}\nYour personal goal is: {goal}",

	"tools": "\nYou ONLY have access to the following tools, and should NEVER make up tools that are not listed here:\n\n{tools}\n\n" +
		"IMPORTANT: Use the following format in your response:\n\n" +
		"```\nThought: you should always think about what to do\n" +
		"Action: the action to take, only one name of [{tool_names}], just the name, exactly as it's written.\n" +
		"Action Input: the input to the action, just a simple JSON object, enclosed in curly braces, using \" to wrap keys and values.\n" +
		"Observation: the result of the action\n```\n\n" +
		"Once all necessary information is gathered, return the following format:\n\n" +
		"```\nThought: I now know the final answer\nFinal Answer: the final answer to the original input question\n```",

	"no_tools": "\nTo give my best complete final answer to the task respond using the exact following format:\n\n" +
		"Thought: I now can give a great answer\n" +
		"Final Answer: Your final answer must be the great and the most complete as possible, it must be outcome described.\n\n" +
		"I MUST use these formats, my job depends on it!",

	"native_tools": "\nUse the available tools when they help you complete the task. " +
		"When you have gathered everything you need, reply with your complete final answer as plain text.",

	"task": "\nCurrent Task: {input}\n\nBegin! This is VERY important to you, use the tools available and give your best Final Answer, your job depends on it!\n\nThought:",

	"task_no_tools": "\nCurrent Task: {input}\n\nBegin! This is VERY important to you, give your best Final Answer, your job depends on it!\n\nThought:",

	"native_task": "\nCurrent Task: {input}\n\nBegin! Give your best complete answer when you are done.",

	"force_final_answer": "Now it's time you MUST give your absolute best final answer. You'll ignore all previous instructions, " +
		"stop using any tools, and just return your absolute BEST Final answer.",
}

// ForceFinalAnswerPrompt 迭代预算用尽时的收束指令
func ForceFinalAnswerPrompt() string { return promptSlices["force_final_answer"] }

// Prompts 为 Agent 生成任务提示词
type Prompts struct {
	HasTools             bool
	UseNativeToolCalling bool
}

// Prompt 编译结果
type Prompt struct {
	System string
	User   string
}

// TaskExecution 拼装系统与用户提示词。
// taskContent 是任务描述（已插值、已附加上下文与检索段）。
func (p Prompts) TaskExecution(a *Agent, taskContent, toolsDescription, toolNames string) Prompt {
	system := promptSlices["role_playing"]
	switch {
	case p.HasTools && p.UseNativeToolCalling:
		system += promptSlices["native_tools"]
	case p.HasTools:
		system += promptSlices["tools"]
	default:
		system += promptSlices["no_tools"]
	}

	var user string
	switch {
	case p.UseNativeToolCalling:
		user = promptSlices["native_task"]
	case p.HasTools:
		user = promptSlices["task"]
	default:
		user = promptSlices["task_no_tools"]
	}

	replacer := strings.NewReplacer(
		"{role}", a.Role(),
		"{goal}", a.Goal(),
		"{backstory}", a.Backstory(),
		"{tools}", toolsDescription,
		"{tool_names}", toolNames,
		"{input}", taskContent,
	)
	return Prompt{
		System: replacer.Replace(system),
		User:   replacer.Replace(user),
	}
}
