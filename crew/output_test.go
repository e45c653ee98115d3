package crew

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/BaSui01/crewflow/llm"
	"github.com/BaSui01/crewflow/task"
)

func TestOutput_JSONRoundTrip(t *testing.T) {
	original := &Output{
		Raw:  "final answer",
		JSON: map[string]any{"k": "v"},
		TaskOutputs: []task.Output{{
			Raw:         "task one",
			Agent:       "Researcher",
			Format:      task.FormatRaw,
			Description: "desc",
			Summary:     "desc",
			Usage:       llm.Usage{PromptTokens: 10, CompletionTokens: 5, TotalTokens: 15, SuccessfulRequests: 1},
		}},
		Usage: llm.Usage{PromptTokens: 10, CompletionTokens: 5, TotalTokens: 15, SuccessfulRequests: 1},
	}

	data, err := original.ToJSON()
	require.NoError(t, err)

	var restored Output
	require.NoError(t, json.Unmarshal([]byte(data), &restored))

	assert.Equal(t, original.Raw, restored.Raw)
	assert.Equal(t, original.JSON, restored.JSON)
	assert.Equal(t, original.Usage, restored.Usage)
	require.Len(t, restored.TaskOutputs, 1)
	assert.Equal(t, original.TaskOutputs[0].Raw, restored.TaskOutputs[0].Raw)
	assert.Equal(t, original.TaskOutputs[0].Agent, restored.TaskOutputs[0].Agent)
	assert.Equal(t, original.TaskOutputs[0].Usage, restored.TaskOutputs[0].Usage)
}
