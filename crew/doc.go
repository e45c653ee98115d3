// Copyright 2025 CrewFlow Authors. All rights reserved.
// Use of this source code is governed by a MIT license that can be
// found in the LICENSE file.

/*
Package crew implements the scheduler: it drives a task list across a
pool of agents, sequentially or through a synthetic manager agent that
delegates to workers. Outputs of completed tasks propagate as context
into later prompts; LLM call rates are throttled per agent or per crew;
token usage is aggregated into the final CrewOutput.
*/
package crew
