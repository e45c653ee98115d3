// Copyright 2025 CrewFlow Authors. All rights reserved.
// Use of this source code is governed by a MIT license that can be
// found in the LICENSE file.

/*
Package agent implements the role-playing agent model and its bounded
reasoning loop.

# Overview

An Agent is an immutable identity (role, goal, backstory) plus execution
budgets. The Executor drives the reasoning loop: it alternates LLM calls
with tool executions until the model produces a final answer, a tool
result is flagged as the answer, the iteration budget runs out, or the
task deadline expires.

Two dispatch modes are supported and selected once at loop start:

  - Text mode (ReAct): the model emits "Thought / Action / Action Input"
    text that the parser converts into tool invocations.
  - Native mode: the provider returns structured tool_calls directly.

Delegation is implemented as two synthetic tools whose bodies run a
nested executor on the target agent. Nesting depth is bounded.
*/
package agent
