// Copyright 2025 CrewFlow Authors. All rights reserved.
// Use of this source code is governed by a MIT license that can be
// found in the LICENSE file.

/*
Package llm provides the unified LLM provider abstraction: request
shaping, capability queries, provider resolution, token accounting,
retry with exponential backoff, and stop-word truncation for providers
without native stop sequence support.

Concrete provider HTTP clients are external collaborators. They
implement the Provider interface and register themselves through
RegisterProvider at startup; the core calls through the capability
table and never branches on provider identity.
*/
package llm
