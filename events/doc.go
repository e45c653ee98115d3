// Copyright 2025 CrewFlow Authors. All rights reserved.
// Use of this source code is governed by a MIT license that can be
// found in the LICENSE file.

/*
Package events implements the typed event bus with dependency-ordered
handler dispatch and hierarchical scope tracking.

Handlers register per event type under a human name and may declare
that they run after other named handlers; the bus resolves those
declarations into a level-wise schedule with a topological sort.
Emission fills three identifier chains on every event: parent (scope
nesting), previous (linear), and triggered-by (causal).
*/
package events
