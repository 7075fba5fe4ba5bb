// Copyright 2024 The dexgraph Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package migrations embeds the SQL migration set for spec.md §6's
// logical schema (pools, graph_weights, dex_state, event_index, tokens,
// pool_blacklist), applied in filename order by the store's migrate path.
package migrations

import "embed"

//go:embed *.sql
var FS embed.FS
