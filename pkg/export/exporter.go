// Copyright 2024-2026 Madhukar Beema, Distinguished Engineer. All rights reserved.
// Use of this source code is governed by the Business Source License
// included in the LICENSE file of this repository.

package export

import (
	"context"
	"time"

	"github.com/mbeema/threadhook/pkg/hook"
)

// Record is a thread-start event as queued for export. Observed is the wall
// clock time the export manager accepted it; the event's own timestamp is
// monotonic and only meaningful within the process.
type Record struct {
	Event    hook.ThreadEvent
	Observed time.Time
}

// Exporter ships batches of thread-start records somewhere.
type Exporter interface {
	ExportEvents(ctx context.Context, records []Record) error
	Shutdown(ctx context.Context) error
}

// Resource describes the process the events come from.
type Resource struct {
	ServiceName    string
	ServiceVersion string
	DeploymentEnv  string
	InstanceID     string
}
