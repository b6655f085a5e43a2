// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package extensions

import "time"

// Observer receives orchestration telemetry.
//
// Implementations turn these calls into metrics. All methods must be
// cheap and must never fail.
type Observer interface {
	// ObserveQuery is called once per orchestration with the final
	// query type label and terminal outcome ("answered", "denied",
	// "decomposition_failed", "unknown", "unrecognized").
	ObserveQuery(queryType, outcome string, duration time.Duration)

	// ObserveStage records the latency of one pipeline stage
	// ("decompose", "access", "document", "refine", "sql", "synthesize").
	ObserveStage(stage string, duration time.Duration)

	// ObserveCapabilityError counts a recovered sub-capability failure.
	ObserveCapabilityError(capability string)
}

// Query outcomes.
const (
	OutcomeAnswered            = "answered"
	OutcomeDenied              = "denied"
	OutcomeDecompositionFailed = "decomposition_failed"
	OutcomeUnknown             = "unknown"
	OutcomeUnrecognized        = "unrecognized"
)

// Pipeline stages.
const (
	StageDecompose  = "decompose"
	StageAccess     = "access"
	StageDocument   = "document"
	StageRefine     = "refine"
	StageSQL        = "sql"
	StageSynthesize = "synthesize"
)

// NopObserver discards all telemetry.
type NopObserver struct{}

func (o *NopObserver) ObserveQuery(queryType, outcome string, duration time.Duration) {}
func (o *NopObserver) ObserveStage(stage string, duration time.Duration)              {}
func (o *NopObserver) ObserveCapabilityError(capability string)                       {}

var _ Observer = (*NopObserver)(nil)
