// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package extensions defines the pluggable side channels of the query
// router: where access decisions are audited and where orchestration
// outcomes are observed.
//
// The core never depends on a concrete sink. Services receive a
// ServiceOptions value and fall back to no-op defaults for anything
// left unset.
//
//	opts := extensions.DefaultOptions().
//	    WithAudit(extensions.NewMultiSink(slogSink, redisSink)).
//	    WithObserver(metrics)
//
// # Thread Safety
//
// All interface implementations must be safe for concurrent use.
// Concurrent requests share the same sinks.
package extensions

// ServiceOptions groups all extension points for service configuration.
type ServiceOptions struct {
	// AuditSink receives one record per access decision.
	// Default: NopAuditSink
	AuditSink AuditSink

	// Observer receives orchestration outcomes for metrics.
	// Default: NopObserver
	Observer Observer
}

// DefaultOptions returns ServiceOptions with no-op defaults.
func DefaultOptions() ServiceOptions {
	return ServiceOptions{
		AuditSink: &NopAuditSink{},
		Observer:  &NopObserver{},
	}
}

// WithAudit returns a copy of opts with the given AuditSink.
func (opts ServiceOptions) WithAudit(sink AuditSink) ServiceOptions {
	opts.AuditSink = sink
	return opts
}

// WithObserver returns a copy of opts with the given Observer.
func (opts ServiceOptions) WithObserver(observer Observer) ServiceOptions {
	opts.Observer = observer
	return opts
}

// Normalize replaces nil fields with no-op defaults.
func (opts ServiceOptions) Normalize() ServiceOptions {
	if opts.AuditSink == nil {
		opts.AuditSink = &NopAuditSink{}
	}
	if opts.Observer == nil {
		opts.Observer = &NopObserver{}
	}
	return opts
}
