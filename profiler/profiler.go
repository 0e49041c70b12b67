// Copyright 2025 the splat-go contributors
// SPDX-License-Identifier: Apache-2.0 OR MIT

// Package profiler collects wall-clock timings of the render stages. A
// Profile implements slog.LogValuer so entry points can attach the whole
// stage breakdown to a single debug record.
package profiler

import (
	"log/slog"
	"time"
)

type Span struct {
	Label    string
	Duration time.Duration

	begin time.Time
}

func (s *Span) End() {
	s.Duration = time.Since(s.begin)
}

type Profile struct {
	spans []*Span
}

func New() *Profile {
	return &Profile{}
}

// Start opens a span; the caller ends it with Span.End.
func (p *Profile) Start(label string) *Span {
	s := &Span{Label: label, begin: time.Now()}
	p.spans = append(p.spans, s)
	return s
}

func (p *Profile) Spans() []*Span {
	return p.spans
}

func (p *Profile) LogValue() slog.Value {
	attrs := make([]slog.Attr, len(p.spans))
	for i, s := range p.spans {
		attrs[i] = slog.Duration(s.Label, s.Duration)
	}
	return slog.GroupValue(attrs...)
}
