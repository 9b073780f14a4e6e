// Package profile implements the Persisted Profile Store: an optional JSON
// document accumulating execution-profile metrics (counts, mean/min/max
// durations) per resource, per implementation, and for the cloud-elastic
// pool as a whole, read on startup from INPUT_PROFILE and written on
// shutdown to OUTPUT_PROFILE. Grounded on internal/checkpoint's Manager
// interface split into a pluggable Store with file and object-store
// backends: unlike a checkpoint's append-only event log, a profile is a
// single document read once and written once, so the interface here is
// Load/Save rather than one method per event kind.
package profile

import (
	"encoding/json"
	"time"
)

// Metrics accumulates one name's execution history: how many times it ran
// and the running mean/min/max of its duration, matching the "counts,
// mean/min/max durations" shape the persisted profile document carries per
// resource/implementation/cloud entry.
type Metrics struct {
	Count int64 `json:"count"`
	MeanMillis float64 `json:"mean_ms"`
	MinMillis float64 `json:"min_ms"`
	MaxMillis float64 `json:"max_ms"`
}

// Record folds one observed duration into the running mean/min/max.
func (m *Metrics) Record(d time.Duration) {
	ms := float64(d.Microseconds()) / 1000.0
	if m.Count == 0 {
		m.MinMillis = ms
		m.MaxMillis = ms
	} else {
		if ms < m.MinMillis {
			m.MinMillis = ms
		}
		if ms > m.MaxMillis {
			m.MaxMillis = ms
		}
	}
	m.MeanMillis = (m.MeanMillis*float64(m.Count) + ms) / float64(m.Count+1)
	m.Count++
}

// Document is the top-level persisted profile: three named buckets plus
// whatever unrecognized top-level keys were present in the file this
// process loaded, preserved verbatim on the next Save per the "format is
// additive" rule.
type Document struct {
	Resources map[string]*Metrics
	Implementations map[string]*Metrics
	Cloud map[string]*Metrics

	extra map[string]json.RawMessage
}

// NewDocument returns an empty document ready to accumulate into.
func NewDocument() *Document {
	return &Document{
		Resources: make(map[string]*Metrics),
		Implementations: make(map[string]*Metrics),
		Cloud: make(map[string]*Metrics),
	}
}

func (d *Document) resourceMetrics(name string) *Metrics {
	if d.Resources == nil {
		d.Resources = make(map[string]*Metrics)
	}
	m, ok := d.Resources[name]
	if !ok {
		m = &Metrics{}
		d.Resources[name] = m
	}
	return m
}

// RecordResource folds an observed task duration into name's resource-level
// metrics bucket.
func (d *Document) RecordResource(name string, dur time.Duration) {
	d.resourceMetrics(name).Record(dur)
}

// RecordImplementation folds an observed task duration into name's
// implementation-level metrics bucket.
func (d *Document) RecordImplementation(name string, dur time.Duration) {
	if d.Implementations == nil {
		d.Implementations = make(map[string]*Metrics)
	}
	m, ok := d.Implementations[name]
	if !ok {
		m = &Metrics{}
		d.Implementations[name] = m
	}
	m.Record(dur)
}

// MarshalJSON emits resources/implementations/cloud alongside any
// unrecognized top-level keys this document was loaded with, so a profile
// written by a newer or older version of this runtime round-trips keys it
// does not itself understand.
func (d *Document) MarshalJSON() ([]byte, error) {
	out := make(map[string]json.RawMessage, len(d.extra)+3)
	for k, v := range d.extra {
		out[k] = v
	}
	for key, bucket := range map[string]map[string]*Metrics{
		"resources": d.Resources,
		"implementations": d.Implementations,
		"cloud": d.Cloud,
	} {
		b, err := json.Marshal(bucket)
		if err != nil {
			return nil, err
		}
		out[key] = b
	}
	return json.Marshal(out)
}

func (d *Document) UnmarshalJSON(b []byte) error {
	var raw map[string]json.RawMessage
	if err := json.Unmarshal(b, &raw); err != nil {
		return err
	}
	d.extra = make(map[string]json.RawMessage)
	for k, v := range raw {
		switch k {
		case "resources":
			d.Resources = make(map[string]*Metrics)
			if err := json.Unmarshal(v, &d.Resources); err != nil {
				return err
			}
		case "implementations":
			d.Implementations = make(map[string]*Metrics)
			if err := json.Unmarshal(v, &d.Implementations); err != nil {
				return err
			}
		case "cloud":
			d.Cloud = make(map[string]*Metrics)
			if err := json.Unmarshal(v, &d.Cloud); err != nil {
				return err
			}
		default:
			d.extra[k] = v
		}
	}
	if d.Resources == nil {
		d.Resources = make(map[string]*Metrics)
	}
	if d.Implementations == nil {
		d.Implementations = make(map[string]*Metrics)
	}
	if d.Cloud == nil {
		d.Cloud = make(map[string]*Metrics)
	}
	return nil
}
