package ingest

import (
	"context"

	"github.com/logflow/jsonimport/internal/model"
	lferrors "github.com/logflow/jsonimport/pkg/errors"
	"github.com/logflow/jsonimport/pkg/parser"
	"github.com/logflow/jsonimport/pkg/timeline"
)

// Reserved attribute keys added by the assembler.
const (
	KeyName      = "name"
	KeyTimestamp = "timestamp"
	KeyRunID     = "run_id"
)

// Assembler turns decoded JSON objects into prepared events.
type Assembler struct {
	cfg      ClassifyConfig
	timeline timeline.Resolver
}

// NewAssembler returns an assembler that resolves timeline ids through reg.
func NewAssembler(cfg ClassifyConfig, reg timeline.Resolver) *Assembler {
	return &Assembler{cfg: cfg, timeline: reg}
}

// Assemble flattens v, splits its attributes into timeline and event
// buckets, and resolves the timeline id. extras are prepended to the
// flattened attributes. The ordering of the result is left to the caller.
func (a *Assembler) Assemble(ctx context.Context, v any, extras []model.KV) (model.PreparedEvent, error) {
	obj, ok := v.(*parser.Object)
	if !ok {
		return model.PreparedEvent{}, lferrors.New(lferrors.CodeMalformedInput,
			"expected JSON object at top level, or in array")
	}

	flat := parser.Flatten(obj)
	all := make([]model.KV, 0, len(extras)+len(flat))
	all = append(all, extras...)
	all = append(all, flat...)

	var tl, ev model.KVs
	for _, kv := range all {
		if a.cfg.isTimelineKey(kv.Key) {
			tl = append(tl, kv)
		} else {
			ev = append(ev, kv)
		}
	}

	sig, name, ok := firstNamed(tl, a.cfg.TimelineNames, a.cfg.TimelineNamePrefix)
	if !ok {
		return model.PreparedEvent{}, lferrors.New(lferrors.CodeMissingTimelineIdentity,
			"could not determine timeline name and identity for event; make sure "+
				"timeline-name is given and at least one choice is present in each record")
	}
	if name != "" {
		tl = append(tl, model.KV{Key: KeyName, Value: model.String(name)})
	}
	tl = a.decorateTimeline(tl)

	id, err := a.timeline.ResolveOrCreate(ctx, sig)
	if err != nil {
		return model.PreparedEvent{}, lferrors.Wrap(err, lferrors.CodeUnknown,
			"timeline registry lookup failed").WithContext("key", sig.Key)
	}

	_, eventName, ok := firstNamed(ev, a.cfg.EventNames, a.cfg.EventNamePrefix)
	if !ok || eventName == "" {
		return model.PreparedEvent{}, lferrors.New(lferrors.CodeMissingEventName,
			"could not determine event name; make sure event-name is given and "+
				"at least one choice is present in each record")
	}
	ev = append(ev, model.KV{Key: KeyName, Value: model.String(eventName)})

	if a.cfg.TimestampAttr != "" {
		if raw, ok := ev.Get(a.cfg.TimestampAttr); ok {
			ns, err := a.cfg.TimestampUnit.ToNanos(raw)
			if err != nil {
				return model.PreparedEvent{}, err
			}
			ev = append(ev, model.KV{Key: KeyTimestamp, Value: ns})
		}
	}

	return model.PreparedEvent{
		TimelineID:    id,
		TimelineAttrs: tl,
		EventAttrs:    ev,
	}, nil
}

// decorateTimeline applies the run id and the configured additional and
// override attributes.
func (a *Assembler) decorateTimeline(tl model.KVs) model.KVs {
	if a.cfg.RunID != "" {
		tl = append(tl, model.KV{Key: KeyRunID, Value: model.String(a.cfg.RunID)})
	}
	for _, kv := range a.cfg.AdditionalTimelineAttrs {
		if _, ok := tl.Get(kv.Key); !ok {
			tl = append(tl, kv)
		}
	}
	for _, kv := range a.cfg.OverrideTimelineAttrs {
		replaced := false
		for i := range tl {
			if tl[i].Key == kv.Key {
				tl[i].Value = kv.Value
				replaced = true
			}
		}
		if !replaced {
			tl = append(tl, kv)
		}
	}
	return tl
}

// firstNamed finds the first candidate key present in kvs and returns its
// signature together with prefix+value.
func firstNamed(kvs model.KVs, candidates []string, prefix string) (model.Signature, string, bool) {
	for _, key := range candidates {
		if v, ok := kvs.Get(key); ok {
			return model.Signature{Key: key, Value: v}, prefix + v.String(), true
		}
	}
	return model.Signature{}, prefix, false
}
