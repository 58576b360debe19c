// ABOUTME: Rebuilds the persisted scope from a full store read
// ABOUTME: This is what the native crash handler sees after the process died

package bridge

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"

	"github.com/2389/scopesync/internal/scope"
	"github.com/2389/scopesync/internal/store"
)

// Reader is the read side of a store.Store.
type Reader interface {
	ReadAll(ctx context.Context) ([]store.Record, error)
}

// Skipped names a record that could not be decoded.
type Skipped struct {
	Key    string `json:"key"`
	Reason string `json:"reason"`
}

// Report is the scope as reconstructed from the store.
type Report struct {
	Session *Session       `json:"session,omitempty"`
	Scope   scope.Snapshot `json:"scope"`
	Skipped []Skipped      `json:"skipped,omitempty"`
}

// ReadReport reads every record once and rebuilds the scope. It takes no lock
// shared with the writer. Unknown keys are ignored; records that fail to
// decode are listed in Report.Skipped and do not affect other fields.
func ReadReport(ctx context.Context, r Reader) (*Report, error) {
	recs, err := r.ReadAll(ctx)
	if err != nil {
		return nil, fmt.Errorf("reading scope store: %w", err)
	}

	report := &Report{}
	for _, rec := range recs {
		kind, name, ok := parseKey(rec.Key)
		if !ok {
			continue
		}
		if err := report.apply(kind, name, rec.Value); err != nil {
			report.Skipped = append(report.Skipped, Skipped{Key: rec.Key, Reason: err.Error()})
		}
	}

	sort.Slice(report.Scope.Breadcrumbs, func(i, j int) bool {
		return report.Scope.Breadcrumbs[i].Seq < report.Scope.Breadcrumbs[j].Seq
	})
	return report, nil
}

func (r *Report) apply(kind, name string, raw json.RawMessage) error {
	snap := &r.Scope

	switch kind {
	case KindMeta:
		var s Session
		if err := json.Unmarshal(raw, &s); err != nil {
			return err
		}
		r.Session = &s

	case KindTag:
		var v string
		if err := json.Unmarshal(raw, &v); err != nil {
			return err
		}
		if snap.Tags == nil {
			snap.Tags = make(map[string]string)
		}
		snap.Tags[name] = v

	case KindUser:
		var u scope.User
		if err := json.Unmarshal(raw, &u); err != nil {
			return err
		}
		snap.User = &u

	case KindBreadcrumb:
		var b scope.Breadcrumb
		if err := json.Unmarshal(raw, &b); err != nil {
			return err
		}
		snap.Breadcrumbs = append(snap.Breadcrumbs, b)

	case KindContext:
		var v scope.Value
		if err := json.Unmarshal(raw, &v); err != nil {
			return err
		}
		if v.Kind() != scope.KindMap {
			return fmt.Errorf("context must be a map, got %s", v.Kind())
		}
		if snap.Contexts == nil {
			snap.Contexts = make(map[string]scope.Value)
		}
		snap.Contexts[name] = v

	case KindExtra:
		var v scope.Value
		if err := json.Unmarshal(raw, &v); err != nil {
			return err
		}
		if snap.Extras == nil {
			snap.Extras = make(map[string]scope.Value)
		}
		snap.Extras[name] = v

	case KindFingerprint:
		var fp []string
		if err := json.Unmarshal(raw, &fp); err != nil {
			return err
		}
		snap.Fingerprint = fp

	case KindLevel:
		var l scope.Level
		if err := json.Unmarshal(raw, &l); err != nil {
			return err
		}
		snap.Level = l

	case KindTransaction:
		var t string
		if err := json.Unmarshal(raw, &t); err != nil {
			return err
		}
		snap.Transaction = t
	}
	return nil
}
