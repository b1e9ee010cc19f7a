// Package detector decides which posters changed since the last run and
// fetches the ones that did.
package detector

import (
	"context"
	"image"
	"log/slog"
	"strings"
	"time"

	"github.com/ivlev/postersync/internal/ledger"
	"github.com/ivlev/postersync/internal/logging"
	"github.com/ivlev/postersync/internal/poster"
	"github.com/ivlev/postersync/internal/source"
)

// StillReader turns fetched bytes into the image drawn for a poster.
type StillReader interface {
	Image(ctx context.Context, d poster.Descriptor, data []byte) (image.Image, error)
}

// Recorder receives per-poster counters. May be nil.
type Recorder interface {
	IncChecked()
	IncUpdated()
	IncSkipped()
	IncFetch(kind, op string)
}

type Detector struct {
	Fetcher source.Fetcher
	Stills  StillReader
	Log     *slog.Logger
	Metrics Recorder
}

// Result is the outcome of one detection pass.
type Result struct {
	// Updates holds refreshed posters in manifest order.
	Updates []poster.Update
	// Ledger is the previous ledger with every fetched timestamp of an
	// updated poster written over it.
	Ledger *ledger.Ledger
	// Checked counts timestamp fetches, Skipped posters dropped by a group
	// decision.
	Checked int
	Skipped int
	// Stale lists ledger keys no descriptor maps to any more. They are kept.
	Stale []string
}

// Detect walks descriptors in manifest order. On a first run every poster
// is updated regardless of timestamps; timestamps are still fetched so the
// next run has a baseline. Otherwise the first evaluated member of a group
// decides for the whole group and later members are fetched or skipped
// without a timestamp request. prev is not modified.
func (d *Detector) Detect(ctx context.Context, descriptors []poster.Descriptor, prev *ledger.Ledger, firstRun bool) (*Result, error) {
	log := d.Log
	if log == nil {
		log = slog.New(slog.DiscardHandler)
	}
	if snapshot, err := prev.Marshal(); err == nil {
		log.Debug("ledger before check: " + string(snapshot))
	}

	res := &Result{Ledger: prev.Clone()}
	groupUpdated := make(map[string]bool)

	for _, desc := range descriptors {
		key := desc.LedgerKey()
		decided, inGroup := false, desc.Group != ""
		if inGroup {
			_, decided = groupUpdated[desc.Group]
		}

		var (
			ts      time.Time
			fetched bool
			updated bool
		)
		switch {
		case decided:
			if !groupUpdated[desc.Group] {
				res.Skipped++
				d.inc(func(r Recorder) { r.IncSkipped() })
				log.Debug("unchanged group member", "id", desc.ID, "group", desc.Group)
				continue
			}
			updated = true
		default:
			var err error
			ts, err = d.Fetcher.FetchTimestamp(ctx, desc)
			if err != nil {
				return nil, err
			}
			fetched = true
			res.Checked++
			d.inc(func(r Recorder) {
				r.IncChecked()
				r.IncFetch(string(desc.Kind), "timestamp")
			})

			old, ok := prev.Get(key)
			updated = firstRun || !ok || !ts.Equal(old)
			if inGroup {
				groupUpdated[desc.Group] = updated
			}
		}

		if !updated {
			log.Debug("unchanged", "id", desc.ID, "timestamp", ts.Format(time.RFC3339))
			continue
		}

		from := "none"
		if old, ok := prev.Get(key); ok {
			from = old.Format(time.RFC3339)
		}
		to := "(group " + desc.Group + ")"
		if fetched {
			to = ts.Format(time.RFC3339)
			res.Ledger.Set(key, ts)
		}
		logging.Notice(log, "update: "+desc.ID+": "+from+" → "+to)

		data, err := d.Fetcher.FetchContent(ctx, desc)
		if err != nil {
			return nil, err
		}
		d.inc(func(r Recorder) {
			r.IncUpdated()
			r.IncFetch(string(desc.Kind), "content")
		})

		img, err := d.Stills.Image(ctx, desc, data)
		if err != nil {
			return nil, err
		}

		u := poster.Update{Descriptor: desc, Image: img}
		if fetched {
			u.Timestamp = ts
		}
		res.Updates = append(res.Updates, u)
	}

	active := make(map[string]bool, len(descriptors))
	for _, desc := range descriptors {
		active[desc.LedgerKey()] = true
	}
	for _, k := range prev.Keys() {
		if !active[k] {
			res.Stale = append(res.Stale, k)
		}
	}
	if len(res.Stale) > 0 {
		log.Debug("ledger entries without a poster", "keys", strings.Join(res.Stale, ","))
	}

	if snapshot, err := res.Ledger.Marshal(); err == nil {
		log.Debug("ledger after check: " + string(snapshot))
	}
	return res, nil
}

func (d *Detector) inc(f func(Recorder)) {
	if d.Metrics != nil {
		f(d.Metrics)
	}
}
