package cadastro

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog"
)

// StampLayout formats version stamps as UTC ISO-8601 with milliseconds.
const StampLayout = "2006-01-02T15:04:05.000Z"

// VersionCheck is the outcome of comparing the local marker with the
// Metadados tab.
type VersionCheck struct {
	Index       int    // Metadados row of the tab, 0 when the tab has none
	Local       string // local stamp, "" when the marker was unknown
	Remote      string
	RemoteFound bool
	NeedsSync   bool
}

// Versioner tracks the per-tab version marker.
//
// A tab is unknown until its Metadados row has been located by a full scan.
// From then on every check is a single-cell read of that row.
type Versioner struct {
	store   VersionStore
	markers MarkerStore
	now     func() time.Time
	metrics *Metrics
	log     zerolog.Logger
}

// NewVersioner creates a Versioner over a remote version store and local markers.
func NewVersioner(store VersionStore, markers MarkerStore, now func() time.Time, metrics *Metrics, logger zerolog.Logger) *Versioner {
	if now == nil {
		now = time.Now
	}
	return &Versioner{
		store:   store,
		markers: markers,
		now:     now,
		metrics: metrics,
		log:     logger,
	}
}

// Marker returns the local marker of a tab, nil when unknown. Marker store
// failures are logged and read as unknown.
func (v *Versioner) Marker(ctx context.Context, tab string) *Marker {
	m, err := v.markers.GetMarker(ctx, tab)
	if err != nil {
		v.log.Warn().Err(err).Str("tab", tab).Msg("Version marker unavailable")
		return nil
	}
	return m
}

// Check decides whether the tab needs a full resync.
//
// Stamps are compared as strings: any difference, including an older
// remote stamp, asks for a resync. A tab whose marker was unknown always
// needs one, because nothing says the cached rows match the stamp found.
func (v *Versioner) Check(ctx context.Context, tab string) (*VersionCheck, error) {
	local := v.Marker(ctx, tab)
	if local == nil {
		entry, err := v.lookup(ctx, tab)
		if err != nil {
			return nil, err
		}
		if entry == nil {
			return &VersionCheck{NeedsSync: true}, nil
		}
		return &VersionCheck{
			Index:       entry.Index,
			Remote:      entry.LastModified,
			RemoteFound: entry.LastModified != "",
			NeedsSync:   true,
		}, nil
	}

	v.metrics.versionCheck(tab, "fast")
	remote, ok, err := v.store.ReadVersionStamp(ctx, local.Index)
	if err != nil {
		return nil, fmt.Errorf("failed to read version stamp: %w", err)
	}

	check := &VersionCheck{
		Index:       local.Index,
		Local:       local.LastModified,
		Remote:      remote,
		RemoteFound: ok,
		NeedsSync:   !ok || remote != local.LastModified,
	}
	if check.NeedsSync {
		v.log.Debug().Str("tab", tab).Str("local", local.LastModified).Str("remote", remote).Msg("Remote version changed")
	}
	return check, nil
}

// Commit records the stamp observed by check after a successful resync. A
// check without a remote stamp drops the marker so the next check rescans.
func (v *Versioner) Commit(ctx context.Context, tab string, check *VersionCheck) {
	var err error
	if check != nil && check.RemoteFound && check.Index > 0 {
		err = v.markers.SetMarker(ctx, tab, Marker{Index: check.Index, LastModified: check.Remote})
	} else {
		err = v.markers.DeleteMarker(ctx, tab)
	}
	if err != nil {
		v.log.Warn().Err(err).Str("tab", tab).Msg("Failed to store version marker")
	}
}

// Touch stamps the tab as modified now, creating its Metadados row on the
// first write.
//
// The local marker only moves to the new stamp when the remote stamp still
// matched it before this write, that is when the cached rows were current.
// Otherwise the marker keeps only the Metadados row index with no stamp, so
// the next check resyncs and picks up rows written by others.
func (v *Versioner) Touch(ctx context.Context, tab string) (string, error) {
	stamp := v.now().UTC().Format(StampLayout)

	index := 0
	current := false
	if m := v.Marker(ctx, tab); m != nil && m.Index > 0 {
		index = m.Index
		v.metrics.versionCheck(tab, "fast")
		remote, ok, err := v.store.ReadVersionStamp(ctx, m.Index)
		switch {
		case err != nil:
			v.log.Warn().Err(err).Str("tab", tab).Msg("Version stamp unreadable before write")
		case !ok:
			index = 0
		default:
			current = m.LastModified != "" && remote == m.LastModified
		}
	}
	if index == 0 {
		entry, err := v.lookup(ctx, tab)
		if err != nil {
			return "", err
		}
		if entry != nil {
			index = entry.Index
		}
	}

	if index > 0 {
		if err := v.store.WriteVersion(ctx, index, tab, stamp); err != nil {
			return "", fmt.Errorf("failed to update version: %w", err)
		}
	} else {
		var err error
		index, err = v.store.AppendVersion(ctx, tab, stamp)
		if err != nil {
			return "", fmt.Errorf("failed to append version: %w", err)
		}
	}

	next := Marker{Index: index}
	if current {
		next.LastModified = stamp
	} else {
		v.log.Debug().Str("tab", tab).Msg("Cache was behind the remote version, next check resyncs")
	}
	if err := v.markers.SetMarker(ctx, tab, next); err != nil {
		v.log.Warn().Err(err).Str("tab", tab).Msg("Failed to store version marker")
	}
	return stamp, nil
}

func (v *Versioner) lookup(ctx context.Context, tab string) (*VersionEntry, error) {
	v.metrics.versionCheck(tab, "scan")
	entries, err := v.store.ReadVersions(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to read versions: %w", err)
	}
	for i := range entries {
		if entries[i].Tab == tab {
			return &entries[i], nil
		}
	}
	return nil, nil
}
