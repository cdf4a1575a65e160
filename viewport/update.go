package viewport

import (
	"github.com/eak1mov/go-deepview/geom"
	"github.com/eak1mov/go-deepview/pyramid"
	"github.com/eak1mov/go-deepview/render"
	"github.com/eak1mov/go-deepview/tile"
	"github.com/eak1mov/go-deepview/tilecache"
)

// selectTiers picks the backfill and oversize tiers for the frontfill tier.
func (v *Viewport) selectTiers() render.Tiers {
	t := render.Tiers{Frontfill: v.tier, Backfill: render.NoTier, Oversize: render.NoTier}
	if v.tier == 0 {
		return t
	}
	if v.tier <= v.config.backfillNearApex {
		t.Backfill = 0
	} else {
		t.Backfill = max(0, v.tier-v.config.backfillOffset)
	}
	t.DynamicBackfill = v.tier > v.config.dynamicBackfillTier
	if t.DynamicBackfill && v.config.oversizeTier != render.NoTier && v.config.oversizeTier < t.Backfill {
		t.Oversize = v.config.oversizeTier
	}
	return t
}

type layerPass struct {
	kind  tile.Layer
	r     pyramid.TileRange
	order tilecache.Order
	sel   tilecache.Selection
}

// updateView redraws the view from the cache and requests the missing tiles. Without force it
// does nothing when neither the view nor the viewport size changed since the last pass.
func (v *Viewport) updateView(force bool) bool {
	if !v.status.Has(StatusInitialized) {
		return false
	}
	if !force && v.hasDrawn && v.view == v.drawn && v.size == v.drawnSize {
		return false
	}
	if v.view != v.drawn || !v.hasDrawn {
		v.retries = 0
		v.status &^= StatusValidationFailed
	}
	v.updates++
	v.drawn, v.drawnSize, v.hasDrawn = v.view, v.size, true
	v.complete = false
	v.status &^= StatusDisplayLoaded | StatusBackfillLoaded | StatusBackfillDrawn

	v.tiers = v.selectTiers()
	v.pipeline.Begin(v.view, v.tiers)
	v.cache.ClearView()

	bounds := geom.ViewBounds(v.view, v.size, v.config.panBuffer)
	var passes []layerPass
	if v.tiers.Oversize != render.NoTier {
		passes = append(passes, layerPass{kind: tile.LayerOversize, r: v.pyramid.FullRange(v.tiers.Oversize), order: tilecache.OrderRowMajor})
	}
	if v.tiers.Backfill != render.NoTier {
		r := v.pyramid.FullRange(v.tiers.Backfill)
		if v.tiers.DynamicBackfill {
			r = v.pyramid.TileRange(v.tiers.Backfill, bounds)
		}
		passes = append(passes, layerPass{kind: tile.LayerBackfill, r: r, order: tilecache.OrderRowMajor})
	}
	passes = append(passes, layerPass{kind: tile.LayerFrontfill, r: v.pyramid.TileRange(v.tier, bounds), order: tilecache.OrderCenterOut})

	// Draw everything cached before requesting anything.
	clear(v.needed)
	for i := range passes {
		pass := &passes[i]
		pass.sel = v.cache.Select(pass.r)
		for _, t := range centerOut(pass.sel.Cached) {
			v.cache.Touch(t.ID)
			v.pipeline.Draw(pass.kind, t)
		}
		needed := make(map[tile.ID]struct{})
		for id := range pass.r.IDs() {
			if _, ok := v.cache.Get(id); !ok {
				needed[id] = struct{}{}
			}
		}
		v.needed[pass.kind] = needed
		if pass.kind == tile.LayerBackfill {
			v.status |= StatusBackfillDrawn
		}
	}
	v.emit(EventRedraw)

	for _, pass := range passes {
		v.cache.Request(pass.sel.ToRequest, pass.kind, pass.order)
	}
	v.checkComplete()
	if !v.complete {
		v.startWatchdog()
	}
	return true
}

func centerOut(tiles []*tilecache.Tile) []*tilecache.Tile {
	ids := make([]tile.ID, len(tiles))
	byID := make(map[tile.ID]*tilecache.Tile, len(tiles))
	for i, t := range tiles {
		ids[i] = t.ID
		byID[t.ID] = t
	}
	pyramid.SortCenterOut(ids)
	out := make([]*tilecache.Tile, len(ids))
	for i, id := range ids {
		out[i] = byID[id]
	}
	return out
}

// Outstanding returns the number of tiles the current view still waits for.
func (v *Viewport) Outstanding() int {
	n := 0
	for _, ids := range v.needed {
		n += len(ids)
	}
	return n
}

func (v *Viewport) arrived(t *tilecache.Tile) {
	v.loaded++
	drew := false
	for _, kind := range []tile.Layer{tile.LayerOversize, tile.LayerBackfill, tile.LayerFrontfill} {
		ids := v.needed[kind]
		if _, ok := ids[t.ID]; !ok {
			continue
		}
		delete(ids, t.ID)
		v.cache.Touch(t.ID)
		if v.pipeline.Draw(kind, t) {
			drew = true
		}
	}
	if drew {
		v.emit(EventRedraw)
	}
	v.checkComplete()
}

func (v *Viewport) checkComplete() {
	if v.complete || !v.hasDrawn {
		return
	}
	if len(v.needed[tile.LayerBackfill]) == 0 {
		v.status |= StatusBackfillLoaded
	}
	if len(v.needed[tile.LayerFrontfill]) == 0 && !v.status.Has(StatusDisplayLoaded) {
		v.status |= StatusDisplayLoaded
		v.pipeline.EndLoad()
	}
	if v.Outstanding() > 0 {
		return
	}
	v.complete = true
	v.retries = 0
	v.watchdog.Cancel()
	v.emit(EventViewUpdateComplete)
}

func (v *Viewport) failed(id tile.ID, err error) {
	v.emit(EventTileFailed)
}

func (v *Viewport) faded() {
	v.pipeline.Refresh()
	v.emit(EventRedraw)
}

// startWatchdog replaces the running watchdog with a new one measuring from now.
func (v *Viewport) startWatchdog() {
	v.watchdog.Cancel()
	v.watchStart = v.sched.Now()
	v.watchLoaded = v.loaded
	v.watchdog = v.sched.AfterFunc(v.config.watchdogDelay, v.validateView)
}

// validateView checks that the view is converging: tiles are in flight and arrive at least at
// the minimum rate. Otherwise it forces a new pass, up to the retry limit.
func (v *Viewport) validateView() {
	if v.complete {
		return
	}
	elapsed := v.sched.Now().Sub(v.watchStart).Seconds()
	rate := 0.0
	if elapsed > 0 {
		rate = float64(v.loaded-v.watchLoaded) / elapsed
	}
	stalled := v.cache.Outstanding() == 0 || rate < v.config.watchdogMinRate
	if !stalled {
		v.startWatchdog()
		return
	}
	v.retries++
	if v.retries > v.config.watchdogRetries {
		v.status |= StatusValidationFailed
		v.pipeline.EndLoad()
		v.logger.Warn("viewport: view validation failed",
			"retries", v.config.watchdogRetries, "missing", v.Outstanding(), "rate", rate)
		v.emit(EventValidationFailed)
		return
	}
	v.logger.Debug("viewport: view stalled, redrawing", "retry", v.retries, "missing", v.Outstanding(), "rate", rate)
	v.updateView(true)
}
