package pipeline

import (
	"context"
	"fmt"
	"math"
	"slices"
	"strings"
	"sync"

	"github.com/paulmach/orb"
	"github.com/paulmach/orb/geojson"
	"github.com/paulmach/orb/project"

	"github.com/mohammed-shakir/choropleth-cache/internal/classify"
	"github.com/mohammed-shakir/choropleth-cache/internal/classify/stable"
	"github.com/mohammed-shakir/choropleth-cache/internal/core/observability"
	"github.com/mohammed-shakir/choropleth-cache/internal/joinkey"
	"github.com/mohammed-shakir/choropleth-cache/internal/logger"
	"github.com/mohammed-shakir/choropleth-cache/internal/symbols"
)

// Mercator is undefined at the poles.
const maxMercatorLat = 85.05112878

const defaultSession = "default"

// session is the render state of one map. Only the newest render of a
// session may commit its output.
type session struct {
	mu       sync.Mutex
	gen      uint64
	config   string
	last     *Output
	assigner *stable.Assigner
}

func (s *Service) session(id string) *session {
	if id == "" {
		id = defaultSession
	}
	s.sessMu.Lock()
	defer s.sessMu.Unlock()
	if sess, ok := s.sessions.Get(id); ok {
		return sess
	}
	sess := &session{assigner: stable.New(nil)}
	s.sessions.Add(id, sess)
	return sess
}

func (ss *session) begin() uint64 {
	ss.mu.Lock()
	defer ss.mu.Unlock()
	ss.gen++
	return ss.gen
}

// snapshot returns a private copy of the palette state while gen is still
// the newest render.
func (ss *session) snapshot(gen uint64) (*stable.Assigner, bool) {
	ss.mu.Lock()
	defer ss.mu.Unlock()
	if ss.gen != gen {
		return nil, false
	}
	return ss.assigner.Clone(), true
}

// Render runs one render pass. On a fetch or payload failure for the same
// configuration as the last good render, that output is returned marked
// Stale together with the error. For a new configuration the previous
// output is discarded and only the error is returned.
func (s *Service) Render(ctx context.Context, req Request) (Output, error) {
	ctx = logger.WithComponent(ctx, "pipeline")
	sess := s.session(req.SessionID)
	gen := sess.begin()

	key, err := SourceKey(req.Source)
	if err != nil {
		return Output{}, err
	}
	ctx = logger.WithSourceKey(ctx, key)
	cfgKey := layerKey(key, req.Layer)

	ly, err := s.loadLayer(ctx, key, req.Source, req.Layer)
	if err != nil {
		return s.fail(ctx, sess, gen, cfgKey, err)
	}
	asg, ok := sess.snapshot(gen)
	if !ok {
		return Output{}, ErrSuperseded
	}

	out, err := s.compose(ctx, asg, req, key, ly)
	if err != nil {
		return Output{}, err
	}
	if s.composed != nil {
		s.composed()
	}

	sess.mu.Lock()
	defer sess.mu.Unlock()
	if sess.gen != gen {
		return Output{}, ErrSuperseded
	}
	sess.assigner = asg
	sess.config = cfgKey
	kept := out
	sess.last = &kept
	return out, nil
}

func (s *Service) fail(ctx context.Context, sess *session, gen uint64, cfgKey string, err error) (Output, error) {
	// the caller gave up; that says nothing about the source
	if ctx.Err() != nil {
		return Output{}, err
	}

	sess.mu.Lock()
	defer sess.mu.Unlock()
	if sess.gen != gen {
		return Output{}, ErrSuperseded
	}
	if sess.last != nil && sess.config == cfgKey {
		prev := *sess.last
		prev.Stale = true
		prev.Warnings = append(slices.Clone(prev.Warnings), Warning{Kind: "render_failed", Message: err.Error()})
		s.log.WarnContext(ctx, "render failed, keeping previous output", "err", err)
		return prev, err
	}
	if sess.last != nil {
		s.log.WarnContext(ctx, "render failed for new configuration, removing layer", "err", err)
	}
	sess.last, sess.config = nil, ""
	return Output{}, err
}

func (s *Service) compose(ctx context.Context, asg *stable.Assigner, req Request, key string, ly *layer) (Output, error) {
	lr := ly.lod.SimplifiedFor(req.Resolution)
	ctx = logger.WithLOD(ctx, string(lr.Bucket))

	out := Output{
		SourceKey: key,
		Layer:     ly.norm.Layer,
		Bucket:    lr.Bucket,
		Degraded:  lr.Degraded,
	}
	if lr.Degraded {
		out.Warnings = append(out.Warnings, Warning{Kind: "lod_degraded", Message: fmt.Sprint(lr.Reason)})
	}
	if ly.norm.Dropped > 0 {
		out.Warnings = append(out.Warnings, Warning{
			Kind:    "features_dropped",
			Message: fmt.Sprintf("%d features without polygon geometry were dropped", ly.norm.Dropped),
		})
	}

	rows, valid := rowIndex(req.Rows)
	res, err := joinkey.Resolve(ly.norm.Features, req.JoinKey, valid)
	if err != nil {
		observability.IncJoinKeyDecision(string(joinkey.NoMatch))
		s.log.WarnContext(ctx, "no boundary matches the join values", "join_key", req.JoinKey, "values", len(valid))
		return Output{}, fmt.Errorf("join on %q: %w", req.JoinKey, err)
	}
	decision := s.cfg.JoinPolicy.Decide(res, len(valid))
	observability.IncJoinKeyDecision(string(decision))
	used := res.Key(decision)
	if used != req.JoinKey {
		s.log.WarnContext(ctx, "join key replaced",
			"original_key", res.OriginalKey, "used_key", used,
			"best_count", res.BestCount, "original_count", res.OriginalCount, "decision", string(decision))
		out.Warnings = append(out.Warnings, Warning{
			Kind:    "join_key_" + string(decision),
			Message: fmt.Sprintf("joined on %q (%d matches) instead of %q (%d matches)", used, res.BestCount, res.OriginalKey, res.OriginalCount),
		})
	}

	fc := geojson.NewFeatureCollection()
	values := make([]any, 0, len(rows))
	for i, src := range ly.norm.Features.Features {
		v, ok := rows[joinkey.PropertyValue(src, used)]
		if !ok {
			continue
		}
		f := geojson.NewFeature(lr.Features.Features[i].Geometry)
		f.ID = src.ID
		f.Properties = src.Properties.Clone()
		f.Properties[ValueProperty] = v
		fc.Append(f)
		values = append(values, v)
	}
	out.Features = fc
	out.UsedKey = used
	out.JoinDecision = decision
	out.Matched = len(fc.Features)

	s.classify(ctx, asg, req, values, &out)
	out.Extent = mercatorExtent(fc)

	if req.Symbols {
		h3res := s.cfg.SymbolRes
		if h3res < 0 {
			h3res = symbols.ResForBucket(lr.Bucket)
		}
		syms, err := symbols.Bin(symbols.FromFeatures(fc, ValueProperty), h3res, symbols.DefaultMaxRadius)
		if err != nil {
			out.Warnings = append(out.Warnings, Warning{Kind: "symbols_failed", Message: err.Error()})
		} else {
			out.Symbols = syms
		}
	}
	return out, nil
}

func (s *Service) classify(ctx context.Context, asg *stable.Assigner, req Request, values []any, out *Output) {
	method := req.Method
	if method == "" {
		method = classify.Quantile
	}
	classes := req.Classes
	if classes <= 0 {
		classes = s.cfg.DefaultClasses
	}

	var warns []classify.Warning
	if method.Categorical() {
		a := asg.Assign(values, classes, req.MeasureID)
		out.Breaks, out.Colors, out.Window = a.Breaks, a.Colors, a.Window
		warns = a.Warnings
	} else {
		asg.Leave()
		palette := req.Palette
		if palette.Name == "" && len(palette.Colors) == 0 {
			palette.Name = s.cfg.DefaultPalette
		}
		sc := classify.Build(values, classify.Options{
			Method:  method,
			Classes: classes,
			Palette: palette,
			Invert:  req.Invert,
		})
		out.Breaks, out.Colors = sc.Breaks, sc.Colors
		warns = sc.Warnings
	}

	for _, w := range warns {
		observability.IncClassificationWarning(string(w.Kind))
		s.log.WarnContext(ctx, "classification degraded", "kind", string(w.Kind), "detail", w.Message)
		out.Warnings = append(out.Warnings, Warning{Kind: string(w.Kind), Message: w.Message})
	}
	out.Legend = classify.Legend(out.Breaks, out.Colors)
	out.ColorFunc = classify.ColorFunc(out.Breaks, out.Colors)
}

// rowIndex maps trimmed row keys to values. Later rows win.
func rowIndex(rows []Row) (map[string]any, []string) {
	idx := make(map[string]any, len(rows))
	valid := make([]string, 0, len(rows))
	for _, r := range rows {
		k := strings.TrimSpace(r.Key)
		if k == "" {
			continue
		}
		if _, seen := idx[k]; !seen {
			valid = append(valid, k)
		}
		idx[k] = r.Value
	}
	return idx, valid
}

func mercatorExtent(fc *geojson.FeatureCollection) orb.Bound {
	var (
		b     orb.Bound
		empty = true
	)
	for _, f := range fc.Features {
		if f.Geometry == nil {
			continue
		}
		if empty {
			b, empty = f.Geometry.Bound(), false
		} else {
			b = b.Union(f.Geometry.Bound())
		}
	}
	if empty {
		return orb.Bound{}
	}
	return orb.Bound{
		Min: project.WGS84.ToMercator(clampLat(b.Min)),
		Max: project.WGS84.ToMercator(clampLat(b.Max)),
	}
}

func clampLat(p orb.Point) orb.Point {
	return orb.Point{p[0], math.Max(-maxMercatorLat, math.Min(maxMercatorLat, p[1]))}
}
