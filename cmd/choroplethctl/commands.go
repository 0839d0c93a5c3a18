package main

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/mohammed-shakir/choropleth-cache/internal/catalog"
	"github.com/mohammed-shakir/choropleth-cache/internal/classify"
	"github.com/mohammed-shakir/choropleth-cache/internal/joinkey"
	"github.com/mohammed-shakir/choropleth-cache/internal/lod"
	"github.com/mohammed-shakir/choropleth-cache/internal/normalize"
)

func (c *cli) normalizeCmd() *cobra.Command {
	var opts normalize.Options
	cmd := &cobra.Command{
		Use:   "normalize FILE",
		Short: "Convert a GeoJSON or TopoJSON boundary file to a canonical FeatureCollection",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			res, err := c.normalizeFile(cmd, args[0], opts)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.ErrOrStderr(), "features=%d dropped=%d layer=%q\n", len(res.Features.Features), res.Dropped, res.Layer)
			return c.emit(cmd, res.Features)
		},
	}
	cmd.Flags().StringVar(&opts.PreferredName, "layer", "", "topology object to use")
	cmd.Flags().BoolVar(&opts.HonorPreferredName, "strict-layer", false, "fail unless --layer names an existing object")
	cmd.Flags().BoolVar(&opts.PreferFirst, "prefer-first", false, "use the first topology object instead of the largest")
	return cmd
}

func (c *cli) normalizeFile(cmd *cobra.Command, path string, opts normalize.Options) (normalize.Result, error) {
	raw, err := readInput(cmd, path)
	if err != nil {
		return normalize.Result{}, err
	}
	return normalize.Normalize(raw, opts)
}

type keyReport struct {
	OriginalKey   string           `json:"original_key"`
	UsedKey       string           `json:"used_key"`
	Decision      joinkey.Decision `json:"decision"`
	BestCount     int              `json:"best_count"`
	OriginalCount int              `json:"original_count"`
}

func (c *cli) resolveKeyCmd() *cobra.Command {
	var key string
	cmd := &cobra.Command{
		Use:   "resolve-key BOUNDARY VALUES",
		Short: "Find the boundary property that best matches a JSON array of join values",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			res, err := c.normalizeFile(cmd, args[0], normalize.Options{})
			if err != nil {
				return err
			}
			vals, err := readValues(cmd, args[1])
			if err != nil {
				return err
			}
			valid := make([]string, 0, len(vals))
			for _, v := range vals {
				if s := joinkey.Normalize(v); s != "" {
					valid = append(valid, s)
				}
			}
			r, err := joinkey.Resolve(res.Features, key, valid)
			if err != nil && !errors.Is(err, joinkey.ErrNoMatch) {
				return err
			}
			policy := joinkey.Policy{MinMatches: c.cfg.MinMatches, MinMargin: c.cfg.MinMargin}
			d := policy.Decide(r, len(joinkey.ValueSet(valid)))
			return c.emit(cmd, keyReport{
				OriginalKey:   r.OriginalKey,
				UsedKey:       r.Key(d),
				Decision:      d,
				BestCount:     r.BestCount,
				OriginalCount: r.OriginalCount,
			})
		},
	}
	cmd.Flags().StringVar(&key, "key", "", "requested join key")
	cmd.Flags().Int("min-matches", 3, "matches required to adopt a detected key")
	cmd.Flags().Int("min-margin", 2, "lead over the requested key required to adopt")
	_ = c.v.BindPFlag("min_matches", cmd.Flags().Lookup("min-matches"))
	_ = c.v.BindPFlag("min_margin", cmd.Flags().Lookup("min-margin"))
	return cmd
}

type classifyReport struct {
	Breaks   classify.Breaks        `json:"breaks"`
	Colors   []string               `json:"colors"`
	Legend   []classify.LegendEntry `json:"legend"`
	Warnings []string               `json:"warnings,omitempty"`
}

func (c *cli) classifyCmd() *cobra.Command {
	var invert bool
	cmd := &cobra.Command{
		Use:   "classify VALUES",
		Short: "Classify a JSON array of values and print breaks, colors and legend",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			vals, err := readValues(cmd, args[0])
			if err != nil {
				return err
			}
			m, err := classify.ParseMethod(c.cfg.Method)
			if err != nil {
				return err
			}
			s := classify.Build(vals, classify.Options{
				Method:  m,
				Classes: c.cfg.Classes,
				Palette: classify.Palette{Name: c.cfg.Palette},
				Invert:  invert,
			})
			rep := classifyReport{Breaks: s.Breaks, Colors: s.Colors, Legend: s.Legend()}
			for _, w := range s.Warnings {
				rep.Warnings = append(rep.Warnings, w.String())
			}
			return c.emit(cmd, rep)
		},
	}
	cmd.Flags().String("method", "quantile", "quantile, equal-interval, logarithmic, k-means, jenks or unique")
	cmd.Flags().Int("classes", 5, "number of classes")
	cmd.Flags().String("palette", "Blues", "named color ramp")
	cmd.Flags().BoolVar(&invert, "invert", false, "reverse the ramp")
	_ = c.v.BindPFlag("method", cmd.Flags().Lookup("method"))
	_ = c.v.BindPFlag("classes", cmd.Flags().Lookup("classes"))
	_ = c.v.BindPFlag("palette", cmd.Flags().Lookup("palette"))
	return cmd
}

func (c *cli) simplifyCmd() *cobra.Command {
	var (
		resolution float64
		bucket     string
	)
	cmd := &cobra.Command{
		Use:   "simplify BOUNDARY",
		Short: "Simplify a boundary file for a map resolution or level of detail",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			b := lod.BucketFor(resolution)
			if bucket != "" {
				var ok bool
				if b, ok = lod.ParseBucket(bucket); !ok {
					return fmt.Errorf("unknown bucket %q (want one of %v)", bucket, lod.Buckets)
				}
			}
			res, err := c.normalizeFile(cmd, args[0], normalize.Options{})
			if err != nil {
				return err
			}
			out := lod.Build(res.Features).ForBucket(b)
			if out.Degraded {
				fmt.Fprintf(cmd.ErrOrStderr(), "bucket=%s degraded: %v\n", out.Bucket, out.Reason)
			} else {
				fmt.Fprintf(cmd.ErrOrStderr(), "bucket=%s\n", out.Bucket)
			}
			return c.emit(cmd, out.Features)
		},
	}
	cmd.Flags().Float64Var(&resolution, "resolution", 0, "map resolution in meters per pixel")
	cmd.Flags().StringVar(&bucket, "bucket", "", "explicit level of detail (overrides --resolution)")
	return cmd
}

func (c *cli) catalogCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "catalog",
		Short: "Inspect a boundary catalog manifest",
	}
	var release, iso3, level string
	resolve := &cobra.Command{
		Use:   "resolve MANIFEST",
		Short: "Resolve a release, country and level to a download URL",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			raw, err := readInput(cmd, args[0])
			if err != nil {
				return err
			}
			m, err := catalog.ParseManifest(bytes.NewReader(raw))
			if err != nil {
				return err
			}
			lvl, err := catalog.ParseLevel(level)
			if err != nil {
				return err
			}
			e, url, err := m.Resolve(release, iso3, lvl, c.cfg.BaseURL)
			if err != nil {
				return err
			}
			return c.emit(cmd, map[string]any{"entry": e, "url": url})
		},
	}
	resolve.Flags().StringVar(&release, "release", "", "release (default latest)")
	resolve.Flags().StringVar(&iso3, "iso3", "", "country code")
	resolve.Flags().StringVar(&level, "level", "ADM0", "administrative level")
	resolve.Flags().String("base-url", "", "base for relative manifest paths")
	_ = resolve.MarkFlagRequired("iso3")
	_ = c.v.BindPFlag("catalog_base_url", resolve.Flags().Lookup("base-url"))
	cmd.AddCommand(resolve)
	return cmd
}

func readValues(cmd *cobra.Command, path string) ([]any, error) {
	raw, err := readInput(cmd, path)
	if err != nil {
		return nil, err
	}
	var vals []any
	if err := json.Unmarshal(raw, &vals); err != nil {
		return nil, fmt.Errorf("values must be a JSON array: %w", err)
	}
	return vals, nil
}
