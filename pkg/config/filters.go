package config

import (
	"fmt"

	"github.com/dbehnke/dvbs2-tablegen/pkg/dvbs2"
)

func parseAll[T comparable](values []string, parse func(string) (T, error)) (map[T]bool, error) {
	if len(values) == 0 {
		return nil, nil
	}
	set := make(map[T]bool, len(values))
	for _, s := range values {
		v, err := parse(s)
		if err != nil {
			return nil, err
		}
		set[v] = true
	}
	return set, nil
}

// Keys returns the valid (frame, rate) pairs the frame and rate filters
// select, in dvbs2.Keys order
func (b BatchConfig) Keys() ([]dvbs2.Key, error) {
	frames, err := parseAll(b.Frames, dvbs2.ParseFrameSize)
	if err != nil {
		return nil, fmt.Errorf("frames: %w", err)
	}
	rates, err := parseAll(b.Rates, dvbs2.ParseCodeRate)
	if err != nil {
		return nil, fmt.Errorf("rates: %w", err)
	}

	var keys []dvbs2.Key
	for _, k := range dvbs2.Keys() {
		if frames != nil && !frames[k.Frame] {
			continue
		}
		if rates != nil && !rates[k.Rate] {
			continue
		}
		keys = append(keys, k)
	}
	return keys, nil
}

// Configs returns the full configuration tuples all filters select, in
// dvbs2.Configs order
func (b BatchConfig) Configs() ([]dvbs2.Config, error) {
	keys, err := b.Keys()
	if err != nil {
		return nil, err
	}
	selected := make(map[dvbs2.Key]bool, len(keys))
	for _, k := range keys {
		selected[k] = true
	}

	mods, err := parseAll(b.Constellations, dvbs2.ParseConstellation)
	if err != nil {
		return nil, fmt.Errorf("constellations: %w", err)
	}

	var configs []dvbs2.Config
	for _, c := range dvbs2.Configs() {
		if !selected[c.Key()] {
			continue
		}
		if mods != nil && !mods[c.Constellation] {
			continue
		}
		configs = append(configs, c)
	}
	return configs, nil
}
