package loadgen

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/buybotsolana/LAYER-2-COMPLETE/model/load"
	"github.com/buybotsolana/LAYER-2-COMPLETE/sut"
)

// Distribution draws item kinds according to relative weights.
type Distribution struct {
	kinds      []load.Kind
	cumulative []float64
	dice       *sut.Dice
}

// NewDistribution creates a distribution over the kinds with a positive
// weight. Weights need not sum to one.
func NewDistribution(weights map[load.Kind]float64, dice *sut.Dice) (*Distribution, error) {
	d := &Distribution{dice: dice}
	var sum float64
	for _, kind := range load.AllKinds() {
		w, ok := weights[kind]
		if !ok || w == 0 {
			continue
		}
		if w < 0 {
			return nil, fmt.Errorf("negative weight %v for kind %s", w, kind)
		}
		sum += w
		d.kinds = append(d.kinds, kind)
		d.cumulative = append(d.cumulative, sum)
	}
	for kind := range weights {
		if kind == load.KindUnknown || int(kind) > len(load.AllKinds()) {
			return nil, fmt.Errorf("unsupported kind %s", kind)
		}
	}
	if len(d.kinds) == 0 {
		return nil, fmt.Errorf("distribution needs at least one kind with positive weight")
	}
	for i := range d.cumulative {
		d.cumulative[i] /= sum
	}
	return d, nil
}

// UniformDistribution weighs every given kind equally.
func UniformDistribution(kinds []load.Kind, dice *sut.Dice) (*Distribution, error) {
	weights := make(map[load.Kind]float64, len(kinds))
	for _, k := range kinds {
		weights[k] = 1
	}
	return NewDistribution(weights, dice)
}

// Pick draws a kind.
func (d *Distribution) Pick() load.Kind {
	if len(d.kinds) == 1 {
		return d.kinds[0]
	}
	x := d.dice.Float64()
	for i, c := range d.cumulative {
		if x < c {
			return d.kinds[i]
		}
	}
	return d.kinds[len(d.kinds)-1]
}

// Kinds returns the kinds with a positive weight.
func (d *Distribution) Kinds() []load.Kind {
	kinds := make([]load.Kind, len(d.kinds))
	copy(kinds, d.kinds)
	return kinds
}

// ParseWeights parses entries of the form "kind" or "kind=weight". A kind
// without a weight has weight 1.
func ParseWeights(entries []string) (map[load.Kind]float64, error) {
	weights := make(map[load.Kind]float64, len(entries))
	for _, entry := range entries {
		entry = strings.TrimSpace(entry)
		if entry == "" {
			continue
		}
		name, weight, hasWeight := strings.Cut(entry, "=")
		kind, err := load.ParseKind(name)
		if err != nil {
			return nil, err
		}
		w := 1.0
		if hasWeight {
			w, err = strconv.ParseFloat(strings.TrimSpace(weight), 64)
			if err != nil {
				return nil, fmt.Errorf("invalid weight for %s: %w", name, err)
			}
		}
		weights[kind] = w
	}
	return weights, nil
}
