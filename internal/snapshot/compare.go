package snapshot

import (
	"fmt"
	"reflect"
	"slices"
	"strings"

	"github.com/google/go-cmp/cmp"
)

const (
	MsgConfigsMatch = "configurations match"
	MsgWeightsMatch = "weights match"
)

// CompareConfigs diffs every layer config of before against after.
//
// Layer counts must agree; otherwise the comparison stops immediately. Every
// inserted, removed, or changed field across all layers is listed in the
// report by layer index and field path, with old and new values.
func CompareConfigs(before, after Snapshot) (bool, string) {
	if len(before.layers) != len(after.layers) {
		return false, fmt.Sprintf("different numbers of layers: %d before, %d after",
			len(before.layers), len(after.layers))
	}

	var b strings.Builder
	for i := range before.layers {
		r := &configReporter{}
		if cmp.Equal(map[string]any(before.layers[i].Config), map[string]any(after.layers[i].Config), cmp.Reporter(r)) {
			continue
		}
		fmt.Fprintf(&b, "layer %d configs differ in %d places:\n", i, len(r.diffs))
		for _, d := range r.diffs {
			b.WriteString("  ")
			b.WriteString(d)
			b.WriteString("\n")
		}
	}
	if b.Len() == 0 {
		return true, MsgConfigsMatch
	}
	return false, strings.TrimSuffix(b.String(), "\n")
}

// CompareWeights checks that every weight group of every layer is identical.
// There is no tolerance: any bit-level difference is a mismatch. The first
// differing group ends the comparison.
func CompareWeights(before, after Snapshot) (bool, string) {
	if len(before.layers) != len(after.layers) {
		return false, fmt.Sprintf("different numbers of layers: %d before, %d after",
			len(before.layers), len(after.layers))
	}
	for i := range before.layers {
		wb, wa := before.layers[i].Weights, after.layers[i].Weights
		if len(wb) != len(wa) {
			return false, fmt.Sprintf("layer %d not the same size: %d weight groups before, %d after",
				i, len(wb), len(wa))
		}
		for g := range wb {
			if !slices.Equal(wb[g].Shape, wa[g].Shape) {
				return false, fmt.Sprintf("weight group %d of layer %d differs: shape %v before, %v after",
					g, i, wb[g].Shape, wa[g].Shape)
			}
			if at := wb[g].firstDifference(wa[g]); at >= 0 {
				return false, fmt.Sprintf("weight group %d of layer %d differs at element %d", g, i, at)
			}
		}
	}
	return true, MsgWeightsMatch
}

// configReporter collects one line per differing leaf of a config diff.
type configReporter struct {
	path  cmp.Path
	diffs []string
}

func (r *configReporter) PushStep(ps cmp.PathStep) { r.path = append(r.path, ps) }

func (r *configReporter) PopStep() { r.path = r.path[:len(r.path)-1] }

func (r *configReporter) Report(rs cmp.Result) {
	if rs.Equal() {
		return
	}
	vx, vy := r.path.Last().Values()
	field := fieldPath(r.path)
	switch {
	case !vx.IsValid():
		r.diffs = append(r.diffs, fmt.Sprintf("parameter %s inserted with value %s after model was fitted", field, show(vy)))
	case !vy.IsValid():
		r.diffs = append(r.diffs, fmt.Sprintf("parameter %s removed (was %s) after model was fitted", field, show(vx)))
	default:
		r.diffs = append(r.diffs, fmt.Sprintf("parameter %s changed from %s to %s after model was fitted", field, show(vx), show(vy)))
	}
}

// fieldPath renders map keys and slice indexes as a dotted path, e.g.
// kernel_initializer.config.seed or layers[2].units.
func fieldPath(p cmp.Path) string {
	var b strings.Builder
	for _, step := range p {
		switch s := step.(type) {
		case cmp.MapIndex:
			if b.Len() > 0 {
				b.WriteByte('.')
			}
			fmt.Fprint(&b, s.Key().Interface())
		case cmp.SliceIndex:
			ix, iy := s.SplitKeys()
			if ix < 0 {
				ix = iy
			}
			fmt.Fprintf(&b, "[%d]", ix)
		}
	}
	if b.Len() == 0 {
		return "<root>"
	}
	return b.String()
}

func show(v reflect.Value) string {
	if !v.IsValid() {
		return "<absent>"
	}
	if v.Kind() == reflect.Interface && v.IsNil() {
		return "null"
	}
	return fmt.Sprintf("%v", v.Interface())
}
