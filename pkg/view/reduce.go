package view

import "fmt"

// Reduce runs def.Reduce once per distinct key among results, folding
// that key's values together (original's `reduce_grouped`: the mapped
// rows are grouped by key before the fold, rather than reduced as one
// flat set).
func Reduce(def Definition, results []Result) (map[string][]byte, error) {
	if def.Reduce == nil {
		return nil, nil
	}

	groups := make(map[string][]Mapped)
	order := make([]string, 0)
	for _, r := range results {
		groupKey := fmt.Sprintf("%v", r.Key)
		if _, seen := groups[groupKey]; !seen {
			order = append(order, groupKey)
		}
		groups[groupKey] = append(groups[groupKey], Mapped{Key: r.Key, Value: r.Value})
	}

	out := make(map[string][]byte, len(order))
	for _, groupKey := range order {
		reduced, err := def.Reduce(groups[groupKey], false)
		if err != nil {
			return nil, err
		}
		out[groupKey] = reduced
	}
	return out, nil
}

// ReduceAll folds every result into a single value regardless of key,
// the ungrouped counterpart to Reduce (original's `reduce` without
// `_grouped`).
func ReduceAll(def Definition, results []Result) ([]byte, error) {
	if def.Reduce == nil {
		return nil, nil
	}
	mappings := make([]Mapped, len(results))
	for i, r := range results {
		mappings[i] = Mapped{Key: r.Key, Value: r.Value}
	}
	return def.Reduce(mappings, false)
}
