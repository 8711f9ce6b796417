package route

import "routedesk/internal/model"

// Merge attaches estimator annotations to seq by stop id and returns a copy.
// Stops without an annotation keep their fields; order and membership never
// change. When an id appears more than once the last annotation wins.
func Merge(seq model.Sequence, annotations []model.Annotation) model.Sequence {
	out := seq.Clone()
	if len(annotations) == 0 {
		return out
	}

	byID := make(map[string]model.Annotation, len(annotations))
	for _, a := range annotations {
		byID[a.StopID] = a
	}
	for i := range out {
		if a, ok := byID[out[i].ID]; ok {
			out[i].EstimatedTime = a.ETA
			out[i].Traffic = a.Traffic
		}
	}
	return out
}
