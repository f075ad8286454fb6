package pipeline

import "github.com/Lightming99/RaSa-Metaconverse/internal/feedback"

// Intake returns the unprocessed items whose id appears in no disposition
// set, keeping their order. Nil items are skipped.
func Intake(unprocessed []*feedback.Item, disposed map[string]struct{}) []*feedback.Item {
	out := make([]*feedback.Item, 0, len(unprocessed))
	seen := make(map[string]struct{}, len(unprocessed))
	for _, item := range unprocessed {
		if item == nil {
			continue
		}
		if _, ok := disposed[item.ID]; ok {
			continue
		}
		if _, ok := seen[item.ID]; ok {
			continue
		}
		seen[item.ID] = struct{}{}
		out = append(out, item)
	}
	return out
}
