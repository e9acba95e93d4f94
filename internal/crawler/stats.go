package crawler

// Stats counts node outcomes for one traversal.
type Stats struct {
	NumRawItems      int `json:"num_raw_items"`
	NumMalformed     int `json:"num_malformed"`
	NumUnretrievable int `json:"num_unretrievable"`
	NumErrors        int `json:"num_errors"`
	NumSkipped       int `json:"num_skipped"`
}

// Add returns the element-wise sum of s and other.
func (s Stats) Add(other Stats) Stats {
	return Stats{
		NumRawItems:      s.NumRawItems + other.NumRawItems,
		NumMalformed:     s.NumMalformed + other.NumMalformed,
		NumUnretrievable: s.NumUnretrievable + other.NumUnretrievable,
		NumErrors:        s.NumErrors + other.NumErrors,
		NumSkipped:       s.NumSkipped + other.NumSkipped,
	}
}

// Total is the number of nodes that produced an outcome.
func (s Stats) Total() int {
	return s.NumRawItems + s.NumMalformed + s.NumUnretrievable + s.NumErrors + s.NumSkipped
}

// Failures counts every non-item, non-skip outcome.
func (s Stats) Failures() int {
	return s.NumMalformed + s.NumUnretrievable + s.NumErrors
}

func statsFor(kind Kind) Stats {
	switch kind {
	case KindNone:
		return Stats{NumRawItems: 1}
	case KindSkip:
		return Stats{NumSkipped: 1}
	case KindMalformed:
		return Stats{NumMalformed: 1}
	case KindUnretrievable:
		return Stats{NumUnretrievable: 1}
	default:
		return Stats{NumErrors: 1}
	}
}
