package router

// smoother keeps a bounded history of raw values per slider and answers
// with the running mean. It is touched only by the reader goroutine, so it
// needs no locking.
type smoother struct {
	hist map[int][]float64
}

func newSmoother() *smoother {
	return &smoother{hist: map[int][]float64{}}
}

// push appends v to the slider's history, trims it to size, and returns
// the mean of what remains. A shrinking window (mode change) keeps the most
// recent values.
func (s *smoother) push(id int, v float64, size int) float64 {
	h := append(s.hist[id], v)
	if len(h) > size {
		h = h[len(h)-size:]
	}
	s.hist[id] = h

	sum := 0.0
	for _, x := range h {
		sum += x
	}
	return sum / float64(len(h))
}

// reset drops all history, used when the sampling mode changes.
func (s *smoother) reset() {
	s.hist = map[int][]float64{}
}
