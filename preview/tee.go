package preview

import "lumacam/camera"

// Tee fans one sink output across several surfaces. Each surface keeps its
// own readiness; a frame goes to every surface that can take it. Ready is
// true while at least one surface is, so a single stalled consumer never
// starves the others.
type Tee struct {
	surfaces []Surface
}

// NewTee combines surfaces into one. Nil entries are skipped.
func NewTee(surfaces ...Surface) *Tee {
	t := &Tee{}
	for _, s := range surfaces {
		if s != nil {
			t.surfaces = append(t.surfaces, s)
		}
	}
	return t
}

func (t *Tee) Ready() bool {
	for _, s := range t.surfaces {
		if s.Ready() {
			return true
		}
	}
	return false
}

func (t *Tee) Enqueue(frame *camera.Frame) {
	for _, s := range t.surfaces {
		if s.Ready() {
			s.Enqueue(frame)
		}
	}
}
