// Package grade applies a 3D-LUT color transform to biplanar YCbCr frames.
// The dispatch geometry follows the compute pass it models: work is split
// into 8x8 thread groups, ceil(w/8) x ceil(h/8) groups per frame, executed
// across a worker pool. The record path grades synchronously; the preview
// path dispatches asynchronously and receives the graded frame through a
// completion callback.
package grade

import (
	"context"
	"image/color"
	"runtime"
	"sync"

	"go.uber.org/zap"

	"lumacam/camera"
	"lumacam/lut"
)

const groupSize = 8

// Engine owns the grading pipeline. It keeps no state between calls except
// the worker pool; the cube to sample is passed per call.
type Engine struct {
	workers int
	logger  *zap.Logger

	commands chan command
	ctx      context.Context
	cancel   context.CancelFunc
	wg       sync.WaitGroup
}

type command struct {
	frame *camera.Frame
	cube  *lut.Cube
	done  func(*camera.Frame, error)
}

// NewEngine creates an engine with the given worker count (0 means
// GOMAXPROCS) and starts its dispatch queue.
func NewEngine(workers int, logger *zap.Logger) *Engine {
	if workers <= 0 {
		workers = runtime.GOMAXPROCS(0)
	}

	ctx, cancel := context.WithCancel(context.Background())
	e := &Engine{
		workers:  workers,
		logger:   logger,
		commands: make(chan command, 4),
		ctx:      ctx,
		cancel:   cancel,
	}

	e.wg.Add(1)
	go e.dispatchLoop()

	return e
}

// dispatchLoop executes queued async grades in submission order, the way a
// command queue serializes GPU work.
func (e *Engine) dispatchLoop() {
	defer e.wg.Done()
	for {
		select {
		case <-e.ctx.Done():
			return
		case cmd := <-e.commands:
			err := e.Grade(cmd.frame, cmd.cube)
			if cmd.done != nil {
				cmd.done(cmd.frame, err)
			}
		}
	}
}

// GradeAsync queues a frame for grading and invokes done from the dispatch
// goroutine when the pass completes. If the queue is saturated the frame is
// dropped for this stage only; the producer is never blocked.
func (e *Engine) GradeAsync(frame *camera.Frame, cube *lut.Cube, done func(*camera.Frame, error)) {
	select {
	case e.commands <- command{frame: frame, cube: cube, done: done}:
	default:
		e.logger.Debug("Grade queue saturated, dropping frame")
	}
}

// Grade applies the cube to the frame in place. A plane/dimension mismatch
// is a per-frame fault: the error tells the caller to drop the frame and
// continue with the next one.
func (e *Engine) Grade(frame *camera.Frame, cube *lut.Cube) error {
	if frame == nil || !frame.ValidPlanes() {
		return camera.ErrInvalidPlanes
	}
	if cube == nil {
		cube = lut.NewNeutralCube()
	}

	groupsX := (frame.Width + groupSize - 1) / groupSize
	groupsY := (frame.Height + groupSize - 1) / groupSize

	// Workers take contiguous bands of group rows.
	rowsPerWorker := (groupsY + e.workers - 1) / e.workers

	var wg sync.WaitGroup
	for w := 0; w < e.workers; w++ {
		firstRow := w * rowsPerWorker
		if firstRow >= groupsY {
			break
		}
		lastRow := firstRow + rowsPerWorker
		if lastRow > groupsY {
			lastRow = groupsY
		}

		wg.Add(1)
		go func(firstRow, lastRow int) {
			defer wg.Done()
			for gy := firstRow; gy < lastRow; gy++ {
				for gx := 0; gx < groupsX; gx++ {
					gradeGroup(frame, cube, gx*groupSize, gy*groupSize)
				}
			}
		}(firstRow, lastRow)
	}
	wg.Wait()

	return nil
}

// Close stops the dispatch queue. Queued commands that have not started are
// discarded.
func (e *Engine) Close() {
	e.cancel()
	e.wg.Wait()
}

// gradeGroup processes one 8x8 pixel group. Pixels are handled in 2x2
// blocks sharing one chroma sample; the graded chroma of the four pixels is
// averaged back into that sample.
func gradeGroup(frame *camera.Frame, cube *lut.Cube, x0, y0 int) {
	w, h := frame.Width, frame.Height

	x1 := x0 + groupSize
	if x1 > w {
		x1 = w
	}
	y1 := y0 + groupSize
	if y1 > h {
		y1 = h
	}

	for by := y0; by < y1; by += 2 {
		for bx := x0; bx < x1; bx += 2 {
			ci := (by/2)*w + (bx/2)*2
			cb, cr := frame.CbCr[ci], frame.CbCr[ci+1]

			var sumCb, sumCr, n int
			for dy := 0; dy < 2 && by+dy < h; dy++ {
				for dx := 0; dx < 2 && bx+dx < w; dx++ {
					yi := (by+dy)*w + bx + dx

					r8, g8, b8 := color.YCbCrToRGB(frame.Y[yi], cb, cr)
					r, g, b := sampleCube(cube, float64(r8)/255, float64(g8)/255, float64(b8)/255)

					yv, cbv, crv := color.RGBToYCbCr(clamp8(r), clamp8(g), clamp8(b))
					frame.Y[yi] = yv
					sumCb += int(cbv)
					sumCr += int(crv)
					n++
				}
			}

			if n > 0 {
				frame.CbCr[ci] = uint8(sumCb / n)
				frame.CbCr[ci+1] = uint8(sumCr / n)
			}
		}
	}
}

func clamp8(v float64) uint8 {
	v *= 255
	if v < 0 {
		return 0
	}
	if v > 255 {
		return 255
	}
	return uint8(v + 0.5)
}

// sampleCube trilinearly interpolates the cube at a normalized RGB
// coordinate.
func sampleCube(cube *lut.Cube, r, g, b float64) (float64, float64, float64) {
	n := cube.Size
	if n <= 1 {
		return entryAt(cube, 0, 0, 0)
	}

	fr := clampUnit(r) * float64(n-1)
	fg := clampUnit(g) * float64(n-1)
	fb := clampUnit(b) * float64(n-1)

	r0, g0, b0 := int(fr), int(fg), int(fb)
	r1, g1, b1 := minInt(r0+1, n-1), minInt(g0+1, n-1), minInt(b0+1, n-1)
	tr, tg, tb := fr-float64(r0), fg-float64(g0), fb-float64(b0)

	var out [3]float64
	corners := [8]struct {
		ri, gi, bi int
		weight     float64
	}{
		{r0, g0, b0, (1 - tr) * (1 - tg) * (1 - tb)},
		{r1, g0, b0, tr * (1 - tg) * (1 - tb)},
		{r0, g1, b0, (1 - tr) * tg * (1 - tb)},
		{r1, g1, b0, tr * tg * (1 - tb)},
		{r0, g0, b1, (1 - tr) * (1 - tg) * tb},
		{r1, g0, b1, tr * (1 - tg) * tb},
		{r0, g1, b1, (1 - tr) * tg * tb},
		{r1, g1, b1, tr * tg * tb},
	}

	for _, c := range corners {
		cr, cg, cb := entryAt(cube, c.ri, c.gi, c.bi)
		out[0] += c.weight * cr
		out[1] += c.weight * cg
		out[2] += c.weight * cb
	}

	return out[0], out[1], out[2]
}

func entryAt(cube *lut.Cube, r, g, b int) (float64, float64, float64) {
	n := cube.Size
	i := (b*n*n + g*n + r) * 4
	if i+2 >= len(cube.Entries) {
		return 0, 0, 0
	}
	return float64(cube.Entries[i]), float64(cube.Entries[i+1]), float64(cube.Entries[i+2])
}

func clampUnit(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}

func minInt(a, b int) int {
	if a < b {
		return a
	}
	return b
}
