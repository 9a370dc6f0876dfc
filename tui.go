package main

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/nsf/termbox-go"

	"rirmix/internal/simulate"
	"rirmix/pkg/catalog"
)

const (
	colDef    = termbox.ColorDefault
	colWhite  = termbox.ColorWhite
	colRed    = termbox.ColorRed
	colGreen  = termbox.ColorGreen
	colYellow = termbox.ColorYellow
	colCyan   = termbox.ColorCyan
)

// recentRows is how many finished rows the view lists.
const recentRows = 12

// progressView is a termbox progress display. It implements
// simulate.Observer; run owns the terminal.
type progressView struct {
	mu      sync.Mutex
	runID   string
	total   int
	active  map[int]catalog.Row
	counts  map[simulate.Status]int
	recent  []simulate.RowResult
	started time.Time
	report  *simulate.Report
}

func newProgressView() *progressView {
	return &progressView{
		active:  make(map[int]catalog.Row),
		counts:  make(map[simulate.Status]int),
		started: time.Now(),
	}
}

func (v *progressView) RunStarted(runID string, total int) {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.runID, v.total = runID, total
	v.started = time.Now()
}

func (v *progressView) RowStarted(row catalog.Row) {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.active[row.Index] = row
}

func (v *progressView) RowFinished(res simulate.RowResult) {
	v.mu.Lock()
	defer v.mu.Unlock()
	delete(v.active, res.Row.Index)
	v.counts[res.Status]++
	v.recent = append(v.recent, res)
	if len(v.recent) > recentRows {
		v.recent = v.recent[len(v.recent)-recentRows:]
	}
}

func (v *progressView) RunFinished(report *simulate.Report) {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.report = report
}

// run draws until the simulation finishes and the user dismisses the view,
// or until the user quits early, which calls cancel and waits for done.
func (v *progressView) run(cancel context.CancelFunc, done <-chan struct{}) error {
	if err := termbox.Init(); err != nil {
		return fmt.Errorf("initialize TUI: %w", err)
	}
	defer termbox.Close()
	termbox.SetInputMode(termbox.InputEsc)

	events := make(chan termbox.Event)
	go func() {
		for {
			events <- termbox.PollEvent()
		}
	}()

	ticker := time.NewTicker(100 * time.Millisecond)
	defer ticker.Stop()

	finished := false
	v.draw(finished)
	for {
		select {
		case ev := <-events:
			if ev.Type == termbox.EventKey && (ev.Key == termbox.KeyEsc || ev.Ch == 'q') {
				if !finished {
					cancel()
					<-done
				}
				return nil
			}
			if ev.Type == termbox.EventResize {
				v.draw(finished)
			}
		case <-done:
			finished = true
			done = nil
			v.draw(finished)
		case <-ticker.C:
			v.draw(finished)
		}
	}
}

func (v *progressView) draw(finished bool) {
	v.mu.Lock()
	defer v.mu.Unlock()

	_ = termbox.Clear(colDef, colDef)
	w, _ := termbox.Size()

	printTB(0, 0, colCyan, colDef, "rirmix - simulating training data")
	printTB(0, 1, colWhite, colDef, "Run "+v.runID)
	if finished {
		printTB(0, 2, colGreen, colDef, "Finished. Press 'q' or Esc to exit.")
	} else {
		printTB(0, 2, colDef, colDef, "Press 'q' or Esc to stop after the rows in progress.")
	}
	printTB(0, 3, colDef, colDef, "----------------------------------------------------")

	processed := 0
	for _, n := range v.counts {
		processed += n
	}
	drawProgress(5, processed, v.total, time.Since(v.started))

	printTB(2, 7, colGreen, colDef, fmt.Sprintf("done    %6d", v.counts[simulate.StatusDone]))
	printTB(2, 8, colYellow, colDef, fmt.Sprintf("missing %6d", v.counts[simulate.StatusMissing]))
	printTB(2, 9, colRed, colDef, fmt.Sprintf("failed  %6d", v.counts[simulate.StatusFailed]))
	printTB(2, 10, colDef, colDef, fmt.Sprintf("resumed %6d", v.counts[simulate.StatusSkipped]))
	printTB(24, 7, colWhite, colDef, fmt.Sprintf("in progress %d", len(v.active)))

	y := 12
	printTB(0, y, colYellow, colDef, "Recent:")
	for i := len(v.recent) - 1; i >= 0; i-- {
		res := v.recent[i]
		y++
		col := colGreen
		switch res.Status {
		case simulate.StatusMissing:
			col = colYellow
		case simulate.StatusFailed:
			col = colRed
		}
		line := fmt.Sprintf("  %-8s %s  %s", res.Status, res.Row, res.Elapsed.Round(time.Millisecond))
		if len(line) > w-1 && w > 1 {
			line = line[:w-1]
		}
		printTB(0, y, col, colDef, line)
	}

	termbox.Flush()
}

func drawProgress(yPos, done, total int, elapsed time.Duration) {
	const (
		barWidth = 50
		xPos     = 2
	)

	ratio := 0.0
	if total > 0 {
		ratio = float64(done) / float64(total)
	}
	filled := int(ratio * barWidth)

	label := fmt.Sprintf("%5.1f%% %d/%d  %s ", ratio*100, done, total, elapsed.Round(time.Second))
	printTB(xPos, yPos, colDef, colDef, label)

	startX := xPos + len(label) + 1
	for i := range barWidth {
		barChar := '░'
		if i < filled {
			barChar = '█'
		}
		termbox.SetCell(startX+i, yPos, barChar, colGreen, colDef)
	}
}

func printTB(x, y int, fg, bg termbox.Attribute, msg string) {
	for _, c := range msg {
		termbox.SetCell(x, y, c, fg, bg)
		x++
	}
}
