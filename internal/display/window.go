// Package display holds the sinks that consume processed frames.
package display

import (
	"image"
	"sync"
	"sync/atomic"

	"fyne.io/fyne/v2"
	"fyne.io/fyne/v2/canvas"

	"threshcam/internal/frame"
)

// Window shows the latest frame in a fyne window. Once the window is
// closed, Render drops frames.
//
// Frames are copied into one of two reusable buffers; the other one is on
// screen. While a hand-off to the UI thread is still queued, new frames
// are skipped rather than written into a buffer the UI may read.
type Window struct {
	window fyne.Window
	image  *canvas.Image
	closed atomic.Bool

	buffers [2]*image.Gray
	show    [2]func()
	next    int
	pending atomic.Bool
	skipped atomic.Uint64

	mu       sync.Mutex
	onClosed func()
}

func NewWindow(app fyne.App, title string, width, height int) *Window {
	w := &Window{window: app.NewWindow(title)}

	w.image = canvas.NewImageFromImage(nil)
	w.image.FillMode = canvas.ImageFillContain
	w.image.ScaleMode = canvas.ImageScalePixels
	w.image.SetMinSize(fyne.NewSize(float32(width), float32(height)))

	for i := range w.show {
		w.show[i] = func() {
			w.image.Image = w.buffers[i]
			w.image.Refresh()
			w.pending.Store(false)
		}
	}

	w.window.SetContent(w.image)
	w.window.Resize(fyne.NewSize(float32(width), float32(height)))
	w.window.SetOnClosed(func() {
		w.closed.Store(true)
		w.mu.Lock()
		fn := w.onClosed
		w.mu.Unlock()
		if fn != nil {
			fn()
		}
	})

	return w
}

// SetOnClosed registers fn to run on the UI thread when the user closes the window.
func (w *Window) SetOnClosed(fn func()) {
	w.mu.Lock()
	w.onClosed = fn
	w.mu.Unlock()
}

// Render copies f into the back buffer and hands it to the UI thread.
func (w *Window) Render(f *frame.Frame) error {
	if w.closed.Load() {
		return nil
	}
	if err := f.Validate(); err != nil {
		return err
	}
	if w.pending.Load() {
		w.skipped.Add(1)
		return nil
	}

	i := w.next
	buf := w.buffers[i]
	if buf == nil || buf.Rect.Dx() != f.Width || buf.Rect.Dy() != f.Height {
		buf = image.NewGray(image.Rect(0, 0, f.Width, f.Height))
		w.buffers[i] = buf
	}
	copy(buf.Pix, f.Pix)
	w.next = 1 - i

	w.pending.Store(true)
	fyne.Do(w.show[i])
	return nil
}

// Skipped reports frames dropped because the UI had not taken the previous one.
func (w *Window) Skipped() uint64 {
	return w.skipped.Load()
}

// ShowAndRun blocks on the UI loop and must be called from the main goroutine.
func (w *Window) ShowAndRun() {
	w.window.ShowAndRun()
}

func (w *Window) Close() error {
	if w.closed.Swap(true) {
		return nil
	}
	fyne.Do(func() {
		w.window.Close()
	})
	return nil
}
