// Package notify delivers short user-facing notices from the pipeline to the
// host surface.
package notify

import (
	"fmt"
	"io"
	"strings"
	"sync"
)

// Notifier receives user-visible outcomes. Implementations must be safe for
// concurrent use.
type Notifier interface {
	// Notice shows a single short message.
	Notice(msg string)
	// Installed reports a successful install that shipped a viewer snippet.
	Installed(name, viewerFile, viewerCode string)
}

// Writer prints notices to an io.Writer, one per line.
type Writer struct {
	mu  sync.Mutex
	out io.Writer
}

func NewWriter(out io.Writer) *Writer {
	return &Writer{out: out}
}

func (w *Writer) Notice(msg string) {
	w.mu.Lock()
	defer w.mu.Unlock()
	fmt.Fprintln(w.out, msg)
}

func (w *Writer) Installed(name, viewerFile, viewerCode string) {
	w.mu.Lock()
	defer w.mu.Unlock()
	fmt.Fprintf(w.out, "Successfully installed: %s\n", name)
	fmt.Fprintf(w.out, "\nPaste this snippet (from %s) into a note to use the component:\n\n", viewerFile)
	fmt.Fprintln(w.out, strings.TrimRight(viewerCode, "\n"))
}

// Install is one recorded Installed call.
type Install struct {
	Name       string
	ViewerFile string
	ViewerCode string
}

// Recorder keeps every notice in memory.
type Recorder struct {
	mu       sync.Mutex
	notices  []string
	installs []Install
}

func (r *Recorder) Notice(msg string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.notices = append(r.notices, msg)
}

func (r *Recorder) Installed(name, viewerFile, viewerCode string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.installs = append(r.installs, Install{Name: name, ViewerFile: viewerFile, ViewerCode: viewerCode})
}

// Notices returns a copy of the recorded notices.
func (r *Recorder) Notices() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.notices...)
}

// Installs returns a copy of the recorded installs.
func (r *Recorder) Installs() []Install {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]Install(nil), r.installs...)
}

// Discard drops everything.
type Discard struct{}

func (Discard) Notice(string)                    {}
func (Discard) Installed(string, string, string) {}
