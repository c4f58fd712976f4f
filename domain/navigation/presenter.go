package navigation

import (
	"os"
	"path/filepath"

	customlog "github.com/unav/navclient/pkg/log"
)

// FilePresenter writes each frame to a PNG file, replacing it atomically.
type FilePresenter struct {
	Path   string
	Logger customlog.Logger
}

// Present implements Presenter.
func (p FilePresenter) Present(frame []byte, _ Snapshot) {
	tmp, err := os.CreateTemp(filepath.Dir(p.Path), ".frame-*.png")
	if err != nil {
		p.Logger.Warnf("Cannot write frame: %v", err)
		return
	}
	_, werr := tmp.Write(frame)
	cerr := tmp.Close()
	if werr != nil || cerr != nil {
		os.Remove(tmp.Name())
		p.Logger.Warnf("Cannot write frame to %s: %v %v", tmp.Name(), werr, cerr)
		return
	}
	if err := os.Rename(tmp.Name(), p.Path); err != nil {
		os.Remove(tmp.Name())
		p.Logger.Warnf("Cannot replace %s: %v", p.Path, err)
	}
}

// Presenters fans a frame out to several presenters.
type Presenters []Presenter

// Present implements Presenter.
func (ps Presenters) Present(frame []byte, snap Snapshot) {
	for _, p := range ps {
		p.Present(frame, snap)
	}
}
