package analysis

import (
	"sync/atomic"

	"github.com/franckalain/foodwise/internal/models"
)

type outcome struct {
	record *models.ScanRecord
	err    error
}

// Display holds the currently displayed outcome. A reader sees either a
// record or an error, never both.
type Display struct {
	current atomic.Pointer[outcome]
}

// ShowResult replaces the outcome with a successful record.
func (d *Display) ShowResult(rec *models.ScanRecord) {
	d.current.Store(&outcome{record: rec})
}

// ShowError replaces the outcome with a failure.
func (d *Display) ShowError(err error) {
	d.current.Store(&outcome{err: err})
}

// Update shows whichever of rec or err an Analyze call returned.
func (d *Display) Update(rec *models.ScanRecord, err error) {
	if err != nil {
		d.ShowError(err)
		return
	}
	d.ShowResult(rec)
}

// Clear removes the outcome.
func (d *Display) Clear() {
	d.current.Store(nil)
}

// Current returns the outcome; both are nil when nothing is shown.
func (d *Display) Current() (*models.ScanRecord, error) {
	o := d.current.Load()
	if o == nil {
		return nil, nil
	}
	return o.record, o.err
}
