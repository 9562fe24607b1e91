// Package report logs periodic occupancy snapshots.
package report

import (
	"fmt"

	"github.com/robfig/cron/v3"
	"github.com/sirupsen/logrus"

	"github.com/Idromerom714/parqueadero/internal/events"
	"github.com/Idromerom714/parqueadero/internal/parking"
)

type Source interface {
	Snapshot() []parking.Occupancy
	ActivePlates() []string
}

type Reporter struct {
	source Source
	ledger *events.Ledger
	logger *logrus.Logger
}

// NewReporter builds a reporter; ledger may be nil.
func NewReporter(source Source, ledger *events.Ledger, logger *logrus.Logger) *Reporter {
	return &Reporter{source: source, ledger: ledger, logger: logger}
}

// Run logs one snapshot.
func (r *Reporter) Run() {
	fields := logrus.Fields{"active": len(r.source.ActivePlates())}
	for _, occ := range r.source.Snapshot() {
		fields[occ.Type+"_available"] = occ.Available
		fields[occ.Type+"_capacity"] = occ.Capacity
	}
	if r.ledger != nil {
		stats := r.ledger.Stats()
		fields["revenue"] = stats.Revenue
	}
	r.logger.WithFields(fields).Info("occupancy report")
}

// Schedule registers Run on c with a standard cron spec or a descriptor
// such as "@every 1m".
func (r *Reporter) Schedule(c *cron.Cron, spec string) (cron.EntryID, error) {
	id, err := c.AddFunc(spec, r.Run)
	if err != nil {
		return 0, fmt.Errorf("report: schedule %q: %w", spec, err)
	}
	return id, nil
}
