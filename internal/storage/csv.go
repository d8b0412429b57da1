package storage

import (
	"encoding/csv"
	"fmt"
	"io"
	"strconv"
	"time"
)

var csvHeader = []string{
	"trial_index", "stim1", "stim2", "slot1_side", "slot2_side",
	"favored", "in_contingency", "threshold",
	"choice", "responded", "rt_s", "correct", "rewarded",
	"fixation_s", "response_s", "response_end_s", "outcome_s", "end_s",
}

// ExportCSV writes a session's trial rows as CSV with one header line.
// Offsets and reaction times are emitted in seconds; a missed trial's
// reaction time is "n/a".
func (d *DB) ExportCSV(w io.Writer, sessionID string) error {
	trials, err := d.ListTrials(sessionID)
	if err != nil {
		return err
	}
	cw := csv.NewWriter(w)
	if err := cw.Write(csvHeader); err != nil {
		return fmt.Errorf("write csv header: %w", err)
	}
	for _, rec := range trials {
		rt := "n/a"
		if rec.Responded {
			rt = seconds(rec.RT)
		}
		row := []string{
			strconv.Itoa(rec.Index),
			strconv.Itoa(rec.Stim1),
			strconv.Itoa(rec.Stim2),
			string(rec.Slot1Side),
			string(rec.Slot2Side),
			rec.Favored.String(),
			strconv.Itoa(rec.InContingency),
			strconv.Itoa(rec.Threshold),
			rec.Choice.String(),
			strconv.Itoa(boolToInt(rec.Responded)),
			rt,
			strconv.Itoa(boolToInt(rec.Correct)),
			strconv.Itoa(boolToInt(rec.Rewarded)),
			seconds(rec.FixationAt),
			seconds(rec.ResponseAt),
			seconds(rec.ResponseEndAt),
			seconds(rec.OutcomeAt),
			seconds(rec.EndAt),
		}
		if err := cw.Write(row); err != nil {
			return fmt.Errorf("write csv row %d: %w", rec.Index, err)
		}
	}
	cw.Flush()
	if err := cw.Error(); err != nil {
		return fmt.Errorf("flush csv: %w", err)
	}
	return nil
}

func seconds(d time.Duration) string {
	return strconv.FormatFloat(d.Seconds(), 'f', 6, 64)
}
