package importer

import "sort"

// Row outcome statuses.
const (
	StatusSuccess = "success"
	StatusError   = "error"
)

// RowOutcome is the terminal result of one row. The original input is
// echoed back so an operator can isolate and re-submit failed rows.
type RowOutcome struct {
	RowNumber int    `json:"row"`
	Name      string `json:"name"`
	Phone     string `json:"phone"`
	Email     string `json:"email"`
	Location  string `json:"location,omitempty"`
	Points    string `json:"points,omitempty"`
	Status    string `json:"status"`
	Message   string `json:"message,omitempty"`
	Warning   string `json:"warning,omitempty"`
}

// RunSummary is the pipeline's sole return value.
type RunSummary struct {
	Total        int          `json:"total"`
	SuccessCount int          `json:"success"`
	ErrorCount   int          `json:"error"`
	Results      []RowOutcome `json:"results"`
}

// aggregator collects one outcome per row. Rows inside a chunk resolve
// concurrently, so outcomes arrive out of order; Summary sorts by the
// original row number before returning.
type aggregator struct {
	outcomes []RowOutcome
}

func newAggregator(total int) *aggregator {
	return &aggregator{outcomes: make([]RowOutcome, 0, total)}
}

func (a *aggregator) add(o RowOutcome) { a.outcomes = append(a.outcomes, o) }

func (a *aggregator) successCount() int {
	n := 0
	for _, o := range a.outcomes {
		if o.Status == StatusSuccess {
			n++
		}
	}
	return n
}

func (a *aggregator) errorCount() int { return len(a.outcomes) - a.successCount() }

func (a *aggregator) summary() RunSummary {
	sort.Slice(a.outcomes, func(i, j int) bool {
		return a.outcomes[i].RowNumber < a.outcomes[j].RowNumber
	})
	return RunSummary{
		Total:        len(a.outcomes),
		SuccessCount: a.successCount(),
		ErrorCount:   a.errorCount(),
		Results:      a.outcomes,
	}
}

// successOutcome builds the outcome for a written row, echoing input.
func successOutcome(row NormalizedRow, message string) RowOutcome {
	o := RowOutcome{
		RowNumber: row.RowNumber,
		Name:      row.Raw().Name,
		Phone:     row.Raw().Phone,
		Email:     row.Raw().Email,
		Location:  row.Raw().Location,
		Points:    row.Raw().Points,
		Status:    StatusSuccess,
		Message:   message,
	}
	if row.DateDefaulted {
		o.Warning = "joined date unreadable, defaulted to import time"
	}
	return o
}

// errorOutcome builds the outcome for a failed row, echoing input.
func errorOutcome(raw ImportRow, err error) RowOutcome {
	return RowOutcome{
		RowNumber: raw.RowNumber,
		Name:      raw.Name,
		Phone:     raw.Phone,
		Email:     raw.Email,
		Location:  raw.Location,
		Points:    raw.Points,
		Status:    StatusError,
		Message:   err.Error(),
	}
}
