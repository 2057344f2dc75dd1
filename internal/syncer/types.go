package syncer

import (
	"time"

	"gcodesync/internal/order"
	"gcodesync/internal/status"
)

type Outcome string

const (
	OutcomeDownloaded   Outcome = "downloaded"
	OutcomeFailed       Outcome = "failed"
	OutcomePresent      Outcome = "present"
	OutcomeOtherMachine Outcome = "other_machine"
	OutcomeMissingFile  Outcome = "missing_file"
)

// OrderResult records what a cycle did with one order.
type OrderResult struct {
	OrderID order.ID `json:"order_id"`
	File    string   `json:"file,omitempty"`
	Outcome Outcome  `json:"outcome"`
	Error   string   `json:"error,omitempty"`
}

// Result summarizes one sync cycle.
type Result struct {
	CycleID    string        `json:"cycle_id"`
	StartedAt  time.Time     `json:"started_at"`
	FinishedAt time.Time     `json:"finished_at"`
	Status     status.Status `json:"status,omitempty"`
	FetchError string        `json:"fetch_error,omitempty"`
	FetchKind  string        `json:"fetch_kind,omitempty"`
	Canceled   bool          `json:"canceled,omitempty"`
	Orders     int           `json:"orders"`
	Items      []OrderResult `json:"items"`
}

// Count returns how many orders ended with outcome o.
func (r Result) Count(o Outcome) int {
	n := 0
	for _, item := range r.Items {
		if item.Outcome == o {
			n++
		}
	}
	return n
}

// Downloaded lists the local names fetched during the cycle.
func (r Result) Downloaded() []string {
	var names []string
	for _, item := range r.Items {
		if item.Outcome == OutcomeDownloaded {
			names = append(names, item.File)
		}
	}
	return names
}

// Observer is notified after every finished cycle.
type Observer interface {
	CycleCompleted(r Result)
}

// Options configure a Syncer.
type Options struct {
	DownloadDir  string
	OrdersFile   string
	MachineID    string
	Naming       order.Naming
	PollInterval time.Duration
}
