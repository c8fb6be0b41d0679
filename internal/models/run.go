package models

import (
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/lib/pq"
)

// RunMode selects how many categories a scrape run covers.
type RunMode string

const (
	ModeDemo RunMode = "demo"
	ModeFull RunMode = "full"
)

// RunStatus is the state of a ScrapeRun: idle -> running -> completed | partially_failed.
type RunStatus string

const (
	RunIdle            RunStatus = "idle"
	RunRunning         RunStatus = "running"
	RunCompleted       RunStatus = "completed"
	RunPartiallyFailed RunStatus = "partially_failed"
)

// Terminal reports whether no further transition is allowed.
func (s RunStatus) Terminal() bool {
	return s == RunCompleted || s == RunPartiallyFailed
}

// ScrapeRun is one scrape session of a single store.
type ScrapeRun struct {
	ID     uuid.UUID `gorm:"type:uuid;primaryKey" json:"id"`
	Store  string    `gorm:"not null;index" json:"store"`
	Mode   RunMode   `gorm:"type:text;not null" json:"mode"`
	Status RunStatus `gorm:"type:text;not null" json:"status"`

	StartedAt  time.Time  `json:"started_at"`
	FinishedAt *time.Time `json:"finished_at,omitempty"`

	// Categories lists the category names selected for this run.
	Categories pq.StringArray `gorm:"type:text[]" json:"categories"`

	// FailedCategories lists the categories whose fetch failed.
	FailedCategories pq.StringArray `gorm:"type:text[]" json:"failed_categories"`

	// Fetched counts raw items seen, including the ones skipped while parsing.
	Fetched int `json:"fetched"`

	// Created counts new store listings.
	Created int `json:"created"`

	// Updated counts listings that received a new price observation.
	Updated int `json:"updated"`

	// Unchanged counts listings seen again at the same price.
	Unchanged int `json:"unchanged"`

	// Skipped counts records rejected by parsing, price normalization or the ledger.
	Skipped int `json:"skipped"`

	// Failed and Succeeded count categories.
	Failed    int `json:"failed"`
	Succeeded int `json:"succeeded"`

	// ProductsCreated counts products created by this run.
	ProductsCreated int `json:"products_created"`
}

func (ScrapeRun) TableName() string { return "scrape_runs" }

// Summary renders the counters for the command output.
func (r *ScrapeRun) Summary() string {
	var b strings.Builder
	fmt.Fprintf(&b, "run %s store=%s mode=%s status=%s\n", r.ID, r.Store, r.Mode, r.Status)
	fmt.Fprintf(&b, "  categories: %d total, %d succeeded, %d failed\n", len(r.Categories), r.Succeeded, r.Failed)
	fmt.Fprintf(&b, "  records: fetched=%d created=%d updated=%d unchanged=%d skipped=%d\n",
		r.Fetched, r.Created, r.Updated, r.Unchanged, r.Skipped)
	fmt.Fprintf(&b, "  products created: %d", r.ProductsCreated)
	if len(r.FailedCategories) > 0 {
		fmt.Fprintf(&b, "\n  failed categories: %s", strings.Join(r.FailedCategories, ", "))
	}
	return b.String()
}
