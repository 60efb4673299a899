package domain

import (
	"fmt"
	"strings"
)

// ItemStatus is the lifecycle state of an Item within its Run.
type ItemStatus string

const (
	ItemPending    ItemStatus = "pending"
	ItemProcessing ItemStatus = "processing"
	ItemSuccess    ItemStatus = "success"
	ItemPartial    ItemStatus = "partial"
	ItemFailed     ItemStatus = "failed"
)

// IsTerminal reports whether the item has its final outcome for the Run.
func (s ItemStatus) IsTerminal() bool {
	return s == ItemSuccess || s == ItemPartial || s == ItemFailed
}

// ParseItemStatus accepts the lower-case status names.
func ParseItemStatus(s string) (ItemStatus, error) {
	switch st := ItemStatus(strings.ToLower(strings.TrimSpace(s))); st {
	case ItemPending, ItemProcessing, ItemSuccess, ItemPartial, ItemFailed:
		return st, nil
	default:
		return "", &ValidationError{Field: "status", Message: "unknown item status " + s}
	}
}

// Identity describes the product being enriched. Opaque to the runner.
type Identity struct {
	Manufacturer string `json:"manufacturer"`
	PartNumber   string `json:"part_number"`
	Description  string `json:"description,omitempty"`
}

// IsZero reports whether no identifying field is set.
func (i Identity) IsZero() bool {
	return strings.TrimSpace(i.Manufacturer) == "" &&
		strings.TrimSpace(i.PartNumber) == "" &&
		strings.TrimSpace(i.Description) == ""
}

// WorkItem is one product submitted for enrichment.
type WorkItem struct {
	Identity    Identity `json:"identity"`
	CategoryKey string   `json:"category"`
}

// Item is one product row within a Run.
type Item struct {
	ID          string            `json:"id"`
	RunID       string            `json:"run_id"`
	Seq         int               `json:"seq"`
	Identity    Identity          `json:"identity"`
	CategoryKey string            `json:"category"`
	Status      ItemStatus        `json:"status"`
	ResultData  map[string]string `json:"result_data,omitempty"`
	Error       string            `json:"error,omitempty"`
}

// Outcome is the terminal result written for one item.
type Outcome struct {
	Status     ItemStatus
	ResultData map[string]string
	Error      string
}

// Validate checks that the outcome carries a terminal status.
func (o Outcome) Validate() error {
	if !o.Status.IsTerminal() {
		return &ValidationError{Field: "status", Message: fmt.Sprintf("%s is not a terminal item status", o.Status)}
	}
	return nil
}
