package domain

import (
	"fmt"
	"strings"
	"time"
)

// Environment partitions endpoints for grouping and counting.
type Environment string

const (
	Prod  Environment = "Prod"
	Stage Environment = "Stage"
)

// Environments lists the known environments in display order.
var Environments = []Environment{Prod, Stage}

// ParseEnvironment accepts "Prod" or "Stage" in any letter case.
func ParseEnvironment(s string) (Environment, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "prod":
		return Prod, nil
	case "stage":
		return Stage, nil
	}
	return "", fmt.Errorf("unknown environment %q (want Prod or Stage)", s)
}

// Endpoint is one monitored health-check target. URL is its identity key.
type Endpoint struct {
	URL         string      `json:"url" yaml:"url"`
	Name        string      `json:"name" yaml:"name"`
	Environment Environment `json:"environment" yaml:"environment"`
}

type Status string

const (
	StatusPending Status = "pending"
	StatusSuccess Status = "success"
	StatusFailure Status = "failure"
)

// Result is the outcome of one health check against one Endpoint.
// Message, ResponseTimeMS and CheckedAt are nil while Status is pending and
// set once the probe finished.
type Result struct {
	URL            string     `json:"url"`
	Name           string     `json:"name"`
	Status         Status     `json:"status"`
	Message        *string    `json:"message"`
	ResponseTimeMS *int64     `json:"response_time_ms"`
	CheckedAt      *time.Time `json:"checked_at"`
}

// Pending returns the "checking" record for ep.
func Pending(ep Endpoint) Result {
	return Result{URL: ep.URL, Name: ep.Name, Status: StatusPending}
}

// PendingAll returns one pending record per endpoint, in order.
func PendingAll(eps []Endpoint) []Result {
	out := make([]Result, len(eps))
	for i, ep := range eps {
		out[i] = Pending(ep)
	}
	return out
}

// Completed builds a finished record. An empty message is replaced so the
// record stays valid.
func Completed(ep Endpoint, st Status, msg string, elapsed time.Duration, at time.Time) Result {
	if msg == "" {
		msg = "unknown error"
	}
	ms := elapsed.Milliseconds()
	if ms < 0 {
		ms = 0
	}
	return Result{
		URL:            ep.URL,
		Name:           ep.Name,
		Status:         st,
		Message:        &msg,
		ResponseTimeMS: &ms,
		CheckedAt:      &at,
	}
}

func (r Result) Online() bool { return r.Status == StatusSuccess }

// MessageText returns the message or "" when absent.
func (r Result) MessageText() string {
	if r.Message == nil {
		return ""
	}
	return *r.Message
}

// Valid reports whether the optional fields agree with Status.
func (r Result) Valid() bool {
	switch r.Status {
	case StatusPending:
		return r.Message == nil && r.ResponseTimeMS == nil && r.CheckedAt == nil
	case StatusSuccess, StatusFailure:
		return r.Message != nil && *r.Message != "" &&
			r.ResponseTimeMS != nil && *r.ResponseTimeMS >= 0 &&
			r.CheckedAt != nil
	}
	return false
}
