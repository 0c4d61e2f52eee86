package scrape

import (
	"errors"
	"time"

	"github.com/shopspring/decimal"
)

type Outcome string

const (
	OutcomeSuccess Outcome = "SUCCESS"
	OutcomeFailed  Outcome = "FAILED"
	OutcomeBlocked Outcome = "BLOCKED"
)

type ErrorClass string

const (
	ClassNone       ErrorClass = ""
	ClassNetwork    ErrorClass = "NETWORK"
	ClassBlocked    ErrorClass = "BLOCKED"
	ClassExtraction ErrorClass = "EXTRACTION"
	ClassMail       ErrorClass = "MAIL"
	ClassStore      ErrorClass = "STORE"
	ClassInternal   ErrorClass = "INTERNAL"
)

type Run struct {
	ID         int64            `json:"id"`
	ConfigID   int64            `json:"config_id"`
	StartedAt  time.Time        `json:"started_at"`
	FinishedAt time.Time        `json:"finished_at"`
	Outcome    Outcome          `json:"outcome"`
	Price      *decimal.Decimal `json:"price,omitempty"`
	ErrorClass ErrorClass       `json:"error_class,omitempty"`
	HTTPStatus int              `json:"http_status,omitempty"`
}

var ErrInvalidRun = errors.New("invalid scrape run")

// Validate checks the price/error-class exclusivity between outcomes.
func (r *Run) Validate() error {
	switch r.Outcome {
	case OutcomeSuccess:
		if r.Price == nil || r.ErrorClass != ClassNone {
			return ErrInvalidRun
		}
	case OutcomeFailed, OutcomeBlocked:
		if r.Price != nil || r.ErrorClass == ClassNone || r.ErrorClass == ClassMail {
			return ErrInvalidRun
		}
	default:
		return ErrInvalidRun
	}
	if r.FinishedAt.Before(r.StartedAt) {
		return ErrInvalidRun
	}
	return nil
}

// Succeeded builds a SUCCESS run.
func Succeeded(configID int64, started, finished time.Time, price decimal.Decimal, code int) *Run {
	p := price
	return &Run{
		ConfigID:   configID,
		StartedAt:  started,
		FinishedAt: finished,
		Outcome:    OutcomeSuccess,
		Price:      &p,
		HTTPStatus: code,
	}
}

// Failed builds a terminal non-success run; BLOCKED class maps to the BLOCKED outcome.
func Failed(configID int64, started, finished time.Time, class ErrorClass, code int) *Run {
	outcome := OutcomeFailed
	if class == ClassBlocked {
		outcome = OutcomeBlocked
	}
	return &Run{
		ConfigID:   configID,
		StartedAt:  started,
		FinishedAt: finished,
		Outcome:    outcome,
		ErrorClass: class,
		HTTPStatus: code,
	}
}
