// Package feedback records what was asked, what the model answered and what
// the operator thought of it. Records are append-only.
package feedback

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"

	"github.com/spigell/md-matcher/internal/ai"
	"github.com/spigell/md-matcher/internal/directory"
)

// Record is one feedback entry.
type Record struct {
	ID          string              `json:"id" bson:"_id" validate:"required"`
	Timestamp   time.Time           `json:"timestamp" bson:"timestamp" validate:"required"`
	RequestID   string              `json:"request_id,omitempty" bson:"request_id,omitempty"`
	User        string              `json:"user,omitempty" bson:"user,omitempty"`
	ProviderRef string              `json:"provider_ref" bson:"provider_ref" validate:"required"`
	Provider    *directory.Provider `json:"provider_data,omitempty" bson:"provider_data,omitempty"`
	Directors   []string            `json:"directors" bson:"directors"`
	Model       string              `json:"model,omitempty" bson:"model,omitempty"`
	Params      ai.ModelParams      `json:"model_params" bson:"model_params"`
	RawOutput   string              `json:"raw_output" bson:"raw_output"`
	QuerySentAt time.Time           `json:"query_sent_at" bson:"query_sent_at"`
	DurationMS  int64               `json:"request_duration_ms" bson:"request_duration_ms" validate:"gte=0"`
	Rating      int                 `json:"rating,omitempty" bson:"rating,omitempty" validate:"omitempty,gte=1,lte=5"`
	Comments    string              `json:"comments,omitempty" bson:"comments,omitempty"`
}

// NewRecord returns a Record with a fresh id and timestamp.
func NewRecord(now time.Time) Record {
	return Record{ID: uuid.NewString(), Timestamp: now.UTC(), Directors: []string{}}
}

var validate = validator.New()

// Validate checks the record before it reaches a sink.
func (r Record) Validate() error {
	if err := validate.Struct(r); err != nil {
		return fmt.Errorf("invalid feedback record: %w", err)
	}
	return nil
}

// Marshal encodes the record as a single JSON line without the newline.
func (r Record) Marshal() ([]byte, error) {
	return json.Marshal(r)
}

// Sink stores records. Implementations must be safe for concurrent use.
type Sink interface {
	Name() string
	Append(ctx context.Context, r Record) error
	Close(ctx context.Context) error
}

// Append validates the record and hands it to the sink.
func Append(ctx context.Context, sink Sink, r Record) error {
	if sink == nil {
		return fmt.Errorf("no feedback sink configured")
	}
	if err := r.Validate(); err != nil {
		return err
	}
	if err := sink.Append(ctx, r); err != nil {
		return fmt.Errorf("append feedback to %s: %w", sink.Name(), err)
	}
	return nil
}
