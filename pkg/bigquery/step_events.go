package bigquery

import (
	"context"
	"errors"
	"fmt"
	"time"

	"cloud.google.com/go/bigquery"
)

// StepEvent is one row per finished pipeline step.
type StepEvent struct {
	RunID           string    `bigquery:"run_id"`
	OrganizationID  string    `bigquery:"organization_id"`
	MediaID         string    `bigquery:"media_id"`
	Stage           string    `bigquery:"stage"`
	StepIndex       int       `bigquery:"step_index"`
	Status          string    `bigquery:"status"`
	Attempts        int       `bigquery:"attempts"`
	DurationSeconds float64   `bigquery:"duration_seconds"`
	ErrorCode       string    `bigquery:"error_code"`
	OccurredAt      time.Time `bigquery:"occurred_at"`
}

// Save implements bigquery.ValueSaver. The insert id dedupes redelivered
// stage tasks on (run, stage, status).
func (e StepEvent) Save() (map[string]bigquery.Value, string, error) {
	row := map[string]bigquery.Value{
		"run_id":           e.RunID,
		"organization_id":  e.OrganizationID,
		"media_id":         e.MediaID,
		"stage":            e.Stage,
		"step_index":       e.StepIndex,
		"status":           e.Status,
		"attempts":         e.Attempts,
		"duration_seconds": e.DurationSeconds,
		"error_code":       e.ErrorCode,
		"occurred_at":      e.OccurredAt,
	}
	return row, e.InsertID(), nil
}

func (e StepEvent) InsertID() string {
	return e.RunID + ":" + e.Stage + ":" + e.Status
}

// RecordStepEvent streams one event. Row-level rejections are reported with
// the offending column so schema drift is visible in the logs.
func (c *Client) RecordStepEvent(ctx context.Context, evt StepEvent) error {
	if c == nil || c.stepEvents == nil {
		return errNotInitialized
	}
	err := c.stepEvents.Inserter().Put(ctx, evt)
	var multi bigquery.PutMultiError
	if errors.As(err, &multi) && len(multi) > 0 && len(multi[0].Errors) > 0 {
		return fmt.Errorf("step event %s rejected: %w", evt.InsertID(), multi[0].Errors[0])
	}
	return err
}
