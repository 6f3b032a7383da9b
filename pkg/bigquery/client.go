// Package bigquery streams pipeline step events into BigQuery for run
// analytics. It is only wired when STUDIOFLOW_FEATURE_BIGQUERY is on.
package bigquery

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"cloud.google.com/go/bigquery"

	"github.com/angelmondragon/studioflow-backend/pkg/config"
	pkgerrors "github.com/angelmondragon/studioflow-backend/pkg/errors"
	"github.com/angelmondragon/studioflow-backend/pkg/gcp"
	"github.com/angelmondragon/studioflow-backend/pkg/logger"
)

const checkTimeout = 10 * time.Second

var errNotInitialized = errors.New("bigquery client not initialized")

// Client owns the dataset handle and the step events table.
type Client struct {
	client     *bigquery.Client
	dataset    *bigquery.Dataset
	stepEvents *bigquery.Table
}

// NewClient connects and verifies that the step events table exists with
// every column StepEvent writes.
func NewClient(ctx context.Context, gcpCfg config.GCPConfig, cfg config.BigQueryConfig, logg *logger.Logger) (*Client, error) {
	project := strings.TrimSpace(gcpCfg.ProjectID)
	dataset := strings.TrimSpace(cfg.Dataset)
	table := strings.TrimSpace(cfg.StepEventsTable)
	switch {
	case project == "":
		return nil, errors.New("gcp project id is required")
	case dataset == "":
		return nil, errors.New("bigquery dataset is required")
	case table == "":
		return nil, errors.New("bigquery step events table is required")
	}

	bq, err := bigquery.NewClient(ctx, project, gcp.ClientOptions(gcpCfg)...)
	if err != nil {
		return nil, fmt.Errorf("create bigquery client: %w", err)
	}
	ds := bq.Dataset(dataset)
	c := &Client{client: bq, dataset: ds, stepEvents: ds.Table(table)}

	checkCtx, cancel := context.WithTimeout(ctx, checkTimeout)
	defer cancel()
	if err := c.checkStepEventsTable(checkCtx); err != nil {
		_ = bq.Close()
		return nil, err
	}
	if logg != nil {
		logg.Info(logg.WithFields(ctx, map[string]any{"dataset": dataset, "table": table}), "bigquery step events sink ready")
	}
	return c, nil
}

func (c *Client) checkStepEventsTable(ctx context.Context) error {
	meta, err := c.stepEvents.Metadata(ctx)
	if err != nil {
		if pkgerrors.IsCode(err, pkgerrors.CodeNotFound) {
			return fmt.Errorf("table %s.%s does not exist", c.dataset.DatasetID, c.stepEvents.TableID)
		}
		return fmt.Errorf("read table %s metadata: %w", c.stepEvents.TableID, err)
	}
	want, err := bigquery.InferSchema(StepEvent{})
	if err != nil {
		return fmt.Errorf("infer step event schema: %w", err)
	}
	if missing := missingColumns(meta.Schema, want); len(missing) > 0 {
		return fmt.Errorf("table %s is missing columns %s", c.stepEvents.TableID, strings.Join(missing, ", "))
	}
	return nil
}

func missingColumns(have, want bigquery.Schema) []string {
	present := make(map[string]bool, len(have))
	for _, f := range have {
		present[strings.ToLower(f.Name)] = true
	}
	var missing []string
	for _, f := range want {
		if !present[strings.ToLower(f.Name)] {
			missing = append(missing, f.Name)
		}
	}
	sort.Strings(missing)
	return missing
}

// Ping reads dataset metadata. The schema check only runs at startup.
func (c *Client) Ping(ctx context.Context) error {
	if c == nil || c.dataset == nil {
		return errNotInitialized
	}
	ctx, cancel := context.WithTimeout(ctx, checkTimeout)
	defer cancel()
	_, err := c.dataset.Metadata(ctx)
	return err
}

func (c *Client) Close() error {
	if c == nil || c.client == nil {
		return nil
	}
	return c.client.Close()
}
