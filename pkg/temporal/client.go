package temporal

import (
	"context"

	"github.com/stratocost/pricefeed/pkg/utils"
	"go.uber.org/zap"

	"go.temporal.io/sdk/client"
	"go.temporal.io/sdk/log"
)

type Client struct {
	TClient   client.Client
	Namespace string

	// PipelineQueue is the task queue for pipeline workflows and activities.
	// A single queue is enough: runs are single-flight by design.
	PipelineQueue string

	// WeeklyUpdateWorkflowID serializes scheduled runs: starting a workflow
	// with this ID while one is still running is rejected by Temporal, which
	// backs up the orchestrator's own single-flight gate.
	WeeklyUpdateWorkflowID string
}

func NewClient(ctx context.Context, logger *zap.Logger) (*Client, error) {
	host := utils.Env("TEMPORAL_HOSTPORT", "localhost:7233")
	ns := utils.Env("TEMPORAL_NAMESPACE", "pricefeed")
	loggerWrapper := NewZapAdapter(logger)

	logger.Info("Connecting to Temporal", zap.String("host", host), zap.String("namespace", ns))
	tClient, err := Dial(ctx, host, ns, loggerWrapper)
	if err != nil {
		return nil, err
	}

	if _, err = tClient.CheckHealth(ctx, nil); err != nil {
		return nil, err
	}

	return &Client{
		TClient:                tClient,
		Namespace:              ns,
		PipelineQueue:          "pipeline",
		WeeklyUpdateWorkflowID: "weekly-update",
	}, nil
}

// Dial connects to Temporal using the provided hostPort and namespace.
func Dial(ctx context.Context, hostPort, namespace string, logger log.Logger) (client.Client, error) {
	return client.DialContext(
		ctx,
		client.Options{
			HostPort:  hostPort,
			Namespace: namespace,
			Logger:    logger,
		},
	)
}

// GetPipelineQueue returns the pipeline task queue.
func (c *Client) GetPipelineQueue() string { return c.PipelineQueue }

// GetWeeklyUpdateWorkflowID returns the fixed workflow ID for scheduled runs.
func (c *Client) GetWeeklyUpdateWorkflowID() string { return c.WeeklyUpdateWorkflowID }

// Close closes the underlying connection.
func (c *Client) Close() {
	c.TClient.Close()
}
