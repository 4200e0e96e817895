// Package workflow defines the Temporal workflow wrapping one pipeline run.
package workflow

import (
	"github.com/stratocost/pricefeed/pkg/pipeline/activity"
	"github.com/stratocost/pricefeed/pkg/temporal"
)

// Context holds the workflow context.
type Context struct {
	TemporalClient  *temporal.Client
	ActivityContext *activity.Context
}
