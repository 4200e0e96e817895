package main

import (
	"context"
	"os/signal"
	"syscall"

	"github.com/stratocost/pricefeed/app/scheduler"
)

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)

	defer cancel()

	app := scheduler.Initialize(ctx)

	app.Start(ctx)
}
