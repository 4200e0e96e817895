package query

import (
	"net/http"

	"github.com/stratocost/pricefeed/app/query/controller"
	"github.com/stratocost/pricefeed/app/query/types"
	"github.com/stratocost/pricefeed/pkg/utils"
	"go.uber.org/zap"
)

// NewServer creates the HTTP server for the query app.
func NewServer(app *types.App) error {
	ctler := controller.NewController(app)
	router := ctler.NewRouter()

	// use <ip>:<port> to bind to a specific interface or :<port> to bind to all interfaces
	addr := utils.Env("ADDR", ":3001")

	app.Server = &http.Server{Addr: addr, Handler: controller.WithCORS(router)}
	app.Logger.Info("Starting server", zap.String("addr", addr))

	return nil
}
