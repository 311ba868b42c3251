package cmd

import (
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/Brownie44l1/garbage-api/internal/app"
)

var serveCmd = &cobra.Command{
	Use:     "serve",
	Short:   "Start the prediction API server",
	Example: serveExample(),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		slog.Info("starting server",
			slog.Int("port", cfg.Server.Port),
			slog.String("model", cfg.Model.Path),
			slog.String("classes", cfg.Model.ClassesPath))

		a := app.New(cfg, app.ONNXLoader)
		return a.Run(ctx)
	},
}

func serveExample() string {
	return `
# serve models/garbage_cnn_model.onnx on :8080
garbage-api serve

# upload test
curl -X POST -F "file=@bottle.jpg;type=image/jpeg" http://localhost:8080/predict
`
}
