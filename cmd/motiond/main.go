// motiond hosts the motion side of the arm channel: it owns the driver
// connection and serves one control session over TCP or a unix socket.
package main

import (
	"context"
	"flag"

	"go.viam.com/rdk/logging"
	"go.viam.com/utils"

	"armlink"
)

func main() {
	utils.ContextualMain(mainWithArgs, logging.NewLogger("motiond"))
}

func mainWithArgs(ctx context.Context, args []string, logger logging.Logger) error {
	fs := flag.NewFlagSet("motiond", flag.ContinueOnError)
	configPath := fs.String("config", "", "optional config file (yaml/json/toml)")
	if err := fs.Parse(args[1:]); err != nil {
		return err
	}

	cfg, err := armlink.LoadConfig(*configPath)
	if err != nil {
		return err
	}
	logger.Infow("starting motion process", "backend", cfg.Backend, "listen", cfg.ListenAddr)

	return armlink.Serve(ctx, cfg, logger)
}
