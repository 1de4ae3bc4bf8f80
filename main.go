package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"

	"matchquiz/config"

	"github.com/spf13/cobra"
)

const releaseVersion = "0.1.0"

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	log.SetFlags(log.LstdFlags | log.Lmicroseconds)
	cfg := &config.Config{}
	cobra.CheckErr(newCmd(cfg).ExecuteContext(ctx))
}
