package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/filmindex/filmsync/pkg/filmsync"
)

func main() {
	// the cycle in flight finishes before Main returns
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := filmsync.Main(ctx, os.Args[1:]); err != nil {
		log.Fatal(err)
	}
}
