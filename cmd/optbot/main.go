// Command optbot trades NIFTY index options across several broker accounts.
package main

import (
	"fmt"
	"log"
	"os"

	"optbot/config"
	"optbot/internal/logger"
)

func main() {
	log.SetFlags(log.LstdFlags | log.Lmicroseconds | log.Lshortfile)

	cfg := config.Load()
	lg, closer := logger.Init("optbot", logger.Options{
		Level: logger.ParseLevel(cfg.LogLevel),
		File:  cfg.LogFile,
	})
	defer closer.Close()

	if err := NewRootCmd(cfg, lg).Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		closer.Close()
		os.Exit(1)
	}
}
