// Command husk is the reference bootstrap stub: it unpacks the payload
// appended to its own binary into a work directory, executes the embedded
// runtime module, and removes the directory again.
//
// Exit codes: 0 success, 1 unpack failure, 2 load failure, 3 runtime
// failure (husk.Exit* constants).
package main

import (
	"context"
	"fmt"
	"os"

	"github.com/xyproto/env/v2"
	"go.uber.org/zap"

	"github.com/arvhal/husk"
)

func main() {
	logger := zap.NewNop()
	if env.Bool("HUSK_DEBUG") {
		cfg := zap.NewDevelopmentConfig()
		cfg.OutputPaths = []string{"stderr"}
		if l, err := cfg.Build(); err == nil {
			logger = l
			defer logger.Sync()
		}
	}

	loader := husk.NewLoader(logger)
	if err := loader.Boot(context.Background(), os.Args[1:]); err != nil {
		fmt.Fprintf(os.Stderr, "husk: %s\n", err)
		os.Exit(husk.ExitCode(err))
	}
}
