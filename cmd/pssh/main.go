package main

import (
	"errors"
	"log/slog"
	"os"

	"github.com/krig/parallel-ssh/internal/cli"
	"github.com/krig/parallel-ssh/internal/util"
)

func main() {
	ctx := util.SetupSignalHandler()

	if err := cli.Execute(ctx); err != nil {
		var code cli.ExitCode
		if errors.As(err, &code) {
			os.Exit(int(code))
		}
		slog.Error("command failed", "error", err)
		os.Exit(1)
	}
}
