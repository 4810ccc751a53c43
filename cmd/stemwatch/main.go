package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/cockroachdb/errors"

	clicmd "stemwatch/internal/cli/cmd"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	code := run(ctx, os.Stderr)
	stop()
	os.Exit(code)
}

func run(ctx context.Context, stderr io.Writer) int {
	err := clicmd.Execute(ctx)
	if err == nil {
		return clicmd.ExitOK
	}
	code := clicmd.ExitCLIError
	var ee *clicmd.ExitError
	if errors.As(err, &ee) {
		code = ee.Code
		err = ee.Err
	}
	if err != nil {
		fmt.Fprintln(stderr, "Error:", err)
		if hint := errors.FlattenHints(err); hint != "" {
			fmt.Fprintln(stderr, "Hint:", hint)
		}
	}
	return code
}
