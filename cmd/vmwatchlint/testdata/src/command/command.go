package command

import (
	"context"
	"os/exec"
)

const shell = "/bin/sh"

func allowed(ctx context.Context, argv []string) error {
	return exec.CommandContext(ctx, argv[0], argv[1:]...).Run()
}

func viaShell(ctx context.Context, line string) error {
	if err := exec.Command("bash", "-c", line).Run(); err != nil { // want "exec.Command runs a shell interpreter"
		return err
	}
	return exec.CommandContext(ctx, shell, "-c", line).Run() // want "exec.CommandContext runs a shell interpreter"
}
