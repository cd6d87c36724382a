package main

import (
	"context"
	"errors"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/eliteGoblin/tooie/internal/client"
	"github.com/eliteGoblin/tooie/internal/infra"
)

var clientCmd = &cobra.Command{
	Use:   "client [subcommand] [args...]",
	Short: "Call the local API (same subcommands as the 'tooie' wrapper)",
	Long: `Calls the running daemon with the token and endpoint from ~/.tooie.

Subcommands: status, apps, resources, media, art, notifications,
brightness [value], volume [value] [stream], exec <command>, permission,
lock, token rotate.`,
	DisableFlagParsing: true,
	RunE:               runClient,
}

func init() {
	rootCmd.AddCommand(clientCmd)
}

// errRequestFailed makes the process exit non-zero after the body is printed.
var errRequestFailed = errors.New("request failed")

func runClient(cmd *cobra.Command, args []string) error {
	c := client.New(infra.NewClientFiles(infra.DetectPaths()), client.DefaultTimeout)

	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}
	resp, err := c.Run(ctx, args)
	if err != nil {
		return err
	}

	fmt.Fprintln(os.Stdout, string(resp.Body))
	if !resp.OK() {
		return fmt.Errorf("%w: HTTP %d", errRequestFailed, resp.Status)
	}
	return nil
}
