package main

import (
	"context"
	"fmt"
	"io"

	"github.com/effective-security/mcpchat/tools"
	"github.com/effective-security/xlog"
	"github.com/spf13/cobra"
)

func newToolsCmd(f *flags) *cobra.Command {
	return &cobra.Command{
		Use:   "tools [server-script...]",
		Short: "Connect the servers and print the tools offered to the model",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(f)
			if err != nil {
				return err
			}

			a, err := newApp(cmd.Context(), cfg, f, args)
			if err != nil {
				logger.KV(xlog.ERROR, "status", "startup_failed", "err", err.Error())
				return err
			}
			defer a.Close()

			return printTools(cmd.Context(), a.registry, cmd.OutOrStdout())
		},
	}
}

// printTools prints the tools in the order they are offered to the model,
// with the server that handles each call
func printTools(ctx context.Context, registry *tools.Registry, out io.Writer) error {
	bindings, err := registry.Bindings(ctx)
	if err != nil {
		return err
	}

	fmt.Fprintln(out, "\nTools:")
	for pair := bindings.Table.Oldest(); pair != nil; pair = pair.Next() {
		fmt.Fprintf(out, "  %s [%s]\t%s\n", pair.Key, pair.Value.Provider.Name(), pair.Value.Tool.Description)
	}
	if len(bindings.Shadowed) > 0 {
		fmt.Fprintf(out, "\nShadowed (%s):\n", registry.Policy())
		for _, b := range bindings.Shadowed {
			fmt.Fprintf(out, "  %s [%s]\n", b.Tool.Name, b.Provider.Name())
		}
	}
	return nil
}
