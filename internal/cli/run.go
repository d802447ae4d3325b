package cli

import (
	"strings"

	"github.com/spf13/cobra"

	pssh "github.com/krig/parallel-ssh"
)

func newRunCmd() *cobra.Command {
	f := &batchFlags{}

	cmd := &cobra.Command{
		Use:   "run <command>...",
		Short: "Run a command on every host",
		Example: `  # Check uptime on three hosts
  pssh run -H web1 -H web2 -H db1 -i uptime

  # Run against a host file, 50 at a time, 30s per host
  pssh run --hosts prod.txt -p 50 -t 30s -i -- systemctl is-active nginx

  # Capture output to files instead of memory
  pssh run --hosts prod.txt -o out/ -e err/ -- journalctl -n 50`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			opts, hosts, printer, err := f.resolve()
			if err != nil {
				return err
			}
			cmdline := strings.Join(args, " ")
			if _, err := pssh.Call(cmd.Context(), hosts, cmdline, opts); err != nil {
				return err
			}
			return f.finish(printer)
		},
	}

	f.register(cmd)
	return cmd
}
