package cli

import (
	"github.com/spf13/cobra"

	pssh "github.com/krig/parallel-ssh"
)

func newPullCmd() *cobra.Command {
	f := &batchFlags{}
	var recursive bool

	cmd := &cobra.Command{
		Use:   "pull <remote-source> <local-dir>",
		Short: "Copy a remote file from every host into per-host local directories",
		Example: `  # Collect logs from all hosts under ./logs/<host>/
  pssh pull --hosts prod.txt /var/log/syslog ./logs

  # Pull a directory tree from each host
  pssh pull -r --hosts prod.txt /etc/nginx ./nginx-backup`,
		Args: cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			opts, hosts, printer, err := f.resolve()
			if err != nil {
				return err
			}
			opts.Recursive = recursive
			if _, err := pssh.Slurp(cmd.Context(), hosts, args[0], args[1], opts); err != nil {
				return err
			}
			return f.finish(printer)
		},
	}

	f.register(cmd)
	cmd.Flags().BoolVarP(&recursive, "recursive", "r", false, "copy directories recursively")
	return cmd
}
