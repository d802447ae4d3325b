package cli

import (
	"github.com/spf13/cobra"

	pssh "github.com/krig/parallel-ssh"
)

func newPushCmd() *cobra.Command {
	f := &batchFlags{}
	var recursive bool

	cmd := &cobra.Command{
		Use:   "push <source>... <remote-dest>",
		Short: "Copy local files to every host",
		Example: `  # Push a config file to all web hosts
  pssh push --hosts web.txt nginx.conf /etc/nginx/nginx.conf

  # Push a directory tree
  pssh push -r --hosts web.txt ./site/ /var/www/site`,
		Args: cobra.MinimumNArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			opts, hosts, printer, err := f.resolve()
			if err != nil {
				return err
			}
			opts.Recursive = recursive
			sources := args[:len(args)-1]
			dest := args[len(args)-1]
			if _, err := pssh.Copy(cmd.Context(), hosts, sources, dest, opts); err != nil {
				return err
			}
			return f.finish(printer)
		},
	}

	f.register(cmd)
	cmd.Flags().BoolVarP(&recursive, "recursive", "r", false, "copy directories recursively")
	return cmd
}
