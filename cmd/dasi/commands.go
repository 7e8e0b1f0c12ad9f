package main

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/olekukonko/tablewriter"
	"github.com/spf13/cobra"

	"github.com/maxiofs/dasi/internal/config"
	"github.com/maxiofs/dasi/internal/metrics"
	"github.com/maxiofs/dasi/pkg/dasi"
	"github.com/maxiofs/dasi/pkg/engine"
)

func (a *app) putCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "put KEY FILE",
		Short: "Archive FILE (or - for stdin) under KEY",
		Example: `  dasi put key1=value1,key2=value2,key3=value3 payload.bin
  echo "TESTING TESTING" | dasi put key1=value1,key2=value2,key3=value3 -`,
		Args: cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			key, err := dasi.ParseKey(args[0])
			if err != nil {
				return err
			}

			var data []byte
			if args[1] == "-" {
				data, err = io.ReadAll(cmd.InOrStdin())
			} else {
				data, err = os.ReadFile(args[1])
			}
			if err != nil {
				return fmt.Errorf("failed to read payload: %w", err)
			}

			s, err := a.open(cmd.Context())
			if err != nil {
				return err
			}
			defer s.Close()

			if err := s.Archive(cmd.Context(), key, data); err != nil {
				return err
			}
			if err := s.Flush(cmd.Context()); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "archived %d bytes under %s\n", len(data), key)
			return nil
		},
	}
}

func (a *app) getCmd() *cobra.Command {
	var output string

	cmd := &cobra.Command{
		Use:   "get QUERY",
		Short: "Write the payloads of every object QUERY names",
		Long: `Retrieves every combination of the candidate values in QUERY and writes
the payloads one after the other. The command fails before writing anything
when one of the combinations was never archived.`,
		Example: "  dasi get key1=value1,key2=value2,key3=value3/value4 -o out.bin",
		Args:    cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			query, err := dasi.ParseQuery(args[0])
			if err != nil {
				return err
			}

			s, err := a.open(cmd.Context())
			if err != nil {
				return err
			}
			defer s.Close()

			it, err := s.Retrieve(cmd.Context(), query)
			if err != nil {
				return err
			}
			defer it.Close()

			w := cmd.OutOrStdout()
			if output != "" {
				f, err := os.Create(output)
				if err != nil {
					return fmt.Errorf("failed to create output file: %w", err)
				}
				defer f.Close()
				w = f
			}

			for item, err := range it.All(cmd.Context()) {
				if err != nil {
					return err
				}
				if err := copyPayload(cmd, w, item); err != nil {
					return err
				}
			}
			return nil
		},
	}

	cmd.Flags().StringVarP(&output, "output", "o", "", "Write payloads to this file instead of stdout")
	return cmd
}

func copyPayload(cmd *cobra.Command, w io.Writer, item dasi.RetrieveItem) error {
	h, err := item.Handle()
	if err != nil {
		return err
	}
	if err := h.Open(cmd.Context()); err != nil {
		return err
	}
	defer h.Close()

	if _, err := io.Copy(w, h); err != nil {
		return fmt.Errorf("failed to copy payload of %s: %w", item.Key, err)
	}
	return nil
}

func (a *app) listCmd() *cobra.Command {
	var showLocation bool

	cmd := &cobra.Command{
		Use:     "list [QUERY]",
		Short:   "List archived objects matching QUERY",
		Example: "  dasi list key1=value1 --location",
		Args:    cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			query := dasi.NewQuery()
			if len(args) == 1 {
				var err error
				if query, err = dasi.ParseQuery(args[0]); err != nil {
					return err
				}
			}

			s, err := a.open(cmd.Context())
			if err != nil {
				return err
			}
			defer s.Close()

			it, err := s.List(cmd.Context(), query)
			if err != nil {
				return err
			}

			table := tablewriter.NewWriter(cmd.OutOrStdout())
			table.SetAutoFormatHeaders(false)
			header := []string{"KEY", "ARCHIVED"}
			if showLocation {
				header = append(header, "URI", "OFFSET", "LENGTH")
			}
			table.SetHeader(header)

			count := 0
			for item, err := range it.All(cmd.Context()) {
				if err != nil {
					return err
				}
				row := []string{item.Key.String(), item.Timestamp.Format(time.RFC3339)}
				if showLocation {
					row = append(row, item.URI,
						strconv.FormatInt(item.Offset, 10),
						strconv.FormatInt(item.Length, 10))
				}
				table.Append(row)
				count++
			}
			if count > 0 {
				table.Render()
			}
			fmt.Fprintf(cmd.ErrOrStderr(), "%d objects\n", count)
			return nil
		},
	}

	cmd.Flags().BoolVar(&showLocation, "location", false, "Show where each payload is stored")
	return cmd
}

func (a *app) wipeCmd() *cobra.Command {
	var doit, recursive bool

	cmd := &cobra.Command{
		Use:   "wipe QUERY",
		Short: "Remove archived objects matching QUERY",
		Long: `Without --doit only reports what would be removed. With --recursive,
objects keyed below the granularity of QUERY are included.`,
		Example: "  dasi wipe key1=value1,key2=value2,key3=value3 --recursive --doit",
		Args:    cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			query, err := dasi.ParseQuery(args[0])
			if err != nil {
				return err
			}

			s, err := a.open(cmd.Context())
			if err != nil {
				return err
			}
			defer s.Close()

			it, err := s.Wipe(cmd.Context(), query, doit, recursive)
			if err != nil {
				return err
			}

			for item, err := range it.All(cmd.Context()) {
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "%s\t%s\n", item.Kind, item.Value)
			}
			if !doit {
				fmt.Fprintln(cmd.ErrOrStderr(), "dry run: nothing was removed, pass --doit to wipe")
			}
			return nil
		},
	}

	cmd.Flags().BoolVar(&doit, "doit", false, "Actually remove the objects")
	cmd.Flags().BoolVarP(&recursive, "recursive", "r", false, "Include objects below the query granularity")
	return cmd
}

func (a *app) policyCmd() *cobra.Command {
	var name, value string

	cmd := &cobra.Command{
		Use:   "policy QUERY",
		Short: "Show or change the access policies of the datasets matching QUERY",
		Long: `Prints the access switches of every dataset QUERY selects. With --value,
the single policy named by --name is set to that value first.`,
		Example: `  dasi policy key1=value1/value2,key2=value2 --name access
  dasi policy key1=value1 --name access.wipe --value false`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			query, err := dasi.ParseQuery(args[0])
			if err != nil {
				return err
			}

			set := cmd.Flags().Changed("value")
			var enabled bool
			if set {
				if name == "" {
					return fmt.Errorf("--name is required with --value")
				}
				if enabled, err = strconv.ParseBool(value); err != nil {
					return fmt.Errorf("invalid --value %q: %w", value, err)
				}
			}

			s, err := a.open(cmd.Context())
			if err != nil {
				return err
			}
			defer s.Close()

			var it *dasi.PolicyIterator
			if set {
				it, err = s.SetPolicy(cmd.Context(), query, name, enabled)
			} else {
				it, err = s.Policy(cmd.Context(), query, name)
			}
			if err != nil {
				return err
			}

			table := tablewriter.NewWriter(cmd.OutOrStdout())
			table.SetAutoFormatHeaders(false)
			table.SetHeader([]string{"DATASET", "POLICY", "ENABLED"})

			count := 0
			for item, err := range it.All(cmd.Context()) {
				if err != nil {
					return err
				}
				for _, p := range item.Policies {
					table.Append([]string{item.Key.String(), p.Name, strconv.FormatBool(p.Enabled)})
				}
				count++
			}
			if count > 0 {
				table.Render()
			}
			fmt.Fprintf(cmd.ErrOrStderr(), "%d datasets\n", count)
			return nil
		},
	}

	cmd.Flags().StringVar(&name, "name", "", "Policy or policy group to show (access, access.retrieve, ...)")
	cmd.Flags().StringVar(&value, "value", "", "Set the policy named by --name to true or false")
	return cmd
}

func (a *app) loadConfig() (*config.Config, error) {
	path, err := a.configPath()
	if err != nil {
		return nil, err
	}
	return config.Load(engine.ConfigSource{Path: path})
}

func (a *app) schemaCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "schema",
		Short: "Show the schema rules and the keyword sets they accept",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := a.loadConfig()
			if err != nil {
				return err
			}
			sch, err := cfg.LoadSchema()
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			fmt.Fprintln(out, sch.String())
			fmt.Fprintln(out)
			for _, p := range sch.Paths() {
				fmt.Fprintln(out, p.String())
			}
			return nil
		},
	}
}

func (a *app) infoCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "info",
		Short: "Show the store configuration and root disk usage",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := a.loadConfig()
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "catalogue:   %s (%s)\n", cfg.Catalogue, cfg.CataloguePath)
			fmt.Fprintf(out, "store:       %s\n", cfg.Store)
			fmt.Fprintf(out, "compression: %s\n", cfg.Compression.Algorithm)
			if cfg.Store == config.StoreS3 {
				fmt.Fprintf(out, "bucket:      %s/%s\n", cfg.S3.Bucket, cfg.S3.Prefix)
			}

			roots := cfg.Roots()
			if len(roots) == 0 {
				return nil
			}
			paths := make([]string, len(roots))
			for i, r := range roots {
				paths[i] = r.Path
			}

			table := tablewriter.NewWriter(out)
			table.SetAutoFormatHeaders(false)
			table.SetHeader([]string{"ROOT", "WIPE", "USED", "FREE", "USED %"})
			for i, stats := range metrics.RootUsage(paths) {
				table.Append([]string{
					stats.Path,
					strconv.FormatBool(roots[i].Wipeable()),
					formatBytes(stats.UsedBytes),
					formatBytes(stats.FreeBytes),
					strconv.FormatFloat(stats.UsedPercent, 'f', 1, 64),
				})
			}
			table.Render()
			return nil
		},
	}
}

const defaultSchema = `# Each rule lists the keywords of one level; nested rules add levels.
# Level 0 selects the dataset directory, the rest name the object.
- [class, stream, expver, [date, time, [type, levtype, [step, param, levelist]]]]
`

func initCmd() *cobra.Command {
	var force bool

	cmd := &cobra.Command{
		Use:   "init DIR",
		Short: "Create a configuration, a sample schema and a root under DIR",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			dir, err := filepath.Abs(args[0])
			if err != nil {
				return err
			}
			if err := os.MkdirAll(filepath.Join(dir, "root"), 0755); err != nil {
				return fmt.Errorf("failed to create root: %w", err)
			}

			schemaPath := filepath.Join(dir, "schema.yaml")
			configPath := filepath.Join(dir, "dasi.yaml")
			if !force {
				for _, p := range []string{schemaPath, configPath} {
					if _, err := os.Stat(p); err == nil {
						return fmt.Errorf("%s already exists, pass --force to overwrite", p)
					}
				}
			}

			doc, err := config.Default("schema.yaml", "root").Marshal()
			if err != nil {
				return err
			}
			if err := os.WriteFile(schemaPath, []byte(defaultSchema), 0644); err != nil {
				return err
			}
			if err := os.WriteFile(configPath, doc, 0644); err != nil {
				return err
			}

			fmt.Fprintf(cmd.OutOrStdout(), "wrote %s\nuse: dasi --config %s list\n", configPath, configPath)
			return nil
		},
	}

	cmd.Flags().BoolVar(&force, "force", false, "Overwrite an existing configuration")
	return cmd
}

func formatBytes(n uint64) string {
	const unit = 1024
	if n < unit {
		return strconv.FormatUint(n, 10) + " B"
	}
	div, exp := uint64(unit), 0
	for m := n / unit; m >= unit; m /= unit {
		div *= unit
		exp++
	}
	return fmt.Sprintf("%.1f %ciB", float64(n)/float64(div), "KMGTPE"[exp])
}
