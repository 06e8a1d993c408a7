package cmd

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"os"
	"strings"

	"github.com/bunchuq1122/COL-BOT/colbot"
	"github.com/spf13/cobra"
	"golang.org/x/term"
)

// lineReader reads one line of user input. It's only a variable so
// tests can answer the confirmation prompt.
type lineReader func() (string, error)

var customLineReader lineReader

var stdinIsTerminal = func() bool {
	return term.IsTerminal(int(os.Stdin.Fd()))
}

var (
	initForce bool
	initFrom  string
)

var errNotInteractive = errors.New("store is not empty and stdin is not a terminal, use --force to overwrite")

var initCmd = &cobra.Command{
	Use:   "init",
	Short: "Initialize the configured store, optionally importing a pending.json file",
	Long: "Creates the pending level document in the configured store backend. " +
		"For remote backends, levels from --from (default: store.local_path) " +
		"are imported into the primary backend.",
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		out := cmd.OutOrStdout()

		primary, fallback, err := colbot.NewStoreBackends(
			ctx,
			cfg.Store,
			slog.Default(),
			cfg.HTTPClient,
		)
		if err != nil {
			return fmt.Errorf("error initializing store: %w", err)
		}
		defer func() {
			for _, b := range []colbot.Backend{primary, fallback} {
				if c, ok := b.(colbot.Closer); ok {
					_ = c.Close()
				}
			}
		}()

		target := primary
		if target == nil {
			target = fallback
		}

		from := initFrom
		if from == "" {
			from = cfg.Store.LocalPath
		}
		source, err := readRegistryFile(from)
		if err != nil {
			return err
		}

		existing, err := target.Get(ctx)
		if err != nil {
			return fmt.Errorf("error reading %s store: %w", target.Name(), err)
		}
		current, decodeErr := colbot.DecodeRegistry(existing)

		// the file backend reading its own file has nothing to import
		if primary == nil && from == cfg.Store.LocalPath && existing != nil && decodeErr == nil {
			fmt.Fprintf(out, "Store %s already initialized with %d levels.\n", target.Name(), current.Len())
			return nil
		}

		if decodeErr != nil || current.Len() > 0 {
			if !initForce {
				ok, confirmErr := confirm(
					out,
					fmt.Sprintf("The %s store already holds levels. Overwrite it?", target.Name()),
				)
				if confirmErr != nil {
					return confirmErr
				}
				if !ok {
					fmt.Fprintln(out, "Aborted.")
					return nil
				}
			}
		}

		data, err := source.Encode()
		if err != nil {
			return err
		}
		if err = target.Put(ctx, data); err != nil {
			return fmt.Errorf("error writing %s store: %w", target.Name(), err)
		}

		fmt.Fprintf(out, "Initialized %s store with %d levels.\n", target.Name(), source.Len())
		fmt.Fprintln(
			out,
			"Initialization complete. You can now start the bot with the 'run' subcommand.",
		)
		return nil
	},
}

// readRegistryFile reads a pending level document. A missing file is an
// empty registry.
func readRegistryFile(path string) (*colbot.Registry, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return colbot.NewRegistry(), nil
		}
		return nil, fmt.Errorf("error reading %s: %w", path, err)
	}
	reg, err := colbot.DecodeRegistry(data)
	if err != nil {
		return nil, fmt.Errorf("invalid level file %s: %w", path, err)
	}
	return reg, nil
}

func confirm(out io.Writer, prompt string) (bool, error) {
	readLine := customLineReader
	if readLine == nil {
		if !stdinIsTerminal() {
			return false, errNotInteractive
		}
		reader := bufio.NewReader(os.Stdin)
		readLine = func() (string, error) {
			return reader.ReadString('\n')
		}
	}

	fmt.Fprintf(out, "%s [y/N]: ", prompt)
	answer, err := readLine()
	if err != nil && answer == "" {
		return false, err
	}
	switch strings.ToLower(strings.TrimSpace(answer)) {
	case "y", "yes":
		return true, nil
	default:
		return false, nil
	}
}

//nolint:gochecknoinits // cobra registration
func init() {
	rootCmd.AddCommand(initCmd)

	initCmd.Flags().BoolVar(&initForce, "force", false, "Overwrite a non-empty store without asking")
	initCmd.Flags().StringVar(&initFrom, "from", "", "Level file to import (default: store.local_path)")
}
