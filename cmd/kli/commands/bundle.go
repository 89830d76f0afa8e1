package commands

import (
	"context"
	goflag "flag"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"xdao.co/kel/engine"
	"xdao.co/kel/storage/bundle"
	"xdao.co/kel/storage/storeregistry"

	_ "xdao.co/kel/storage/localfs"
	_ "xdao.co/kel/storage/memory"
	_ "xdao.co/kel/storage/sqlite"
)

// localStore holds the flags selecting the store bundle commands work on.
type localStore struct {
	backend string
	opts    storeregistry.Options
}

func (l *localStore) register(cmd *cobra.Command) {
	l.opts = storeregistry.Options{}
	cmd.Flags().StringVar(&l.backend, "backend", "localfs", "local store backend")
	fs := goflag.NewFlagSet(cmd.Name(), goflag.ContinueOnError)
	storeregistry.RegisterFlags(fs, storeregistry.UsageCLI, l.opts)
	cmd.Flags().AddGoFlagSet(fs)
}

func (l *localStore) engine(ctx context.Context) (*engine.Engine, error) {
	store, err := storeregistry.Open(l.backend, storeregistry.UsageCLI, l.opts)
	if err != nil {
		return nil, err
	}
	eng, err := engine.New(ctx, store)
	if err != nil {
		_ = store.Close()
		return nil, err
	}
	return eng, nil
}

func bundleCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "bundle",
		Short: "Move key event logs between stores as TAR bundles",
	}
	cmd.AddCommand(bundleExportCmd(), bundleImportCmd())
	return cmd
}

func bundleExportCmd() *cobra.Command {
	var (
		store        localStore
		out          string
		index        bool
		skipReceipts bool
	)
	cmd := &cobra.Command{
		Use:   "export [aid...]",
		Short: "Write the logs of identifiers (default all) to a bundle",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := context.Background()
			eng, err := store.engine(ctx)
			if err != nil {
				return err
			}
			defer eng.Close()
			prefixes := args
			if len(prefixes) == 0 {
				prefixes = eng.Prefixes()
			}
			f, err := os.Create(out)
			if err != nil {
				return err
			}
			if err := bundle.Export(ctx, f, eng.Source(), prefixes, bundle.ExportOptions{IncludeIndex: index, SkipReceipts: skipReceipts}); err != nil {
				_ = f.Close()
				return err
			}
			if err := f.Close(); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "exported %d identifiers to %s\n", len(prefixes), out)
			return nil
		},
	}
	store.register(cmd)
	cmd.Flags().StringVarP(&out, "out", "o", "kel.tar", "bundle path")
	cmd.Flags().BoolVar(&index, "index", true, "include index.json")
	cmd.Flags().BoolVar(&skipReceipts, "skip-receipts", false, "leave witness receipts out")
	return cmd
}

func bundleImportCmd() *cobra.Command {
	var (
		store         localStore
		ignoreUnknown bool
	)
	cmd := &cobra.Command{
		Use:   "import <bundle.tar>",
		Short: "Admit the events of a bundle into a local store",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := context.Background()
			f, err := os.Open(args[0])
			if err != nil {
				return err
			}
			c, err := bundle.Read(f, bundle.ImportOptions{IgnoreUnknown: ignoreUnknown})
			_ = f.Close()
			if err != nil {
				return err
			}
			eng, err := store.engine(ctx)
			if err != nil {
				return err
			}
			defer eng.Close()
			res, err := eng.Import(ctx, c)
			if err != nil {
				return err
			}
			for _, r := range res.Rejected {
				fmt.Fprintf(cmd.ErrOrStderr(), "rejected: %v\n", r)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "admitted %d, duplicate %d, pending %d, escrowed %d, receipts %d, rejected %d\n",
				res.Admitted, res.Duplicate, res.Pending, res.Escrowed, res.Receipts, len(res.Rejected))
			return nil
		},
	}
	store.register(cmd)
	cmd.Flags().BoolVar(&ignoreUnknown, "ignore-unknown", false, "skip unrecognized bundle entries")
	return cmd
}
