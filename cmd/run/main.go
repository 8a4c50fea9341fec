// Command run compiles the interaction Hamiltonian of a trap description
// and samples it for external solvers.
package main

import (
	"fmt"
	"math"
	"os"

	"github.com/pkg/errors"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"iontrap"
	"iontrap/chain"
	"iontrap/config"
	"iontrap/mat"
)

var logger *zap.SugaredLogger

func main() {
	zl, err := zap.NewDevelopment()
	if err != nil {
		fmt.Fprintf(os.Stderr, "%+v\n", err)
		os.Exit(1)
	}
	defer zl.Sync()
	logger = zl.Sugar()

	if err := newRootCmd().Execute(); err != nil {
		logger.Fatalf("%+v", err)
	}
}

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:           "run",
		Short:         "trapped-ion interaction Hamiltonian compiler",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.AddCommand(newModesCmd())
	root.AddCommand(newSampleCmd())
	root.AddCommand(newSpectrumCmd())
	return root
}

func newModesCmd() *cobra.Command {
	var cfgPath string
	cmd := &cobra.Command{
		Use:   "modes",
		Short: "print the normal-mode spectrum of the chain",
		RunE: func(cmd *cobra.Command, args []string) error {
			tp, err := config.Load(cfgPath)
			if err != nil {
				return errors.Wrap(err, "")
			}

			all, err := chain.FullModeDescription(len(tp.Ions), tp.COM)
			if err != nil {
				return errors.Wrap(err, "")
			}
			for _, axis := range []chain.Axis{chain.X, chain.Y, chain.Z} {
				for k, m := range all[axis] {
					fmt.Printf("%s,%d,%f", axis, k, m.Frequency)
					for _, s := range m.Shape {
						fmt.Printf(",%f", s)
					}
					fmt.Println()
				}
			}
			return nil
		},
	}
	cmd.Flags().StringVarP(&cfgPath, "config", "c", "trap.yaml", "trap description")
	return cmd
}

func newSampleCmd() *cobra.Command {
	var (
		cfgPath   string
		dbPath    string
		t0, t1    float64
		dt        float64
		timescale float64
		order     int
		rwaCutoff float64
	)
	cmd := &cobra.Command{
		Use:   "sample",
		Short: "sample the compiled Hamiltonian over a time grid into a sqlite store",
		RunE: func(cmd *cobra.Command, args []string) error {
			tp, err := config.Load(cfgPath)
			if err != nil {
				return errors.Wrap(err, "")
			}

			opt := iontrap.NewOptions().Timescale(timescale).LambDickeOrder(order)
			if rwaCutoff > 0 {
				opt = opt.RWACutoff(rwaCutoff)
			}
			eval, err := iontrap.Hamiltonian(tp, opt)
			if err != nil {
				return errors.Wrap(err, "")
			}
			dim := tp.Dimension()
			logger.Infow("compiled", "dimension", dim, "ions", len(tp.Ions), "modes", len(tp.Modes))

			store, err := mat.NewSnapshotStore(dbPath, dim, dim)
			if err != nil {
				return errors.Wrap(err, "")
			}
			defer store.Close()

			n := 0
			for t := t0; t <= t1+dt/2; t += dt {
				if err := store.Put(t, eval(t, nil)); err != nil {
					return errors.Wrap(err, fmt.Sprintf("%f", t))
				}
				n++
			}
			logger.Infow("sampled", "snapshots", n, "path", dbPath)
			return nil
		},
	}
	cmd.Flags().StringVarP(&cfgPath, "config", "c", "trap.yaml", "trap description")
	cmd.Flags().StringVarP(&dbPath, "db", "d", "hamiltonian.db", "snapshot store")
	cmd.Flags().Float64Var(&t0, "t0", 0, "first sample time, working units")
	cmd.Flags().Float64Var(&t1, "t1", 10, "last sample time, working units")
	cmd.Flags().Float64Var(&dt, "dt", 0.1, "sample step, working units")
	cmd.Flags().Float64Var(&timescale, "timescale", 1e-6, "seconds per working time unit")
	cmd.Flags().IntVar(&order, "order", 1, "Lamb-Dicke order")
	cmd.Flags().Float64Var(&rwaCutoff, "rwa-cutoff", 0, "RWA cutoff in Hz, 0 disables the approximation")
	return cmd
}

func newSpectrumCmd() *cobra.Command {
	var (
		dbPath string
		t      float64
	)
	cmd := &cobra.Command{
		Use:   "spectrum",
		Short: "print the eigenvalues of a stored snapshot",
		RunE: func(cmd *cobra.Command, args []string) error {
			store, err := mat.OpenSnapshotStore(dbPath)
			if err != nil {
				return errors.Wrap(err, "")
			}
			defer store.Close()

			if math.IsNaN(t) {
				ts, err := store.Times()
				if err != nil {
					return errors.Wrap(err, "")
				}
				if len(ts) == 0 {
					return errors.Errorf("empty store %s", dbPath)
				}
				t = ts[0]
			}

			m, err := store.Get(t)
			if err != nil {
				return errors.Wrap(err, "")
			}
			for i, v := range m.HermEigenvalues() {
				fmt.Printf("%d,%g\n", i, v)
			}
			return nil
		},
	}
	cmd.Flags().StringVarP(&dbPath, "db", "d", "hamiltonian.db", "snapshot store")
	cmd.Flags().Float64VarP(&t, "time", "t", math.NaN(), "sample time, defaults to the first stored")
	return cmd
}
