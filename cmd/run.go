package cmd

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/mezonai/chaindb/authoring"
	"github.com/mezonai/chaindb/events"
	"github.com/mezonai/chaindb/exception"
	"github.com/mezonai/chaindb/logx"
	"github.com/mezonai/chaindb/monitoring"
	"github.com/spf13/cobra"
)

type runFlags struct {
	Blocks      uint64
	Interval    time.Duration
	MetricsAddr string
}

var runOpts runFlags

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Author dev blocks into the store",
	Long: `Produce blocks on top of the stored chain until --blocks have been
authored or the process is interrupted.
Examples:
  chaindb run --dev --blocks 1000 --interval 10ms
  chaindb run --dev --metrics-addr 127.0.0.1:9100
`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return runNode(cmd)
	},
}

func init() {
	rootCmd.AddCommand(runCmd)
	runCmd.Flags().Uint64Var(&runOpts.Blocks, "blocks", 0, "Stop after this many blocks (0 runs until interrupted)")
	runCmd.Flags().DurationVar(&runOpts.Interval, "interval", 0, "Block interval (default: the chain spec's block_interval_ms)")
	runCmd.Flags().StringVar(&runOpts.MetricsAddr, "metrics-addr", "", "Serve prometheus metrics on this address")
}

func runNode(cmd *cobra.Command) error {
	monitoring.InitMetrics()

	n, err := openNode(nodeFlags)
	if err != nil {
		return err
	}
	defer n.Close()

	head := n.store.Head()
	monitoring.SetChainHeights(head.BestNumber, head.FinalizedNumber)
	monitoring.SetOrphanCount(n.store.OrphanCount())

	if runOpts.MetricsAddr != "" {
		stop, err := serveMetrics(runOpts.MetricsAddr)
		if err != nil {
			return err
		}
		defer stop()
	}

	subID, ch := n.bus.Subscribe()
	defer n.bus.Unsubscribe(subID)
	exception.SafeGo("chainEventLogger", func() {
		logChainEvents(ch)
	})

	author := authoring.NewAuthor(n.store, n.spec)
	if runOpts.Interval > 0 {
		author.Interval = runOpts.Interval
	}

	ctx, cancel := signalContext(cmd.Context())
	defer cancel()
	produced, err := author.Run(ctx, runOpts.Blocks)
	if err != nil {
		return err
	}

	head = n.store.Head()
	fmt.Fprintf(cmd.OutOrStdout(), "Authored %d blocks; best #%d, finalized #%d\n",
		produced, head.BestNumber, head.FinalizedNumber)
	return nil
}

// logChainEvents drains ch until it is closed by Unsubscribe.
func logChainEvents(ch <-chan events.ChainEvent) {
	for ev := range ch {
		switch e := ev.(type) {
		case *events.BlockFinalized:
			logx.Info("EVENT", fmt.Sprintf("Finalized #%d %s", e.BlockNumber(), e.BlockHash().Short()))
		case *events.BodiesPruned:
			logx.Info("EVENT", fmt.Sprintf("Pruned %d bodies (%d bytes), base #%d", e.Blocks(), e.Bytes(), e.BlockNumber()))
		default:
			logx.Debug("EVENT", ev.Type(), " #", ev.BlockNumber())
		}
	}
}

func serveMetrics(addr string) (func(), error) {
	listener, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("failed to listen on %s: %w", addr, err)
	}
	mux := http.NewServeMux()
	monitoring.RegisterMetrics(mux)
	server := &http.Server{
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
	}

	exception.SafeGo("metricsServer", func() {
		if err := server.Serve(listener); err != nil && err != http.ErrServerClosed {
			logx.Error("METRICS", "Metrics server stopped: ", err)
		}
	})
	logx.Info("METRICS", "Serving metrics on ", listener.Addr())

	return func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = server.Shutdown(ctx)
	}, nil
}
