package cmd

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/BioHazard786/warpcall/internal/config"
	"github.com/BioHazard786/warpcall/internal/logging"
	"github.com/BioHazard786/warpcall/internal/server"
	"github.com/BioHazard786/warpcall/internal/store/sqlite"
	"github.com/spf13/cobra"
)

const shutdownTimeout = 10 * time.Second

var (
	flagServeAddr     string
	flagServeDB       string
	flagServeTTL      time.Duration
	flagServeReap     bool
	flagServeICEFile  string
	flagServeSTUN     string
	flagServeTURN     string
	flagServeTURNUser string
	flagServeTURNPass string
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the signaling server",
	Long: `Run the signaling server peers use to exchange offers, answers and candidates.

Examples:
  warpcall serve
  warpcall serve --addr :9000 --db /var/lib/warpcall/calls.db
  warpcall serve --ice-file ice.json --call-ttl 30m`,
	Args: cobra.NoArgs,
	PersistentPreRun: func(cmd *cobra.Command, args []string) {
		logging.InitLevel(slog.LevelInfo)
	},
	RunE: func(cmd *cobra.Command, args []string) error {
		opts := config.ServerOptions{
			Addr:       flagServeAddr,
			DBPath:     flagServeDB,
			CallTTL:    flagServeTTL,
			ICEFile:    flagServeICEFile,
			STUNServer: flagServeSTUN,
			TURNServer: flagServeTURN,
			TURNUser:   flagServeTURNUser,
			TURNPass:   flagServeTURNPass,
		}
		if cmd.Flags().Changed("reap") {
			opts.ReapOnDisconnect = &flagServeReap
		}
		return serve(cmd.Context(), opts)
	},
}

func serve(ctx context.Context, opts config.ServerOptions) error {
	cfg, err := config.LoadServer(opts)
	if err != nil {
		return err
	}
	logger := slog.Default()

	db, err := sqlite.Open(cfg.DBPath)
	if err != nil {
		return err
	}
	defer db.Close()

	ice, err := server.NewICEList(cfg.ICEFile, cfg.ICEServers(), logger)
	if err != nil {
		return err
	}

	hub := server.NewHub(db, cfg.ReapOnDisconnect, logger)
	go hub.Run(ctx)
	go server.Sweep(ctx, db, cfg.CallTTL, server.SweepInterval(cfg.CallTTL), logger)
	go func() {
		if err := ice.Watch(ctx); err != nil {
			logger.Warn("ice file watch disabled", "error", err)
		}
	}()

	srv := &http.Server{
		Addr:              cfg.Addr,
		Handler:           server.NewRouter(hub, ice),
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		srv.Shutdown(shutdownCtx)
	}()

	logger.Info("starting signaling server",
		"addr", cfg.Addr, "db", cfg.DBPath, "call_ttl", cfg.CallTTL, "reap_on_disconnect", cfg.ReapOnDisconnect)
	fmt.Printf("Starting signaling server on http://localhost%s\n", cfg.Addr)

	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

func init() {
	rootCmd.AddCommand(serveCmd)

	serveCmd.Flags().StringVar(&flagServeAddr, "addr", "", "Listen address (default :8080)")
	serveCmd.Flags().StringVar(&flagServeDB, "db", "", "SQLite database path (default warpcall.db)")
	serveCmd.Flags().DurationVar(&flagServeTTL, "call-ttl", 0, "Delete calls older than this (default 2h)")
	serveCmd.Flags().BoolVar(&flagServeReap, "reap", true, "Delete a peer's calls when its connection drops")
	serveCmd.Flags().StringVar(&flagServeICEFile, "ice-file", "", "JSON ICE server list served at /ice-servers, reloaded on change")
	serveCmd.Flags().StringVarP(&flagServeSTUN, "stun", "s", "", "STUN server served when no ICE file is set")
	serveCmd.Flags().StringVarP(&flagServeTURN, "turn", "t", "", "TURN server host served when no ICE file is set")
	serveCmd.Flags().StringVarP(&flagServeTURNUser, "turn-user", "u", "", "TURN username")
	serveCmd.Flags().StringVarP(&flagServeTURNPass, "turn-pass", "p", "", "TURN password")
}
