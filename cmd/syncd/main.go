// Command syncd runs the Converso sync daemon: it owns the local SQLite
// store, drains the mutation queue against the remote record store and serves
// status plus a live event stream to the local UI on a loopback port.
package main

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/converso-app/backend/internal/config"
	"github.com/converso-app/backend/internal/crypto"
	"github.com/converso-app/backend/internal/db"
	"github.com/converso-app/backend/internal/logging"
	"github.com/converso-app/backend/internal/models"
	"github.com/converso-app/backend/internal/network"
	syncpkg "github.com/converso-app/backend/internal/sync"
	"github.com/converso-app/backend/internal/sync/remote"
	"github.com/converso-app/backend/internal/uuid"
)

var configPath string

func main() {
	rootCmd := &cobra.Command{
		Use:   "syncd",
		Short: "Converso synchronization daemon",
		Long: `syncd keeps the local Converso database reconciled with the shared
remote record store. Mutations queue durably while offline and drain when
connectivity returns.`,
		SilenceUsage: true,
	}
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c",
		"config.yaml", "path to the configuration file")

	rootCmd.AddCommand(serveCmd(), statusCmd(), retryCmd(), resumeCmd())

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func serveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the sync daemon",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe()
		},
	}
}

func runServe() error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}

	level := logging.LogLevel(cfg.LogLevel)
	if cfg.LogFile != "" {
		logging.InitFile(cfg.LogFile, level)
	} else {
		logging.Init(os.Stdout, level)
	}

	// First run on a fresh install: mint a device identity and persist it,
	// the vector clock key must survive restarts.
	if cfg.DeviceID == "" {
		cfg.DeviceID = uuid.New()
		if err := cfg.Save(configPath); err != nil {
			return fmt.Errorf("failed to persist generated device id: %w", err)
		}
		logging.Info("Generated device identity",
			map[string]interface{}{"device_id": cfg.DeviceID})
	}

	database, err := db.Open(cfg.DataDir)
	if err != nil {
		return err
	}
	defer database.Close()

	if err := db.NewMigrator(database.DB).Up(); err != nil {
		return err
	}

	token, err := loadToken(cfg, database, configPath)
	if err != nil {
		return err
	}

	var recordStore remote.RecordStore
	switch cfg.Remote.Kind {
	case "postgres":
		ps, err := remote.NewPostgresStore(cfg.Remote.Endpoint)
		if err != nil {
			return err
		}
		defer ps.Close()
		recordStore = ps
	default:
		recordStore = remote.NewHTTPStore(remote.HTTPConfig{
			BaseURL: cfg.Remote.Endpoint,
			Token:   token,
		})
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	monitor := network.NewProbeMonitor(cfg.Remote.Endpoint, cfg.Sync.ProbeInterval)
	go monitor.Run(ctx)

	hub := NewWSHub()
	coord := syncpkg.New(database, recordStore, monitor, syncpkg.Config{
		DeviceID:  cfg.DeviceID,
		Interval:  cfg.Sync.Interval,
		BatchSize: cfg.Sync.BatchSize,
		Events:    hub.BroadcastEvent,
	})
	if err := coord.Start(ctx); err != nil {
		return err
	}
	defer coord.Stop()

	if cfg.Remote.FeedURL != "" {
		feed := remote.NewFeed(cfg.Remote.FeedURL, token, coord.OnRemoteChange)
		go feed.Run(ctx)
	}

	server := newAPIServer(cfg.ListenAddr, coord, hub)
	go func() {
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logging.Error("API server failed", err, nil)
			cancel()
		}
	}()
	logging.Info("syncd listening", map[string]interface{}{"addr": cfg.ListenAddr})

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	select {
	case sig := <-sigCh:
		logging.Info("Shutting down", map[string]interface{}{"signal": sig.String()})
	case <-ctx.Done():
	}

	server.Close()
	return nil
}

// loadToken resolves the remote bearer token. A plaintext token in the config
// is encrypted into the database and then scrubbed from the config file;
// later runs decrypt the stored credential with the device key.
func loadToken(cfg *config.Config, database *db.DB, path string) (string, error) {
	store := db.NewStore(database)

	if cfg.Remote.Token != "" {
		encrypted, err := crypto.EncryptToken(cfg.Remote.Token, cfg.DeviceID)
		if err != nil {
			return "", fmt.Errorf("failed to encrypt token: %w", err)
		}
		cred, err := store.GetCredential()
		if err != nil && err != sql.ErrNoRows {
			return "", err
		}
		if cred == nil {
			cred = &models.RemoteCredential{}
		}
		cred.Endpoint = cfg.Remote.Endpoint
		cred.TokenEncrypted = encrypted
		cred.IsEnabled = true
		if err := store.SaveCredential(cred); err != nil {
			return "", err
		}
		if err := config.ScrubToken(path); err != nil {
			return "", err
		}
		return cfg.Remote.Token, nil
	}

	cred, err := store.GetCredential()
	if err == sql.ErrNoRows {
		return "", nil
	}
	if err != nil {
		return "", err
	}
	token, err := crypto.DecryptToken(cred.TokenEncrypted, cfg.DeviceID)
	if err != nil {
		return "", fmt.Errorf("failed to decrypt stored token: %w", err)
	}
	return token, nil
}

func statusCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Print the running daemon's sync status",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(configPath)
			if err != nil {
				return err
			}

			resp, err := http.Get("http://" + cfg.ListenAddr + "/api/status")
			if err != nil {
				return fmt.Errorf("daemon not reachable at %s: %w", cfg.ListenAddr, err)
			}
			defer resp.Body.Close()

			var st syncpkg.Status
			if err := json.NewDecoder(resp.Body).Decode(&st); err != nil {
				return fmt.Errorf("malformed status response: %w", err)
			}

			fmt.Printf("online:    %v\n", st.Online)
			fmt.Printf("state:     %s\n", st.State)
			fmt.Printf("suspended: %v\n", st.Suspended)
			fmt.Printf("pending:   %d\n", st.PendingCount)
			fmt.Printf("failed:    %d\n", st.FailedCount)
			if st.LastSyncAt > 0 {
				fmt.Printf("last sync: %d\n", st.LastSyncAt)
			} else {
				fmt.Println("last sync: never")
			}
			if st.LastError != "" {
				fmt.Printf("last error: %s\n", st.LastError)
			}
			return nil
		},
	}
}

func retryCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "retry",
		Short: "Re-arm failed mutations and trigger an immediate sync",
		RunE: func(cmd *cobra.Command, args []string) error {
			return postAction("/api/retry")
		},
	}
}

func resumeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "resume",
		Short: "Resume sync after re-authentication",
		RunE: func(cmd *cobra.Command, args []string) error {
			return postAction("/api/resume")
		},
	}
}

func postAction(path string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}

	resp, err := http.Post("http://"+cfg.ListenAddr+path, "application/json", nil)
	if err != nil {
		return fmt.Errorf("daemon not reachable at %s: %w", cfg.ListenAddr, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("daemon returned %s", resp.Status)
	}
	fmt.Println("ok")
	return nil
}
