package main

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"modeldrop/internal/config"
	"modeldrop/internal/server"
	"modeldrop/internal/storage"
)

func checkConfigCmd() *cobra.Command {
	var ping bool

	cmd := &cobra.Command{
		Use:   "check-config",
		Short: "Validate the MD_* environment and print the effective settings",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load()
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "addr:            %s\n", cfg.Addr)
			fmt.Fprintf(out, "provider:        %s\n", cfg.Storage.Provider)
			fmt.Fprintf(out, "bucket:          %s\n", cfg.Storage.Bucket)
			if cfg.Storage.Endpoint != "" {
				fmt.Fprintf(out, "endpoint:        %s\n", cfg.Storage.Endpoint)
			}
			fmt.Fprintf(out, "key prefix:      %q\n", cfg.KeyPrefix)
			fmt.Fprintf(out, "key strategy:    %s\n", cfg.KeyStrategy)
			fmt.Fprintf(out, "max upload:      %d bytes\n", cfg.MaxUploadBytes)
			fmt.Fprintf(out, "signed urls:     %t (expiry %s)\n", cfg.SignURLs, cfg.SignedURLExpiry)
			fmt.Fprintf(out, "allowed origins: %s\n", strings.Join(cfg.AllowedOrigins, ", "))
			fmt.Fprintf(out, "model types:     %s\n", strings.Join(server.AllowedModelTypes(), ", "))
			if cfg.RedisURL != "" {
				fmt.Fprintf(out, "redis channel:   %s\n", cfg.RedisChannel)
			}

			if ping {
				ctx, cancel := context.WithTimeout(cmd.Context(), 10*time.Second)
				defer cancel()
				store, err := storage.New(ctx, cfg.Storage)
				if err != nil {
					return err
				}
				if err := store.Ping(ctx); err != nil {
					return fmt.Errorf("storage ping: %w", err)
				}
				fmt.Fprintln(out, "storage:         reachable")
			}

			fmt.Fprintln(out, "configuration ok")
			return nil
		},
	}

	cmd.Flags().BoolVar(&ping, "ping", false, "also connect to the object store")
	return cmd
}
