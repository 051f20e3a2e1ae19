// Copyright (c) Qualcomm Technologies, Inc. and/or its subsidiaries.
// SPDX-License-Identifier: BSD-3-Clause-Clear

package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/unisim/upgradectl/internal/db"
	"github.com/unisim/upgradectl/internal/events"
	"github.com/unisim/upgradectl/internal/server"
	"github.com/unisim/upgradectl/pkg/api"
	"github.com/unisim/upgradectl/pkg/persist"
	"github.com/unisim/upgradectl/pkg/runner"
	"github.com/unisim/upgradectl/pkg/session"
)

const shutdownTimeout = 10 * time.Second

func init() {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the upgrade controller daemon",
		Run: func(cmd *cobra.Command, args []string) {
			doServe()
		},
		Args: cobra.NoArgs,
	}
	rootCmd.AddCommand(cmd)
}

func doServe() {
	DieNotNil(config.EnsureStorageDir(), "Failed to create state directory")
	DieNotNil(db.InitializeDatabase(config.GetDBPath()), "Failed to initialize audit database")

	recorder := events.NewAuditRecorder(config.GetDBPath())
	store := session.NewStore(session.WithAuditSink(recorder))
	persister := persist.New(config.GetStorageDir())
	persister.LoadStore(store)

	sup := runner.NewSupervisor(store,
		runner.WithSpeedFactor(config.GetSpeedFactor()),
		runner.WithPollInterval(config.GetPollInterval()))
	orch := api.New(store, sup, api.WithSettleDelay(config.GetSettleDelay()))

	save := func() {
		if err := persister.SaveStore(store); err != nil {
			log.Err(err).Msg("failed to save controller state")
		}
	}

	srv := server.New(orch,
		server.WithEligibility(config.GetEligibilityMode(), config.GetEligibilityFailureThreshold()),
		server.WithResetProbability(config.GetResetProbability()),
		server.WithSaveState(save))

	if recovered := orch.Recover(); recovered > 0 {
		log.Info().Int("sessions", recovered).Msg("recovering in-flight upgrade sessions")
	}

	httpServer := &http.Server{
		Addr:    config.GetListenAddr(),
		Handler: srv.Router(),
	}

	// Flush state periodically so a hard kill loses at most one interval.
	stopSaving := make(chan struct{})
	go func() {
		ticker := time.NewTicker(config.GetSaveInterval())
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				save()
			case <-stopSaving:
				return
			}
		}
	}()

	// Exactly one final save regardless of which shutdown path fires first.
	var finalSave sync.Once
	sigs := make(chan os.Signal, 1)
	signal.Notify(sigs, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		sig := <-sigs
		log.Info().Str("signal", sig.String()).Msg("shutting down")
		finalSave.Do(save)
		ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := httpServer.Shutdown(ctx); err != nil {
			log.Err(err).Msg("failed to shut down HTTP server cleanly")
		}
	}()

	log.Info().Str("addr", httpServer.Addr).Msg("upgrade controller listening")
	err := httpServer.ListenAndServe()
	if err != nil && !errors.Is(err, http.ErrServerClosed) {
		DieNotNil(err, "HTTP server failed")
	}

	close(stopSaving)
	finalSave.Do(save)
	log.Info().Msg("upgrade controller stopped")
}
