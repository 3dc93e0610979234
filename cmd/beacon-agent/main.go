package main

import (
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/google/uuid"

	"github.com/outfleet/beacon/internal/agent"
	"github.com/outfleet/beacon/internal/command"
	"github.com/outfleet/beacon/internal/telemetry"
)

var AppVersion string

func main() {
	InitConfig()

	slog.Info("Beacon Agent", "version", AppVersion)

	if !config.Agent.Enabled {
		slog.Warn("Agent is disabled in configuration, exiting")
		return
	}

	agentID := config.Agent.ID
	if agentID == "" {
		agentID = uuid.New().String()
		slog.Info("No agent id configured, generated one", "agent_id", agentID)
	}

	manager := agent.NewManager(agent.Config{
		ControllerURL:     config.Controller.Url,
		Secret:            config.Controller.Secret,
		AgentID:           agentID,
		DisplayName:       config.Agent.DisplayName,
		Address:           config.Agent.Address,
		Capabilities:      config.Agent.Capabilities,
		Interval:          config.Agent.Interval,
		HeartbeatInterval: config.Agent.HeartbeatInterval,
		RetryInterval:     config.Agent.RetryInterval,
		MaxRetries:        config.Agent.MaxRetries,
	}, baselineCollector(), logApplier(), nil)

	manager.Start()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-quit:
		slog.Info("Received shutdown signal", "signal", sig)
		manager.Stop()
	case <-manager.Done():
		if err := manager.Err(); err != nil {
			slog.Error("Connection manager gave up", "error", err)
			os.Exit(1)
		}
	}

	slog.Info("Shutdown complete")
}

// baselineCollector reports an empty batch with liveness status fields.
// Real telemetry producers are wired here by the embedding deployment.
func baselineCollector() agent.Collector {
	started := time.Now()
	return agent.CollectorFunc(func() (telemetry.Batch, error) {
		return telemetry.Batch{
			Status: map[string]any{
				"monitoring_enabled": false,
				"uptime_seconds":     int(time.Since(started).Seconds()),
			},
		}, nil
	})
}

// logApplier records delivered commands without executing anything.
func logApplier() agent.Applier {
	return agent.ApplierFunc(func(cmd command.Command) error {
		slog.Info("Command received",
			"command_id", cmd.ID,
			"enqueued_at", cmd.EnqueuedAt,
			"payload", string(cmd.Payload))
		return nil
	})
}
