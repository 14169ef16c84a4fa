package agent

import (
	"finwatch/internal/config"
	"finwatch/internal/runtime/supervisor"
	"finwatch/internal/task/scheduler"
)

// ---- Config ----

type Config = config.Config

type ConfigManager = config.ConfigManager

// AgentConfigRaw is the raw per-agent config blob inside config.Config.
// It lives in the config package to keep the schema centralized.
type AgentConfigRaw = config.AgentConfigRaw

// ---- Runtime ----

type Supervisor = supervisor.Supervisor

type SupervisorOption = supervisor.SupervisorOption

var NewSupervisor = supervisor.NewSupervisor

var WithLogger = supervisor.WithLogger

var WithCancelOnError = supervisor.WithCancelOnError

// ---- Scheduler option types ----

type TaskOptions = scheduler.TaskOptions

type Snapshot = scheduler.Snapshot

type OverlapPolicy = scheduler.OverlapPolicy

const (
	OverlapAllow         = scheduler.OverlapAllow
	OverlapSkipIfRunning = scheduler.OverlapSkipIfRunning
)
