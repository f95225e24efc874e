package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"manas/internal/config"
	"manas/internal/orchestrator"
	"manas/internal/store"
	"manas/internal/types"
)

var (
	runTimeout time.Duration
	runRecord  bool
)

func init() {
	runCmd.Flags().DurationVar(&runTimeout, "timeout", 10*time.Minute, "abort the plan after this long")
	runCmd.Flags().BoolVar(&runRecord, "record", false, "record the run as a session in the database")
	rootCmd.AddCommand(runCmd)
}

// planFile is the on-disk shape of an orchestration plan. Routing rules
// and fallback handlers are code, not data; they are wired by embedders.
type planFile struct {
	ID       string `yaml:"id" json:"id"`
	Strategy string `yaml:"strategy" json:"strategy"`

	Coordination struct {
		TolerateFailures bool   `yaml:"tolerate_failures" json:"tolerate_failures"`
		MaxFailures      int    `yaml:"max_failures" json:"max_failures"`
		SwarmMerge       string `yaml:"swarm_merge" json:"swarm_merge"`
	} `yaml:"coordination" json:"coordination"`

	Fallback struct {
		EscalateToHuman bool `yaml:"escalate_to_human" json:"escalate_to_human"`
	} `yaml:"fallback" json:"fallback"`

	Slots []struct {
		ID           string   `yaml:"id" json:"id"`
		Role         string   `yaml:"role" json:"role"`
		Capabilities []string `yaml:"capabilities" json:"capabilities"`
		MinInstances int      `yaml:"min_instances" json:"min_instances"`
		MaxInstances int      `yaml:"max_instances" json:"max_instances"`
		AutoScale    bool     `yaml:"auto_scale" json:"auto_scale"`
	} `yaml:"slots" json:"slots"`

	Tasks []struct {
		ID            string   `yaml:"id" json:"id"`
		Type          string   `yaml:"type" json:"type"`
		Input         string   `yaml:"input" json:"input"`
		Priority      string   `yaml:"priority" json:"priority"`
		DeadlineMs    int64    `yaml:"deadline_ms" json:"deadline_ms"`
		DependsOn     []string `yaml:"depends_on" json:"depends_on"`
		MaxRetries    int      `yaml:"max_retries" json:"max_retries"`
		PreferredSlot string   `yaml:"preferred_slot" json:"preferred_slot"`
	} `yaml:"tasks" json:"tasks"`
}

func loadPlanFile(path string) (*planFile, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read plan: %w", err)
	}
	var pf planFile
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		if err := yaml.Unmarshal(data, &pf); err != nil {
			return nil, fmt.Errorf("invalid yaml plan %s: %w", path, err)
		}
	default:
		if err := json.Unmarshal(data, &pf); err != nil {
			return nil, fmt.Errorf("invalid json plan %s: %w", path, err)
		}
	}
	if len(pf.Slots) == 0 {
		return nil, fmt.Errorf("plan %s declares no agent slots", path)
	}
	if len(pf.Tasks) == 0 {
		return nil, fmt.Errorf("plan %s declares no tasks", path)
	}
	return &pf, nil
}

func (pf *planFile) toPlan(defaultStrategy string) types.Plan {
	strategy := pf.Strategy
	if strategy == "" {
		strategy = defaultStrategy
	}
	plan := types.Plan{
		ID:       pf.ID,
		Strategy: types.Strategy(strategy),
		Coordination: types.Coordination{
			TolerateFailures: pf.Coordination.TolerateFailures,
			MaxFailures:      pf.Coordination.MaxFailures,
			SwarmMerge:       types.SwarmMergePolicy(pf.Coordination.SwarmMerge),
		},
		Fallback: types.Fallback{EscalateToHuman: pf.Fallback.EscalateToHuman},
	}
	for _, s := range pf.Slots {
		plan.Slots = append(plan.Slots, types.AgentSlot{
			ID:           s.ID,
			Role:         s.Role,
			Capabilities: s.Capabilities,
			MinInstances: s.MinInstances,
			MaxInstances: s.MaxInstances,
			AutoScale:    s.AutoScale,
		})
	}
	return plan
}

func (pf *planFile) toTasks() []*types.Task {
	tasks := make([]*types.Task, 0, len(pf.Tasks))
	for _, t := range pf.Tasks {
		tasks = append(tasks, &types.Task{
			ID:            t.ID,
			Type:          t.Type,
			Input:         []byte(t.Input),
			Priority:      types.ParsePriority(t.Priority),
			Deadline:      t.DeadlineMs,
			DependsOn:     t.DependsOn,
			MaxRetries:    t.MaxRetries,
			PreferredSlot: t.PreferredSlot,
		})
	}
	return tasks
}

// localExecutor stands in for a provider-backed agent: it acknowledges
// the task with its own input so plan structure, ordering, and routing
// can be validated end to end.
func localExecutor(ctx context.Context, inst *types.AgentInstance, task *types.Task) (*types.TaskResult, error) {
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	default:
	}
	now := time.Now().UnixMilli()
	return &types.TaskResult{
		Success: true,
		Output:  task.Input,
		Metrics: &types.TaskMetrics{StartEpochMs: now, EndEpochMs: now},
	}, nil
}

var runCmd = &cobra.Command{
	Use:   "run <plan-file>",
	Short: "Execute an orchestration plan with the local executor",
	Long: `run loads a YAML or JSON plan file (agent slots, dispatch strategy,
coordination policy, tasks), schedules it, and waits for the plan to
finish. Tasks execute on the local echo executor; real providers are
wired programmatically by embedders.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		pf, err := loadPlanFile(args[0])
		if err != nil {
			return err
		}

		done := make(chan types.Event, 1)
		handler := func(ev types.Event) {
			switch ev.Kind {
			case types.EventTaskAssigned:
				fmt.Printf("  → %s on %s\n", ev.TaskID, ev.InstanceID)
			case types.EventTaskCompleted:
				fmt.Printf("  ✓ %s\n", ev.TaskID)
			case types.EventTaskFailed:
				fmt.Printf("  ✗ %s: %s\n", ev.TaskID, ev.Message)
			case types.EventTaskRetry:
				fmt.Printf("  ↻ %s: %s\n", ev.TaskID, ev.Message)
			case types.EventEscalation:
				fmt.Printf("  ⚠ escalation for %s: %s\n", ev.TaskID, ev.Message)
			case types.EventPlanComplete, types.EventPlanFailed:
				select {
				case done <- ev:
				default:
				}
			}
		}

		orch, err := orchestrator.New(pf.toPlan(cfg.Scheduler.Strategy), localExecutor, handler)
		if err != nil {
			return err
		}
		if _, err := orch.SubmitBatch(pf.toTasks()); err != nil {
			return err
		}

		fmt.Printf("Running plan %s (%d tasks, %d slots)\n", pf.ID, len(pf.Tasks), len(pf.Slots))
		if err := orch.Start(); err != nil {
			return err
		}

		var final types.Event
		select {
		case final = <-done:
		case <-time.After(runTimeout):
			orch.Stop()
			return fmt.Errorf("plan did not finish within %s", runTimeout)
		case <-cmd.Context().Done():
			orch.Stop()
			return cmd.Context().Err()
		}
		orch.Stop()

		stats := orch.GetStats()
		fmt.Printf("\nPlan %s: %d completed, %d failed, %d tasks total\n",
			final.Kind, stats.Completed, stats.Failed, stats.TotalTasks)
		if stats.AverageLatency > 0 {
			fmt.Printf("Average latency: %.0fms\n", stats.AverageLatency)
		}

		if runRecord {
			if err := recordRun(cfg, pf, orch); err != nil {
				return fmt.Errorf("failed to record run: %w", err)
			}
		}
		if final.Kind == types.EventPlanFailed {
			return fmt.Errorf("plan failed: %s", final.Message)
		}
		return nil
	},
}

// recordRun persists the run as a session so later consolidation cycles
// can mine it.
func recordRun(cfg *config.Config, pf *planFile, orch *orchestrator.Orchestrator) error {
	st, err := openStore(cfg)
	if err != nil {
		return err
	}
	defer st.Close()

	sess := &store.Session{Project: cfg.Svapna.Project, Title: "plan " + pf.ID}
	if err := st.InsertSession(sess); err != nil {
		return err
	}
	for i, spec := range pf.Tasks {
		task, ok := orch.GetTask(spec.ID)
		if !ok {
			continue
		}
		call := store.ToolCall{Name: spec.Type, IsError: task.Status != types.TaskCompleted}
		if task.Result != nil {
			call.Output = string(task.Result.Output)
		}
		turn := &store.Turn{
			SessionID:  sess.ID,
			TurnNumber: i + 1,
			Content:    "task " + spec.ID + ": " + string(task.Status),
			ToolCalls:  []store.ToolCall{call},
		}
		if err := st.AppendTurn(turn); err != nil {
			return err
		}
	}
	return st.TouchSession(sess.ID, 0, 0)
}
