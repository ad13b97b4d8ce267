package experiment

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/sync/semaphore"

	"paideia/internal/config"
	"paideia/internal/deliberation"
	"paideia/internal/dialogue"
	"paideia/internal/judge"
	"paideia/internal/llm"
	"paideia/internal/logging"
	"paideia/internal/trajectory"
)

// Runner executes an expanded design through a bounded worker pool. Jobs are
// independent: a failed job records its reason and never halts siblings.
type Runner struct {
	snap    *config.Snapshot
	store   *ResultStore
	factory *llm.Factory
	memory  *dialogue.MemoryStore // nil unless some profile enables memory

	concurrency int64
	jobTimeout  time.Duration

	promptMu sync.Mutex
	prompts  map[string]deliberation.PromptSet

	// Jobs of one memory-enabled cell share a learner identity, so they
	// must not interleave.
	cellMu    sync.Mutex
	cellLocks map[CellRef]*sync.Mutex
}

// RunnerConfig wires a Runner.
type RunnerConfig struct {
	Snapshot *config.Snapshot
	Store    *ResultStore
	Factory  *llm.Factory
	Memory   *dialogue.MemoryStore
	// Concurrency and JobTimeout default from the harness config when zero.
	Concurrency int
	JobTimeout  time.Duration
}

// NewRunner validates wiring common to every job.
func NewRunner(cfg RunnerConfig) (*Runner, error) {
	if cfg.Snapshot == nil {
		return nil, fmt.Errorf("runner requires a configuration snapshot")
	}
	if cfg.Store == nil {
		return nil, fmt.Errorf("runner requires a result store")
	}
	if cfg.Factory == nil {
		return nil, fmt.Errorf("runner requires a client factory")
	}

	concurrency := cfg.Concurrency
	if concurrency <= 0 {
		concurrency = cfg.Snapshot.Harness.Concurrency
	}
	if concurrency <= 0 {
		concurrency = 1
	}
	timeout := cfg.JobTimeout
	if timeout <= 0 {
		timeout = cfg.Snapshot.Harness.JobTimeoutDuration()
	}

	for _, id := range cfg.Snapshot.ProfileIDs() {
		p, _ := cfg.Snapshot.Profile(id)
		if p.Memory && cfg.Memory == nil {
			return nil, fmt.Errorf("profile %q enables memory but no memory store is wired", id)
		}
	}

	return &Runner{
		snap:        cfg.Snapshot,
		store:       cfg.Store,
		factory:     cfg.Factory,
		memory:      cfg.Memory,
		concurrency: int64(concurrency),
		jobTimeout:  timeout,
		prompts:     make(map[string]deliberation.PromptSet),
		cellLocks:   make(map[CellRef]*sync.Mutex),
	}, nil
}

// Run expands the design and executes every job, honoring cached results.
// It returns a report covering all jobs; only design expansion or store
// errors abort the run.
func (r *Runner) Run(ctx context.Context, design Design) (*Report, error) {
	jobs, err := design.Expand(r.snap)
	if err != nil {
		return nil, err
	}

	runID := uuid.NewString()
	log := logging.L(logging.CategoryExperiment).With(zap.String("run_id", runID))
	log.Info("run starting",
		zap.Int("jobs", len(jobs)),
		zap.Int64("concurrency", r.concurrency))

	sem := semaphore.NewWeighted(r.concurrency)
	results := make([]JobResult, len(jobs))
	var wg sync.WaitGroup

	for i, job := range jobs {
		if err := sem.Acquire(ctx, 1); err != nil {
			// Cancelled mid-dispatch: record the remaining jobs as failed
			// so the report still covers the whole design.
			for j := i; j < len(jobs); j++ {
				results[j] = JobResult{Job: jobs[j], Outcome: OutcomeFailed, Err: err.Error()}
			}
			break
		}
		wg.Add(1)
		go func(i int, job Job) {
			defer wg.Done()
			defer sem.Release(1)
			results[i] = r.runJob(ctx, runID, job)
		}(i, job)
	}
	wg.Wait()

	report := &Report{RunID: runID, Results: results}
	for outcome, n := range report.Counts() {
		log.Info("run outcome", zap.String("outcome", string(outcome)), zap.Int("count", n))
	}
	return report, nil
}

// runJob serves one job from cache or executes it, then persists the result.
func (r *Runner) runJob(ctx context.Context, runID string, job Job) JobResult {
	log := logging.L(logging.CategoryExperiment).With(
		zap.String("scenario", job.ScenarioID),
		zap.String("profile", job.ProfileID),
		zap.Int("run_index", job.RunIndex))

	hash, err := r.snap.CellHash(job.ScenarioID, job.ProfileID)
	if err != nil {
		return JobResult{Job: job, Outcome: OutcomeFailed, Err: err.Error()}
	}

	if cached, ok, err := r.store.Lookup(job, hash); err != nil {
		log.Warn("result cache lookup failed", zap.Error(err))
	} else if ok {
		log.Debug("job served from cache")
		cached.Cached = true
		if err := r.store.Save(runID, *cached); err != nil {
			log.Warn("failed to re-key cached result", zap.Error(err))
		}
		return *cached
	}

	profile, _ := r.snap.Profile(job.ProfileID)
	if profile.Memory {
		lock := r.cellLock(CellRef{ScenarioID: job.ScenarioID, ProfileID: job.ProfileID})
		lock.Lock()
		defer lock.Unlock()
	}

	jobCtx, cancel := context.WithTimeout(ctx, r.jobTimeout)
	defer cancel()

	result := r.executeJob(jobCtx, job, hash)
	if err := r.store.Save(runID, result); err != nil {
		log.Warn("failed to persist result", zap.Error(err))
	}
	log.Debug("job complete", zap.String("outcome", string(result.Outcome)))
	return result
}

// executeJob drives the scenario, scores the transcript, and classifies the
// deliberation trajectories. Outcome precedence: timeout over failure over
// judge failure over round-limit exhaustion.
func (r *Runner) executeJob(ctx context.Context, job Job, hash string) JobResult {
	result := JobResult{Job: job, CellHash: hash}

	scenario, _ := r.snap.Scenario(job.ScenarioID)
	profile, _ := r.snap.Profile(job.ProfileID)

	driver, scorer, err := r.buildJob(ctx, scenario, profile)
	if err != nil {
		result.Outcome = OutcomeFailed
		result.Err = err.Error()
		return result
	}

	transcript, err := driver.Run(ctx)
	result.Transcript = transcript
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			result.Outcome = OutcomeTimeout
			result.Err = fmt.Sprintf("job exceeded %s", r.jobTimeout)
		} else {
			result.Outcome = OutcomeFailed
			result.Err = err.Error()
		}
		return result
	}

	delivered := 0
	exhausted := false
	for _, turn := range transcript.Turns {
		result.TurnClasses = append(result.TurnClasses, trajectory.Classify(turn.Trace))
		if !turn.Failed {
			delivered++
			if turn.Trace != nil && turn.Trace.Status == deliberation.StatusRoundLimitExhausted {
				exhausted = true
			}
		}
	}
	if delivered == 0 {
		result.Outcome = OutcomeFailed
		result.Err = "every turn failed"
		return result
	}

	result.Score = scorer.Score(ctx, transcript, job.RunIndex)
	switch {
	case result.Score.JudgeFailure && errors.Is(ctx.Err(), context.DeadlineExceeded):
		// The scorer reports any exhausted attempt as a judge failure, but a
		// scoring phase killed by the job deadline is a timeout.
		result.Outcome = OutcomeTimeout
		result.Err = fmt.Sprintf("job exceeded %s", r.jobTimeout)
	case result.Score.JudgeFailure:
		result.Outcome = OutcomeJudgeFailure
		result.Err = result.Score.FailReason
	case exhausted:
		result.Outcome = OutcomeRoundLimit
	default:
		result.Outcome = OutcomeSucceeded
	}
	return result
}

// buildJob assembles the per-job pipeline: role clients, deliberation
// engine, dialogue driver, and scorer, all bound to the job's profile.
func (r *Runner) buildJob(ctx context.Context, scenario config.Scenario, profile config.Profile) (*dialogue.Driver, *judge.Scorer, error) {
	roles, err := llm.NewRoleSet(ctx, r.factory, profile)
	if err != nil {
		return nil, nil, err
	}
	prompts, err := r.promptSet(profile.PromptSet)
	if err != nil {
		return nil, nil, err
	}

	engine, err := deliberation.NewEngine(deliberation.EngineConfig{
		Profile: profile,
		Rubric:  r.snap.Rubric,
		Roles:   roles,
		Prompts: prompts,
	})
	if err != nil {
		return nil, nil, err
	}

	driverCfg := dialogue.DriverConfig{
		Scenario: scenario,
		Profile:  profile,
		Prompts:  prompts,
		Engine:   engine,
	}
	if profile.Memory {
		driverCfg.Memory = r.memory
	}
	switch profile.LearnerArch {
	case config.LearnerSingle:
		driverCfg.LearnerClient = roles.Primary(config.RoleLearner)
	case config.LearnerDeliberative:
		learnerEngine, err := r.buildLearnerEngine(profile, roles, prompts)
		if err != nil {
			return nil, nil, err
		}
		driverCfg.LearnerEngine = learnerEngine
	}

	driver, err := dialogue.NewDriver(driverCfg)
	if err != nil {
		return nil, nil, err
	}

	judgeClient := roles.Primary(config.RoleJudge)
	if judgeClient == nil {
		return nil, nil, fmt.Errorf("profile %q binds no judge model", profile.ID)
	}
	scorer := judge.NewScorer(r.snap.Rubric, judgeClient, roles.Fallback(config.RoleJudge))
	return driver, scorer, nil
}

// buildLearnerEngine gives a deliberative counterpart the same critique loop
// as the tutor, with the learner model on both sides.
func (r *Runner) buildLearnerEngine(profile config.Profile, roles *llm.RoleSet, prompts deliberation.PromptSet) (*deliberation.Engine, error) {
	learner := roles.Primary(config.RoleLearner)
	if learner == nil {
		return nil, fmt.Errorf("profile %q binds no learner model", profile.ID)
	}
	derived := profile
	derived.ID = profile.ID + "/learner"
	derived.Architecture = config.ArchMulti
	derived.Models = map[string]string{
		config.RoleEgo:      profile.Models[config.RoleLearner],
		config.RoleSuperego: profile.Models[config.RoleLearner],
	}
	derivedRoles := llm.RoleSetFromClients(map[string]llm.Client{
		config.RoleEgo:      learner,
		config.RoleSuperego: learner,
	}, nil)
	return deliberation.NewEngine(deliberation.EngineConfig{
		Profile: derived,
		Rubric:  r.snap.Rubric,
		Roles:   derivedRoles,
		Prompts: prompts,
	})
}

func (r *Runner) promptSet(path string) (deliberation.PromptSet, error) {
	r.promptMu.Lock()
	defer r.promptMu.Unlock()
	if ps, ok := r.prompts[path]; ok {
		return ps, nil
	}
	ps := deliberation.DefaultPromptSet()
	if path != "" {
		var err error
		ps, err = deliberation.LoadPromptSet(path)
		if err != nil {
			return deliberation.PromptSet{}, err
		}
	}
	r.prompts[path] = ps
	return ps, nil
}

func (r *Runner) cellLock(cell CellRef) *sync.Mutex {
	r.cellMu.Lock()
	defer r.cellMu.Unlock()
	l, ok := r.cellLocks[cell]
	if !ok {
		l = &sync.Mutex{}
		r.cellLocks[cell] = l
	}
	return l
}
