// Package controlplane implements C11's gin HTTP surface: GET /health,
// POST /run, POST /submit, in the services/*/main.go
// gin.Default()+handler style.
package controlplane

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.temporal.io/sdk/client"
	"go.uber.org/zap"

	"github.com/greenfleet-dev/carbon-scheduler/internal/bucket"
	"github.com/greenfleet-dev/carbon-scheduler/internal/catalog"
	"github.com/greenfleet-dev/carbon-scheduler/internal/config"
	"github.com/greenfleet-dev/carbon-scheduler/internal/deployer"
	"github.com/greenfleet-dev/carbon-scheduler/internal/metrics"
	"github.com/greenfleet-dev/carbon-scheduler/internal/model"
	"github.com/greenfleet-dev/carbon-scheduler/internal/normalizer"
	"github.com/greenfleet-dev/carbon-scheduler/internal/oracle"
	"github.com/greenfleet-dev/carbon-scheduler/internal/plancache"
	"github.com/greenfleet-dev/carbon-scheduler/internal/planner"
	"github.com/greenfleet-dev/carbon-scheduler/internal/registry"
	"github.com/greenfleet-dev/carbon-scheduler/internal/scorer"
	"github.com/greenfleet-dev/carbon-scheduler/internal/telemetry"
	wf "github.com/greenfleet-dev/carbon-scheduler/internal/workflow"
)

// Server holds every dependency the control-plane handlers need.
type Server struct {
	cfg      *config.Config
	store    *bucket.Store
	temporal client.Client
	sink     *telemetry.Sink
	logger   *zap.Logger

	normalizer *normalizer.Normalizer
	ranker     planner.Ranker
	deployer   *deployer.Orchestrator

	lastCycle *CycleStatus
}

// CycleStatus is the last observed planning-cycle summary, reported by
// GET /health.
type CycleStatus struct {
	AtUTC   time.Time `json:"at_utc"`
	Success bool      `json:"success"`
	Detail  string    `json:"detail,omitempty"`
}

// New constructs a Server.
func New(cfg *config.Config, store *bucket.Store, temporalClient client.Client, norm *normalizer.Normalizer, ranker planner.Ranker, dep *deployer.Orchestrator, sink *telemetry.Sink, logger *zap.Logger) *Server {
	return &Server{cfg: cfg, store: store, temporal: temporalClient, normalizer: norm, ranker: ranker, deployer: dep, sink: sink, logger: logger}
}

// Router builds the gin engine.
func (s *Server) Router() *gin.Engine {
	r := gin.Default()
	r.GET("/health", s.handleHealth)
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))
	r.POST("/run", s.handleRun)
	r.POST("/submit", s.handleSubmit)
	return r
}

type healthResponse struct {
	Status          string       `json:"status"`
	MissingSecrets  []string     `json:"missing_secrets,omitempty"`
	BucketReachable bool         `json:"bucket_reachable"`
	LastCycle       *CycleStatus `json:"last_cycle,omitempty"`
}

func (s *Server) handleHealth(c *gin.Context) {
	missing := s.cfg.RequireSecrets()
	reachable := s.store.Ping(c.Request.Context()) == nil

	resp := healthResponse{
		Status:          "ok",
		MissingSecrets:  missing,
		BucketReachable: reachable,
		LastCycle:       s.lastCycle,
	}
	if len(missing) > 0 || !reachable {
		resp.Status = "unhealthy"
		c.JSON(http.StatusServiceUnavailable, resp)
		return
	}
	c.JSON(http.StatusOK, resp)
}

type functionStatus struct {
	FunctionID      string                          `json:"function_id"`
	Stage           string                          `json:"stage"`
	Reason          string                          `json:"reason,omitempty"`
	Recommendations []model.Recommendation          `json:"recommendations,omitempty"`
	Deployment      map[string]model.DeploymentInfo `json:"deployment,omitempty"`
}

type runSummary struct {
	StartedAtUTC time.Time        `json:"started_at_utc"`
	Functions    []functionStatus `json:"functions"`
}

// handleRun starts a Temporal planning-cycle workflow for every registered
// function and waits synchronously for its result.
func (s *Server) handleRun(c *gin.Context) {
	ctx := c.Request.Context()
	now := time.Now().UTC()
	started := time.Now()
	defer func() { metrics.PlanningCycleDuration.Observe(time.Since(started).Seconds()) }()

	workflowID := "cycle-" + now.Format("20060102T150405Z")
	run, err := s.temporal.ExecuteWorkflow(ctx, client.StartWorkflowOptions{
		ID:                       workflowID,
		TaskQueue:                s.taskQueue(),
		WorkflowExecutionTimeout: wf.CycleTimeout,
	}, wf.CycleWorkflowName, wf.CycleRequest{Now: now, HorizonHours: s.cfg.Planner.HorizonHours})
	if err != nil {
		s.lastCycle = &CycleStatus{AtUTC: now, Success: false, Detail: err.Error()}
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	var result wf.CycleResult
	if err := run.Get(ctx, &result); err != nil {
		s.lastCycle = &CycleStatus{AtUTC: now, Success: false, Detail: err.Error()}
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	summary := runSummary{StartedAtUTC: now}
	for _, r := range result.Results {
		summary.Functions = append(summary.Functions, functionStatus{
			FunctionID:      r.FunctionID,
			Stage:           string(r.Stage),
			Reason:          r.Reason,
			Recommendations: r.Recommendations,
			Deployment:      r.Deployment,
		})
	}
	s.lastCycle = &CycleStatus{AtUTC: now, Success: true}
	c.JSON(http.StatusOK, summary)
}

func (s *Server) taskQueue() string {
	if s.cfg.Temporal.TaskQueue != "" {
		return s.cfg.Temporal.TaskQueue
	}
	return wf.TaskQueue
}

// submitRequest is the ad-hoc one-shot body accepted by POST /submit.
type submitRequest struct {
	Code          string   `json:"code" binding:"required"`
	DeadlineUTC   string   `json:"deadline_utc"`
	MemoryMB      int64    `json:"memory_mb" binding:"required"`
	Requirements  []string `json:"requirements"`
	AllowedRegions []string `json:"allowed_regions" binding:"required"`
	SourceRegion  string   `json:"source_region" binding:"required"`
}

type submitResponse struct {
	FunctionID   string                  `json:"function_id"`
	Schedule     model.Schedule          `json:"schedule"`
}

// handleSubmit runs a single-function planning+deployment cycle in
// process, bypassing Temporal: the ad-hoc path is meant for synchronous,
// low-latency one-shot submissions, not the periodic
// full-registry cycle.
func (s *Server) handleSubmit(c *gin.Context) {
	var req submitRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	now := time.Now().UTC()
	deadlineHours := 24.0
	if req.DeadlineUTC != "" {
		deadline, err := time.Parse(time.RFC3339, req.DeadlineUTC)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "deadline_utc must be RFC3339"})
			return
		}
		deadlineHours = deadline.Sub(now).Hours()
		if deadlineHours <= 0 {
			c.JSON(http.StatusBadRequest, gin.H{"error": "deadline_utc must be in the future"})
			return
		}
	}

	functionID := "adhoc-" + uuid.NewString()
	meta := model.FunctionMetadata{
		FunctionID:     functionID,
		RuntimeMS:      1000,
		MemoryMiB:      req.MemoryMB,
		VCPUs:          1,
		SourceRegion:   req.SourceRegion,
		AllowedRegions: req.AllowedRegions,
		Weights:        model.Weights{Carbon: 1.0 / 3, Cost: 1.0 / 3, Latency: 1.0 / 3},
		DeadlineHours:  deadlineHours,
		Artifact:       &model.Artifact{SourceText: req.Code, Dependencies: req.Requirements, Extension: "py"},
	}

	ctx := c.Request.Context()
	cat, err := catalog.Load(ctx, s.store)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	desc := registry.Descriptor{FunctionID: functionID, Structured: &meta}
	normalized, err := s.normalizer.Normalize(ctx, desc)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	forecastBody, err := s.store.Get(ctx, bucket.CarbonForecastsKey)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "no carbon forecast available: " + err.Error()})
		return
	}
	var cf model.CarbonForecast
	if err := json.Unmarshal(forecastBody, &cf); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	horizonStart := now.Truncate(time.Hour)
	candidates := scorer.Candidates(*normalized, cat, cf, horizonStart, s.cfg.Planner.HorizonHours, scorer.Options{
		DefaultCPUUtil: s.cfg.Planner.DefaultCPUUtil,
		DefaultGPUUtil: s.cfg.Planner.DefaultGPUUtil,
	})
	if len(candidates) == 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "no viable (region, hour) candidates for this submission"})
		return
	}

	ranked, rationales, err := s.ranker.Rank(ctx, *normalized, candidates)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	sched, err := planner.BuildSchedule(*normalized, horizonStart, now, cf.Mode, ranked, rationales, nil)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	if s.deployer != nil {
		deployment, events := s.deployer.Reconcile(ctx, *normalized, sched)
		sched.Deployment = deployment
		for _, ev := range events {
			if !ev.Success {
				s.sink.Emit(telemetry.Event{Type: telemetry.EventDeployFailed, FunctionID: functionID, Region: ev.Region, Detail: ev.Reason})
			}
		}
	}

	cache := plancache.New(s.store, time.Duration(s.cfg.Planner.CacheMaxAgeDays)*24*time.Hour)
	if err := cache.Store(ctx, sched); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	c.JSON(http.StatusOK, submitResponse{FunctionID: functionID, Schedule: sched})
}
