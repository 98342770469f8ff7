package cron

import (
	"context"
	"os"
	"sync"
	"time"

	"github.com/caarlos0/env/v6"
	cronv3 "github.com/robfig/cron/v3"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	"k8s.io/client-go/kubernetes"
	"k8s.io/client-go/tools/leaderelection"
	"k8s.io/client-go/tools/leaderelection/resourcelock"

	"github.com/linkshield/cloaker/config"
	cron_config "github.com/linkshield/cloaker/internal/cron/config"
	"github.com/linkshield/cloaker/internal/logger"
	"github.com/linkshield/cloaker/internal/repository"
	"github.com/linkshield/cloaker/internal/tracing"
	"github.com/linkshield/cloaker/internal/utils"
	"github.com/linkshield/cloaker/services/archive"
	"github.com/linkshield/cloaker/services/domain"
)

// CONSTANTS
const (
	// GroupCloaker is the group for cloaker related jobs
	GroupCloaker = "cloaker"

	// LeaseDuration is how long a lease lasts before needing renewal
	LeaseDuration = 15 * time.Second
	// RenewDeadline is how long a leader has to renew its lease
	RenewDeadline = 10 * time.Second
	// RetryPeriod is how long to wait between leadership attempts
	RetryPeriod = 2 * time.Second

	// domainRecheckBatch bounds one recheck sweep
	domainRecheckBatch = 100
)

// LOCK MANAGEMENT
var jobLocks = struct {
	sync.Mutex
	locks map[string]*sync.Mutex
}{
	locks: map[string]*sync.Mutex{
		GroupCloaker: new(sync.Mutex),
	},
}

type CronManager struct {
	cfg      *config.Config
	log      logger.Logger
	cron     *cronv3.Cron
	k8s      kubernetes.Interface
	stopCh   chan struct{}
	jobIDs   map[string]cronv3.EntryID
	domains  *domain.Service
	archiver *archive.Service
	repos    *repository.Repositories
}

func NewCronManager(cfg *config.Config, log logger.Logger, k8s kubernetes.Interface, domains *domain.Service, archiver *archive.Service, repos *repository.Repositories) *CronManager {
	return &CronManager{
		cfg:      cfg,
		log:      log,
		k8s:      k8s,
		stopCh:   make(chan struct{}),
		jobIDs:   make(map[string]cronv3.EntryID),
		domains:  domains,
		archiver: archiver,
		repos:    repos,
	}
}

// Start initializes and starts the cron manager with leader election
// If k8s is nil, it will start in local mode without leader election
func (cm *CronManager) Start(podName, namespace string) error {
	// If k8s client is nil or we're in local development, start in local mode
	if cm.k8s == nil || os.Getenv("LOCAL_DEV") == "true" {
		cm.log.Info("Starting cron manager in local mode")
		cm.StartCron()
		return nil
	}

	// Create the leader election lock
	lock := &resourcelock.LeaseLock{
		LeaseMeta: metav1.ObjectMeta{
			Name:      "cloaker-cron-leader",
			Namespace: namespace,
		},
		Client: cm.k8s.CoordinationV1(),
		LockConfig: resourcelock.ResourceLockConfig{
			Identity: podName,
		},
	}

	// Channel to track leader election errors
	errCh := make(chan error, 1)

	// Start leader election
	go func() {
		le, err := leaderelection.NewLeaderElector(leaderelection.LeaderElectionConfig{
			Lock:            lock,
			ReleaseOnCancel: true,
			LeaseDuration:   LeaseDuration,
			RenewDeadline:   RenewDeadline,
			RetryPeriod:     RetryPeriod,
			Callbacks: leaderelection.LeaderCallbacks{
				OnStartedLeading: func(ctx context.Context) {
					cm.StartCron()
				},
				OnStoppedLeading: func() {
					cm.log.Info("Leader lost - stopping crons")
					cm.Stop()
				},
				OnNewLeader: func(identity string) {
					cm.log.Infof("New leader elected: %s", identity)
				},
			},
		})
		if err != nil {
			errCh <- err
			return
		}

		ctx := context.Background()
		le.Run(ctx)
	}()

	// Wait briefly to see if leader election fails immediately
	select {
	case err := <-errCh:
		cm.log.Warnf("Leader election failed, falling back to local mode: %v", err)
		cm.StartCron()
	case <-time.After(5 * time.Second):
		// Leader election seems to be working, continue normally
	}

	return nil
}

// Stop gracefully stops the cron manager
func (cm *CronManager) Stop() {
	if cm.cron != nil {
		cm.log.Info("Stopping cron manager")
		ctx := cm.cron.Stop()
		// Wait for jobs to finish
		<-ctx.Done()
	}
	close(cm.stopCh)
}

// registerJobs adds all cron jobs to the scheduler
func (cm *CronManager) registerJobs(c *cronv3.Cron) {
	// Load cron config from environment variables
	var cronConfig cron_config.Config
	if err := env.Parse(&cronConfig); err != nil {
		cm.log.Fatalf("Failed to parse cron config from environment: %v", err)
	}

	// Register heartbeat job
	if cronConfig.CronScheduleHeartbeat != "" {
		podName := os.Getenv("POD_NAME")
		if podName == "" {
			podName = "local"
		}
		id, err := c.AddFunc(cronConfig.CronScheduleHeartbeat, func() {
			defer tracing.RecoverAndLogToJaeger(cm.log)
			cm.log.Infof("Cron heartbeat from pod: %s", podName)
		})
		if err != nil {
			cm.log.Fatalf("Could not add heartbeat cron job: %v", err)
		}
		cm.jobIDs["heartbeat"] = id
		cm.log.Infof("Registered heartbeat job with schedule: %s", cronConfig.CronScheduleHeartbeat)
	}

	// Domain verification recheck job
	if cronConfig.CronScheduleDomainRecheck != "" && cm.domains != nil {
		id, err := c.AddFunc(cronConfig.CronScheduleDomainRecheck, func() {
			defer tracing.RecoverAndLogToJaeger(cm.log)
			jobLocks.locks[GroupCloaker].Lock()
			defer jobLocks.locks[GroupCloaker].Unlock()
			cm.recheckDomains()
		})
		if err != nil {
			cm.log.Fatalf("Could not add domain recheck cron job: %v", err)
		}
		cm.jobIDs["domain_recheck"] = id
		cm.log.Infof("Registered domain recheck job with schedule: %s", cronConfig.CronScheduleDomainRecheck)
	}

	// Visitor archive job
	if cronConfig.CronScheduleVisitorArchive != "" && cm.archiver != nil {
		id, err := c.AddFunc(cronConfig.CronScheduleVisitorArchive, func() {
			defer tracing.RecoverAndLogToJaeger(cm.log)
			jobLocks.locks[GroupCloaker].Lock()
			defer jobLocks.locks[GroupCloaker].Unlock()
			cm.archiveVisitors()
		})
		if err != nil {
			cm.log.Fatalf("Could not add visitor archive cron job: %v", err)
		}
		cm.jobIDs["visitor_archive"] = id
		cm.log.Infof("Registered visitor archive job with schedule: %s", cronConfig.CronScheduleVisitorArchive)
	}
}

// StartCron initializes and starts the cron scheduler
func (cm *CronManager) StartCron() {
	cm.log.Info("Starting cron manager")
	// Create a new cron with seconds field enabled and panic recovery
	cronOptions := []cronv3.Option{
		cronv3.WithSeconds(),
		cronv3.WithChain(
			cronv3.SkipIfStillRunning(cronv3.DefaultLogger), // Skip if still running
			cronv3.Recover(cronv3.DefaultLogger),            // Default recovery as backup
		),
	}
	c := cronv3.New(cronOptions...)
	cm.registerJobs(c)
	c.Start()
	cm.cron = c
}

// recheckDomains sweeps unverified domains whose last check is older than
// the recheck window and reruns their DNS checks.
func (cm *CronManager) recheckDomains() {
	cm.log.Info("Running domain verification recheck")

	ctx := context.Background()
	span, ctx := tracing.StartTracerSpan(ctx, "CronManager.recheckDomains")
	defer span.Finish()
	tracing.TagComponentCronJob(span)

	cutoff := utils.Now().Add(-time.Duration(cm.cfg.DomainConfig.MinRecheckMinutes) * time.Minute)
	domains, err := cm.repos.DomainRepository.ListUnverifiedCheckedBefore(ctx, cutoff, domainRecheckBatch)
	if err != nil {
		tracing.TraceErr(span, err)
		cm.log.Errorf("Failed to list domains for recheck: %v", err)
		return
	}

	for i := range domains {
		if _, err := cm.domains.Recheck(ctx, &domains[i]); err != nil {
			tracing.TraceErr(span, err)
			cm.log.Errorf("Recheck of domain %s failed: %v", domains[i].Domain, err)
		}
	}

	cm.log.Infof("Domain recheck completed for %d domains", len(domains))
}

func (cm *CronManager) archiveVisitors() {
	cm.log.Info("Running visitor archive export")

	ctx := context.Background()
	span, ctx := tracing.StartTracerSpan(ctx, "CronManager.archiveVisitors")
	defer span.Finish()
	tracing.TagComponentCronJob(span)

	archived, err := cm.archiver.Run(ctx)
	if err != nil {
		tracing.TraceErr(span, err)
		cm.log.Errorf("Visitor archive export failed: %v", err)
		return
	}

	cm.log.Infof("Visitor archive export completed, %d rows archived", archived)
}
