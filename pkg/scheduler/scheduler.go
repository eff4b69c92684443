package scheduler

import (
	"log"
	"time"

	"github.com/DrSui/code-engine/pkg/store"
)

// Scheduler runs the recovery sweeps on an interval
type Scheduler struct {
	store         store.Store
	recovery      *RecoveryManager
	checkInterval time.Duration
	stopCh        chan struct{}
}

// New creates a scheduler over a store
func New(st store.Store, recovery *RecoveryManager, checkInterval time.Duration) *Scheduler {
	if checkInterval <= 0 {
		checkInterval = 15 * time.Second
	}
	return &Scheduler{
		store:         st,
		recovery:      recovery,
		checkInterval: checkInterval,
		stopCh:        make(chan struct{}),
	}
}

// Start begins the background loop
func (s *Scheduler) Start() {
	log.Printf("Scheduler started (check interval: %v)", s.checkInterval)
	go s.run()
}

// Stop gracefully stops the scheduler
func (s *Scheduler) Stop() {
	log.Println("Stopping scheduler...")
	close(s.stopCh)
}

func (s *Scheduler) run() {
	ticker := time.NewTicker(s.checkInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			s.recovery.RunRecoveryCheck()
		case <-s.stopCh:
			log.Println("Scheduler stopped")
			return
		}
	}
}
