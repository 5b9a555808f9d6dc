package scanner

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rjeczalik/notify"

	"github.com/ceres-media/ceres/internal/library"
	"github.com/ceres-media/ceres/internal/queue"
)

type scanScheduler interface {
	ScheduleScan(ctx context.Context, libraryID uuid.UUID, forced bool) error
}

// watchService listens to filesystem change notifications under each
// library root and schedules a scan of the affected library once the
// activity settles. A hold timer per library coalesces event bursts (a
// large copy emits thousands of events) in to a single scan.
type watchService struct {
	mu        sync.Mutex
	scheduler scanScheduler
	holdFor   time.Duration
	timers    map[uuid.UUID]*time.Timer
}

func NewWatcher(scheduler scanScheduler, holdFor time.Duration) *watchService {
	if holdFor <= 0 {
		holdFor = 30 * time.Second
	}

	return &watchService{
		scheduler: scheduler,
		holdFor:   holdFor,
		timers:    make(map[uuid.UUID]*time.Timer),
	}
}

// Run watches the given library roots until the context is cancelled.
func (service *watchService) Run(ctx context.Context, libraries []*library.Library) error {
	events := make(chan notify.EventInfo, 128)
	defer notify.Stop(events)
	defer service.clearHoldTimers()

	for _, lib := range libraries {
		if err := notify.Watch(filepath.Join(lib.Path, "..."), events, notify.Create, notify.Remove, notify.Rename, notify.Write); err != nil {
			return fmt.Errorf("failed to watch library root %s: %w", lib.Path, err)
		}
		log.Infof("Watching library %s at %s\n", lib.Name, lib.Path)
	}

	for {
		select {
		case ev := <-events:
			lib := owningLibrary(libraries, ev.Path())
			if lib == nil {
				continue
			}
			service.scheduleHoldTimer(ctx, lib)
		case <-ctx.Done():
			return nil
		}
	}
}

// scheduleHoldTimer (re)arms the debounce timer for a library; the scan is
// only scheduled once no further events arrive for the hold duration.
func (service *watchService) scheduleHoldTimer(ctx context.Context, lib *library.Library) {
	service.mu.Lock()
	defer service.mu.Unlock()

	if timer, ok := service.timers[lib.ID]; ok {
		timer.Reset(service.holdFor)
		return
	}

	service.timers[lib.ID] = time.AfterFunc(service.holdFor, func() {
		service.mu.Lock()
		delete(service.timers, lib.ID)
		service.mu.Unlock()

		if err := service.scheduler.ScheduleScan(ctx, lib.ID, false); err != nil {
			if errors.Is(err, queue.ErrAlreadyScheduled) {
				log.Debugf("Watch-triggered scan of library %s skipped, scan already queued\n", lib.Name)
				return
			}
			log.Warnf("Failed to schedule watch-triggered scan of library %s: %v\n", lib.Name, err)
			return
		}
		log.Infof("Filesystem activity settled, scan of library %s scheduled\n", lib.Name)
	})
}

func (service *watchService) clearHoldTimers() {
	service.mu.Lock()
	defer service.mu.Unlock()

	for id, timer := range service.timers {
		timer.Stop()
		delete(service.timers, id)
	}
}

// owningLibrary resolves an event path back to the library whose root
// contains it.
func owningLibrary(libraries []*library.Library, path string) *library.Library {
	for _, lib := range libraries {
		root := strings.TrimSuffix(lib.Path, string(filepath.Separator))
		if path == root || strings.HasPrefix(path, root+string(filepath.Separator)) {
			return lib
		}
	}

	return nil
}
