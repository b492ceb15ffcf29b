package monitor

import (
	"context"
	"path/filepath"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"github.com/shirou/gopsutil/v3/cpu"
	"github.com/shirou/gopsutil/v3/disk"
	"github.com/shirou/gopsutil/v3/mem"

	"github.com/TXBk0032-1/SisterOS/internal/appctl"
	"github.com/TXBk0032-1/SisterOS/internal/backup"
	"github.com/TXBk0032-1/SisterOS/internal/store"
)

// Sampler collects point-in-time health metrics. Every sub-probe runs
// concurrently under its own time box; a slow probe degrades its own field
// and never stalls the sample as a whole.
type Sampler struct {
	st           *store.Store
	app          *appctl.Client
	lock         *backup.StoreLock
	logScan      *logScanner
	probeTimeout time.Duration
	log          zerolog.Logger
}

// NewSampler returns a sampler over the given collaborators. lock is the
// store lock shared with backup/restore; the store probe takes its read
// side with a bounded wait and skips the cycle when a restore holds it.
func NewSampler(st *store.Store, app *appctl.Client, lock *backup.StoreLock, logsDir string, probeTimeout time.Duration, log zerolog.Logger) *Sampler {
	return &Sampler{
		st:           st,
		app:          app,
		lock:         lock,
		logScan:      newLogScanner(logsDir),
		probeTimeout: probeTimeout,
		log:          log,
	}
}

// Sample collects one HealthSample. Always returns a sample; probes that
// failed or timed out are listed in Degraded.
func (s *Sampler) Sample(ctx context.Context) HealthSample {
	sample := HealthSample{Timestamp: time.Now()}

	var mu sync.Mutex
	degrade := func(probe string) {
		mu.Lock()
		sample.Degraded = append(sample.Degraded, probe)
		mu.Unlock()
	}

	var wg sync.WaitGroup
	run := func(probe string, fn func(ctx context.Context) error) {
		wg.Add(1)
		go func() {
			defer wg.Done()
			probeCtx, cancel := context.WithTimeout(ctx, s.probeTimeout)
			defer cancel()

			done := make(chan error, 1)
			go func() { done <- fn(probeCtx) }()
			select {
			case err := <-done:
				if err != nil {
					s.log.Debug().Err(err).Str("probe", probe).Msg("probe failed")
					degrade(probe)
				}
			case <-probeCtx.Done():
				s.log.Debug().Str("probe", probe).Msg("probe timed out")
				degrade(probe)
			}
		}()
	}

	run(probeSystem, func(ctx context.Context) error {
		return s.probeSystem(ctx, &mu, &sample)
	})
	run(probeDisk, func(ctx context.Context) error {
		return s.probeDisk(ctx, &mu, &sample)
	})
	run(probeStore, func(ctx context.Context) error {
		return s.probeStore(ctx, &mu, &sample)
	})
	run(probeLogs, func(_ context.Context) error {
		count, err := s.logScan.countNewErrors()
		if err != nil {
			return err
		}
		mu.Lock()
		sample.LogErrorCount = count
		mu.Unlock()
		return nil
	})

	// Liveness: no answer inside the box means DOWN, not unknown. With no
	// endpoint configured there is nothing to watch and the liveness rule
	// must stay quiet, so the sample reports up.
	wg.Add(1)
	go func() {
		defer wg.Done()
		if !s.app.Configured() {
			mu.Lock()
			sample.AppUp = true
			mu.Unlock()
			return
		}
		probeCtx, cancel := context.WithTimeout(ctx, s.probeTimeout)
		defer cancel()
		alive := s.app.Alive(probeCtx)
		mu.Lock()
		sample.AppUp = alive
		mu.Unlock()
	}()

	wg.Wait()
	return sample
}

func (s *Sampler) probeSystem(ctx context.Context, mu *sync.Mutex, sample *HealthSample) error {
	cpuPercents, err := cpu.PercentWithContext(ctx, 0, false)
	if err != nil {
		return err
	}
	vm, err := mem.VirtualMemoryWithContext(ctx)
	if err != nil {
		return err
	}
	mu.Lock()
	if len(cpuPercents) > 0 {
		sample.CPUPercent = cpuPercents[0]
	}
	sample.MemoryPercent = vm.UsedPercent
	mu.Unlock()
	return nil
}

func (s *Sampler) probeDisk(ctx context.Context, mu *sync.Mutex, sample *HealthSample) error {
	usage, err := disk.UsageWithContext(ctx, filepath.Dir(s.st.Path()))
	if err != nil {
		return err
	}
	mu.Lock()
	sample.DiskPercent = usage.UsedPercent
	mu.Unlock()
	return nil
}

// probeStore measures a trivial read against the store. It takes the shared
// read side of the store lock with a bounded wait; a backup or restore in
// progress past the bound degrades this probe for the cycle rather than
// blocking either side.
func (s *Sampler) probeStore(ctx context.Context, mu *sync.Mutex, sample *HealthSample) error {
	release, ok := s.lock.AcquireShared(ctx, s.probeTimeout/2)
	if !ok {
		return context.DeadlineExceeded
	}
	defer release()

	size, err := s.st.SizeBytes()
	if err != nil {
		return err
	}
	latency, err := s.st.ProbeLatency(ctx)
	if err != nil {
		return err
	}
	mu.Lock()
	sample.StoreSizeBytes = size
	sample.StoreLatencyMS = float64(latency.Microseconds()) / 1000.0
	mu.Unlock()
	return nil
}
