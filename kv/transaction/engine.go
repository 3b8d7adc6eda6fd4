package transaction

import (
	"context"

	"github.com/pingcap-incubator/tinycc/kv/config"
	"github.com/pingcap-incubator/tinycc/kv/durability"
	"github.com/pingcap-incubator/tinycc/kv/metrics"
	"github.com/pingcap-incubator/tinycc/kv/storage"
	"github.com/pingcap-incubator/tinycc/kv/transaction/epoch"
	"github.com/pingcap-incubator/tinycc/kv/transaction/latches"
	"github.com/pingcap-incubator/tinycc/kv/transaction/mvcc"
	"github.com/pingcap-incubator/tinycc/kv/transaction/session"
	"github.com/pingcap-incubator/tinycc/kv/transaction/status"
	"github.com/pingcap-incubator/tinycc/kv/transaction/wp"
	"github.com/pingcap-incubator/tinycc/kv/util"
	"github.com/pingcap-incubator/tinycc/log"
	"github.com/pingcap/errors"
	"go.uber.org/atomic"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// Token identifies a session claimed with Enter. The zero token is never handed out.
type Token uint32

// Engine owns every piece of process wide state: the clock, the session table, the storages, the write preserve
// bookkeeping, the record arena and the log channel. It is created by Init and torn down by Fin.
type Engine struct {
	conf *config.Config

	clock    *epoch.Clock
	storages *storage.Registry
	latches  *latches.Latches
	wps      *wp.Directory
	ongoing  *wp.Ongoing
	arena    *mvcc.Arena
	sessions []*session.Session

	logCh   durability.Channel
	flusher *durability.Flusher

	// ltxIDs hands out long transaction ids and finish sequence numbers.
	ltxIDs atomic.Uint64

	cancel context.CancelFunc
	group  *errgroup.Group
	closed atomic.Uint32
}

func openChannel(conf *config.Config) (durability.Channel, error) {
	if conf.LogDir == "" {
		return durability.NewMemChannel(), nil
	}
	if err := util.EnsureDir(conf.LogDir); err != nil {
		return nil, errors.Annotate(err, "prepare log dir")
	}
	bc, err := durability.OpenBadgerChannel(durability.BadgerConfig{
		Dir:         conf.LogDir,
		SyncWrites:  conf.LogSyncWrites,
		BytesPerSec: conf.LogWriteBytesPerSec,
		Compress:    conf.LogCompression == config.CompressionLZ4,
	})
	if err != nil {
		return nil, errors.Trace(err)
	}
	return bc, nil
}

// Init creates an engine, recovers the log channel if asked to and starts the background goroutines.
func Init(conf *config.Config) (*Engine, error) {
	if err := conf.Validate(); err != nil {
		return nil, errors.Trace(err)
	}
	if conf.LogFile != "" {
		if err := log.Init(log.Config{Level: conf.LogLevel, File: conf.LogFile}); err != nil {
			return nil, errors.Trace(err)
		}
	} else {
		log.SetLevelByString(conf.LogLevel)
	}

	ch, err := openChannel(conf)
	if err != nil {
		return nil, err
	}
	e := &Engine{
		conf:     conf,
		storages: storage.NewRegistry(),
		latches:  latches.NewLatches(),
		wps:      wp.NewDirectory(),
		ongoing:  wp.NewOngoing(),
		arena:    mvcc.NewArena(),
		logCh:    ch,
		sessions: make([]*session.Session, conf.MaxSessions),
	}
	for i := range e.sessions {
		e.sessions[i] = session.New(uint32(i + 1))
	}

	start := epoch.InitialEpoch
	if conf.Recover {
		durable, err := e.recover()
		if err != nil {
			ch.Close()
			return nil, errors.Annotatef(err, "recover from %s", conf.LogDir)
		}
		start = durable + 1
	}
	e.clock = epoch.NewClock(start, conf.EpochInterval.Duration, e.minStepEpoch)
	e.clock.RefreshSafeSnapshot()
	e.flusher = durability.NewFlusher(ch, e.onDurable)
	e.clock.AddHook(e.onEpoch)

	ctx, cancel := context.WithCancel(context.Background())
	e.cancel = cancel
	e.group, ctx = errgroup.WithContext(ctx)
	e.group.Go(func() error { return e.clock.Run(ctx) })
	e.group.Go(func() error { return e.runGC(ctx) })
	e.group.Go(func() error { return e.runResolver(ctx) })

	log.Info("engine started",
		zap.Uint64("epoch", uint64(start)),
		zap.String("log-dir", conf.LogDir),
		zap.Bool("recover", conf.Recover),
		zap.Int("sessions", conf.MaxSessions))
	return e, nil
}

// Fin aborts every running transaction, stops the background goroutines, flushes the log channel and closes it.
// Calling Fin more than once is a no-op.
func (e *Engine) Fin() error {
	if !e.closed.CAS(0, 1) {
		return nil
	}
	for _, s := range e.sessions {
		s.Mu.Lock()
		if s.Began {
			e.abort(s, status.ReasonUserAbort)
		}
		s.Mu.Unlock()
	}
	e.cancel()
	err := e.group.Wait()
	if ferr := e.flusher.FlushSync(e.clock.Global()); ferr != nil && err == nil {
		err = ferr
	}
	e.flusher.Stop()
	if cerr := e.logCh.Close(); cerr != nil && err == nil {
		err = cerr
	}
	log.Info("engine stopped",
		zap.Uint64("global-epoch", uint64(e.clock.Global())),
		zap.Uint64("durable-epoch", uint64(e.logCh.DurableEpoch())),
		zap.Error(err))
	return errors.Trace(err)
}

// minStepEpoch is the smallest step epoch published by a short commit in progress.
func (e *Engine) minStepEpoch() (epoch.Epoch, bool) {
	var min epoch.Epoch
	found := false
	for _, s := range e.sessions {
		if se := s.StepEpoch(); se != 0 && (!found || se < min) {
			min, found = se, true
		}
	}
	return min, found
}

// flushableEpoch is the largest epoch whose log records are all pushed: every short commit below the safe snapshot
// is done and no long transaction can still commit below the smallest ongoing valid epoch.
func (e *Engine) flushableEpoch() epoch.Epoch {
	upTo := e.clock.SafeSnapshot()
	if m, ok := e.ongoing.MinEpoch(); ok && m < upTo {
		upTo = m
	}
	if upTo == 0 {
		return 0
	}
	return upTo - 1
}

func (e *Engine) onEpoch(global epoch.Epoch) {
	upTo := e.flushableEpoch()
	// Requests repeat until the epoch is durable, so a failed flush is retried on the next tick.
	if upTo > e.logCh.DurableEpoch() {
		e.flusher.Schedule(upTo)
	}
	if e.conf.MetricsEnabled {
		metrics.EpochGauge.WithLabelValues("global").Set(float64(global))
		metrics.EpochGauge.WithLabelValues("safe_snapshot").Set(float64(e.clock.SafeSnapshot()))
	}
}

func (e *Engine) onDurable(durable epoch.Epoch) {
	if e.conf.MetricsEnabled {
		metrics.EpochGauge.WithLabelValues("durable").Set(float64(durable))
	}
	log.Debug("log channel flushed", zap.Uint64("durable-epoch", uint64(durable)))
}

// GlobalEpoch returns the current global epoch.
func (e *Engine) GlobalEpoch() epoch.Epoch {
	return e.clock.Global()
}

// DurableEpoch returns the largest epoch whose commits survive a restart.
func (e *Engine) DurableEpoch() epoch.Epoch {
	return e.logCh.DurableEpoch()
}

func (e *Engine) session(t Token) *session.Session {
	if t == 0 || int(t) > len(e.sessions) {
		return nil
	}
	s := e.sessions[t-1]
	if !s.Visible() {
		return nil
	}
	return s
}

// Enter claims a free session.
func (e *Engine) Enter() (Token, status.Status) {
	if e.closed.Load() == 1 {
		return 0, status.ErrFatal
	}
	for _, s := range e.sessions {
		if s.Claim() {
			return Token(s.Token()), status.OK
		}
	}
	log.Warn("session table is full", zap.Int("sessions", len(e.sessions)))
	return 0, status.ErrSessionLimit
}

// Leave aborts the running transaction of the session and gives the session back.
func (e *Engine) Leave(t Token) status.Status {
	s := e.session(t)
	if s == nil {
		return status.ErrInvalidToken
	}
	s.Mu.Lock()
	defer s.Mu.Unlock()
	if s.Began {
		e.abort(s, status.ReasonUserAbort)
	}
	s.State = session.NotBegun
	s.Outcome = status.OK
	s.Result = status.ResultInfo{}
	s.CommitEpoch = 0
	s.Release()
	return status.OK
}

// CreateStorage adds a named storage and makes its definition durable.
func (e *Engine) CreateStorage(name string, opts storage.Options) (storage.ID, status.Status) {
	names := []string{name}
	e.latches.WaitForLatches(names)
	defer e.latches.ReleaseLatches(names)

	st, err := e.storages.Create(name, opts)
	if err != nil {
		return 0, status.ErrStorageExists
	}
	if err := e.logCh.PutStorage(st.ID, name, opts); err != nil {
		log.Error("persist storage definition failed", zap.String("storage", name), zap.Error(err))
		e.storages.Delete(name)
		return 0, status.ErrFatal
	}
	log.Info("create storage", zap.String("storage", name), zap.Uint64("id", uint64(st.ID)))
	return st.ID, status.OK
}

// DeleteStorage drops a storage with its records and write preserve bookkeeping.
func (e *Engine) DeleteStorage(name string) status.Status {
	names := []string{name}
	e.latches.WaitForLatches(names)
	defer e.latches.ReleaseLatches(names)

	st, err := e.storages.Delete(name)
	if err != nil {
		return status.WarnStorageNotFound
	}
	e.wps.Remove(st.ID)
	if err := e.logCh.DropStorage(st.ID); err != nil {
		log.Error("drop storage from log channel failed", zap.String("storage", name), zap.Error(err))
		return status.ErrFatal
	}
	log.Info("delete storage", zap.String("storage", name), zap.Uint64("id", uint64(st.ID)))
	return status.OK
}

// ListStorage returns the storage names in lexical order.
func (e *Engine) ListStorage() []string {
	return e.storages.List()
}

// GetStorage resolves a storage name.
func (e *Engine) GetStorage(name string) (storage.ID, status.Status) {
	st, err := e.storages.Get(name)
	if err != nil {
		return 0, status.WarnStorageNotFound
	}
	return st.ID, status.OK
}

// StorageOptions returns the options a storage was created with.
func (e *Engine) StorageOptions(id storage.ID) (storage.Options, status.Status) {
	st, ok := e.storages.ByID(id)
	if !ok {
		return storage.Options{}, status.WarnStorageNotFound
	}
	return st.Options, status.OK
}
