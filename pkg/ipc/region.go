package ipc

import (
	"errors"
	"fmt"
	"os"
	"sync"
	"unsafe"

	"go.uber.org/zap"
	"golang.org/x/sys/unix"

	"github.com/hedronlab/shmbus/pkg/fs"
)

// regionLocker serializes region file creation across processes. The flock is
// held only while deciding whether to size a fresh file; logical
// initialization is settled by the in-region setup mutex afterwards.
var regionLocker = fs.NewLocker(fs.NewReal())

// Options configure opening or creating a channel region.
type Options struct {
	// Path is the backing file, normally under /dev/shm so the region lives
	// in RAM.
	Path string

	// Config describes the channel. Every attacher of the same region must
	// present an identical Config.
	Config Config

	// Logger receives attach and recovery events. The data path never logs.
	// Defaults to a no-op logger.
	Logger *zap.Logger
}

// Region is an attached channel. It is safe for concurrent use; role handles
// (Sender, Pinner, Watcher, WakeUpper) and Readers are created from it.
type Region struct {
	mu sync.Mutex

	f    *os.File
	data []byte
	cfg  Config
	lay  layout
	uid  uint32
	log  *zap.Logger

	closed bool
}

// Open creates or attaches the channel region at opts.Path. Creation zeroes
// and sizes the file under an advisory lock; whichever attacher first takes
// the in-region setup mutex performs logical initialization. Open is
// idempotent across processes.
func Open(opts Options) (*Region, error) {
	if opts.Path == "" {
		return nil, fmt.Errorf("path is required: %w", ErrInvalidInput)
	}
	if err := opts.Config.validate(); err != nil {
		return nil, err
	}

	log := opts.Logger
	if log == nil {
		log = zap.NewNop()
	}

	want := regionSize(opts.Config)

	// Size the file under the creation lock so two fresh attachers cannot
	// race ftruncate against each other's mmap.
	lock, err := regionLocker.Lock(opts.Path + ".lock")
	if err != nil {
		return nil, fmt.Errorf("acquire region creation lock: %w", err)
	}

	f, err := os.OpenFile(opts.Path, os.O_RDWR|os.O_CREATE, 0o600)
	if err != nil {
		_ = lock.Close()
		return nil, fmt.Errorf("open region file: %w", err)
	}

	st, err := f.Stat()
	if err != nil {
		_ = f.Close()
		_ = lock.Close()
		return nil, fmt.Errorf("stat region file: %w", err)
	}

	switch size := uint64(st.Size()); {
	case size == 0:
		if err := f.Truncate(int64(want)); err != nil {
			_ = f.Close()
			_ = lock.Close()
			return nil, fmt.Errorf("size region file to %d: %w", want, err)
		}
	case size != want:
		_ = f.Close()
		_ = lock.Close()
		return nil, fmt.Errorf("region file is %d bytes, config requires %d: %w", size, want, ErrIncompatible)
	}
	_ = lock.Close()

	data, err := unix.Mmap(int(f.Fd()), 0, int(want), unix.PROT_READ|unix.PROT_WRITE, unix.MAP_SHARED)
	if err != nil {
		_ = f.Close()
		return nil, fmt.Errorf("mmap region: %w", err)
	}

	r := &Region{
		f:    f,
		data: data,
		cfg:  opts.Config,
		lay:  computeLayout(opts.Config),
		log:  log,
	}

	if err := r.initializeOrAttach(); err != nil {
		_ = unix.Munmap(data)
		_ = f.Close()
		return nil, err
	}

	return r, nil
}

// initializeOrAttach takes the setup mutex and either performs first-time
// initialization or verifies the region against our configuration and uid.
func (r *Region) initializeOrAttach() error {
	uid, err := signalUID()
	if err != nil {
		return err
	}

	var attachErr error
	r.withSetupLock(func(ownerDied bool) {
		if ownerDied {
			// The previous holder died mid-setup. If it died before
			// completing initialization the flag is still unset and we simply
			// redo it; role state is re-checked by the recovery sweep on
			// every role attach.
			r.log.Debug("setup mutex owner died, re-checking region state")
		}

		if atomicLoadUint32(r.data[offInitialized:]) == 0 {
			r.initialize(uid)
			return
		}
		attachErr = r.verifyAttach(uid)
	})
	if attachErr != nil {
		return attachErr
	}

	r.uid = uid
	return nil
}

// initialize lays down a fresh region. Caller holds the setup mutex and has
// observed initialized == 0; the file contents are zero or torn garbage from
// a died initializer, and everything is rewritten either way.
func (r *Region) initialize(uid uint32) {
	cfg := r.cfg

	atomicStoreUint32(r.data[offNumWatchers:], cfg.NumWatchers)
	atomicStoreUint32(r.data[offNumSenders:], cfg.NumSenders)
	atomicStoreUint32(r.data[offNumPinners:], cfg.NumPinners)
	atomicStoreUint32(r.data[offQueueSize:], cfg.QueueSize)
	atomicStoreUint32(r.data[offMessageData:], cfg.MessageDataSize)

	for i := uint32(0); i < cfg.NumMessages(); i++ {
		m := r.lay.messageAt(r.data, i)
		m.invalidateQueueIndex()
		m.invalidateSendTimestamps()
		r.fillMessageRedzones(i)
	}

	// Seed each ring slot with a plausibly-ancient entry: the index it held
	// exactly one generation before generation zero. A fresh publish at
	// generation zero then always wins the slot CAS.
	zero := queueIndexZero(cfg.QueueSize)
	for i := uint32(0); i < cfg.QueueSize; i++ {
		ancient := zero.incrementBy(i).decrementBy(cfg.QueueSize)
		atomicStoreUint32(r.lay.ringSlot(r.data, i), uint32(makeMessageIndex(ancient, i)))
	}

	atomicStoreUint32(r.data[offNextQueueIndex:], queueIndexSentinel)
	atomicStoreUint32(r.data[offUID:], uid)

	// Hand out scratch buffers: pool slots beyond the ring belong to the
	// role tables from the start.
	invalid := queueIndexInvalid(cfg.QueueSize)
	for i := uint32(0); i < cfg.NumSenders; i++ {
		s := r.lay.senderAt(r.data, i)
		atomicStoreUint32(s[offSenderScratch:], uint32(makeMessageIndex(invalid, cfg.QueueSize+i)))
		atomicStoreUint32(s[offSenderReplace:], uint32(messageIndexInvalid))
	}
	for i := uint32(0); i < cfg.NumPinners; i++ {
		p := r.lay.pinnerAt(r.data, i)
		atomicStoreUint32(p[offPinnerScratch:], uint32(makeMessageIndex(invalid, cfg.QueueSize+cfg.NumSenders+i)))
		atomicStoreUint32(p[offPinnerPinned:], queueIndexSentinel)
	}

	// Publish. Everything above must be visible before the flag flips; the
	// atomic store provides the release barrier.
	atomicStoreUint32(r.data[offInitialized:], 1)

	r.log.Info("initialized channel region",
		zap.Uint32("queue_size", cfg.QueueSize),
		zap.Uint32("message_data_size", cfg.MessageDataSize),
		zap.Uint32("uid", uid),
	)
}

// verifyAttach checks a live region against our expectations. Caller holds
// the setup mutex.
func (r *Region) verifyAttach(uid uint32) error {
	stored := Config{
		NumWatchers:     atomicLoadUint32(r.data[offNumWatchers:]),
		NumSenders:      atomicLoadUint32(r.data[offNumSenders:]),
		NumPinners:      atomicLoadUint32(r.data[offNumPinners:]),
		QueueSize:       atomicLoadUint32(r.data[offQueueSize:]),
		MessageDataSize: atomicLoadUint32(r.data[offMessageData:]),
	}
	if stored != r.cfg {
		return fmt.Errorf("region config %+v does not match ours %+v: %w", stored, r.cfg, ErrIncompatible)
	}

	if storedUID := atomicLoadUint32(r.data[offUID:]); storedUID != uid {
		return fmt.Errorf("region belongs to uid %d, we are uid %d: %w", storedUID, uid, ErrWrongUser)
	}
	return nil
}

// signalUID computes the uid recorded in (and checked against) the region.
// All attachers must agree on one uid so that wakeup signals are always
// permitted between them. When euid == suid the euid is used, which lets a
// privileged process keep its ruid while communicating under a lower euid;
// otherwise the ruid is the stable identity.
func signalUID() (uint32, error) {
	var ruid, euid, suid uint32
	_, _, errno := unix.RawSyscall(
		unix.SYS_GETRESUID,
		uintptr(unsafe.Pointer(&ruid)),
		uintptr(unsafe.Pointer(&euid)),
		uintptr(unsafe.Pointer(&suid)),
	)
	if errno != 0 {
		return 0, fmt.Errorf("getresuid: %w", errno)
	}
	if euid == suid {
		return euid, nil
	}
	return ruid, nil
}

// Close unmaps the region. Role handles created from it must be closed
// first; Readers become invalid immediately.
func (r *Region) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.closed {
		return nil
	}
	r.closed = true

	var errs []error
	if r.data != nil {
		if err := unix.Munmap(r.data); err != nil {
			errs = append(errs, err)
		}
		r.data = nil
	}
	if r.f != nil {
		if err := r.f.Close(); err != nil {
			errs = append(errs, err)
		}
		r.f = nil
	}
	return errors.Join(errs...)
}

// Config returns the channel configuration.
func (r *Region) Config() Config { return r.cfg }

// MessageDataSize returns the payload capacity of each message.
func (r *Region) MessageDataSize() int { return int(r.cfg.MessageDataSize) }

// QueueSize returns the ring length.
func (r *Region) QueueSize() int { return int(r.cfg.QueueSize) }

// Shared-word accessors used by the roles.

func (r *Region) loadRingSlot(slot uint32) messageIndex {
	return messageIndex(atomicLoadUint32(r.lay.ringSlot(r.data, slot)))
}

func (r *Region) casRingSlot(slot uint32, old, new messageIndex) bool {
	return atomicCASUint32(r.lay.ringSlot(r.data, slot), uint32(old), uint32(new))
}

func (r *Region) loadNextQueueIndex() queueIndex {
	return queueIndexFromRaw(atomicLoadUint32(r.data[offNextQueueIndex:]), r.cfg.QueueSize)
}

// casNextQueueIndex advances the shared publish counter. Callers never care
// whether they won; losing means someone else repaired it.
func (r *Region) casNextQueueIndex(old, new queueIndex) {
	atomicCASUint32(r.data[offNextQueueIndex:], old.raw(), new.raw())
}

func (r *Region) messageAt(idx messageIndex) message {
	return r.lay.messageAt(r.data, idx.pool())
}

func (r *Region) fillMessageRedzones(pool uint32) {
	m := r.lay.messageAt(r.data, pool)
	base := int(r.lay.messageOffset(pool))
	fillRedzone(m.preRedzone(), base+msgPreRedzoneOffset)
	fillRedzone(m.postRedzone(r.cfg.MessageDataSize), base+msgPayloadOffset+int(r.cfg.MessageDataSize))
}

// checkBothRedzones reports whether both guard zones of the pool slot are
// intact.
func (r *Region) checkBothRedzones(pool uint32) bool {
	m := r.lay.messageAt(r.data, pool)
	base := int(r.lay.messageOffset(pool))
	return checkRedzone(m.preRedzone(), base+msgPreRedzoneOffset) &&
		checkRedzone(m.postRedzone(r.cfg.MessageDataSize), base+msgPayloadOffset+int(r.cfg.MessageDataSize))
}
