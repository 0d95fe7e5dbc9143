package ipc

import "go.uber.org/zap"

// Crash recovery.
//
// Runs while holding the setup mutex, on every role attach. A sender's
// publish passes through a small set of observable (scratch, toReplace)
// states:
//
//	1) scratch = xxx,  toReplace = invalid   at rest, nothing to do
//	2) scratch = xxx,  toReplace = yyy       mid-publish; the ring CAS may or
//	                                         may not have happened
//	3) scratch = yyy,  toReplace = yyy       eviction copied over, cleanup
//	                                         not finished
//	4) scratch = yyy,  toReplace = invalid   finished, indistinguishable from 1
//
// States 1, 3, 4 resolve locally. State 2 is ambiguous on its own: whether
// the slot CAS happened decides if we roll the publish forward or back. The
// accounting sweep settles it by elimination — every message is somewhere
// (ring, a live sender's scratch, a pinner's scratch, or a dead sender's
// pair), so whichever of the dead sender's two indices is accounted for
// elsewhere tells us which side of the CAS it died on.

// runRecovery restores all role-slot invariants. The iteration count is
// bounded: only finitely many owners can die, and none can be replaced while
// we hold the setup mutex.
func (r *Region) runRecovery() {
	for !r.recoverOnce() {
	}
}

// recoverOnce performs one full recovery pass. It returns false if another
// owner died mid-pass, in which case the caller restarts with fresh state.
func (r *Region) recoverOnce() bool {
	cfg := r.cfg
	numMessages := cfg.NumMessages()

	needRecovery := make([]bool, cfg.NumSenders)
	recovered := 0

	// Phase A: the locally-decidable states.
	validSenders := uint32(0)
	for i := uint32(0); i < cfg.NumSenders; i++ {
		s := r.senderSlot(i)
		if !s.tracker().ownerDefinitelyDead() {
			validSenders++
			continue
		}

		toReplace := s.toReplace()
		scratch := s.scratch()

		if !toReplace.valid() {
			// State 1 or 4. If the scratch message is pinned the owner died
			// between finishing the eviction and rotating with the pinner;
			// redo the rotation, then mark whatever ended up in scratch as
			// unused.
			r.swapPinnedScratch(s, scratch)
			r.messageAt(s.scratch()).invalidateQueueIndex()
			s.tracker().forceClear()
			validSenders++
			recovered++
			continue
		}

		if toReplace == scratch {
			// State 3: the copy happened, the cleanup did not.
			s.invalidateToReplace()
			r.messageAt(scratch).invalidateQueueIndex()
			s.tracker().forceClear()
			validSenders++
			recovered++
			continue
		}

		// State 2: defer to the accounting sweep.
		needRecovery[i] = true
	}

	// Dead pinners are trivial: dropping the pin is all their protocol needs.
	for i := uint32(0); i < cfg.NumPinners; i++ {
		p := r.pinnerSlot(i)
		if !p.tracker().ownerDefinitelyDead() {
			continue
		}
		p.invalidatePinned()
		p.tracker().forceClear()
		recovered++
	}

	if validSenders == cfg.NumSenders {
		if recovered > 0 {
			r.log.Debug("recovered dead role slots", zap.Int("count", recovered))
		}
		return true
	}

	// Phase B: account for every message we can see. The queue is live while
	// we walk it, so keep going around until the books balance.
	accountedFor := make([]bool, numMessages)
	accounted := uint32(0)
	missing := uint32(0)

	mark := func(idx messageIndex) {
		pool := idx.pool()
		if !accountedFor[pool] {
			accountedFor[pool] = true
			accounted++
		}
	}

	for accounted+missing != numMessages {
		missing = 0

		for i := uint32(0); i < cfg.NumSenders; i++ {
			s := r.senderSlot(i)
			if s.tracker().ownerDefinitelyDead() {
				if !needRecovery[i] {
					// Died after phase A classified it live; start over.
					return false
				}
				missing++
				continue
			}
			mark(s.scratch())
		}

		for i := uint32(0); i < cfg.QueueSize; i++ {
			mark(r.loadRingSlot(i))
		}

		for i := uint32(0); i < cfg.NumPinners; i++ {
			mark(r.pinnerSlot(i).scratch())
		}
	}

	// Resolve the ambiguous senders. Each pass must settle at least one:
	// with N dead senders there are N unaccounted messages, and at least one
	// dead sender's other index is visible somewhere.
	for missing != 0 {
		startingMissing := missing
		for i := uint32(0); i < cfg.NumSenders; i++ {
			s := r.senderSlot(i)
			if !s.tracker().ownerDefinitelyDead() {
				continue
			}
			if !needRecovery[i] {
				return false
			}

			scratch := s.scratch()
			toReplace := s.toReplace()

			switch {
			case accountedFor[toReplace.pool()]:
				// toReplace is still visible elsewhere, so the slot CAS never
				// happened. Roll the publish back.
				s.invalidateToReplace()
				r.messageAt(scratch).invalidateQueueIndex()
				s.tracker().forceClear()
				needRecovery[i] = false
				recovered++

				accountedFor[scratch.pool()] = true
				missing--
				accounted++

			case accountedFor[scratch.pool()]:
				// scratch made it into the ring (or a pinner), so the CAS
				// happened. Roll the publish forward.
				r.messageAt(toReplace).invalidateQueueIndex()
				s.storeScratch(toReplace)
				s.invalidateToReplace()
				s.tracker().forceClear()
				needRecovery[i] = false
				recovered++

				accountedFor[toReplace.pool()] = true
				missing--
				accounted++

			default:
				// Both indices unaccounted: some other dead sender's
				// resolution will disambiguate this one on a later pass.
			}
		}
		if missing == startingMissing {
			// No progress is impossible unless the region is corrupt; a
			// broken region is better loud than wedged.
			panic("ipc: recovery made no progress; region corrupt")
		}
	}

	r.log.Debug("recovered dead role slots (hard case)", zap.Int("count", recovered))
	return true
}
