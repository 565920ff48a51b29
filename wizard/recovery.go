package wizard

import (
	"context"
	"errors"
)

// recover restores the wizard from the server after a submission failed on
// retry. Local state is replaced wholesale by the server's answers; the
// position is taken from the stored step marker.
func (s *Session) recover(ctx context.Context, failure *SyncFailure) error {
	s.logger.Error("background submission failed, restoring progress from server",
		"step", failure.Step.String(), "error", failure)
	s.notify(NoticeError, MsgSyncing)

	sp, err := s.opts.Backend.FetchProgress(ctx)
	if errors.Is(err, ErrUnauthorized) {
		s.expired()
		return err
	}
	if err != nil {
		rf := &RecoveryFailure{Err: err}
		s.logger.Error("recovery failed", "error", rf)
		s.mu.Lock()
		s.pending = map[int]bool{}
		s.mu.Unlock()
		s.notify(NoticeFatal, MsgCritical)
		return rf
	}

	rec := progressFromServer(sp)

	s.mu.Lock()
	defer s.mu.Unlock()
	s.record = rec
	s.ctrl = NewController(stateFromProgress(rec), s.ctrl.validator)
	s.pending = map[int]bool{}
	s.gen++
	// Steps queued while the fetch was in flight describe the replaced state.
	if n := s.queue.discard(); n > 0 {
		s.logger.Warn("dropped submissions queued during recovery", "discarded", n)
	}
	if err := saveProgress(s.ctx, s.opts.Store, rec); err != nil {
		rf := &RecoveryFailure{Err: err}
		s.logger.Error("recovery could not persist restored progress", "error", rf)
		s.notify(NoticeFatal, MsgCritical)
		return rf
	}
	s.logger.Info("progress restored from server", "step", s.ctrl.Step().String())
	s.notify(NoticeError, MsgRestored)
	s.enterStepLocked()
	return nil
}

// progressFromServer builds the local record that mirrors the server's
// authoritative answers.
func progressFromServer(sp *ServerProgress) *Progress {
	data := FormDataFromAnswers(sp.UserAnswers)
	idx := 0
	if id, ok := ParseStepID(data.Get(FieldCurrentStep)); ok {
		idx = IndexOf(id)
	}
	return &Progress{
		CurrentSubStepIndex: idx,
		HighestStep:         max(1, Flow[idx].Main),
		FormData:            data,
		UserID:              sp.UserID,
		UserAnswers:         sp.UserAnswers,
		Questionnaires:      sp.Questionnaires,
	}
}
