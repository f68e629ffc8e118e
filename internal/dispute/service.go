// Package dispute manages challenge disputes: one open dispute per challenge
// per participant, evidence collection and review transitions.
package dispute

import (
	"context"
	"errors"
	"net/url"
	"strings"

	"wallet_settlement/internal/domain"
	"wallet_settlement/internal/store"

	"github.com/sirupsen/logrus"
)

// MaxEvidence caps the evidence URIs attached to one dispute.
const MaxEvidence = 20

// CreateRequest opens a dispute.
type CreateRequest struct {
	ChallengeID  string
	ChallengerID string
	OpponentID   string
	Reason       string
	Evidence     []string
}

// Service is the dispute service.
type Service struct {
	store store.DisputeStore
	log   *logrus.Entry
}

func NewService(st store.DisputeStore) *Service {
	return &Service{store: st, log: logrus.WithField("component", "dispute")}
}

func storageError(op string, err error) error {
	if errors.Is(err, store.ErrNotFound) {
		return domain.NewError(domain.KindNotFound, "dispute not found", nil)
	}
	if errors.Is(err, store.ErrDuplicateOpenDispute) {
		return domain.NewError(domain.KindConflict, "an open dispute already exists for this challenge", nil)
	}
	var de *domain.Error
	if errors.As(err, &de) {
		return err
	}
	return domain.Wrap(domain.KindStorageUnavailable, op+" failed", err)
}

func validateEvidence(uris []string) error {
	for _, raw := range uris {
		u, err := url.Parse(raw)
		if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
			return domain.NewError(domain.KindInvalidRequest, "evidence must be an http(s) URI", map[string]any{"evidence": raw})
		}
	}
	return nil
}

// Create opens a dispute. A second open dispute for the same challenge and
// challenger fails with Conflict.
func (s *Service) Create(ctx context.Context, req CreateRequest) (*domain.Dispute, error) {
	switch {
	case strings.TrimSpace(req.ChallengeID) == "":
		return nil, domain.NewError(domain.KindInvalidRequest, "challenge id is required", nil)
	case strings.TrimSpace(req.ChallengerID) == "" || strings.TrimSpace(req.OpponentID) == "":
		return nil, domain.NewError(domain.KindInvalidRequest, "challenger and opponent are required", nil)
	case req.ChallengerID == req.OpponentID:
		return nil, domain.NewError(domain.KindInvalidRequest, "cannot dispute against yourself", nil)
	case strings.TrimSpace(req.Reason) == "":
		return nil, domain.NewError(domain.KindInvalidRequest, "reason is required", nil)
	case len(req.Evidence) > MaxEvidence:
		return nil, domain.NewError(domain.KindInvalidRequest, "too much evidence", map[string]any{"max": MaxEvidence})
	}
	if err := validateEvidence(req.Evidence); err != nil {
		return nil, err
	}

	// Fast path for a friendly error; the store's unique index is what holds under races.
	existing, err := s.store.FindOpenDispute(ctx, req.ChallengeID, req.ChallengerID)
	if err != nil && !errors.Is(err, store.ErrNotFound) {
		return nil, storageError("find open dispute", err)
	}
	if existing != nil {
		return nil, domain.NewError(domain.KindConflict, "an open dispute already exists for this challenge", map[string]any{"dispute_id": existing.ID})
	}

	d := &domain.Dispute{
		ID:           domain.NewID(),
		ChallengeID:  req.ChallengeID,
		ChallengerID: req.ChallengerID,
		OpponentID:   req.OpponentID,
		Reason:       req.Reason,
		Status:       domain.DisputePending,
		Evidence:     append([]string{}, req.Evidence...),
	}
	if err := s.store.CreateDispute(ctx, d); err != nil {
		return nil, storageError("create dispute", err)
	}
	s.log.WithFields(logrus.Fields{
		"dispute_id":    d.ID,
		"challenge_id":  d.ChallengeID,
		"challenger_id": d.ChallengerID,
	}).Info("Dispute created")
	return d, nil
}

// Get returns a dispute by id.
func (s *Service) Get(ctx context.Context, id string) (*domain.Dispute, error) {
	d, err := s.store.GetDispute(ctx, id)
	if err != nil {
		return nil, storageError("get dispute", err)
	}
	return d, nil
}

// List returns the disputes raised on a challenge.
func (s *Service) List(ctx context.Context, challengeID string) ([]domain.Dispute, error) {
	if strings.TrimSpace(challengeID) == "" {
		return nil, domain.NewError(domain.KindInvalidRequest, "challenge id is required", nil)
	}
	out, err := s.store.ListDisputes(ctx, challengeID)
	if err != nil {
		return nil, storageError("list disputes", err)
	}
	return out, nil
}

// AddEvidence appends URIs to an open dispute. Only its participants may add evidence.
func (s *Service) AddEvidence(ctx context.Context, id, userID string, uris []string) (*domain.Dispute, error) {
	if len(uris) == 0 {
		return nil, domain.NewError(domain.KindInvalidRequest, "evidence is required", nil)
	}
	if err := validateEvidence(uris); err != nil {
		return nil, err
	}
	d, err := s.store.UpdateDispute(ctx, id, func(d *domain.Dispute) error {
		if userID != d.ChallengerID && userID != d.OpponentID {
			return domain.NewError(domain.KindNotFound, "dispute not found", nil)
		}
		if !d.Status.Open() {
			return domain.NewError(domain.KindConflict, "dispute is closed", map[string]any{"status": string(d.Status)})
		}
		if len(d.Evidence)+len(uris) > MaxEvidence {
			return domain.NewError(domain.KindInvalidRequest, "too much evidence", map[string]any{"max": MaxEvidence})
		}
		d.Evidence = append(d.Evidence, uris...)
		return nil
	})
	if err != nil {
		return nil, storageError("add evidence", err)
	}
	return d, nil
}

// Transition moves a dispute to next, recording the reviewer's resolution note.
func (s *Service) Transition(ctx context.Context, id string, next domain.DisputeStatus, resolution string) (*domain.Dispute, error) {
	d, err := s.store.UpdateDispute(ctx, id, func(d *domain.Dispute) error {
		if !d.Status.CanTransition(next) {
			return domain.NewError(domain.KindConflict, "invalid dispute transition", map[string]any{
				"from": string(d.Status),
				"to":   string(next),
			})
		}
		d.Status = next
		if resolution != "" {
			d.Resolution = resolution
		}
		return nil
	})
	if err != nil {
		return nil, storageError("transition dispute", err)
	}
	s.log.WithFields(logrus.Fields{"dispute_id": id, "status": next}).Info("Dispute status changed")
	return d, nil
}
