package doctor

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/jwalitptl/clinic-api/internal/model"
	"github.com/jwalitptl/clinic-api/internal/repository"
	apperrors "github.com/jwalitptl/clinic-api/pkg/errors"
	"github.com/jwalitptl/clinic-api/pkg/logger"
)

const (
	defaultLookupSize = 1024
	defaultLookupTTL  = 5 * time.Minute
)

type Config struct {
	LookupSize int
	LookupTTL  time.Duration
}

type lookupEntry struct {
	doctor    model.Doctor
	expiresAt time.Time
}

// Service manages the doctor directory. Single lookups go through a small
// LRU since every booking and slot read resolves the doctor first.
type Service struct {
	repo   repository.DoctorRepository
	logger *logger.Logger

	mu     sync.RWMutex
	lookup *lru.Cache[uuid.UUID, lookupEntry]
	ttl    time.Duration
	now    func() time.Time
}

func NewService(repo repository.DoctorRepository, cfg Config, log *logger.Logger) (*Service, error) {
	if cfg.LookupSize <= 0 {
		cfg.LookupSize = defaultLookupSize
	}
	if cfg.LookupTTL <= 0 {
		cfg.LookupTTL = defaultLookupTTL
	}

	lookup, err := lru.New[uuid.UUID, lookupEntry](cfg.LookupSize)
	if err != nil {
		return nil, fmt.Errorf("failed to create doctor lookup cache: %w", err)
	}

	return &Service{
		repo:   repo,
		logger: log.Component("doctor"),
		lookup: lookup,
		ttl:    cfg.LookupTTL,
		now:    time.Now,
	}, nil
}

func (s *Service) CreateDoctor(ctx context.Context, req model.CreateDoctorRequest) (*model.Doctor, error) {
	doctor := &model.Doctor{
		UserID:    req.UserID,
		Name:      req.Name,
		Specialty: req.Specialty,
		Bio:       req.Bio,
	}
	if err := s.repo.Create(ctx, doctor); err != nil {
		if errors.Is(err, repository.ErrConflict) {
			return nil, apperrors.Conflict("user is already linked to a doctor", err)
		}
		return nil, fmt.Errorf("failed to create doctor: %w", err)
	}

	s.logger.Info("doctor created", "doctor_id", doctor.ID)
	return doctor, nil
}

func (s *Service) GetDoctor(ctx context.Context, id uuid.UUID) (*model.Doctor, error) {
	s.mu.RLock()
	entry, ok := s.lookup.Get(id)
	s.mu.RUnlock()
	if ok && s.now().Before(entry.expiresAt) {
		doctor := entry.doctor
		return &doctor, nil
	}

	doctor, err := s.repo.GetByID(ctx, id)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, apperrors.NotFound("doctor", err)
		}
		return nil, fmt.Errorf("failed to get doctor: %w", err)
	}

	s.remember(doctor)
	return doctor, nil
}

func (s *Service) ListDoctors(ctx context.Context, specialty string) ([]*model.Doctor, error) {
	doctors, err := s.repo.List(ctx, specialty)
	if err != nil {
		return nil, fmt.Errorf("failed to list doctors: %w", err)
	}
	return doctors, nil
}

func (s *Service) UpdateDoctor(ctx context.Context, id uuid.UUID, req model.UpdateDoctorRequest) (*model.Doctor, error) {
	doctor, err := s.repo.GetByID(ctx, id)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, apperrors.NotFound("doctor", err)
		}
		return nil, fmt.Errorf("failed to get doctor: %w", err)
	}

	if req.Name != nil {
		doctor.Name = *req.Name
	}
	if req.Specialty != nil {
		doctor.Specialty = *req.Specialty
	}
	if req.Bio != nil {
		doctor.Bio = req.Bio
	}

	if err := s.repo.Update(ctx, doctor); err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, apperrors.NotFound("doctor", err)
		}
		return nil, fmt.Errorf("failed to update doctor: %w", err)
	}

	s.forget(id)
	s.logger.Info("doctor updated", "doctor_id", id)
	return doctor, nil
}

func (s *Service) remember(doctor *model.Doctor) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.lookup.Add(doctor.ID, lookupEntry{doctor: *doctor, expiresAt: s.now().Add(s.ttl)})
}

func (s *Service) forget(id uuid.UUID) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.lookup.Remove(id)
}
