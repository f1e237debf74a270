package main

import (
	"context"
	"errors"
	"fmt"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/angelmondragon/solverpay-backend/pkg/logger"
)

const heartbeatInterval = 30 * time.Second

type pinger func(context.Context) error

// source is a long-running consumer loop such as a subscription receiver.
type source interface {
	Run(ctx context.Context) error
}

type ServiceParams struct {
	Logger     *logger.Logger
	InstanceID string
	Readiness  map[string]pinger
	Sources    map[string]source
}

type Service struct {
	logg       *logger.Logger
	instanceID string
	readiness  map[string]pinger
	sources    map[string]source
}

func NewService(params ServiceParams) (*Service, error) {
	if params.Logger == nil {
		return nil, errors.New("logger is required")
	}
	if len(params.Sources) == 0 {
		return nil, errors.New("at least one source is required")
	}
	return &Service{
		logg:       params.Logger,
		instanceID: params.InstanceID,
		readiness:  params.Readiness,
		sources:    params.Sources,
	}, nil
}

func (s *Service) ensureReadiness(ctx context.Context) error {
	for name, ping := range s.readiness {
		if err := pingDependency(ctx, s.logg, name, ping); err != nil {
			return err
		}
	}
	s.logg.Info(ctx, "all worker dependencies are ready")
	return nil
}

func pingDependency(ctx context.Context, logg *logger.Logger, name string, fn pinger) error {
	if err := fn(ctx); err != nil {
		logg.Error(ctx, fmt.Sprintf("%s ping failed", name), err)
		return fmt.Errorf("%s ping failed: %w", name, err)
	}
	return nil
}

// Run starts every source and returns when ctx ends or any source fails.
func (s *Service) Run(ctx context.Context) error {
	if ctx == nil {
		ctx = context.Background()
	}
	ctx = s.logg.WithWorkerID(ctx, s.instanceID)

	if err := s.ensureReadiness(ctx); err != nil {
		return err
	}

	group, groupCtx := errgroup.WithContext(ctx)
	for name, src := range s.sources {
		group.Go(func() error {
			if err := src.Run(groupCtx); err != nil && !errors.Is(err, context.Canceled) {
				s.logg.Error(groupCtx, fmt.Sprintf("%s stopped unexpectedly", name), err)
				return err
			}
			return nil
		})
	}
	group.Go(func() error {
		ticker := time.NewTicker(heartbeatInterval)
		defer ticker.Stop()
		for {
			select {
			case <-groupCtx.Done():
				return nil
			case <-ticker.C:
				s.logg.Debug(groupCtx, "worker heartbeat")
			}
		}
	})

	if err := group.Wait(); err != nil {
		return err
	}
	return ctx.Err()
}
