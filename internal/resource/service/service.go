package service

import (
	"context"
	"encoding/base64"
	"errors"

	"github.com/smallbiznis/telemetry/internal/resource/domain"
	"github.com/smallbiznis/telemetry/internal/resource/links"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

type Params struct {
	fx.In

	DB   *gorm.DB
	Log  *zap.Logger
	Repo domain.Repository
}

type Service struct {
	db   *gorm.DB
	log  *zap.Logger
	repo domain.Repository
}

func New(p Params) domain.Service {
	return &Service{
		db:   p.DB,
		log:  p.Log.Named("resource.service"),
		repo: p.Repo,
	}
}

func (s *Service) ListResources(ctx context.Context, base domain.LinkBase, filter domain.Filter) ([]domain.ResourceView, error) {
	rows, err := s.repo.List(ctx, s.db, filter)
	if err != nil {
		return nil, err
	}

	ids := make([]string, 0, len(rows))
	for _, row := range rows {
		ids = append(ids, row.ResourceID)
	}
	meters, err := s.repo.MetersByResource(ctx, s.db, ids)
	if err != nil {
		return nil, err
	}

	views := make([]domain.ResourceView, 0, len(rows))
	for _, row := range rows {
		views = append(views, toView(base, row, meters[row.ResourceID]))
	}
	return views, nil
}

func (s *Service) GetResource(ctx context.Context, base domain.LinkBase, resourceID string) (domain.ResourceView, error) {
	if resourceID == "" {
		return domain.ResourceView{}, domain.ErrInvalidResource
	}
	row, err := s.repo.Get(ctx, s.db, resourceID)
	if err != nil {
		return domain.ResourceView{}, err
	}
	meters, err := s.repo.MetersByResource(ctx, s.db, []string{resourceID})
	if err != nil {
		return domain.ResourceView{}, err
	}
	return toView(base, *row, meters[resourceID]), nil
}

// ResolveLink dereferences a self link issued by ListResources or GetResource.
func (s *Service) ResolveLink(ctx context.Context, base domain.LinkBase, link string) (domain.ResourceView, error) {
	resourceID, err := links.ResourceID(link)
	if err != nil {
		return domain.ResourceView{}, err
	}
	view, err := s.GetResource(ctx, base, resourceID)
	if errors.Is(err, domain.ErrNotFound) {
		s.log.Debug("link points at unknown resource", zap.String("resource_id", resourceID))
	}
	return view, err
}

func (s *Service) ListMeters(ctx context.Context, filter domain.Filter) ([]domain.MeterView, error) {
	rows, err := s.repo.ListMeters(ctx, s.db, filter, "")
	if err != nil {
		return nil, err
	}
	out := make([]domain.MeterView, 0, len(rows))
	for _, row := range rows {
		out = append(out, domain.MeterView{
			MeterID:    meterID(row.ResourceID, row.CounterName),
			Name:       row.CounterName,
			Type:       row.CounterType,
			Unit:       row.CounterUnit,
			ResourceID: row.ResourceID,
			ProjectID:  row.ProjectID,
			UserID:     row.UserID,
			Source:     row.Source,
		})
	}
	return out, nil
}

func toView(base domain.LinkBase, row domain.Resource, meters []domain.Meter) domain.ResourceView {
	names := make([]string, 0, len(meters))
	for _, m := range meters {
		names = append(names, m.CounterName)
	}
	metadata := map[string]any(row.Metadata)
	if metadata == nil {
		metadata = map[string]any{}
	}
	return domain.ResourceView{
		ResourceID:           row.ResourceID,
		ProjectID:            row.ProjectID,
		UserID:               row.UserID,
		Source:               row.Source,
		FirstSampleTimestamp: row.FirstSampleTimestamp.UTC(),
		LastSampleTimestamp:  row.LastSampleTimestamp.UTC(),
		Metadata:             metadata,
		Links:                links.ForResource(base, row.ResourceID, names),
	}
}

func meterID(resourceID, counterName string) string {
	return base64.StdEncoding.EncodeToString([]byte(resourceID + "+" + counterName))
}
