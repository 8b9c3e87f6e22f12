package ingest

import (
	"catalog-hub/service/models"
	"context"
	"fmt"
	"sort"
)

// columnProfile 表头 -> 列配置
type columnProfile map[string]models.ColumnProfile

func (s *Service) loadProfile(ctx context.Context, req Request) (columnProfile, error) {
	profile := columnProfile{}
	if req.Profile == "" {
		return profile, nil
	}
	var rows []models.ColumnProfile
	if err := s.db.WithContext(ctx).
		Where("profile = ? AND company_code = ? AND data_kind = ?", req.Profile, req.CompanyCode, req.DataKind).
		Order("id").
		Find(&rows).Error; err != nil {
		return nil, fmt.Errorf("加载列配置失败: %w", err)
	}
	for _, r := range rows {
		if _, dup := profile[r.Header]; !dup {
			profile[r.Header] = r
		}
	}
	return profile, nil
}

func (p columnProfile) missingRequired(header []string) []string {
	present := make(map[string]bool, len(header))
	for _, h := range header {
		present[h] = true
	}
	var missing []string
	for h, c := range p {
		if c.IsRequired && !present[h] {
			missing = append(missing, h)
		}
	}
	sort.Strings(missing)
	return missing
}
