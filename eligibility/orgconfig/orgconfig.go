// Package orgconfig serves organization configuration with short-lived
// caching in front of the configuration repository.
package orgconfig

import (
	"context"
	"fmt"
	"time"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"

	"github.com/havenhealth/eligibility-app/eligibility/cache"
	"github.com/havenhealth/eligibility-app/eligibility/constants"
	"github.com/havenhealth/eligibility-app/eligibility/models"
)

// Service resolves organizations, header aliases, and external-id
// mappings. Hot lookups on the stream path are cached.
type Service struct {
	repo   models.ConfigurationRepository
	logger logrus.FieldLogger

	externalIDCache *cache.TTLCache
	activeCache     *cache.TTLCache
}

func New(repo models.ConfigurationRepository, logger logrus.FieldLogger) *Service {
	return &Service{
		repo:            repo,
		logger:          logger,
		externalIDCache: cache.NewTTLCache(constants.ExternalIDCacheTTLSeconds*time.Second, constants.ExternalIDCacheMaxSize),
		activeCache:     cache.NewTTLCache(constants.ExternalIDCacheTTLSeconds*time.Second, constants.ExternalIDCacheMaxSize),
	}
}

// ConfigurationForDirectory resolves the organization that owns an upload
// directory. A nil configuration with nil error means no organization is
// registered for the directory.
func (s *Service) ConfigurationForDirectory(ctx context.Context, directory string) (*models.Configuration, error) {
	cfg, err := s.repo.GetConfigurationByDirectory(ctx, directory)
	if err != nil {
		return nil, errors.Wrapf(err, "could not look up configuration for directory %s", directory)
	}
	if cfg == nil {
		s.logger.WithField("directory", directory).Warn("no configuration found for directory")
	}
	return cfg, nil
}

// Configuration returns the configuration row for an organization.
func (s *Service) Configuration(ctx context.Context, organizationID int64) (*models.Configuration, error) {
	cfg, err := s.repo.GetConfigurationByID(ctx, organizationID)
	if err != nil {
		return nil, errors.Wrapf(err, "could not look up configuration for organization %d", organizationID)
	}
	return cfg, nil
}

// HeaderMapping returns the default header mapping merged with the
// organization's aliases.
func (s *Service) HeaderMapping(ctx context.Context, organizationID int64) (models.HeaderMapping, error) {
	aliases, err := s.repo.GetHeaderAliases(ctx, organizationID)
	if err != nil {
		return nil, errors.Wrapf(err, "could not look up header aliases for organization %d", organizationID)
	}
	return models.HeaderMapping(aliases.WithDefaults()), nil
}

// CustomAttributes returns the organization's custom-attribute key mapping.
func (s *Service) CustomAttributes(ctx context.Context, organizationID int64) (map[string]string, error) {
	attrs, err := s.repo.GetCustomAttributes(ctx, organizationID)
	if err != nil {
		return nil, errors.Wrapf(err, "could not look up custom attributes for organization %d", organizationID)
	}
	return attrs, nil
}

// ExternalOrgInfo resolves a (source, clientID, customerID) triple to an
// organization. The compound "client:customer" key wins over the client id
// alone. Results, including misses, are cached.
func (s *Service) ExternalOrgInfo(ctx context.Context, source, clientID, customerID string) (*models.ExternalOrgInfo, error) {
	key := fmt.Sprintf("%s:%s:%s", source, clientID, customerID)
	if v, ok := s.externalIDCache.Get(key); ok {
		info, _ := v.(*models.ExternalOrgInfo)
		return info, nil
	}

	var info *models.ExternalOrgInfo
	var err error
	if customerID != "" {
		info, err = s.repo.GetExternalOrgInfo(ctx, source, clientID+":"+customerID)
		if err != nil {
			return nil, errors.Wrap(err, "could not look up compound external id")
		}
	}
	if info == nil {
		info, err = s.repo.GetExternalOrgInfo(ctx, source, clientID)
		if err != nil {
			return nil, errors.Wrap(err, "could not look up external id")
		}
	}

	s.externalIDCache.Set(key, info)
	return info, nil
}

// IsActive reports whether the organization is active right now. Results
// are cached.
func (s *Service) IsActive(ctx context.Context, organizationID int64) (bool, error) {
	key := fmt.Sprintf("active:%d", organizationID)
	if v, ok := s.activeCache.Get(key); ok {
		active, _ := v.(bool)
		return active, nil
	}

	cfg, err := s.repo.GetConfigurationByID(ctx, organizationID)
	if err != nil {
		return false, errors.Wrapf(err, "could not look up configuration for organization %d", organizationID)
	}
	active := cfg != nil && cfg.ActiveAt(time.Now())
	s.activeCache.Set(key, active)
	return active, nil
}
