package service

import (
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/fsnotify/fsnotify"
	"github.com/spf13/viper"
	"go.uber.org/zap"

	"github.com/deployops/approval-gate/internal/models"
)

// permissionsFile is the on-disk shape of the operator-managed user and
// project configuration.
type permissionsFile struct {
	Users    map[string]models.UserConfig `mapstructure:"users"`
	Projects map[string]projectConfig     `mapstructure:"projects"`
	Defaults models.ApprovalSettings      `mapstructure:"defaults"`
}

type projectConfig struct {
	Owners   []string                 `mapstructure:"owners"`
	Approval *models.ApprovalSettings `mapstructure:"approval"`
}

// PermissionService loads the users file and answers who may decide what.
// The file is watched: edits apply without a restart, and a broken edit
// keeps the previous snapshot in effect.
type PermissionService struct {
	path   string
	logger *zap.Logger

	mu   sync.RWMutex
	data permissionsFile
}

// NewPermissionService loads the permissions file and starts watching it.
func NewPermissionService(path string, logger *zap.Logger) (*PermissionService, error) {
	s := &PermissionService{path: path, logger: logger}

	v := viper.New()
	v.SetConfigFile(path)
	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("read permissions file %s: %w", path, err)
	}
	if err := s.apply(v); err != nil {
		return nil, err
	}

	v.OnConfigChange(func(event fsnotify.Event) {
		if err := s.apply(v); err != nil {
			s.logger.Sugar().Errorw("permissions reload failed, keeping previous snapshot",
				"file", event.Name, "error", err)
			return
		}
		s.logger.Sugar().Infow("permissions reloaded", "file", event.Name)
	})
	v.WatchConfig()

	return s, nil
}

func (s *PermissionService) apply(v *viper.Viper) error {
	var parsed permissionsFile
	if err := v.Unmarshal(&parsed); err != nil {
		return fmt.Errorf("parse permissions file %s: %w", s.path, err)
	}
	if parsed.Users == nil {
		parsed.Users = map[string]models.UserConfig{}
	}
	if parsed.Projects == nil {
		parsed.Projects = map[string]projectConfig{}
	}
	s.mu.Lock()
	s.data = parsed
	s.mu.Unlock()
	return nil
}

// CanDecide reports whether username may decide approvals for project.
// Admins may decide anywhere; everyone else needs the project either in
// their own project list or in the project's owner list.
func (s *PermissionService) CanDecide(project, username string) (models.Identity, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	user, ok := s.data.Users[username]
	if !ok {
		return models.Identity{}, false
	}
	identity := s.identity(username, user)
	if user.Admin {
		return identity, true
	}
	for _, p := range user.Projects {
		if strings.EqualFold(p, project) {
			return identity, true
		}
	}
	if proj, ok := s.data.Projects[project]; ok {
		for _, owner := range proj.Owners {
			if strings.EqualFold(owner, username) {
				return identity, true
			}
		}
	}
	return models.Identity{}, false
}

// OwnersFor lists the identities to notify for a project: its declared
// owners plus every user that lists the project, deduplicated and sorted.
func (s *PermissionService) OwnersFor(project string) []models.Identity {
	s.mu.RLock()
	defer s.mu.RUnlock()

	seen := make(map[string]struct{})
	var owners []models.Identity
	add := func(username string) {
		if _, dup := seen[username]; dup {
			return
		}
		user, ok := s.data.Users[username]
		if !ok {
			return
		}
		seen[username] = struct{}{}
		owners = append(owners, s.identity(username, user))
	}

	if proj, ok := s.data.Projects[project]; ok {
		for _, owner := range proj.Owners {
			add(owner)
		}
	}
	for username, user := range s.data.Users {
		for _, p := range user.Projects {
			if strings.EqualFold(p, project) {
				add(username)
			}
		}
	}

	sort.Slice(owners, func(i, j int) bool { return owners[i].Username < owners[j].Username })
	return owners
}

// Settings returns the project's approval overrides, falling back to the
// file-level defaults, or nil when neither is set.
func (s *PermissionService) Settings(project string) *models.ApprovalSettings {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if proj, ok := s.data.Projects[project]; ok && proj.Approval != nil {
		return proj.Approval
	}
	if s.data.Defaults != (models.ApprovalSettings{}) {
		defaults := s.data.Defaults
		return &defaults
	}
	return nil
}

// LookupByTelegramID resolves a chat user back to a configured identity.
func (s *PermissionService) LookupByTelegramID(id int64) (models.Identity, bool) {
	if id == 0 {
		return models.Identity{}, false
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	for username, user := range s.data.Users {
		if user.TelegramID == id {
			return s.identity(username, user), true
		}
	}
	return models.Identity{}, false
}

func (s *PermissionService) identity(username string, user models.UserConfig) models.Identity {
	return models.Identity{
		Username:   username,
		Name:       user.Name,
		Role:       user.Role,
		TelegramID: user.TelegramID,
	}
}
