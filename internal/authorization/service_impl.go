package authorization

import (
	"context"
	_ "embed"
	"fmt"
	"strings"

	"github.com/casbin/casbin/v2"
	"github.com/casbin/casbin/v2/model"
	gormadapter "github.com/casbin/gorm-adapter/v3"
	"github.com/google/uuid"
	obslogger "github.com/smallbiznis/roteiro/internal/observability/logger"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

//go:embed model.conf
var modelText string

const (
	ObjectCommission   = "commission"
	ObjectPaymentEvent = "payment_event"
)

const (
	ActionCommissionReconcile = "commission.reconcile"
	ActionPaymentEventView    = "payment_event.view"
)

const (
	RoleAdmin   = "admin"
	RoleFinance = "finance"
	RoleSupport = "support"
	RoleSystem  = "system"
	SystemActor = "system"
	userSubject = "user:%s"
	roleSubject = "role:%s"
)

type Service interface {
	Authorize(ctx context.Context, actor, role, object, action string) error
}

type Params struct {
	fx.In

	Log      *zap.Logger
	Enforcer *casbin.SyncedEnforcer
}

type ServiceImpl struct {
	log      *zap.Logger
	enforcer *casbin.SyncedEnforcer
}

func NewEnforcer(db *gorm.DB) (*casbin.SyncedEnforcer, error) {
	adapter, err := gormadapter.NewAdapterByDB(db)
	if err != nil {
		return nil, err
	}
	m, err := model.NewModelFromString(modelText)
	if err != nil {
		return nil, err
	}
	enforcer, err := casbin.NewSyncedEnforcer(m, adapter)
	if err != nil {
		return nil, err
	}
	enforcer.EnableAutoSave(true)
	enforcer.EnableAutoBuildRoleLinks(true)
	if err := enforcer.LoadPolicy(); err != nil {
		return nil, err
	}
	if err := seedPolicies(enforcer); err != nil {
		return nil, err
	}
	if err := enforcer.BuildRoleLinks(); err != nil {
		return nil, err
	}
	return enforcer, nil
}

func NewService(p Params) Service {
	return &ServiceImpl{
		log:      p.Log.Named("authorization.service"),
		enforcer: p.Enforcer,
	}
}

// Authorize checks whether actor, acting with role, may perform action on
// object. The role is asserted by the upstream auth service; the grouping
// is refreshed on every call so a role change applies immediately.
func (s *ServiceImpl) Authorize(ctx context.Context, actor, role, object, action string) error {
	object = strings.TrimSpace(object)
	if object == "" {
		return ErrInvalidObject
	}
	action = strings.TrimSpace(action)
	if action == "" {
		return ErrInvalidAction
	}

	subject, roleName, err := resolveActor(actor, role)
	if err != nil {
		return err
	}
	if err := s.ensureGrouping(subject, roleName); err != nil {
		return err
	}

	allowed, err := s.enforcer.Enforce(subject, object, action)
	if err != nil {
		return err
	}
	if !allowed {
		obslogger.WithContext(ctx, s.log).Warn("authorization denied",
			zap.String("role", roleName),
			zap.String("object", object),
			zap.String("action", action),
		)
		return ErrForbidden
	}
	return nil
}

func resolveActor(actor, role string) (string, string, error) {
	actor = strings.TrimSpace(actor)
	if actor == SystemActor {
		return SystemActor, fmt.Sprintf(roleSubject, RoleSystem), nil
	}
	userID, err := uuid.Parse(actor)
	if err != nil {
		return "", "", ErrInvalidActor
	}
	role = strings.ToLower(strings.TrimSpace(role))
	switch role {
	case RoleAdmin, RoleFinance, RoleSupport:
	default:
		return "", "", ErrInvalidRole
	}
	return fmt.Sprintf(userSubject, userID.String()), fmt.Sprintf(roleSubject, role), nil
}

func (s *ServiceImpl) ensureGrouping(subject, roleName string) error {
	existing, err := s.enforcer.GetFilteredGroupingPolicy(0, subject)
	if err != nil {
		return err
	}
	for _, rule := range existing {
		if len(rule) < 2 || rule[1] == roleName {
			continue
		}
		if _, err := s.enforcer.RemoveGroupingPolicy(rule[0], rule[1]); err != nil {
			return err
		}
	}

	has, err := s.enforcer.HasGroupingPolicy(subject, roleName)
	if err != nil {
		return err
	}
	if has {
		return nil
	}
	_, err = s.enforcer.AddGroupingPolicy(subject, roleName)
	return err
}

func seedPolicies(enforcer *casbin.SyncedEnforcer) error {
	policies := [][]string{
		{"role:support", ObjectPaymentEvent, ActionPaymentEventView},

		{"role:finance", ObjectPaymentEvent, ActionPaymentEventView},
		{"role:finance", ObjectCommission, ActionCommissionReconcile},

		{"role:admin", ObjectPaymentEvent, ActionPaymentEventView},
		{"role:admin", ObjectCommission, ActionCommissionReconcile},

		// Scheduled reconciliation runs as the system actor.
		{"role:system", ObjectCommission, ActionCommissionReconcile},
	}

	for _, policy := range policies {
		has, err := enforcer.HasPolicy(policy)
		if err != nil {
			return err
		}
		if has {
			continue
		}
		if _, err := enforcer.AddPolicy(policy); err != nil {
			return err
		}
	}
	return nil
}
