package middleware

import (
	"net/http"

	"propdesk-affiliate/pkg/config"
	"propdesk-affiliate/pkg/errutil"

	"github.com/casbin/casbin/v2"
	"github.com/casbin/casbin/v2/model"
	"github.com/gin-gonic/gin"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

var AuthzModule = fx.Module("authz", fx.Provide(NewEnforcer))

const defaultModel = `
[request_definition]
r = sub, obj, act

[policy_definition]
p = sub, obj, act

[role_definition]
g = _, _

[policy_effect]
e = some(where (p.eft == allow))

[matchers]
m = g(r.sub, p.sub) && r.obj == p.obj && r.act == p.act
`

// Objects and actions guarded by Authorize.
const (
	ObjPayout    = "payout"
	ObjAffiliate = "affiliate"

	ActReview   = "review"
	ActUndo     = "undo"
	ActSettings = "settings"
	ActReparent = "reparent"
)

var defaultPolicies = [][]string{
	{"manager", ObjPayout, ActReview},
	{"manager", ObjPayout, ActUndo},
	{"manager", ObjAffiliate, ActSettings},
	{"manager", ObjAffiliate, ActReparent},
}

// NewEnforcer loads ACCESS_CONTROL.MODEL/POLICY files when configured and
// otherwise uses the built-in manager/admin policy.
func NewEnforcer(cfg *config.Config) (*casbin.Enforcer, error) {
	ac := cfg.AccessControl
	if ac.Model != "" && ac.Policy != "" {
		return casbin.NewEnforcer(ac.Model, ac.Policy)
	}
	return DefaultEnforcer()
}

func DefaultEnforcer() (*casbin.Enforcer, error) {
	m, err := model.NewModelFromString(defaultModel)
	if err != nil {
		return nil, err
	}

	e, err := casbin.NewEnforcer(m)
	if err != nil {
		return nil, err
	}

	for _, p := range defaultPolicies {
		if _, err := e.AddPolicy(p[0], p[1], p[2]); err != nil {
			return nil, err
		}
	}
	if _, err := e.AddGroupingPolicy("admin", "manager"); err != nil {
		return nil, err
	}

	return e, nil
}

// Authorize aborts with 403 unless the actor's role may perform act on obj.
func Authorize(e *casbin.Enforcer, obj, act string) gin.HandlerFunc {
	return func(c *gin.Context) {
		actor, _ := ActorFrom(c.Request.Context())

		ok, err := e.Enforce(actor.Role, obj, act)
		if err != nil {
			zap.L().Error("authorization check failed", zap.Error(err))
			c.AbortWithStatusJSON(http.StatusInternalServerError, errutil.As(err).JSON())
			return
		}
		if !ok {
			be := errutil.As(errutil.Forbidden("not allowed to "+act+" "+obj, nil))
			c.AbortWithStatusJSON(be.Code.HTTPStatus(), be.JSON())
			return
		}

		c.Next()
	}
}
