// Package policy decides whether an agent may run against a scope.
// Evaluation is pure: callable for dry-run validation without starting
// any process.
package policy

import (
	"github.com/lightangel1412/reconness/internal/model"
)

// Evaluate returns nil when the run is allowed, otherwise one of
// model.ErrTargetNotAlive or model.ErrAlreadyRan (both unwrap to
// model.ErrDenied).
//
// OnlyIfIsAlive is scoped: it checks the subdomain's liveness when a
// subdomain is given, the target's otherwise. SkipIfRanBefore is
// scoped the same way.
func Evaluate(agent *model.Agent, target *model.Target, subdomain *model.Subdomain) error {
	if agent.OnlyIfTargetAlive && !target.IsAlive {
		return model.ErrTargetNotAlive
	}

	if agent.OnlyIfIsAlive {
		alive := target.IsAlive
		if subdomain != nil {
			alive = subdomain.IsAlive
		}
		if !alive {
			return model.ErrTargetNotAlive
		}
	}

	if agent.SkipIfRanBefore {
		ran := target.HasRun(agent.Name)
		if subdomain != nil {
			ran = subdomain.HasRun(agent.Name)
		}
		if ran {
			return model.ErrAlreadyRan
		}
	}

	return nil
}
