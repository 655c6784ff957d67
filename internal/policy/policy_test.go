package policy_test

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/lightangel1412/reconness/internal/model"
	"github.com/lightangel1412/reconness/internal/policy"
)

func TestEvaluate(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name      string
		agent     model.Agent
		target    model.Target
		subdomain *model.Subdomain
		want      error
	}{
		{
			name:   "no flags always allows",
			agent:  model.Agent{Name: "ffuf"},
			target: model.Target{Name: "example.com"},
		},
		{
			name:   "only if target alive denies dead target",
			agent:  model.Agent{Name: "ffuf", OnlyIfTargetAlive: true},
			target: model.Target{Name: "example.com"},
			want:   model.ErrTargetNotAlive,
		},
		{
			name:   "only if alive without subdomain checks target",
			agent:  model.Agent{Name: "ffuf", OnlyIfIsAlive: true},
			target: model.Target{Name: "example.com"},
			want:   model.ErrTargetNotAlive,
		},
		{
			name:      "only if alive checks subdomain when given",
			agent:     model.Agent{Name: "ffuf", OnlyIfIsAlive: true, SkipIfRanBefore: true},
			target:    model.Target{Name: "example.com", IsAlive: true},
			subdomain: &model.Subdomain{Name: "www.example.com"},
			want:      model.ErrTargetNotAlive,
		},
		{
			name:      "alive subdomain allows",
			agent:     model.Agent{Name: "ffuf", OnlyIfIsAlive: true},
			target:    model.Target{Name: "example.com"},
			subdomain: &model.Subdomain{Name: "www.example.com", IsAlive: true},
		},
		{
			name:   "skip if ran before on target scope",
			agent:  model.Agent{Name: "ffuf", SkipIfRanBefore: true},
			target: model.Target{Name: "example.com", AgentsRan: []string{"ffuf"}},
			want:   model.ErrAlreadyRan,
		},
		{
			name:  "skip if ran before on subdomain scope",
			agent: model.Agent{Name: "ffuf", SkipIfRanBefore: true},
			target: model.Target{
				Name:      "example.com",
				AgentsRan: []string{"ffuf"},
			},
			subdomain: &model.Subdomain{Name: "www.example.com", AgentsRan: []string{"ffuf"}},
			want:      model.ErrAlreadyRan,
		},
		{
			name:  "target ran-before does not shadow fresh subdomain",
			agent: model.Agent{Name: "ffuf", SkipIfRanBefore: true},
			target: model.Target{
				Name:      "example.com",
				AgentsRan: []string{"ffuf"},
			},
			subdomain: &model.Subdomain{Name: "www.example.com"},
		},
		{
			name:   "other agent ran before does not deny",
			agent:  model.Agent{Name: "ffuf", SkipIfRanBefore: true},
			target: model.Target{Name: "example.com", AgentsRan: []string{"sublist3r"}},
		},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			err := policy.Evaluate(&tc.agent, &tc.target, tc.subdomain)
			if tc.want == nil {
				require.NoError(t, err)
				return
			}
			require.ErrorIs(t, err, tc.want)
			require.ErrorIs(t, err, model.ErrDenied)
		})
	}
}
