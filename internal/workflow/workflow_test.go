package workflow

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"github.com/stretchr/testify/suite"
	"go.temporal.io/sdk/testsuite"

	"github.com/greenfleet-dev/carbon-scheduler/internal/model"
)

func TestIsTimeoutErr(t *testing.T) {
	cases := []struct {
		err  error
		want bool
	}{
		{errors.New("activity StartToCloseTimeout: timeout"), true},
		{errors.New("context deadline exceeded"), true},
		{errors.New("DEADLINE EXCEEDED while calling oracle"), true},
		{errors.New("invalid allowed_regions"), false},
		{errors.New("connection refused"), false},
	}
	for _, c := range cases {
		assert.Equal(t, c.want, isTimeoutErr(c.err), "isTimeoutErr(%q)", c.err)
	}
}

// functionWorkflowSuite exercises FunctionWorkflow's per-function state
// machine against mocked activities, the idiomatic way to test a Temporal
// workflow without a live worker or external collaborators.
type functionWorkflowSuite struct {
	suite.Suite
	testsuite.WorkflowTestSuite
}

func TestFunctionWorkflowSuite(t *testing.T) {
	suite.Run(t, new(functionWorkflowSuite))
}

func (s *functionWorkflowSuite) TestRejectedAtNormalizationFailsWithoutFurtherActivities() {
	env := s.NewTestWorkflowEnvironment()
	act := &Activities{}

	env.OnActivity(act.NormalizeFunctionActivity, mock.Anything, mock.Anything).
		Return(normalizeResult{Rejected: true, Reason: "gpu_required with no GPU region"}, nil)

	env.ExecuteWorkflow(FunctionWorkflow, FunctionPlanRequest{FunctionID: "fn-a"})

	s.True(env.IsWorkflowCompleted())
	s.NoError(env.GetWorkflowError())

	var outcome FunctionOutcome
	s.Require().NoError(env.GetWorkflowResult(&outcome))
	s.Equal(StageFailed, outcome.Stage)
	s.Equal("gpu_required with no GPU region", outcome.Reason)
	env.AssertNotCalled(s.T(), "CacheLookupActivity", mock.Anything, mock.Anything)
}

func (s *functionWorkflowSuite) TestCacheHitShortCircuitsScoring() {
	env := s.NewTestWorkflowEnvironment()
	act := &Activities{}

	cachedDeployment := map[string]model.DeploymentInfo{"us-east-1": {URL: "https://fn.us-east-1.example"}}
	env.OnActivity(act.NormalizeFunctionActivity, mock.Anything, mock.Anything).
		Return(normalizeResult{}, nil)
	env.OnActivity(act.CacheLookupActivity, mock.Anything, mock.Anything).
		Return(cacheLookupResult{
			Hit:             true,
			Recommendations: []model.Recommendation{{Priority: 1, Region: "us-east-1"}},
			Deployment:      cachedDeployment,
		}, nil)

	env.ExecuteWorkflow(FunctionWorkflow, FunctionPlanRequest{FunctionID: "fn-a"})

	s.True(env.IsWorkflowCompleted())
	s.NoError(env.GetWorkflowError())

	var outcome FunctionOutcome
	s.Require().NoError(env.GetWorkflowResult(&outcome))
	s.Equal(StageCachedHit, outcome.Stage)
	s.Require().Len(outcome.Recommendations, 1)
	s.Equal("us-east-1", outcome.Recommendations[0].Region)
	s.Equal(cachedDeployment, outcome.Deployment)
	env.AssertNotCalled(s.T(), "ScoreAndRankActivity", mock.Anything, mock.Anything)
}

func (s *functionWorkflowSuite) TestScoreAndRankSuccessReachesWritten() {
	env := s.NewTestWorkflowEnvironment()
	act := &Activities{}

	writtenDeployment := map[string]model.DeploymentInfo{"us-east-1": {URL: "https://fn.us-east-1.example"}}
	env.OnActivity(act.NormalizeFunctionActivity, mock.Anything, mock.Anything).
		Return(normalizeResult{}, nil)
	env.OnActivity(act.CacheLookupActivity, mock.Anything, mock.Anything).
		Return(cacheLookupResult{Hit: false}, nil)
	env.OnActivity(act.ScoreAndRankActivity, mock.Anything, mock.Anything).
		Return(scoreRankResult{
			CandidateCount:  3,
			DeployedRegions: []string{"us-east-1"},
			Recommendations: []model.Recommendation{{Priority: 1, Region: "us-east-1"}},
			Deployment:      writtenDeployment,
		}, nil)

	env.ExecuteWorkflow(FunctionWorkflow, FunctionPlanRequest{FunctionID: "fn-a"})

	s.True(env.IsWorkflowCompleted())
	s.NoError(env.GetWorkflowError())

	var outcome FunctionOutcome
	s.Require().NoError(env.GetWorkflowResult(&outcome))
	s.Equal(StageWritten, outcome.Stage)
	s.Require().Len(outcome.Recommendations, 1)
	s.Equal("us-east-1", outcome.Recommendations[0].Region)
	s.Equal(writtenDeployment, outcome.Deployment)
}

func (s *functionWorkflowSuite) TestScoreAndRankTimeoutReportsFailedTimeoutStage() {
	env := s.NewTestWorkflowEnvironment()
	act := &Activities{}

	env.OnActivity(act.NormalizeFunctionActivity, mock.Anything, mock.Anything).
		Return(normalizeResult{}, nil)
	env.OnActivity(act.CacheLookupActivity, mock.Anything, mock.Anything).
		Return(cacheLookupResult{Hit: false}, nil)
	env.OnActivity(act.ScoreAndRankActivity, mock.Anything, mock.Anything).
		Return(scoreRankResult{}, errors.New("context deadline exceeded"))

	env.ExecuteWorkflow(FunctionWorkflow, FunctionPlanRequest{FunctionID: "fn-a"})

	s.True(env.IsWorkflowCompleted())
	s.NoError(env.GetWorkflowError())

	var outcome FunctionOutcome
	require.NoError(s.T(), env.GetWorkflowResult(&outcome))
	s.Equal(StageFailedTimeout, outcome.Stage)
}
