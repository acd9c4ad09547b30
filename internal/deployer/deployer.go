// Package deployer implements C8: the function-deployer collaborator
// client. The deployer is treated as an external JSON-RPC-style service
// (deploy/status/delete/generate_name over plain HTTP+JSON), patterned on
// the services/llm-router raw-HTTP provider client rather than the
// Kubernetes-native deployment_activities.go, since this collaborator is
// an opaque external service, not an in-cluster orchestrator.
package deployer

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/greenfleet-dev/carbon-scheduler/internal/model"
	"github.com/greenfleet-dev/carbon-scheduler/internal/resilience"
	"go.uber.org/zap"
)

// Client talks to the external function-deployer service.
type Client struct {
	httpClient *http.Client
	endpoint   string
	token      string
}

// New constructs a deployer Client.
func New(endpoint, token string, timeout time.Duration) *Client {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &Client{httpClient: &http.Client{Timeout: timeout}, endpoint: endpoint, token: token}
}

type rpcRequest struct {
	Method string          `json:"method"`
	Params json.RawMessage `json:"params"`
}

type rpcResponse struct {
	Result json.RawMessage `json:"result"`
	Error  *string         `json:"error"`
}

func (c *Client) call(ctx context.Context, method string, params any, out any) error {
	encodedParams, err := json.Marshal(params)
	if err != nil {
		return fmt.Errorf("deployer: marshal params for %s: %w", method, err)
	}
	body, err := json.Marshal(rpcRequest{Method: method, Params: encodedParams})
	if err != nil {
		return fmt.Errorf("deployer: marshal request for %s: %w", method, err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("deployer: build request for %s: %w", method, err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+c.token)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("deployer: %s request failed: %w", method, err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("deployer: read %s response: %w", method, err)
	}
	if resp.StatusCode >= 500 {
		return fmt.Errorf("deployer: %s got 5xx: %s", method, string(respBody))
	}
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("deployer: %s got status %d: %s", method, resp.StatusCode, string(respBody))
	}

	var parsed rpcResponse
	if err := json.Unmarshal(respBody, &parsed); err != nil {
		return fmt.Errorf("deployer: decode %s response: %w", method, err)
	}
	if parsed.Error != nil {
		return fmt.Errorf("deployer: %s returned error: %s", method, *parsed.Error)
	}
	if out != nil {
		if err := json.Unmarshal(parsed.Result, out); err != nil {
			return fmt.Errorf("deployer: decode %s result: %w", method, err)
		}
	}
	return nil
}

// DeployParams is the deploy RPC's request payload.
type DeployParams struct {
	FunctionID string `json:"function_id"`
	Region     string `json:"region"`
	CodeHash   string `json:"code_hash"`
	SourceText string `json:"source_text"`
	Extension  string `json:"extension"`
	Name       string `json:"name,omitempty"`
}

// DeployResult is the deploy RPC's response payload.
type DeployResult struct {
	URL           string    `json:"url"`
	DeployedAtUTC time.Time `json:"deployed_at_utc"`
}

// Deploy pushes fn's artifact into region.
func (c *Client) Deploy(ctx context.Context, p DeployParams) (*DeployResult, error) {
	var out DeployResult
	if err := c.call(ctx, "deploy", p, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// StatusParams asks for the current deployment state.
type StatusParams struct {
	FunctionID string `json:"function_id"`
	Region     string `json:"region"`
}

// StatusResult is the deployer's status answer.
type StatusResult struct {
	Deployed bool   `json:"deployed"`
	CodeHash string `json:"code_hash"`
	URL      string `json:"url"`
}

// Status queries whether fn is already deployed in region, and with what
// code hash, so the caller can skip redundant deploys.
func (c *Client) Status(ctx context.Context, p StatusParams) (*StatusResult, error) {
	var out StatusResult
	if err := c.call(ctx, "status", p, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// DeleteParams tears down a deployment.
type DeleteParams struct {
	FunctionID string `json:"function_id"`
	Region     string `json:"region"`
}

// Delete removes fn's deployment from region.
func (c *Client) Delete(ctx context.Context, p DeleteParams) error {
	return c.call(ctx, "delete", p, nil)
}

// GenerateNameParams asks the deployer to mint a stable deployment name.
type GenerateNameParams struct {
	FunctionID string `json:"function_id"`
	Region     string `json:"region"`
}

// GenerateNameResult is the deployer's minted name.
type GenerateNameResult struct {
	Name string `json:"name"`
}

// GenerateName asks the deployer for a deployment name, used when the
// caller doesn't want to derive one locally.
func (c *Client) GenerateName(ctx context.Context, p GenerateNameParams) (string, error) {
	var out GenerateNameResult
	if err := c.call(ctx, "generate_name", p, &out); err != nil {
		return "", err
	}
	return out.Name, nil
}

// CodeHash returns the hex SHA-256 of an artifact's source text, the
// identity the deployer and the scheduler both use to decide whether a
// redeploy is needed.
func CodeHash(a model.Artifact) string {
	sum := sha256.Sum256([]byte(a.SourceText))
	return hex.EncodeToString(sum[:])
}

// Orchestrator drives deployment decisions for one function's schedule:
// it iterates the top-M ranked regions, skips any whose deployer-reported
// code hash already matches, and treats a single region's deploy failure
// as non-fatal so the remaining regions still get a chance.
type Orchestrator struct {
	client *Client
	topM   int
	logger *zap.Logger
}

// NewOrchestrator constructs an Orchestrator. topM defaults to 3.
func NewOrchestrator(client *Client, topM int, logger *zap.Logger) *Orchestrator {
	if topM <= 0 {
		topM = 3
	}
	return &Orchestrator{client: client, topM: topM, logger: logger}
}

// DeployEvent records one per-region deploy attempt's outcome, successful
// or not; callers emit a deploy_failed telemetry event for the failed ones.
type DeployEvent struct {
	FunctionID string
	Region     string
	Success    bool
	Reason     string
}

// Reconcile deploys fn's artifact to the top-M regions of sched that do
// not already have a matching code hash, returning the updated deployment
// map and the events observed.
func (o *Orchestrator) Reconcile(ctx context.Context, fn model.FunctionMetadata, sched model.Schedule) (map[string]model.DeploymentInfo, []DeployEvent) {
	if fn.Artifact == nil {
		return sched.Deployment, nil
	}
	codeHash := CodeHash(*fn.Artifact)

	deployment := make(map[string]model.DeploymentInfo, len(sched.Deployment))
	for k, v := range sched.Deployment {
		deployment[k] = v
	}

	var events []DeployEvent
	regions := topMRegions(sched, o.topM)

	for _, region := range regions {
		status, err := WithRetry(ctx, o.logger, func(ctx context.Context) (*StatusResult, error) {
			return o.client.Status(ctx, StatusParams{FunctionID: fn.FunctionID, Region: region})
		})
		if err == nil && status.Deployed && status.CodeHash == codeHash {
			continue
		}

		name := ""
		if _, firstDeploy := deployment[region]; !firstDeploy {
			if minted, err := WithRetry(ctx, o.logger, func(ctx context.Context) (string, error) {
				return o.client.GenerateName(ctx, GenerateNameParams{FunctionID: fn.FunctionID, Region: region})
			}); err == nil {
				name = minted
			} else if o.logger != nil {
				o.logger.Warn("deployer: could not mint a deployment name, deploying unnamed",
					zap.String("function_id", fn.FunctionID), zap.String("region", region), zap.Error(err))
			}
		}

		result, err := WithRetry(ctx, o.logger, func(ctx context.Context) (*DeployResult, error) {
			return o.client.Deploy(ctx, DeployParams{
				FunctionID: fn.FunctionID,
				Region:     region,
				CodeHash:   codeHash,
				SourceText: fn.Artifact.SourceText,
				Extension:  fn.Artifact.Extension,
				Name:       name,
			})
		})
		if err != nil {
			if o.logger != nil {
				o.logger.Warn("deployer: region deploy failed, continuing with remaining regions",
					zap.String("function_id", fn.FunctionID), zap.String("region", region), zap.Error(err))
			}
			events = append(events, DeployEvent{FunctionID: fn.FunctionID, Region: region, Success: false, Reason: err.Error()})
			continue
		}

		deployment[region] = model.DeploymentInfo{URL: result.URL, CodeHash: codeHash, DeployedAtUTC: result.DeployedAtUTC}
		events = append(events, DeployEvent{FunctionID: fn.FunctionID, Region: region, Success: true})
	}

	return deployment, events
}

func topMRegions(sched model.Schedule, m int) []string {
	seen := make(map[string]struct{}, m)
	var out []string
	for _, r := range sched.Recommendations {
		if _, ok := seen[r.Region]; ok {
			continue
		}
		seen[r.Region] = struct{}{}
		out = append(out, r.Region)
		if len(out) >= m {
			break
		}
	}
	return out
}

// WithRetry wraps a single deployer RPC with the default retry policy.
// Reconcile uses it for every Status/Deploy call so a transient 5xx from
// the deployer doesn't fail a region on the first attempt; it's exported
// so other deployer-calling code paths get the same backoff without
// going through the full Orchestrator.
func WithRetry[T any](ctx context.Context, logger *zap.Logger, fn func(ctx context.Context) (T, error)) (T, error) {
	return resilience.WithBackoff(ctx, resilience.DefaultRetryConfig(), "deployer.call", logger, nil, fn)
}
