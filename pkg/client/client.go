package client

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"veco-ner/pkg/api"

	"github.com/go-resty/resty/v2"
)

// Error is returned for any non 2xx response.
type Error struct {
	StatusCode int
	Message    string
}

func (e *Error) Error() string {
	return fmt.Sprintf("request failed with status %d: %s", e.StatusCode, e.Message)
}

func IsNotFound(err error) bool {
	var cerr *Error
	return errors.As(err, &cerr) && cerr.StatusCode == http.StatusNotFound
}

type Client struct {
	client *resty.Client
}

func New(baseURL string) *Client {
	return &Client{
		client: resty.New().
			SetBaseURL(strings.TrimSuffix(baseURL, "/")).
			SetTimeout(2 * time.Minute).
			SetHeader("Accept", "application/json"),
	}
}

func (c *Client) do(ctx context.Context, method, endpoint string, body, result any) error {
	req := c.client.R().SetContext(ctx)
	if body != nil {
		req = req.SetHeader("Content-Type", "application/json").SetBody(body)
	}
	if result != nil {
		req = req.SetResult(result)
	}
	req = req.SetError(&api.ErrorResponse{})

	res, err := req.Execute(method, endpoint)
	if err != nil {
		return fmt.Errorf("error sending %s %s: %w", method, endpoint, err)
	}
	if !res.IsSuccess() {
		message := strings.TrimSpace(res.String())
		if body, ok := res.Error().(*api.ErrorResponse); ok && body.Error != "" {
			message = body.Error
		}
		return &Error{StatusCode: res.StatusCode(), Message: message}
	}
	return nil
}

func modelPath(name string, parts ...string) string {
	return "/models/" + url.PathEscape(name) + strings.Join(parts, "")
}

func (c *Client) Health(ctx context.Context) error {
	return c.do(ctx, http.MethodGet, "/health", nil, nil)
}

// ListModels returns the catalog, restricted to task when it is not empty.
func (c *Client) ListModels(ctx context.Context, task string) ([]api.Checkpoint, error) {
	endpoint := "/models"
	if task != "" {
		endpoint += "?" + url.Values{"task": {task}}.Encode()
	}
	var res []api.Checkpoint
	if err := c.do(ctx, http.MethodGet, endpoint, nil, &res); err != nil {
		return nil, err
	}
	return res, nil
}

func (c *Client) RegisterModel(ctx context.Context, req api.RegisterCheckpointRequest) (api.Checkpoint, error) {
	var res api.Checkpoint
	err := c.do(ctx, http.MethodPost, "/models", req, &res)
	return res, err
}

func (c *Client) GetModel(ctx context.Context, name string) (api.Checkpoint, error) {
	var res api.Checkpoint
	err := c.do(ctx, http.MethodGet, modelPath(name), nil, &res)
	return res, err
}

func (c *Client) DeleteModel(ctx context.Context, name string) error {
	return c.do(ctx, http.MethodDelete, modelPath(name), nil, nil)
}

func (c *Client) Labels(ctx context.Context, name string) (api.LabelsResponse, error) {
	var res api.LabelsResponse
	err := c.do(ctx, http.MethodGet, modelPath(name, "/labels"), nil, &res)
	return res, err
}

func (c *Client) Predict(ctx context.Context, name string, req api.PredictRequest) (api.PredictResponse, error) {
	var res api.PredictResponse
	err := c.do(ctx, http.MethodPost, modelPath(name, "/predict"), req, &res)
	return res, err
}

func (c *Client) Forward(ctx context.Context, name string, req api.ForwardRequest) (api.ForwardResponse, error) {
	var res api.ForwardResponse
	err := c.do(ctx, http.MethodPost, modelPath(name, "/forward"), req, &res)
	return res, err
}

func (c *Client) Registry(ctx context.Context) ([]api.RegistryEntry, error) {
	var res []api.RegistryEntry
	if err := c.do(ctx, http.MethodGet, "/registry", nil, &res); err != nil {
		return nil, err
	}
	return res, nil
}
