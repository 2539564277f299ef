// Package client talks to the recorder's control API on behalf of the CLI
// verbs.
package client

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"

	"github.com/go-resty/resty/v2"

	"nvr-edge/dto"
)

var (
	ErrValidation = errors.New("validation error")
	ErrNotFound   = errors.New("not found")
	ErrTimeout    = errors.New("timeout waiting on session state change")
)

type Client struct {
	http *resty.Client
}

func New(baseURL string) *Client {
	r := resty.New()
	r.SetBaseURL(baseURL)
	r.SetHeader("Content-Type", "application/json")
	r.SetHeader("Accept", "application/json")

	return &Client{http: r}
}

func (c *Client) AddCamera(id, uri string) (*dto.CameraStatus, error) {
	var status dto.CameraStatus
	resp, err := c.http.R().
		SetBody(dto.AddCameraRequest{Id: id, URI: uri}).
		SetResult(&status).
		Post("/api/cameras")
	if err != nil {
		return nil, err
	}
	if resp.IsError() {
		return nil, apiError(resp)
	}
	return &status, nil
}

func (c *Client) RemoveCamera(id string) error {
	resp, err := c.http.R().Delete("/api/cameras/" + id)
	if err != nil {
		return err
	}
	if resp.IsError() {
		return apiError(resp)
	}
	return nil
}

func (c *Client) SetEnabled(id string, enabled bool) error {
	action := "disable"
	if enabled {
		action = "enable"
	}
	resp, err := c.http.R().Post(fmt.Sprintf("/api/cameras/%s/%s", id, action))
	if err != nil {
		return err
	}
	if resp.IsError() {
		return apiError(resp)
	}
	return nil
}

func (c *Client) Status(id string) (*dto.CameraStatus, error) {
	var status dto.CameraStatus
	resp, err := c.http.R().SetResult(&status).Get("/api/cameras/" + id)
	if err != nil {
		return nil, err
	}
	if resp.IsError() {
		return nil, apiError(resp)
	}
	return &status, nil
}

type listResponse struct {
	Cameras          []dto.CameraStatus `json:"cameras"`
	StorageExhausted bool               `json:"storage_exhausted"`
}

func (c *Client) StatusAll() ([]dto.CameraStatus, bool, error) {
	var respData listResponse
	resp, err := c.http.R().SetResult(&respData).Get("/api/cameras")
	if err != nil {
		return nil, false, err
	}
	if resp.IsError() {
		return nil, false, apiError(resp)
	}
	return respData.Cameras, respData.StorageExhausted, nil
}

func (c *Client) Summary() ([]dto.RecordingsSummary, error) {
	var summaries []dto.RecordingsSummary
	resp, err := c.http.R().SetResult(&summaries).Get("/api/recordings/summary")
	if err != nil {
		return nil, err
	}
	if resp.IsError() {
		return nil, apiError(resp)
	}
	return summaries, nil
}

func (c *Client) ForceGC() (*dto.GCResult, error) {
	var result dto.GCResult
	resp, err := c.http.R().SetResult(&result).Post("/api/retention/gc")
	if err != nil {
		return nil, err
	}
	if resp.IsError() {
		return nil, apiError(resp)
	}
	return &result, nil
}

func apiError(resp *resty.Response) error {
	var body dto.ErrorResponse
	detail := resp.String()
	if err := json.Unmarshal(resp.Body(), &body); err == nil && body.Error != "" {
		detail = body.Error
	}

	switch resp.StatusCode() {
	case http.StatusBadRequest, http.StatusConflict:
		return fmt.Errorf("%w: %s", ErrValidation, detail)
	case http.StatusNotFound:
		return fmt.Errorf("%w: %s", ErrNotFound, detail)
	case http.StatusGatewayTimeout:
		return fmt.Errorf("%w: %s", ErrTimeout, detail)
	default:
		return fmt.Errorf("request failed (%d): %s", resp.StatusCode(), detail)
	}
}
