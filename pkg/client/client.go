// Package client talks to a firewatch server.
package client

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/gorilla/websocket"

	"github.com/teslashibe/go-firewatch/internal/httpc"
	"github.com/teslashibe/go-firewatch/pkg/jobs"
)

// Client is a firewatch API client.
type Client struct {
	base   *url.URL
	http   *http.Client
	dialer *websocket.Dialer
}

// Option configures a Client.
type Option func(*Client)

// WithHTTPClient replaces the HTTP client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.http = hc }
}

// New creates a client for the server at baseURL.
func New(baseURL string, opts ...Option) (*Client, error) {
	u, err := url.Parse(strings.TrimRight(baseURL, "/"))
	if err != nil {
		return nil, fmt.Errorf("parse server url: %w", err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return nil, fmt.Errorf("server url %q: scheme must be http or https", baseURL)
	}

	c := &Client{
		base:   u,
		http:   httpc.NewClient(0),
		dialer: websocket.DefaultDialer,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

func (c *Client) endpoint(parts ...string) string {
	u := *c.base
	u.Path = u.Path + "/" + strings.Join(parts, "/")
	return u.String()
}

func (c *Client) do(req *http.Request, out any) error {
	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	if err := httpc.CheckResponse(resp); err != nil {
		return mapStatus(err)
	}
	defer resp.Body.Close()
	if out == nil {
		return nil
	}
	return json.NewDecoder(resp.Body).Decode(out)
}

// mapStatus turns API statuses back into job errors.
func mapStatus(err error) error {
	var se *httpc.StatusError
	if !errors.As(err, &se) {
		return err
	}
	switch se.StatusCode {
	case http.StatusBadRequest:
		return fmt.Errorf("%w: %s", jobs.ErrInvalidParams, se.Message)
	case http.StatusNotFound:
		return fmt.Errorf("%w: %s", jobs.ErrNotFound, se.Message)
	case http.StatusConflict:
		return fmt.Errorf("%w: %s", jobs.ErrNotReady, se.Message)
	}
	return err
}

// Submit uploads a video and returns the queued job.
func (c *Client) Submit(ctx context.Context, path string, params jobs.Params) (jobs.Job, error) {
	f, err := os.Open(path)
	if err != nil {
		return jobs.Job{}, err
	}
	defer f.Close()

	pr, pw := io.Pipe()
	mw := multipart.NewWriter(pw)
	go func() {
		pw.CloseWithError(writeUpload(mw, f, filepath.Base(path), params))
	}()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint("api", "jobs"), pr)
	if err != nil {
		pr.Close()
		return jobs.Job{}, err
	}
	req.Header.Set("Content-Type", mw.FormDataContentType())

	var job jobs.Job
	if err := c.do(req, &job); err != nil {
		pr.Close()
		return jobs.Job{}, err
	}
	return job, nil
}

func writeUpload(mw *multipart.Writer, r io.Reader, name string, params jobs.Params) error {
	if err := mw.WriteField("confidence", strconv.FormatFloat(params.Confidence, 'f', -1, 64)); err != nil {
		return err
	}
	if err := mw.WriteField("frame_skip", strconv.Itoa(params.FrameSkip)); err != nil {
		return err
	}
	fw, err := mw.CreateFormFile("video", name)
	if err != nil {
		return err
	}
	if _, err := io.Copy(fw, r); err != nil {
		return err
	}
	return mw.Close()
}

// Get fetches one job.
func (c *Client) Get(ctx context.Context, id string) (jobs.Job, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.endpoint("api", "jobs", id), nil)
	if err != nil {
		return jobs.Job{}, err
	}
	var job jobs.Job
	err = c.do(req, &job)
	return job, err
}

// List fetches all jobs.
func (c *Client) List(ctx context.Context) ([]jobs.Job, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.endpoint("api", "jobs"), nil)
	if err != nil {
		return nil, err
	}
	var list []jobs.Job
	err = c.do(req, &list)
	return list, err
}

// Delete cancels a job and removes it from the server.
func (c *Client) Delete(ctx context.Context, id string) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodDelete, c.endpoint("api", "jobs", id), nil)
	if err != nil {
		return err
	}
	return c.do(req, nil)
}

// Download writes the annotated video of a completed job to w.
func (c *Client) Download(ctx context.Context, id string, w io.Writer) (int64, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.endpoint("api", "jobs", id, "download"), nil)
	if err != nil {
		return 0, err
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return 0, err
	}
	if err := httpc.CheckResponse(resp); err != nil {
		return 0, mapStatus(err)
	}
	defer resp.Body.Close()
	return io.Copy(w, resp.Body)
}

// DownloadFile saves the annotated video to path.
func (c *Client) DownloadFile(ctx context.Context, id, path string) (int64, error) {
	f, err := os.Create(path)
	if err != nil {
		return 0, err
	}
	n, err := c.Download(ctx, id, f)
	if cerr := f.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		os.Remove(path)
	}
	return n, err
}
