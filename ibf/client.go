/*
Copyright © 2025 the IBF river flood pipeline authors.
This file is part of the IBF river flood pipeline.

The IBF river flood pipeline is free software: you can redistribute it
and/or modify it under the terms of the GNU General Public License as
published by the Free Software Foundation, either version 3 of the License,
or (at your option) any later version.

The IBF river flood pipeline is distributed in the hope that it will be
useful, but WITHOUT ANY WARRANTY; without even the implied warranty of
MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE.  See the
GNU General Public License for more details.

You should have received a copy of the GNU General Public License
along with the IBF river flood pipeline.  If not, see
<http://www.gnu.org/licenses/>.
*/

// Package ibf publishes flood forecast snapshots to an IBF dashboard API.
package ibf

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"io/ioutil"
	"mime/multipart"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/cenkalti/backoff"
	"github.com/sirupsen/logrus"

	"github.com/rodekruis/IBF-river-flood-pipeline"
)

// Client is an authenticated HTTP client for the IBF API. POSTs are
// retried with exponential backoff on connect-class failures; an HTTP
// status of 400 or above (other than 401, which triggers a re-login) is
// fatal.
type Client struct {
	URL      string
	Email    string
	Password string

	HTTPClient *http.Client
	Log        logrus.FieldLogger

	// MaxTries caps the retry budget per request.
	MaxTries uint64
	// BackoffBase is the initial retry interval.
	BackoffBase time.Duration

	token string
}

// NewClient creates a client for the API at baseURL.
func NewClient(baseURL, email, password string) *Client {
	return &Client{
		URL:         strings.TrimSuffix(baseURL, "/"),
		Email:       email,
		Password:    password,
		HTTPClient:  http.DefaultClient,
		Log:         logrus.StandardLogger(),
		MaxTries:    3,
		BackoffBase: 500 * time.Millisecond,
	}
}

// Login obtains a bearer token for subsequent requests.
func (c *Client) Login(ctx context.Context) error {
	form := url.Values{}
	form.Set("email", c.Email)
	form.Set("password", c.Password)
	req, err := http.NewRequest(http.MethodPost, c.URL+"/user/login",
		strings.NewReader(form.Encode()))
	if err != nil {
		return err
	}
	req = req.WithContext(ctx)
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return fmt.Errorf("%w: logging in: %v", floodpipeline.ErrRetryableIO, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 400 {
		return fmt.Errorf("%w: login returned status %d", floodpipeline.ErrDownstreamRejected,
			resp.StatusCode)
	}
	var body struct {
		User struct {
			Token string `json:"token"`
		} `json:"user"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return fmt.Errorf("ibf: decoding login response: %v", err)
	}
	if body.User.Token == "" {
		return fmt.Errorf("%w: login returned no token", floodpipeline.ErrDownstreamRejected)
	}
	c.token = body.User.Token
	return nil
}

// PostJSON posts a JSON body to path.
func (c *Client) PostJSON(ctx context.Context, path string, body interface{}) error {
	data, err := json.Marshal(body)
	if err != nil {
		return err
	}
	return c.post(ctx, path, func() (*http.Request, error) {
		req, err := http.NewRequest(http.MethodPost, c.URL+"/"+path, bytes.NewReader(data))
		if err != nil {
			return nil, err
		}
		req.Header.Set("Content-Type", "application/json")
		return req, nil
	})
}

// PostFile posts a file as a multipart upload to path.
func (c *Client) PostFile(ctx context.Context, path, filename string, contents []byte) error {
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	fw, err := mw.CreateFormFile("file", filename)
	if err != nil {
		return err
	}
	if _, err := fw.Write(contents); err != nil {
		return err
	}
	if err := mw.Close(); err != nil {
		return err
	}
	body := buf.Bytes()
	contentType := mw.FormDataContentType()
	return c.post(ctx, path, func() (*http.Request, error) {
		req, err := http.NewRequest(http.MethodPost, c.URL+"/"+path, bytes.NewReader(body))
		if err != nil {
			return nil, err
		}
		req.Header.Set("Content-Type", contentType)
		return req, nil
	})
}

// post sends a request built by mkReq, retrying transient failures. A 401
// response refreshes the token and retries; other 4xx and 5xx responses
// abort immediately.
func (c *Client) post(ctx context.Context, path string, mkReq func() (*http.Request, error)) error {
	operation := func() error {
		req, err := mkReq()
		if err != nil {
			return backoff.Permanent(err)
		}
		req = req.WithContext(ctx)
		req.Header.Set("Authorization", "Bearer "+c.token)
		resp, err := c.HTTPClient.Do(req)
		if err != nil {
			return fmt.Errorf("%w: posting %s: %v", floodpipeline.ErrRetryableIO, path, err)
		}
		defer resp.Body.Close()
		if resp.StatusCode == http.StatusUnauthorized {
			if err := c.Login(ctx); err != nil {
				return backoff.Permanent(err)
			}
			return fmt.Errorf("%w: %s returned status 401", floodpipeline.ErrRetryableIO, path)
		}
		if resp.StatusCode >= 400 {
			detail, _ := ioutil.ReadAll(io.LimitReader(resp.Body, 512))
			return backoff.Permanent(fmt.Errorf("%w: %s returned status %d: %s",
				floodpipeline.ErrDownstreamRejected, path, resp.StatusCode, detail))
		}
		return nil
	}
	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = c.BackoffBase
	return backoff.RetryNotify(operation,
		backoff.WithContext(backoff.WithMaxRetries(bo, c.MaxTries), ctx),
		func(err error, d time.Duration) {
			c.Log.Warnf("%v: retrying in %v", err, d)
		})
}
