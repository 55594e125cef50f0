package zulip

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"strings"

	"github.com/conduitmsg/conduit/internal/platform"
)

// Client is a minimal Zulip REST client. Zulip has no maintained Go SDK, so
// the driver talks to the JSON API directly with basic auth.
type Client struct {
	base  *url.URL
	email string
	key   string
	http  *http.Client
}

// NewClient parses the site URL and prepares the API base. A nil httpClient
// uses the default.
func NewClient(siteURL, email, apiKey string, httpClient *http.Client) (*Client, error) {
	if siteURL == "" || email == "" || apiKey == "" {
		return nil, platform.ErrInvalidRequest("zulip needs site_url, email and api_key", nil)
	}
	base, err := url.Parse(siteURL)
	if err != nil {
		return nil, platform.ErrInvalidRequest("parsing site_url", err)
	}
	if base.Scheme != "http" && base.Scheme != "https" {
		return nil, platform.ErrInvalidRequest("site_url must be http or https", nil)
	}
	if httpClient == nil {
		httpClient = http.DefaultClient
	}
	return &Client{base: base, email: email, key: apiKey, http: httpClient}, nil
}

// endpoint joins an API path onto the site URL and merges query values with
// any parameters already present on the base. String concatenation would
// corrupt site URLs that carry their own query.
func (c *Client) endpoint(path string, values url.Values) string {
	u := *c.base
	u.Path = strings.TrimSuffix(u.Path, "/") + "/api/v1/" + strings.TrimPrefix(path, "/")

	q := u.Query()
	for key, vals := range values {
		for _, v := range vals {
			q.Set(key, v)
		}
	}
	u.RawQuery = q.Encode()
	return u.String()
}

// AttachmentURL turns a /user_uploads path into an authenticated download
// URL. The api_key parameter is merged through net/url so paths that already
// carry a query keep their parameters.
func (c *Client) AttachmentURL(path string) string {
	u := *c.base
	rel, err := url.Parse(path)
	if err != nil {
		return ""
	}
	u.Path = strings.TrimSuffix(u.Path, "/") + rel.Path
	q := rel.Query()
	q.Set("api_key", c.key)
	u.RawQuery = q.Encode()
	u.Fragment = rel.Fragment
	return u.String()
}

type apiResponse struct {
	Result string `json:"result"`
	Msg    string `json:"msg"`
	Code   string `json:"code"`
}

// call performs one API request and decodes the JSON body into out when
// non-nil. Form values go into the query string for GET/DELETE and the body
// otherwise, which is how zulip expects them.
func (c *Client) call(ctx context.Context, method, path string, form url.Values, out any) error {
	var (
		endpoint string
		body     io.Reader
		isForm   bool
	)
	if method == http.MethodGet || method == http.MethodDelete {
		endpoint = c.endpoint(path, form)
	} else {
		endpoint = c.endpoint(path, nil)
		if form != nil {
			body = strings.NewReader(form.Encode())
			isForm = true
		}
	}

	req, err := http.NewRequestWithContext(ctx, method, endpoint, body)
	if err != nil {
		return platform.ErrInvalidRequest("building zulip request", err)
	}
	req.SetBasicAuth(c.email, c.key)
	if isForm {
		req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return platform.ErrTransient("calling zulip", err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, 10<<20))
	if err != nil {
		return platform.ErrTransient("reading zulip response", err)
	}

	var status apiResponse
	if jerr := json.Unmarshal(data, &status); jerr == nil && status.Result == "error" {
		return classifyAPI(resp.StatusCode, status)
	}
	if resp.StatusCode >= 400 {
		return classifyStatus(resp.StatusCode, fmt.Errorf("zulip returned %d", resp.StatusCode))
	}
	if out != nil {
		if err := json.Unmarshal(data, out); err != nil {
			return platform.ErrTransient("decoding zulip response", err)
		}
	}
	return nil
}

// UploadFile posts a local file to user_uploads and returns the upload path
// to embed in message content.
func (c *Client) UploadFile(ctx context.Context, path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", platform.ErrIO("opening attachment", err)
	}
	defer f.Close()

	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	part, err := mw.CreateFormFile("file", filepath.Base(path))
	if err != nil {
		return "", platform.ErrInternal("building upload form", err)
	}
	if _, err := io.Copy(part, f); err != nil {
		return "", platform.ErrIO("reading attachment", err)
	}
	if err := mw.Close(); err != nil {
		return "", platform.ErrInternal("finishing upload form", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint("user_uploads", nil), &buf)
	if err != nil {
		return "", platform.ErrInvalidRequest("building upload request", err)
	}
	req.SetBasicAuth(c.email, c.key)
	req.Header.Set("Content-Type", mw.FormDataContentType())

	resp, err := c.http.Do(req)
	if err != nil {
		return "", platform.ErrTransient("uploading attachment", err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return "", platform.ErrTransient("reading upload response", err)
	}
	if resp.StatusCode >= 400 {
		return "", classifyStatus(resp.StatusCode, fmt.Errorf("zulip returned %d", resp.StatusCode))
	}

	var out struct {
		URI string `json:"uri"`
		URL string `json:"url"`
	}
	if err := json.Unmarshal(data, &out); err != nil {
		return "", platform.ErrTransient("decoding upload response", err)
	}
	if out.URI != "" {
		return out.URI, nil
	}
	return out.URL, nil
}

func classifyAPI(statusCode int, status apiResponse) error {
	err := fmt.Errorf("zulip: %s", status.Msg)
	switch {
	case statusCode == http.StatusTooManyRequests:
		return platform.ErrRateLimited(status.Msg, err)
	case status.Code == "BAD_NARROW" || statusCode == http.StatusBadRequest:
		return platform.ErrInvalidRequest(status.Msg, err)
	case statusCode == http.StatusNotFound || strings.Contains(status.Msg, "does not exist"):
		return platform.ErrNotFound(status.Msg, err)
	default:
		return platform.ErrTransient(status.Msg, err)
	}
}

func classifyStatus(statusCode int, err error) error {
	switch statusCode {
	case http.StatusTooManyRequests:
		return platform.ErrRateLimited("zulip rate limit", err)
	case http.StatusNotFound:
		return platform.ErrNotFound("zulip resource missing", err)
	case http.StatusBadRequest:
		return platform.ErrInvalidRequest("zulip rejected the request", err)
	default:
		return platform.ErrTransient("zulip request failed", err)
	}
}
