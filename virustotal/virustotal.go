package virustotal

import (
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
	"time"

	"filewarden/hasher"
	"filewarden/logger"

	"golang.org/x/time/rate"
)

const defaultBaseURL = "https://www.virustotal.com/vtapi/v2"

// Client queries the VirusTotal v2 API for file reputation. All calls honor
// the shared rate limiter; the free API tier allows four requests per minute.
type Client struct {
	apiKey        string
	baseURL       string
	httpClient    *http.Client
	limiter       *rate.Limiter
	uploadMaxSize int64
	queryTimeout  time.Duration
	uploadTimeout time.Duration
}

type Options struct {
	APIKey            string
	BaseURL           string
	UploadMaxSize     int64
	QueryTimeout      time.Duration
	UploadTimeout     time.Duration
	RequestsPerMinute int
}

// Report is the outcome of a reputation lookup.
type Report struct {
	Known      bool
	Infected   bool
	Label      string
	Confidence float64
	Positives  int
	Total      int
}

// Pending identifies a submitted analysis awaiting completion.
type Pending struct {
	Resource string
}

func New(opts Options) *Client {
	baseURL := opts.BaseURL
	if baseURL == "" {
		baseURL = defaultBaseURL
	}
	rpm := opts.RequestsPerMinute
	if rpm <= 0 {
		rpm = 4
	}
	return &Client{
		apiKey:        opts.APIKey,
		baseURL:       strings.TrimSuffix(baseURL, "/"),
		httpClient:    &http.Client{},
		limiter:       rate.NewLimiter(rate.Limit(float64(rpm)/60.0), 1),
		uploadMaxSize: opts.UploadMaxSize,
		queryTimeout:  opts.QueryTimeout,
		uploadTimeout: opts.UploadTimeout,
	}
}

// Configured reports whether a credential is present. Without one the cloud
// stage is skipped entirely.
func (c *Client) Configured() bool {
	return c != nil && c.apiKey != ""
}

type reportResponse struct {
	ResponseCode int                         `json:"response_code"`
	Positives    int                         `json:"positives"`
	Total        int                         `json:"total"`
	RawScans     map[string]scanEngineResult `json:"scans"`
	ScanID       string                      `json:"scan_id"`
	Resource     string                      `json:"resource"`
	VerboseMsg   string                      `json:"verbose_msg"`
}

type scanEngineResult struct {
	Detected bool   `json:"detected"`
	Result   string `json:"result"`
}

// LookupByHash asks for an existing report by content hash. Known=false
// means the service has never seen this hash.
func (c *Client) LookupByHash(ctx context.Context, hash string) (Report, error) {
	ctx, cancel := context.WithTimeout(ctx, c.queryTimeout)
	defer cancel()
	if err := c.limiter.Wait(ctx); err != nil {
		return Report{}, err
	}

	form := url.Values{}
	form.Set("apikey", c.apiKey)
	form.Set("resource", hash)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/file/report", strings.NewReader(form.Encode()))
	if err != nil {
		return Report{}, err
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	var parsed reportResponse
	if err := c.do(req, &parsed); err != nil {
		return Report{}, err
	}
	if parsed.ResponseCode != 1 {
		return Report{Known: false}, nil
	}
	return buildReport(parsed), nil
}

// Submit uploads a file for analysis. Files above the upload ceiling are
// rejected before any bytes move.
func (c *Client) Submit(ctx context.Context, path string) (Pending, error) {
	info, err := os.Stat(path)
	if err != nil {
		return Pending{}, err
	}
	if c.uploadMaxSize > 0 && info.Size() > c.uploadMaxSize {
		return Pending{}, fmt.Errorf("file exceeds upload ceiling (%d > %d bytes)", info.Size(), c.uploadMaxSize)
	}

	ctx, cancel := context.WithTimeout(ctx, c.uploadTimeout)
	defer cancel()
	if err := c.limiter.Wait(ctx); err != nil {
		return Pending{}, err
	}

	file, err := os.Open(path)
	if err != nil {
		return Pending{}, err
	}
	defer file.Close()

	var body strings.Builder
	writer := multipart.NewWriter(&body)
	if err := writer.WriteField("apikey", c.apiKey); err != nil {
		return Pending{}, err
	}
	part, err := writer.CreateFormFile("file", filepath.Base(path))
	if err != nil {
		return Pending{}, err
	}
	// Digest while streaming so a missing resource identifier in the
	// response can fall back to the content hash, which is what the service
	// uses as the resource anyway.
	digest, err := hasher.HashReader(io.TeeReader(file, part), "sha256")
	if err != nil {
		return Pending{}, err
	}
	if err := writer.Close(); err != nil {
		return Pending{}, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/file/scan", strings.NewReader(body.String()))
	if err != nil {
		return Pending{}, err
	}
	req.Header.Set("Content-Type", writer.FormDataContentType())

	var parsed reportResponse
	if err := c.do(req, &parsed); err != nil {
		return Pending{}, err
	}
	resource := parsed.Resource
	if resource == "" {
		resource = parsed.ScanID
	}
	if resource == "" {
		resource = digest
	}
	return Pending{Resource: resource}, nil
}

// Poll checks whether a submitted analysis has completed. stillPending=true
// with a nil error means the caller should retry after backoff.
func (c *Client) Poll(ctx context.Context, pending Pending) (Report, bool, error) {
	ctx, cancel := context.WithTimeout(ctx, c.queryTimeout)
	defer cancel()
	if err := c.limiter.Wait(ctx); err != nil {
		return Report{}, false, err
	}

	form := url.Values{}
	form.Set("apikey", c.apiKey)
	form.Set("resource", pending.Resource)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/file/report", strings.NewReader(form.Encode()))
	if err != nil {
		return Report{}, false, err
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	var parsed reportResponse
	if err := c.do(req, &parsed); err != nil {
		return Report{}, false, err
	}
	if parsed.ResponseCode != 1 {
		return Report{}, true, nil
	}
	return buildReport(parsed), false, nil
}

func (c *Client) do(req *http.Request, out *reportResponse) error {
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	switch resp.StatusCode {
	case http.StatusOK:
	case http.StatusNoContent, http.StatusTooManyRequests:
		return fmt.Errorf("rate limit exceeded")
	case http.StatusForbidden:
		return fmt.Errorf("invalid API key")
	default:
		return fmt.Errorf("unexpected status %d", resp.StatusCode)
	}

	data, err := io.ReadAll(io.LimitReader(resp.Body, 4*1024*1024))
	if err != nil {
		return err
	}
	if err := json.Unmarshal(data, out); err != nil {
		return fmt.Errorf("malformed response: %v", err)
	}
	return nil
}

func buildReport(parsed reportResponse) Report {
	report := Report{
		Known:     true,
		Positives: parsed.Positives,
		Total:     parsed.Total,
	}
	if parsed.Total > 0 {
		report.Confidence = float64(parsed.Positives) / float64(parsed.Total)
	}
	if parsed.Positives > 0 {
		report.Infected = true
		report.Label = firstDetectionLabel(parsed.RawScans)
		if report.Label == "" {
			report.Label = "malicious"
		}
	}
	if parsed.VerboseMsg != "" {
		logger.Debugf("VirusTotal: %s", parsed.VerboseMsg)
	}
	return report
}

func firstDetectionLabel(scans map[string]scanEngineResult) string {
	for _, result := range scans {
		if result.Detected && result.Result != "" {
			return result.Result
		}
	}
	return ""
}
