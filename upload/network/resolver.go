package network

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"

	"github.com/bitrise-io/go-utils/v2/log"
	"github.com/bitrise-io/go-utils/v2/retryhttp"
	"github.com/hashicorp/go-retryablehttp"
)

// Resolver yields the endpoint URL for an upload session. The upload engine
// resolves once, right before the first chunk is sent, so implementations
// may mint short-lived signed URLs.
type Resolver interface {
	Resolve(ctx context.Context) (string, error)
}

// ResolverFunc adapts a function to the Resolver interface.
type ResolverFunc func(ctx context.Context) (string, error)

// Resolve calls f.
func (f ResolverFunc) Resolve(ctx context.Context) (string, error) {
	return f(ctx)
}

// StaticEndpoint returns a Resolver that always yields the given URL.
func StaticEndpoint(url string) Resolver {
	return ResolverFunc(func(ctx context.Context) (string, error) {
		return url, nil
	})
}

type createUploadRequest struct {
	FileName    string `json:"file_name"`
	ContentType string `json:"content_type"`
}

type createUploadResponse struct {
	URL string `json:"url"`
}

// UploadURLResolver requests a fresh upload URL from a create-upload API.
type UploadURLResolver struct {
	httpClient  *retryablehttp.Client
	baseURL     string
	accessToken string
	fileName    string
	contentType string
	logger      log.Logger
}

// NewUploadURLResolver creates a Resolver that POSTs to the create-upload
// endpoint of the service at baseURL.
func NewUploadURLResolver(baseURL, accessToken, fileName, contentType string, logger log.Logger) *UploadURLResolver {
	return &UploadURLResolver{
		httpClient:  retryhttp.NewClient(logger),
		baseURL:     baseURL,
		accessToken: accessToken,
		fileName:    fileName,
		contentType: contentType,
		logger:      logger,
	}
}

// Resolve requests an upload URL.
func (r *UploadURLResolver) Resolve(ctx context.Context) (string, error) {
	url := fmt.Sprintf("%s/uploads", r.baseURL)

	body, err := json.Marshal(createUploadRequest{
		FileName:    r.fileName,
		ContentType: r.contentType,
	})
	if err != nil {
		return "", err
	}

	req, err := retryablehttp.NewRequest(http.MethodPost, url, body)
	if err != nil {
		return "", err
	}
	req = req.WithContext(ctx)
	req.Header.Set("Authorization", fmt.Sprintf("Bearer %s", r.accessToken))
	req.Header.Set("Content-type", "application/json")

	resp, err := r.httpClient.Do(req)
	if err != nil {
		return "", err
	}
	defer func(body io.ReadCloser) {
		err := body.Close()
		if err != nil {
			r.logger.Printf(err.Error())
		}
	}(resp.Body)

	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusCreated {
		return "", unwrapError(resp)
	}

	var response createUploadResponse
	err = json.NewDecoder(resp.Body).Decode(&response)
	if err != nil {
		return "", err
	}
	if response.URL == "" {
		return "", fmt.Errorf("no upload URL in response")
	}

	return response.URL, nil
}

func unwrapError(resp *http.Response) error {
	errorResp, err := io.ReadAll(resp.Body)
	if err != nil {
		return err
	}
	return fmt.Errorf("HTTP %d: %s", resp.StatusCode, errorResp)
}
