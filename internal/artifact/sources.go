package artifact

import (
	"context"
	"fmt"
	"io"
	"net"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/minio/minio-go/v7"
)

// Source fetches the raw bytes of a named artifact. A single fetch attempt,
// no retries; the Resolver decides ordering and fallback.
type Source interface {
	Name() string
	Fetch(ctx context.Context, name string) ([]byte, error)
}

// LocalSource reads {dir}/{name}.npy from disk. Local files are
// authoritative: when one exists the resolver never goes to the network.
type LocalSource struct {
	Dir string
}

func (s LocalSource) Name() string { return "local" }

func (s LocalSource) Fetch(ctx context.Context, name string) ([]byte, error) {
	return os.ReadFile(filepath.Join(s.Dir, name+".npy"))
}

// RemoteSource fetches GET {base}/simulations/{name}/npy. Any non-2xx
// status is a failure.
type RemoteSource struct {
	baseURL string
	client  *http.Client
}

func NewRemoteSource(baseURL string) *RemoteSource {
	return &RemoteSource{
		baseURL: strings.TrimRight(strings.TrimSpace(baseURL), "/"),
		client: &http.Client{
			Transport: newTransport(),
			Timeout:   30 * time.Second,
		},
	}
}

func (s *RemoteSource) Name() string { return "remote" }

func (s *RemoteSource) Fetch(ctx context.Context, name string) ([]byte, error) {
	url := fmt.Sprintf("%s/simulations/%s/npy", s.baseURL, name)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, err
	}
	resp, err := s.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, fmt.Errorf("unexpected status %s", resp.Status)
	}
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read body: %w", err)
	}
	return body, nil
}

// ObjectStoreSource reads simulations/{name}.npy from an S3-compatible
// bucket. It is an operator-provisioned mirror, so it ranks after the
// remote endpoint in the resolver order.
type ObjectStoreSource struct {
	Client *minio.Client
	Bucket string
}

func (s ObjectStoreSource) Name() string { return "objectstore" }

func (s ObjectStoreSource) Fetch(ctx context.Context, name string) ([]byte, error) {
	if s.Client == nil {
		return nil, fmt.Errorf("object store client not initialized")
	}
	obj, err := s.Client.GetObject(ctx, s.Bucket, "simulations/"+name+".npy", minio.GetObjectOptions{})
	if err != nil {
		return nil, err
	}
	defer func() { _ = obj.Close() }()
	body, err := io.ReadAll(obj)
	if err != nil {
		return nil, err
	}
	return body, nil
}

func newTransport() *http.Transport {
	dialer := &net.Dialer{
		Timeout:   5 * time.Second,
		KeepAlive: 30 * time.Second,
	}
	return &http.Transport{
		Proxy:                 http.ProxyFromEnvironment,
		DialContext:           dialer.DialContext,
		ForceAttemptHTTP2:     true,
		MaxIdleConns:          100,
		IdleConnTimeout:       90 * time.Second,
		TLSHandshakeTimeout:   5 * time.Second,
		ExpectContinueTimeout: 1 * time.Second,
	}
}
