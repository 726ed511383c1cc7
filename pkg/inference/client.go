// Package inference talks to an HTTP edge-detection server.
//
// Each frame is POSTed to /v1/edges as a base64 PNG. The server answers with
// the fused output tensor: row-major float32 edge probabilities in [0,1] of
// shape [height x width]. The client converts it to the inverted edge-map
// convention and writes it under the frame's map name.
package inference

import (
	"bytes"
	"context"
	"encoding/json"
	"image"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/disintegration/imaging"
	"github.com/pkg/errors"
	"go.uber.org/zap"

	"github.com/menta2k/ship-detector/internal/utils"
	"github.com/menta2k/ship-detector/pkg/analyzer"
	"github.com/menta2k/ship-detector/pkg/edgemap"
	"github.com/menta2k/ship-detector/pkg/processing"
)

// ProviderName identifies the HTTP client in configuration
const ProviderName = "http"

// EdgesEndpoint is the server path for edge inference
const EdgesEndpoint = "/v1/edges"

type Client struct {
	baseURL    string
	model      string
	httpClient *http.Client
	processor  *processing.Processor
	reader     *analyzer.ImageAnalyzer
	logger     *zap.SugaredLogger
}

// EdgeRequest is the JSON body sent for one frame
type EdgeRequest struct {
	Model string `json:"model,omitempty"`
	Name  string `json:"name"`
	Image string `json:"image"`
}

// EdgeResponse carries the fused probability tensor
type EdgeResponse struct {
	Width         int       `json:"width"`
	Height        int       `json:"height"`
	Probabilities []float32 `json:"probabilities"`
	Error         string    `json:"error,omitempty"`
}

func NewClient(serverURL, model string, timeout time.Duration, logger *zap.SugaredLogger) (*Client, error) {
	if serverURL == "" {
		serverURL = "http://localhost:8080"
	}
	if !processing.IsURL(serverURL) {
		return nil, errors.Errorf("inference: invalid server URL %q", serverURL)
	}
	if timeout <= 0 {
		timeout = 5 * time.Minute
	}
	if logger == nil {
		logger = zap.NewNop().Sugar()
	}

	return &Client{
		baseURL: strings.TrimSuffix(serverURL, "/"),
		model:   model,
		httpClient: &http.Client{
			Timeout: timeout,
		},
		processor: processing.NewProcessor(),
		reader:    analyzer.New(),
		logger:    logger,
	}, nil
}

// Name implements edgemap.Provider
func (c *Client) Name() string {
	return ProviderName
}

// Detect runs inference on one image and returns its inverted edge map
func (c *Client) Detect(ctx context.Context, name string, img image.Image) (*image.Gray, error) {
	imgB64, err := c.processor.EncodePNGBase64(img)
	if err != nil {
		return nil, errors.Wrap(err, "inference: encode frame")
	}

	respBody, err := c.sendRequest(ctx, EdgesEndpoint, EdgeRequest{
		Model: c.model,
		Name:  name,
		Image: imgB64,
	})
	if err != nil {
		return nil, err
	}

	var resp EdgeResponse
	if err := json.Unmarshal(respBody, &resp); err != nil {
		return nil, errors.Wrap(err, "inference: parse response")
	}
	if resp.Error != "" {
		return nil, errors.Errorf("inference: server error: %s", resp.Error)
	}

	return edgemap.FromProbabilities(resp.Width, resp.Height, resp.Probabilities)
}

// Generate implements edgemap.Provider
func (c *Client) Generate(ctx context.Context, inputDir, outputDir string) ([]edgemap.Frame, error) {
	frames, err := edgemap.ListFrames(inputDir, outputDir)
	if err != nil {
		return nil, err
	}
	if err := utils.EnsureDir(outputDir); err != nil {
		return nil, errors.Wrapf(err, "create %s", outputDir)
	}

	for _, f := range frames {
		img, err := c.reader.LoadImage(f.Source)
		if err != nil {
			return nil, err
		}
		edges, err := c.Detect(ctx, f.Name, img)
		if err != nil {
			return nil, errors.WithMessagef(err, "frame %d (%s)", f.Index, f.Name)
		}
		if err := imaging.Save(edges, f.EdgeMap); err != nil {
			return nil, errors.Wrapf(err, "write edge map %s", f.EdgeMap)
		}
		c.logger.Debugw("edge map written", "provider", ProviderName, "frame", f.Index, "path", f.EdgeMap)
	}
	return frames, nil
}

func (c *Client) sendRequest(ctx context.Context, endpoint string, payload interface{}) ([]byte, error) {
	jsonData, err := json.Marshal(payload)
	if err != nil {
		return nil, errors.Wrap(err, "inference: marshal request")
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+endpoint, bytes.NewReader(jsonData))
	if err != nil {
		return nil, errors.Wrap(err, "inference: create request")
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, errors.Wrap(err, "inference: send request")
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, errors.Wrap(err, "inference: read response")
	}

	if resp.StatusCode != http.StatusOK {
		return nil, errors.Errorf("inference: server returned status %d: %s", resp.StatusCode, string(body))
	}

	return body, nil
}
