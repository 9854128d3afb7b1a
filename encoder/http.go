package encoder

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"sort"

	"github.com/klejdi94/xsim/core"
	"github.com/klejdi94/xsim/corpus"
	"github.com/klejdi94/xsim/embedding"
)

const (
	defaultEmbedBase  = "https://api.openai.com/v1"
	defaultEmbedModel = "text-embedding-3-small"
	defaultBatchSize  = 64
)

// HTTPEncoder calls an OpenAI-compatible embeddings endpoint and writes the
// returned vectors as a raw embedding file.
type HTTPEncoder struct {
	APIKey     string
	Model      string
	BaseURL    string
	BatchSize  int
	Dimension  int
	Precision  core.Precision
	HTTPClient *http.Client
}

// NewHTTPEncoder creates an encoder for baseURL ("" for the OpenAI API)
// producing dim-component rows at prec.
func NewHTTPEncoder(baseURL, apiKey string, dim int, prec core.Precision) *HTTPEncoder {
	if baseURL == "" {
		baseURL = defaultEmbedBase
	}
	return &HTTPEncoder{
		APIKey:     apiKey,
		Model:      defaultEmbedModel,
		BaseURL:    baseURL,
		BatchSize:  defaultBatchSize,
		Dimension:  dim,
		Precision:  prec,
		HTTPClient: http.DefaultClient,
	}
}

type embedReq struct {
	Input []string `json:"input"`
	Model string   `json:"model"`
}

type embedResp struct {
	Data []struct {
		Index     int       `json:"index"`
		Embedding []float32 `json:"embedding"`
	} `json:"data"`
}

// Encode implements Encoder.
func (e *HTTPEncoder) Encode(ctx context.Context, inPath, outPath string) error {
	lines, err := corpus.ReadLinesFile(inPath)
	if err != nil {
		return err
	}
	if len(lines) == 0 {
		return fmt.Errorf("encoder: %s has no sentences: %w", inPath, core.ErrEncodingFailure)
	}
	batch := e.BatchSize
	if batch <= 0 {
		batch = defaultBatchSize
	}
	data := make([]float32, 0, len(lines)*e.Dimension)
	for start := 0; start < len(lines); start += batch {
		end := min(start+batch, len(lines))
		vecs, err := e.embed(ctx, lines[start:end])
		if err != nil {
			return err
		}
		for i, v := range vecs {
			if len(v) != e.Dimension {
				return fmt.Errorf("encoder: line %d has %d components, want %d: %w",
					start+i, len(v), e.Dimension, core.ErrDimensionMismatch)
			}
			data = append(data, v...)
		}
	}
	m, err := embedding.NewMatrix(len(lines), e.Dimension, data)
	if err != nil {
		return err
	}
	return os.WriteFile(outPath, embedding.Encode(m, e.Precision), 0o644)
}

func (e *HTTPEncoder) embed(ctx context.Context, input []string) ([][]float32, error) {
	model := e.Model
	if model == "" {
		model = defaultEmbedModel
	}
	var buf bytes.Buffer
	if err := json.NewEncoder(&buf).Encode(embedReq{Input: input, Model: model}); err != nil {
		return nil, err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, e.BaseURL+"/embeddings", &buf)
	if err != nil {
		return nil, err
	}
	if e.APIKey != "" {
		req.Header.Set("Authorization", "Bearer "+e.APIKey)
	}
	req.Header.Set("Content-Type", "application/json")
	client := e.HTTPClient
	if client == nil {
		client = http.DefaultClient
	}
	resp, err := client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		bs, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return nil, &StatusError{Code: resp.StatusCode, Body: string(bs)}
	}
	var out embedResp
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, err
	}
	if len(out.Data) != len(input) {
		return nil, fmt.Errorf("encoder: %d embeddings for %d inputs: %w", len(out.Data), len(input), core.ErrEncodingFailure)
	}
	sort.SliceStable(out.Data, func(a, b int) bool { return out.Data[a].Index < out.Data[b].Index })
	vecs := make([][]float32, len(out.Data))
	for i, d := range out.Data {
		vecs[i] = d.Embedding
	}
	return vecs, nil
}

// StatusError is a non-200 response from the embeddings endpoint.
type StatusError struct {
	Code int
	Body string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("embeddings %d: %s", e.Code, e.Body)
}

// Temporary reports whether retrying may help.
func (e *StatusError) Temporary() bool {
	return e.Code == http.StatusTooManyRequests || e.Code >= 500
}

var _ Encoder = (*HTTPEncoder)(nil)
