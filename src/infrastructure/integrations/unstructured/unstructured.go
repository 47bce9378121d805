package unstructured

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"sort"
	"strings"

	"docqa/src/core/rag"
	"docqa/src/log"
)

const DefaultURL = "http://localhost:8000"

// UnstructuredService extracts page text through the Unstructured partition API.
type UnstructuredService struct {
	baseURL string
	client  *http.Client
}

type UnstructuredElement struct {
	Type      string   `json:"type"`
	Text      string   `json:"text"`
	ElementID string   `json:"element_id"`
	Metadata  Metadata `json:"metadata"`
}

type Metadata struct {
	Filename   string `json:"filename,omitempty"`
	Filetype   string `json:"filetype,omitempty"`
	PageNumber int    `json:"page_number,omitempty"`
}

func NewUnstructuredService(baseURL string, client *http.Client) *UnstructuredService {
	if baseURL == "" {
		baseURL = DefaultURL
	}
	if client == nil {
		client = http.DefaultClient
	}
	return &UnstructuredService{
		baseURL: strings.TrimSuffix(baseURL, "/"),
		client:  client,
	}
}

// Partition sends a PDF to the API and returns its elements in document order.
func (s *UnstructuredService) Partition(ctx context.Context, filename string, content []byte) ([]UnstructuredElement, error) {
	var requestBody bytes.Buffer
	multipartWriter := multipart.NewWriter(&requestBody)

	fileWriter, err := multipartWriter.CreateFormFile("files", filename)
	if err != nil {
		return nil, fmt.Errorf("failed to create form file: %v", err)
	}
	if _, err = io.Copy(fileWriter, bytes.NewReader(content)); err != nil {
		return nil, fmt.Errorf("failed to write file content: %v", err)
	}

	// Chunking stays on our side so every extractor feeds the same chunker.
	if err := multipartWriter.WriteField("strategy", "fast"); err != nil {
		return nil, fmt.Errorf("failed to write strategy: %v", err)
	}
	if err := multipartWriter.WriteField("output_format", "application/json"); err != nil {
		return nil, fmt.Errorf("failed to write output format: %v", err)
	}
	multipartWriter.Close()

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, s.baseURL+"/general/v0/general", &requestBody)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %v", err)
	}
	httpReq.Header.Set("Accept", "application/json")
	httpReq.Header.Set("Content-Type", multipartWriter.FormDataContentType())

	resp, err := s.client.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("failed to send request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		log.Error(fmt.Errorf("status %s", resp.Status), "Partition request failed", "response", string(body))
		return nil, fmt.Errorf("conversion service error: %s", resp.Status)
	}

	var elements []UnstructuredElement
	if err := json.NewDecoder(resp.Body).Decode(&elements); err != nil {
		return nil, fmt.Errorf("failed to parse response: %v", err)
	}
	return elements, nil
}

// Extract implements rag.Extractor by joining element texts per page.
func (s *UnstructuredService) Extract(ctx context.Context, data []byte) ([]rag.Page, error) {
	if len(data) == 0 {
		return nil, rag.ExtractionError(nil, "empty PDF")
	}

	elements, err := s.Partition(ctx, "document.pdf", data)
	if err != nil {
		return nil, rag.ExtractionError(err, "failed to partition PDF")
	}

	byPage := map[int][]string{}
	for _, el := range elements {
		text := strings.TrimSpace(el.Text)
		if text == "" {
			continue
		}
		page := el.Metadata.PageNumber
		if page <= 0 {
			page = 1
		}
		byPage[page] = append(byPage[page], text)
	}
	if len(byPage) == 0 {
		return nil, rag.ExtractionError(nil, "PDF contains no extractable text")
	}

	numbers := make([]int, 0, len(byPage))
	for n := range byPage {
		numbers = append(numbers, n)
	}
	sort.Ints(numbers)

	pages := make([]rag.Page, len(numbers))
	for i, n := range numbers {
		pages[i] = rag.Page{Number: n, Text: strings.Join(byPage[n], "\n\n")}
	}
	return pages, nil
}

func (s *UnstructuredService) Ping(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, s.baseURL+"/healthcheck", nil)
	if err != nil {
		return err
	}
	resp, err := s.client.Do(req)
	if err != nil {
		return err
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("unstructured healthcheck: %s", resp.Status)
	}
	return nil
}
