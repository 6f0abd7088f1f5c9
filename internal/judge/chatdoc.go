package judge

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/veridocs/inspection-engine/internal/interdoc"
)

// ChatDocClient talks to the document-QA service hosting the uploaded
// contracts and the public law library.
type ChatDocClient struct {
	baseURL    string
	apiKey     string
	model      string
	httpClient *http.Client
	askTimeout time.Duration
}

type ChatDocConfig struct {
	BaseURL    string
	APIKey     string
	Model      string
	Timeout    time.Duration
	AskTimeout time.Duration
}

func NewChatDocClient(cfg ChatDocConfig) *ChatDocClient {
	if cfg.Timeout == 0 {
		cfg.Timeout = 60 * time.Second
	}
	if cfg.AskTimeout == 0 {
		cfg.AskTimeout = 300 * time.Second
	}
	return &ChatDocClient{
		baseURL:    strings.TrimRight(cfg.BaseURL, "/"),
		apiKey:     cfg.APIKey,
		model:      cfg.Model,
		httpClient: &http.Client{Timeout: cfg.Timeout},
		askTimeout: cfg.AskTimeout,
	}
}

type Interaction struct {
	ID     string `json:"id"`
	Answer string `json:"answer"`
}

// Ask poses one question against an uploaded document and returns the
// answer with its interaction id for later tracing.
func (c *ChatDocClient) Ask(ctx context.Context, uploadID, question string) (*Interaction, error) {
	body := map[string]any{
		"question":                             question,
		"model":                                c.model,
		"upload_id":                            uploadID,
		"chain_of_thought":                     false,
		"deep_search_count":                    3,
		"stream":                               false,
		"question_returning_retrieve_elements": true,
		"eager_trace_detail":                   true,
	}
	ctx, cancel := context.WithTimeout(ctx, c.askTimeout)
	defer cancel()
	var out Interaction
	if err := c.postJSON(ctx, "/api/cgs/external/qa/ask", body, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

type traceElement struct {
	Boxes map[string][]interdoc.Box `json:"boxes"`
}

type traceDetail struct {
	Status string         `json:"status"`
	Data   []traceElement `json:"data"`
}

// DetailTrace maps an answer span back to page bounding boxes. An untraced
// answer yields empty outlines.
func (c *ChatDocClient) DetailTrace(ctx context.Context, interactionID, answerText string, answerRange [2]int) (interdoc.Outlines, error) {
	body := map[string]any{
		"interaction_id":        interactionID,
		"selected_answer_text":  answerText,
		"selected_answer_range": []int{answerRange[0], answerRange[1]},
	}
	var detail traceDetail
	if err := c.postJSON(ctx, "/api/cgs/external/qa/detail-trace", body, &detail); err != nil {
		return nil, err
	}
	outlines := interdoc.Outlines{}
	if detail.Status != "traced" {
		return outlines, nil
	}
	for _, ele := range detail.Data {
		for pageKey, boxes := range ele.Boxes {
			page, err := strconv.Atoi(pageKey)
			if err != nil {
				continue
			}
			outlines[page] = append(outlines[page], boxes...)
		}
	}
	return outlines, nil
}

// TreeNode is one entry of the public law library tree.
type TreeNode struct {
	Name           string      `json:"name"`
	Ext            string      `json:"ext,omitempty"`
	NodeType       int         `json:"node_type"`
	DocStatus      int         `json:"doc_status"`
	UploadRecordID string      `json:"upload_record_id,omitempty"`
	Children       []*TreeNode `json:"children,omitempty"`
	IsFolder       bool        `json:"is_folder,omitempty"`
	IsFile         bool        `json:"is_file,omitempty"`
	IsEmpty        bool        `json:"is_empty,omitempty"`
}

const (
	nodeTypeFolder     = 4
	nodeTypeAttachment = 5
	docStatusReady     = 300
	docStatusEmpty     = -40
)

// FilterTree prunes the raw library tree to usable nodes: ready
// attachments, ready or empty-but-populated files, and folders that still
// have surviving descendants. File names get their extension re-attached.
func FilterTree(nodes []*TreeNode) []*TreeNode {
	var kept []*TreeNode
	for _, node := range nodes {
		children := FilterTree(node.Children)
		keep := false
		switch {
		case node.NodeType == nodeTypeAttachment:
			keep = node.DocStatus == docStatusReady
		case node.NodeType == nodeTypeFolder:
			node.IsFolder = true
			keep = len(children) > 0
		default:
			node.IsFile = true
			if node.DocStatus == docStatusReady {
				keep = true
			} else if node.DocStatus == docStatusEmpty {
				node.IsEmpty = true
				keep = len(children) > 0
			}
		}
		if !keep {
			continue
		}
		node.Children = children
		if !node.IsFolder {
			fixExt(node)
		}
		kept = append(kept, node)
	}
	return kept
}

func fixExt(node *TreeNode) {
	if node.Ext != "" && !strings.HasSuffix(node.Name, node.Ext) {
		node.Name += node.Ext
	}
}

type publicTreeResponse struct {
	Children []*TreeNode `json:"children"`
}

// PublicTree fetches and filters the public law library.
func (c *ChatDocClient) PublicTree(ctx context.Context) ([]*TreeNode, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/api/cgs/external/knowledge/public/tree", nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Authorization", "Bearer "+c.apiKey)
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	var tree publicTreeResponse
	if err := decodeData(resp, &tree); err != nil {
		return nil, err
	}
	return FilterTree(tree.Children), nil
}

func (c *ChatDocClient) postJSON(ctx context.Context, path string, body, out any) error {
	payload, err := json.Marshal(body)
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(payload))
	if err != nil {
		return err
	}
	req.Header.Set("Authorization", "Bearer "+c.apiKey)
	req.Header.Set("Content-Type", "application/json")
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	return decodeData(resp, out)
}

// decodeData unwraps the service's {"data": ...} envelope.
func decodeData(resp *http.Response, out any) error {
	raw, err := io.ReadAll(io.LimitReader(resp.Body, 32<<20))
	if err != nil {
		return err
	}
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("chatdoc %s: %s", resp.Status, truncateBody(raw))
	}
	var envelope struct {
		Data json.RawMessage `json:"data"`
	}
	if err := json.Unmarshal(raw, &envelope); err != nil {
		return fmt.Errorf("chatdoc response: %w", err)
	}
	if err := json.Unmarshal(envelope.Data, out); err != nil {
		return fmt.Errorf("chatdoc data: %w", err)
	}
	return nil
}

func truncateBody(raw []byte) string {
	const limit = 512
	if len(raw) > limit {
		raw = raw[:limit]
	}
	return string(raw)
}
