package colbot

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"os"
	"strings"

	"golang.org/x/oauth2"
	"golang.org/x/oauth2/google"
	"golang.org/x/time/rate"
	docs "google.golang.org/api/docs/v1"
	"google.golang.org/api/option"
)

// GoogleDocBackend stores a document as the full text body of a
// Google Doc. Every Put replaces the whole body.
type GoogleDocBackend struct {
	service    *docs.Service
	documentID string
	limiter    *rate.Limiter
}

func NewGoogleDocBackend(
	service *docs.Service,
	documentID string,
	requestsPerSecond float64,
) *GoogleDocBackend {
	limit := rate.Inf
	if requestsPerSecond > 0 {
		limit = rate.Limit(requestsPerSecond)
	}
	return &GoogleDocBackend{
		service:    service,
		documentID: documentID,
		limiter:    rate.NewLimiter(limit, 2),
	}
}

func (*GoogleDocBackend) Name() string {
	return storeBackendGoogleDocs
}

// Get returns the concatenated paragraph text of the document, trimmed.
// An empty document returns nil.
func (g *GoogleDocBackend) Get(ctx context.Context) ([]byte, error) {
	doc, err := g.document(ctx)
	if err != nil {
		return nil, err
	}
	text := strings.TrimSpace(documentText(doc))
	if text == "" {
		return nil, nil
	}
	return []byte(text), nil
}

// Put deletes the current body, then inserts data at the start of the
// document, in a single batch update
func (g *GoogleDocBackend) Put(ctx context.Context, data []byte) error {
	doc, err := g.document(ctx)
	if err != nil {
		return err
	}
	if err = g.limiter.Wait(ctx); err != nil {
		return err
	}
	_, err = g.service.Documents.BatchUpdate(
		g.documentID,
		&docs.BatchUpdateDocumentRequest{
			Requests: overwriteRequests(documentEndIndex(doc), string(data)),
		},
	).Context(ctx).Do()
	if err != nil {
		return fmt.Errorf("error updating google doc %s: %w", g.documentID, err)
	}
	return nil
}

func (g *GoogleDocBackend) document(ctx context.Context) (*docs.Document, error) {
	if err := g.limiter.Wait(ctx); err != nil {
		return nil, err
	}
	doc, err := g.service.Documents.Get(g.documentID).Context(ctx).Do()
	if err != nil {
		return nil, fmt.Errorf("error getting google doc %s: %w", g.documentID, err)
	}
	return doc, nil
}

func documentText(doc *docs.Document) string {
	if doc == nil || doc.Body == nil {
		return ""
	}
	var sb strings.Builder
	for _, el := range doc.Body.Content {
		if el.Paragraph == nil {
			continue
		}
		for _, pe := range el.Paragraph.Elements {
			if pe.TextRun != nil {
				sb.WriteString(pe.TextRun.Content)
			}
		}
	}
	return sb.String()
}

func documentEndIndex(doc *docs.Document) int64 {
	if doc == nil || doc.Body == nil || len(doc.Body.Content) == 0 {
		return 1
	}
	end := doc.Body.Content[len(doc.Body.Content)-1].EndIndex
	if end == 0 {
		return 1
	}
	return end
}

// overwriteRequests builds the batch that replaces a document body.
// The final newline of a doc can't be deleted, so the delete range
// stops one short of endIndex, and is skipped entirely for an empty doc.
func overwriteRequests(endIndex int64, text string) []*docs.Request {
	var requests []*docs.Request
	if endIndex > 2 {
		requests = append(
			requests, &docs.Request{
				DeleteContentRange: &docs.DeleteContentRangeRequest{
					Range: &docs.Range{StartIndex: 1, EndIndex: endIndex - 1},
				},
			},
		)
	}
	return append(
		requests, &docs.Request{
			InsertText: &docs.InsertTextRequest{
				Text:     text,
				Location: &docs.Location{Index: 1},
			},
		},
	)
}

// newGoogleDocsService authenticates with the configured service account
func newGoogleDocsService(
	ctx context.Context,
	cfg GoogleDocsConfig,
	httpClient *http.Client,
) (*docs.Service, error) {
	credentials, err := serviceAccountJSON(cfg)
	if err != nil {
		return nil, err
	}
	jwtCfg, err := google.JWTConfigFromJSON(
		credentials,
		docs.DocumentsScope,
		docs.DriveFileScope,
	)
	if err != nil {
		return nil, fmt.Errorf("error parsing google service account: %w", err)
	}

	// the token source outlives ctx, so it gets its own context
	tokenCtx := context.Background()
	if httpClient != nil {
		tokenCtx = context.WithValue(tokenCtx, oauth2.HTTPClient, httpClient)
	}
	opts := []option.ClientOption{option.WithHTTPClient(jwtCfg.Client(tokenCtx))}
	if cfg.Endpoint != "" {
		opts = append(opts, option.WithEndpoint(cfg.Endpoint))
	}
	return docs.NewService(ctx, opts...)
}

// serviceAccountJSON returns the service account key, with escaped
// newlines in private_key unescaped (env vars often carry the key
// on a single line)
func serviceAccountJSON(cfg GoogleDocsConfig) ([]byte, error) {
	raw := []byte(cfg.ServiceAccountJSON)
	if len(raw) == 0 {
		if cfg.ServiceAccountFile == "" {
			return nil, errors.New("google service account not configured")
		}
		data, err := os.ReadFile(cfg.ServiceAccountFile)
		if err != nil {
			return nil, fmt.Errorf("error reading google service account: %w", err)
		}
		raw = data
	}

	var key map[string]any
	if err := json.Unmarshal(raw, &key); err != nil {
		return nil, fmt.Errorf("error parsing google service account: %w", err)
	}
	if pk, ok := key["private_key"].(string); ok {
		key["private_key"] = strings.ReplaceAll(pk, `\n`, "\n")
	}
	return json.Marshal(key)
}
