package cms

import (
	"bytes"
	"context"
	"embed"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/textproto"
	"net/url"
	"sort"
	"strconv"
	"strings"
	"time"

	"scribe/internal/services"
)

//go:embed queries/*.graphql
var queryFS embed.FS

const (
	defaultTimeout  = 30 * time.Second
	defaultPageSize = 100
	maxPages        = 500
)

// Collections the reference cache knows how to fetch.
const (
	CollectionHeroes = "heroes"
	CollectionItems  = "items"
)

// Config holds the backend connection settings.
type Config struct {
	SiteURL        string
	RESTNamespace  string
	GraphQLPath    string
	Username       string
	Password       string
	TimeoutSeconds int
	PageSize       int
}

// Attachment is an image sent alongside the field updates.
type Attachment struct {
	Filename    string
	ContentType string
	Data        []byte
}

// Submission is one write to a kind's endpoint.
type Submission struct {
	Fields     map[string]any
	Confirmed  bool
	Attachment *Attachment
}

// Client posts submissions and reads collections.
type Client struct {
	cfg        Config
	httpClient *http.Client
}

// Option customizes the client.
type Option func(*Client)

// WithHTTPClient overrides the default HTTP client.
func WithHTTPClient(client *http.Client) Option {
	return func(c *Client) {
		if client != nil {
			c.httpClient = client
		}
	}
}

// NewClient constructs a backend client.
func NewClient(cfg Config, opts ...Option) *Client {
	timeout := defaultTimeout
	if cfg.TimeoutSeconds > 0 {
		timeout = time.Duration(cfg.TimeoutSeconds) * time.Second
	}
	cfg.SiteURL = strings.TrimRight(strings.TrimSpace(cfg.SiteURL), "/")
	cfg.RESTNamespace = strings.Trim(strings.TrimSpace(cfg.RESTNamespace), "/")
	cfg.GraphQLPath = strings.Trim(strings.TrimSpace(cfg.GraphQLPath), "/")
	if cfg.GraphQLPath == "" {
		cfg.GraphQLPath = "graphql"
	}
	if cfg.PageSize <= 0 {
		cfg.PageSize = defaultPageSize
	}
	client := &Client{cfg: cfg, httpClient: &http.Client{Timeout: timeout}}
	for _, opt := range opts {
		opt(client)
	}
	return client
}

// EndpointURL resolves a REST endpoint name such as "update-stats".
func (c *Client) EndpointURL(endpoint string) string {
	parts := []string{c.cfg.SiteURL}
	if c.cfg.RESTNamespace != "" {
		parts = append(parts, c.cfg.RESTNamespace)
	}
	parts = append(parts, strings.Trim(endpoint, "/"))
	return strings.Join(parts, "/")
}

// Submit posts field updates plus the confirmed flag. Submissions with an
// attachment are sent as multipart form data with confirmed encoded as "1" or
// "0"; the rest are JSON.
func (c *Client) Submit(ctx context.Context, endpoint string, sub Submission) error {
	if c.cfg.SiteURL == "" {
		return services.Wrap(services.ErrConfiguration, "cms", "submit", "site url required (cms.site_url)", nil)
	}
	if strings.TrimSpace(endpoint) == "" {
		return services.Wrap(services.ErrValidation, "cms", "submit", "endpoint required", nil)
	}

	var (
		body        io.Reader
		contentType string
		err         error
	)
	if sub.Attachment != nil {
		body, contentType, err = encodeMultipart(sub)
	} else {
		body, contentType, err = encodeJSON(sub)
	}
	if err != nil {
		return services.Wrap(services.ErrValidation, "cms", "submit", "encode "+endpoint, err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.EndpointURL(endpoint), body)
	if err != nil {
		return services.Wrap(services.ErrValidation, "cms", "submit", "build request", err)
	}
	req.Header.Set("Content-Type", contentType)
	c.authorize(req)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return services.Wrap(services.ErrTransient, "cms", "submit", endpoint, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode >= http.StatusMultipleChoices {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return services.Wrap(services.ErrExternal, "cms", "submit",
			fmt.Sprintf("%s: http %d: %s", endpoint, resp.StatusCode, strings.TrimSpace(string(snippet))), nil)
	}
	_, _ = io.Copy(io.Discard, resp.Body)
	return nil
}

func encodeJSON(sub Submission) (io.Reader, string, error) {
	payload := make(map[string]any, len(sub.Fields)+1)
	for k, v := range sub.Fields {
		payload[k] = v
	}
	payload["confirmed"] = sub.Confirmed
	encoded, err := json.Marshal(payload)
	if err != nil {
		return nil, "", err
	}
	return bytes.NewReader(encoded), "application/json", nil
}

func encodeMultipart(sub Submission) (io.Reader, string, error) {
	var buf bytes.Buffer
	writer := multipart.NewWriter(&buf)

	keys := make([]string, 0, len(sub.Fields))
	for k := range sub.Fields {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		if err := writer.WriteField(k, formValue(sub.Fields[k])); err != nil {
			return nil, "", err
		}
	}
	confirmed := "0"
	if sub.Confirmed {
		confirmed = "1"
	}
	if err := writer.WriteField("confirmed", confirmed); err != nil {
		return nil, "", err
	}

	att := sub.Attachment
	contentType := att.ContentType
	if contentType == "" {
		contentType = "application/octet-stream"
	}
	header := make(textproto.MIMEHeader)
	header.Set("Content-Disposition", fmt.Sprintf(`form-data; name="image"; filename=%q`, att.Filename))
	header.Set("Content-Type", contentType)
	part, err := writer.CreatePart(header)
	if err != nil {
		return nil, "", err
	}
	if _, err := part.Write(att.Data); err != nil {
		return nil, "", err
	}
	if err := writer.Close(); err != nil {
		return nil, "", err
	}
	return &buf, writer.FormDataContentType(), nil
}

func formValue(value any) string {
	switch v := value.(type) {
	case nil:
		return ""
	case string:
		return v
	case bool:
		if v {
			return "1"
		}
		return "0"
	case int:
		return strconv.Itoa(v)
	case float64:
		return strconv.FormatFloat(v, 'f', -1, 64)
	default:
		return fmt.Sprint(v)
	}
}

func (c *Client) authorize(req *http.Request) {
	if c.cfg.Username != "" || c.cfg.Password != "" {
		req.SetBasicAuth(c.cfg.Username, c.cfg.Password)
	}
}

type graphQLRequest struct {
	Query     string         `json:"query"`
	Variables map[string]any `json:"variables"`
}

type graphQLResponse struct {
	Data   map[string]json.RawMessage `json:"data"`
	Errors []struct {
		Message string `json:"message"`
	} `json:"errors"`
}

type connection struct {
	PageInfo struct {
		EndCursor   string `json:"endCursor"`
		HasNextPage bool   `json:"hasNextPage"`
	} `json:"pageInfo"`
	Nodes []json.RawMessage `json:"nodes"`
}

// FetchCollection reads every node of a collection, following cursors.
func (c *Client) FetchCollection(ctx context.Context, collection string) ([]json.RawMessage, error) {
	if c.cfg.SiteURL == "" {
		return nil, services.Wrap(services.ErrConfiguration, "cms", "fetch", "site url required (cms.site_url)", nil)
	}
	query, err := queryFS.ReadFile("queries/" + collection + ".graphql")
	if err != nil {
		return nil, services.Wrap(services.ErrValidation, "cms", "fetch", fmt.Sprintf("unknown collection %q", collection), err)
	}

	var (
		nodes []json.RawMessage
		after string
	)
	for page := 0; page < maxPages; page++ {
		vars := map[string]any{"first": c.cfg.PageSize}
		if after != "" {
			vars["after"] = after
		}
		conn, err := c.queryPage(ctx, collection, string(query), vars)
		if err != nil {
			return nil, err
		}
		nodes = append(nodes, conn.Nodes...)
		if !conn.PageInfo.HasNextPage || conn.PageInfo.EndCursor == "" || conn.PageInfo.EndCursor == after {
			return nodes, nil
		}
		after = conn.PageInfo.EndCursor
	}
	return nil, services.Wrap(services.ErrExternal, "cms", "fetch", fmt.Sprintf("%s: pagination did not terminate after %d pages", collection, maxPages), nil)
}

func (c *Client) queryPage(ctx context.Context, collection, query string, vars map[string]any) (connection, error) {
	var conn connection
	encoded, err := json.Marshal(graphQLRequest{Query: query, Variables: vars})
	if err != nil {
		return conn, services.Wrap(services.ErrValidation, "cms", "fetch", "encode query", err)
	}
	endpoint, err := url.JoinPath(c.cfg.SiteURL, c.cfg.GraphQLPath)
	if err != nil {
		return conn, services.Wrap(services.ErrConfiguration, "cms", "fetch", "graphql url", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(encoded))
	if err != nil {
		return conn, services.Wrap(services.ErrValidation, "cms", "fetch", "build request", err)
	}
	req.Header.Set("Content-Type", "application/json")
	c.authorize(req)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return conn, services.Wrap(services.ErrTransient, "cms", "fetch", collection, err)
	}
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return conn, services.Wrap(services.ErrTransient, "cms", "fetch", "read body", err)
	}
	if resp.StatusCode >= http.StatusMultipleChoices {
		return conn, services.Wrap(services.ErrExternal, "cms", "fetch", fmt.Sprintf("%s: http %d", collection, resp.StatusCode), nil)
	}

	var decoded graphQLResponse
	if err := json.Unmarshal(body, &decoded); err != nil {
		return conn, services.Wrap(services.ErrExternal, "cms", "fetch", "decode response", err)
	}
	if len(decoded.Errors) > 0 {
		return conn, services.Wrap(services.ErrExternal, "cms", "fetch", "graphql: "+decoded.Errors[0].Message, nil)
	}
	raw, ok := decoded.Data[collection]
	if !ok {
		return conn, services.Wrap(services.ErrExternal, "cms", "fetch", fmt.Sprintf("response missing %q", collection), nil)
	}
	if err := json.Unmarshal(raw, &conn); err != nil {
		return conn, services.Wrap(services.ErrExternal, "cms", "fetch", "decode "+collection, err)
	}
	return conn, nil
}
