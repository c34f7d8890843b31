package database

import (
	"bytes"
	"context"
	"crypto/tls"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/klauspost/compress/gzip"
	"go.uber.org/zap"

	"ch-ferry/config"
	"ch-ferry/schema"
)

const (
	contentTypeTSV         = "text/tab-separated-values"
	contentTypeText        = "text/plain; charset=utf-8"
	exceptionCodeHeader    = "X-ClickHouse-Exception-Code"
	maxErrorBodyBytes      = 64 << 10
	clickhouseDialTimeout  = 10 * time.Second
	clickhousePingTimeout  = 10 * time.Second
	allowNullableKeyOption = "SETTINGS allow_nullable_key = 1"
)

// SinkError is a non-200 answer from the ClickHouse HTTP interface. Message carries the
// server's response body verbatim.
type SinkError struct {
	StatusCode int
	Code       string
	Message    string
}

func (e *SinkError) Error() string {
	if e.Code != "" {
		return fmt.Sprintf("clickhouse returned HTTP %d (code %s): %s", e.StatusCode, e.Code, e.Message)
	}
	return fmt.Sprintf("clickhouse returned HTTP %d: %s", e.StatusCode, e.Message)
}

// ClickHouseDB writes to ClickHouse through its HTTP statement endpoint.
type ClickHouseDB struct {
	endpoint     *url.URL
	database     string
	user         string
	password     string
	engine       string
	compress     bool
	queryTimeout time.Duration
	loadTimeout  time.Duration

	httpClient *http.Client
	logger     *zap.Logger
}

var _ TargetDB = (*ClickHouseDB)(nil)

func NewClickHouseDB(cfg config.ClickHouseConfig, logger *zap.Logger) (*ClickHouseDB, error) {
	endpoint, err := url.Parse(cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("failed to parse clickhouse url: %w", err)
	}

	engine := cfg.Engine
	if engine == "" {
		engine = config.DefaultEngine
	}
	queryTimeout := cfg.QueryTimeout
	if queryTimeout <= 0 {
		queryTimeout = config.DefaultQueryTimeout
	}
	loadTimeout := cfg.LoadTimeout
	if loadTimeout <= 0 {
		loadTimeout = config.DefaultLoadTimeout
	}

	transport := &http.Transport{
		Proxy: http.ProxyFromEnvironment,
		DialContext: (&net.Dialer{
			Timeout:   clickhouseDialTimeout,
			KeepAlive: 30 * time.Second,
		}).DialContext,
		MaxIdleConnsPerHost: 4,
		IdleConnTimeout:     90 * time.Second,
		TLSHandshakeTimeout: 10 * time.Second,
		// request bodies may be gzip; responses are read as sent
		DisableCompression: true,
		TLSClientConfig: &tls.Config{
			InsecureSkipVerify: cfg.InsecureSkipVerify,
			MinVersion:         tls.VersionTLS12,
		},
	}

	if cfg.InsecureSkipVerify {
		logger.Warn("TLS certificate verification is disabled for ClickHouse")
	}

	return &ClickHouseDB{
		endpoint:     endpoint,
		database:     cfg.Database,
		user:         cfg.User,
		password:     cfg.Password,
		engine:       engine,
		compress:     cfg.Compress,
		queryTimeout: queryTimeout,
		loadTimeout:  loadTimeout,
		httpClient:   &http.Client{Transport: transport},
		logger:       logger.With(zap.String("component", "clickhouse")),
	}, nil
}

// Close releases idle HTTP connections.
func (c *ClickHouseDB) Close() error {
	c.httpClient.CloseIdleConnections()
	return nil
}

// Ping checks that the endpoint answers on /ping.
func (c *ClickHouseDB) Ping(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, clickhousePingTimeout)
	defer cancel()

	pingURL := c.endpoint.JoinPath("ping")
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, pingURL.String(), nil)
	if err != nil {
		return fmt.Errorf("failed to build ping request: %w", err)
	}
	_, err = c.do(req)
	if err != nil {
		return fmt.Errorf("failed to ping clickhouse: %w", err)
	}
	return nil
}

func (c *ClickHouseDB) CreateTable(ctx context.Context, def schema.TableDefinition) error {
	if err := def.Validate(); err != nil {
		return err
	}

	dropSQL := "DROP TABLE IF EXISTS " + quoteIdentifier(def.Name)
	c.logger.Info("dropping existing ClickHouse table", zap.String("sql", dropSQL))
	if _, err := c.Exec(ctx, dropSQL); err != nil {
		return fmt.Errorf("failed to drop table %s: %w", def.Name, err)
	}

	createSQL := c.createTableSQL(def)
	c.logger.Info("creating ClickHouse table", zap.String("sql", createSQL))
	if _, err := c.Exec(ctx, createSQL); err != nil {
		return fmt.Errorf("failed to create table %s: %w", def.Name, err)
	}
	return nil
}

func (c *ClickHouseDB) createTableSQL(def schema.TableDefinition) string {
	columnDefs := make([]string, len(def.Columns))
	for i, col := range def.Columns {
		columnDefs[i] = fmt.Sprintf("%s %s", quoteIdentifier(col.Name), col.SinkType)
	}

	createSQL := fmt.Sprintf("CREATE TABLE %s (%s) ENGINE = %s ORDER BY %s",
		quoteIdentifier(def.Name),
		strings.Join(columnDefs, ", "),
		c.engine,
		quoteIdentifier(def.OrderingKey),
	)

	if key, ok := def.Column(def.OrderingKey); ok && schema.IsNullableType(key.SinkType) {
		createSQL += " " + allowNullableKeyOption
	}
	return createSQL
}

func (c *ClickHouseDB) InsertBatch(ctx context.Context, table string, columns []string, payload []byte) error {
	ctx, cancel := context.WithTimeout(ctx, c.loadTimeout)
	defer cancel()

	query := insertSQL(table, columns)

	body := payload
	if c.compress {
		compressed, err := gzipPayload(payload)
		if err != nil {
			return fmt.Errorf("failed to compress payload: %w", err)
		}
		body = compressed
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.statementURL(query), bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("failed to build insert request: %w", err)
	}
	req.Header.Set("Content-Type", contentTypeTSV)
	if c.compress {
		req.Header.Set("Content-Encoding", "gzip")
	}

	start := time.Now()
	if _, err := c.do(req); err != nil {
		return err
	}
	c.logger.Debug("inserted batch",
		zap.String("table", table),
		zap.Int("bytes", len(payload)),
		zap.Int("wire_bytes", len(body)),
		zap.Duration("duration", time.Since(start)))
	return nil
}

func (c *ClickHouseDB) GetTableRowCount(ctx context.Context, table string) (uint64, error) {
	out, err := c.Exec(ctx, "SELECT count() FROM "+quoteIdentifier(table))
	if err != nil {
		return 0, fmt.Errorf("failed to get row count for table %s: %w", table, err)
	}
	count, err := strconv.ParseUint(strings.TrimSpace(string(out)), 10, 64)
	if err != nil {
		return 0, fmt.Errorf("failed to parse row count %q for table %s: %w", out, table, err)
	}
	return count, nil
}

// Exec sends one statement as the request body and returns the response body.
func (c *ClickHouseDB) Exec(ctx context.Context, statement string) ([]byte, error) {
	ctx, cancel := context.WithTimeout(ctx, c.queryTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.statementURL(""), strings.NewReader(statement))
	if err != nil {
		return nil, fmt.Errorf("failed to build request: %w", err)
	}
	req.Header.Set("Content-Type", contentTypeText)
	return c.do(req)
}

func (c *ClickHouseDB) statementURL(query string) string {
	u := *c.endpoint
	params := u.Query()
	if c.database != "" {
		params.Set("database", c.database)
	}
	if query != "" {
		params.Set("query", query)
	}
	u.RawQuery = params.Encode()
	return u.String()
}

func (c *ClickHouseDB) do(req *http.Request) ([]byte, error) {
	if c.user != "" || c.password != "" {
		req.SetBasicAuth(c.user, c.password)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("clickhouse request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBodyBytes))
		return nil, &SinkError{
			StatusCode: resp.StatusCode,
			Code:       resp.Header.Get(exceptionCodeHeader),
			Message:    strings.TrimSpace(string(msg)),
		}
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read clickhouse response: %w", err)
	}
	return body, nil
}

func insertSQL(table string, columns []string) string {
	quoted := make([]string, len(columns))
	for i, name := range columns {
		quoted[i] = quoteIdentifier(name)
	}
	return fmt.Sprintf("INSERT INTO %s (%s) FORMAT TabSeparated", quoteIdentifier(table), strings.Join(quoted, ", "))
}

func gzipPayload(payload []byte) ([]byte, error) {
	var buf bytes.Buffer
	zw := gzip.NewWriter(&buf)
	if _, err := zw.Write(payload); err != nil {
		return nil, err
	}
	if err := zw.Close(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}
