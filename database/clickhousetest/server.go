// Package clickhousetest provides an in-process stand-in for the ClickHouse HTTP interface.
//
// It understands the statements the sink issues (DROP TABLE, CREATE TABLE, INSERT ... FORMAT
// TabSeparated and SELECT count()), keeps decoded rows in memory, and can be told to reject
// inserts or table creation.
package clickhousetest

import (
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"regexp"
	"strconv"
	"strings"
	"sync"

	"github.com/klauspost/compress/gzip"

	"ch-ferry/config"
	"ch-ferry/tsv"
)

const ident = "`((?:[^`]|``)+)`"

var (
	dropPattern   = regexp.MustCompile(`^DROP TABLE IF EXISTS ` + ident + `$`)
	createPattern = regexp.MustCompile(`(?s)^CREATE TABLE ` + ident + ` \((.*)\) ENGINE = (.+) ORDER BY ` + ident + `( SETTINGS .+)?$`)
	insertPattern = regexp.MustCompile(`(?s)^INSERT INTO ` + ident + ` \((.*)\) FORMAT TabSeparated$`)
	countPattern  = regexp.MustCompile(`^SELECT count\(\) FROM ` + ident + `$`)
	identPattern  = regexp.MustCompile(ident)
)

// Column is a column of a created table.
type Column struct {
	Name string
	Type string
}

// Table is the in-memory state of one created table.
type Table struct {
	Name        string
	Columns     []Column
	Engine      string
	OrderBy     string
	Settings    string
	Rows        [][]tsv.Field
	InsertCalls int
}

// Request records one statement the server received.
type Request struct {
	Statement       string
	ContentType     string
	ContentEncoding string
	Database        string
	BodyBytes       int
}

// Server is a fake ClickHouse endpoint backed by httptest.
type Server struct {
	*httptest.Server

	mu          sync.Mutex
	user        string
	password    string
	tables      map[string]*Table
	requests    []Request
	failInserts int
	failAllLoad bool
	createError string
}

// NewServer starts a server. Callers must Close it.
func NewServer() *Server {
	s := &Server{tables: make(map[string]*Table)}
	s.Server = httptest.NewServer(http.HandlerFunc(s.handle))
	return s
}

// SetCredentials makes the server require HTTP basic auth.
func (s *Server) SetCredentials(user, password string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.user = user
	s.password = password
}

// FailInserts rejects the next n INSERT statements with an HTTP 500.
func (s *Server) FailInserts(n int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.failInserts = n
}

// FailAllInserts rejects every INSERT until cleared.
func (s *Server) FailAllInserts(fail bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.failAllLoad = fail
}

// FailCreate rejects CREATE TABLE statements with msg. An empty msg clears it.
func (s *Server) FailCreate(msg string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.createError = msg
}

// Config returns sink settings pointing at this server.
func (s *Server) Config() config.ClickHouseConfig {
	s.mu.Lock()
	defer s.mu.Unlock()
	return config.ClickHouseConfig{
		URL:      s.URL,
		User:     s.user,
		Password: s.password,
	}
}

// Table returns a copy of the named table.
func (s *Server) Table(name string) (Table, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	t, ok := s.tables[name]
	if !ok {
		return Table{}, false
	}
	cp := *t
	cp.Columns = append([]Column(nil), t.Columns...)
	cp.Rows = append([][]tsv.Field(nil), t.Rows...)
	return cp, true
}

// Requests returns every statement received so far.
func (s *Server) Requests() []Request {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]Request(nil), s.requests...)
}

func (s *Server) handle(w http.ResponseWriter, r *http.Request) {
	if r.URL.Path == "/ping" {
		io.WriteString(w, "Ok.\n")
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.user != "" || s.password != "" {
		user, password, ok := r.BasicAuth()
		if !ok || user != s.user || password != s.password {
			writeException(w, http.StatusUnauthorized, 516, fmt.Sprintf("%s: Authentication failed: password is incorrect, or there is no user with such name.", user))
			return
		}
	}

	body, err := readBody(r)
	if err != nil {
		writeException(w, http.StatusBadRequest, 432, err.Error())
		return
	}

	statement := r.URL.Query().Get("query")
	data := body
	if statement == "" {
		statement = strings.TrimSpace(string(body))
		data = nil
	}

	s.requests = append(s.requests, Request{
		Statement:       statement,
		ContentType:     r.Header.Get("Content-Type"),
		ContentEncoding: r.Header.Get("Content-Encoding"),
		Database:        r.URL.Query().Get("database"),
		BodyBytes:       len(body),
	})

	switch {
	case dropPattern.MatchString(statement):
		m := dropPattern.FindStringSubmatch(statement)
		delete(s.tables, unquote(m[1]))
	case createPattern.MatchString(statement):
		s.create(w, createPattern.FindStringSubmatch(statement))
		return
	case insertPattern.MatchString(statement):
		s.insert(w, insertPattern.FindStringSubmatch(statement), data)
		return
	case countPattern.MatchString(statement):
		name := unquote(countPattern.FindStringSubmatch(statement)[1])
		t, ok := s.tables[name]
		if !ok {
			writeUnknownTable(w, name)
			return
		}
		fmt.Fprintf(w, "%d\n", len(t.Rows))
		return
	default:
		writeException(w, http.StatusBadRequest, 62, fmt.Sprintf("Syntax error: failed at position 1: %s", statement))
		return
	}
}

func (s *Server) create(w http.ResponseWriter, m []string) {
	if s.createError != "" {
		writeException(w, http.StatusInternalServerError, 36, s.createError)
		return
	}

	name := unquote(m[1])
	if _, exists := s.tables[name]; exists {
		writeException(w, http.StatusInternalServerError, 57, fmt.Sprintf("Table default.%s already exists.", name))
		return
	}

	var columns []Column
	for _, def := range splitTopLevel(m[2]) {
		loc := identPattern.FindStringSubmatchIndex(def)
		if loc == nil || loc[0] != 0 {
			writeException(w, http.StatusBadRequest, 62, fmt.Sprintf("Syntax error in column definition: %s", def))
			return
		}
		columns = append(columns, Column{
			Name: unquote(def[loc[2]:loc[3]]),
			Type: strings.TrimSpace(def[loc[1]:]),
		})
	}

	orderBy := unquote(m[4])
	found := false
	for _, col := range columns {
		if col.Name == orderBy {
			found = true
			if strings.HasPrefix(col.Type, "Nullable(") && !strings.Contains(m[5], "allow_nullable_key") {
				writeException(w, http.StatusBadRequest, 44, "Sorting key contains nullable columns, but merge tree setting `allow_nullable_key` is disabled")
				return
			}
		}
	}
	if !found {
		writeException(w, http.StatusBadRequest, 47, fmt.Sprintf("Missing columns: '%s' while processing query", orderBy))
		return
	}

	s.tables[name] = &Table{
		Name:     name,
		Columns:  columns,
		Engine:   m[3],
		OrderBy:  orderBy,
		Settings: strings.TrimSpace(m[5]),
	}
}

func (s *Server) insert(w http.ResponseWriter, m []string, data []byte) {
	name := unquote(m[1])
	t, ok := s.tables[name]
	if !ok {
		writeUnknownTable(w, name)
		return
	}
	t.InsertCalls++

	if s.failAllLoad || s.failInserts > 0 {
		if s.failInserts > 0 {
			s.failInserts--
		}
		writeException(w, http.StatusInternalServerError, 241, "Memory limit (total) exceeded")
		return
	}

	names := identPattern.FindAllStringSubmatch(m[2], -1)
	if len(names) != len(t.Columns) {
		writeException(w, http.StatusBadRequest, 16, fmt.Sprintf("expected %d columns, got %d", len(t.Columns), len(names)))
		return
	}
	for i, n := range names {
		if unquote(n[1]) != t.Columns[i].Name {
			writeException(w, http.StatusBadRequest, 16, fmt.Sprintf("No such column %s in table %s", unquote(n[1]), name))
			return
		}
	}

	records, err := tsv.Decode(data)
	if err != nil {
		writeException(w, http.StatusBadRequest, 27, fmt.Sprintf("Cannot parse input: %v", err))
		return
	}
	for i, record := range records {
		if len(record) != len(t.Columns) {
			writeException(w, http.StatusBadRequest, 27,
				fmt.Sprintf("Cannot parse input: row %d has %d fields, expected %d", i+1, len(record), len(t.Columns)))
			return
		}
	}
	t.Rows = append(t.Rows, records...)
}

func readBody(r *http.Request) ([]byte, error) {
	var reader io.Reader = r.Body
	if r.Header.Get("Content-Encoding") == "gzip" {
		zr, err := gzip.NewReader(r.Body)
		if err != nil {
			return nil, fmt.Errorf("cannot decompress request body: %w", err)
		}
		defer zr.Close()
		reader = zr
	}
	return io.ReadAll(reader)
}

// splitTopLevel splits a column list on commas outside parentheses.
func splitTopLevel(s string) []string {
	var (
		parts []string
		depth int
		start int
		quote bool
	)
	for i := 0; i < len(s); i++ {
		switch s[i] {
		case '`':
			quote = !quote
		case '(':
			if !quote {
				depth++
			}
		case ')':
			if !quote {
				depth--
			}
		case ',':
			if !quote && depth == 0 {
				parts = append(parts, strings.TrimSpace(s[start:i]))
				start = i + 1
			}
		}
	}
	return append(parts, strings.TrimSpace(s[start:]))
}

func unquote(name string) string {
	return strings.ReplaceAll(name, "``", "`")
}

func writeUnknownTable(w http.ResponseWriter, name string) {
	writeException(w, http.StatusNotFound, 60, fmt.Sprintf("Table default.%s does not exist.", name))
}

func writeException(w http.ResponseWriter, status, code int, msg string) {
	w.Header().Set("X-ClickHouse-Exception-Code", strconv.Itoa(code))
	w.WriteHeader(status)
	fmt.Fprintf(w, "Code: %d. DB::Exception: %s\n", code, msg)
}
