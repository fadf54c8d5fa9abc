package mock

import (
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/dan-strohschein/syndrdb-bulkload/protocol"
)

// Server error codes, matching what a SQL Server style backend reports.
const (
	CodeInvalidObject = "208"
	CodeNullViolation = "515"
	CodeConstraint    = "547"
	CodeProtocol      = "4804"
)

// Table is a table held by a Server.
type Table struct {
	Name string

	// Defaults are stored in place of nulls unless the load keeps nulls.
	Defaults map[string]any

	Rows []map[string]any
}

// Server is the shared state behind one or more MockTransports: the tables,
// scripted statement replies and injected row failures.
type Server struct {
	mu         sync.Mutex
	tables     map[string]*Table
	statements map[string]*protocol.Response
	failAtRow  int
	rowFailure *protocol.Response
	executed   []string
}

// NewServer creates an empty server.
func NewServer() *Server {
	return &Server{
		tables:     make(map[string]*Table),
		statements: make(map[string]*protocol.Response),
	}
}

// Connect opens a new transport to the server.
func (s *Server) Connect() *MockTransport {
	return newMockTransport(s)
}

// CreateTable adds an empty table, replacing any table of the same name.
func (s *Server) CreateTable(name string, defaults map[string]any) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.tables[tableKey(name)] = &Table{Name: name, Defaults: defaults}
}

// Rows returns a copy of the rows committed to table, or nil if it does not
// exist.
func (s *Server) Rows(table string) []map[string]any {
	s.mu.Lock()
	defer s.mu.Unlock()
	t, ok := s.tables[tableKey(table)]
	if !ok {
		return nil
	}
	out := make([]map[string]any, len(t.Rows))
	copy(out, t.Rows)
	return out
}

// Tables lists table names in sorted order.
func (s *Server) Tables() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	names := make([]string, 0, len(s.tables))
	for _, t := range s.tables {
		names = append(names, t.Name)
	}
	sort.Strings(names)
	return names
}

// WithStatementResponse scripts the reply to an exact statement.
func (s *Server) WithStatementResponse(statement string, resp *protocol.Response) *Server {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.statements[statement] = resp
	return s
}

// WithRowError makes the server reject row n (1-based) of every bulk load.
// The failure is reported when the load is finished.
func (s *Server) WithRowError(n int, code, message string) *Server {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.failAtRow = n
	s.rowFailure = errorResponse(code, message)
	return s
}

// Executed returns the statements run outside bulk loads, in order.
func (s *Server) Executed() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]string, len(s.executed))
	copy(out, s.executed)
	return out
}

// exec runs a plain statement.
func (s *Server) exec(statement string) *protocol.Response {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.executed = append(s.executed, statement)

	if resp, ok := s.statements[statement]; ok {
		return resp
	}
	if name, ok := createdTable(statement); ok {
		s.tables[tableKey(name)] = &Table{Name: name}
	}
	return &protocol.Response{Success: true, Message: "OK"}
}

func (s *Server) hasTable(name string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.tables[tableKey(name)]
	return ok
}

// commit appends rows to table, filling defaults unless keepNulls is set.
func (s *Server) commit(table string, rows []map[string]any, keepNulls bool) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	t, ok := s.tables[tableKey(table)]
	if !ok {
		return 0, fmt.Errorf("Invalid object name '%s'.", table)
	}
	for _, row := range rows {
		if !keepNulls {
			for col, def := range t.Defaults {
				if v, present := row[col]; present && v == nil {
					row[col] = def
				}
			}
		}
		t.Rows = append(t.Rows, row)
	}
	return len(rows), nil
}

func (s *Server) rowFailureAt(n int) *protocol.Response {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.failAtRow > 0 && s.failAtRow == n {
		return s.rowFailure
	}
	return nil
}

// bulkSession is the server side of one open bulk load.
type bulkSession struct {
	table     string
	keepNulls bool
	columns   []protocol.ColumnMetadata
	rows      []map[string]any
	failure   *protocol.Response
}

func (b *bulkSession) fail(resp *protocol.Response) {
	if b.failure == nil {
		b.failure = resp
	}
}

// handleLocked processes one message and returns the reply, or nil when the
// message has none. m.mu is held.
func (m *MockTransport) handleLocked(data []byte) *protocol.Response {
	if protocol.IsFrame(data) {
		return m.handleFrameLocked(data)
	}

	command, params, err := protocol.DecodeCommand(data)
	if err != nil {
		return errorResponse(CodeProtocol, err.Error())
	}
	if m.session != nil {
		return errorResponse(CodeProtocol, "A bulk load is in progress on this connection.")
	}
	if command != protocol.BULK_COMMAND {
		return m.server.exec(command)
	}

	if len(params) != 2 {
		return errorResponse(CodeProtocol, fmt.Sprintf("BULK INSERT takes 2 parameters, got %d.", len(params)))
	}
	table, statement := params[0], params[1]
	if !m.server.hasTable(table) {
		return errorResponse(CodeInvalidObject, fmt.Sprintf("Invalid object name '%s'.", table))
	}
	m.session = &bulkSession{
		table:     table,
		keepNulls: strings.Contains(strings.ToUpper(withClause(statement)), "KEEP_NULLS"),
	}
	return &protocol.Response{Success: true, Message: "BULK_READY"}
}

func (m *MockTransport) handleFrameLocked(data []byte) *protocol.Response {
	kind, payload, _, err := protocol.DecodeFrame(data)
	if err != nil {
		return errorResponse(CodeProtocol, err.Error())
	}

	if kind == protocol.FrameAttention {
		m.session = nil
		return &protocol.Response{Success: true, Message: "ATTENTION_ACK"}
	}

	sess := m.session
	if sess == nil {
		return errorResponse(CodeProtocol, fmt.Sprintf("Unexpected %s frame outside a bulk load.", kind))
	}

	switch kind {
	case protocol.FrameMetadata:
		cols, err := protocol.DecodeColumnMetadata(payload)
		if err != nil {
			sess.fail(errorResponse(CodeProtocol, err.Error()))
			return nil
		}
		sess.columns = cols

	case protocol.FrameRow:
		if sess.failure != nil {
			return nil
		}
		if sess.columns == nil {
			sess.fail(errorResponse(CodeProtocol, "Row received before column metadata."))
			return nil
		}
		values, err := protocol.DecodeRow(sess.columns, payload)
		if err != nil {
			sess.fail(errorResponse(CodeProtocol, err.Error()))
			return nil
		}
		row := make(map[string]any, len(values))
		for i, c := range sess.columns {
			if values[i] == nil && !c.Nullable {
				sess.fail(errorResponse(CodeNullViolation, fmt.Sprintf(
					"Cannot insert the value NULL into column '%s', table '%s'; column does not allow nulls. INSERT fails.",
					c.Name, sess.table)))
				return nil
			}
			row[c.Name] = values[i]
		}
		sess.rows = append(sess.rows, row)
		if resp := m.server.rowFailureAt(len(sess.rows)); resp != nil {
			sess.fail(resp)
		}

	case protocol.FrameDone:
		m.session = nil
		if sess.failure != nil {
			return sess.failure
		}
		n, err := m.server.commit(sess.table, sess.rows, sess.keepNulls)
		if err != nil {
			return errorResponse(CodeInvalidObject, err.Error())
		}
		return &protocol.Response{Success: true, Data: map[string]interface{}{"rowCount": n}}
	}
	return nil
}

func errorResponse(code, message string) *protocol.Response {
	return &protocol.Response{Success: false, Code: code, Error: message}
}

// tableKey normalizes "[dbo].[t]" and "dbo.t" to the same key.
func tableKey(name string) string {
	name = strings.NewReplacer("[", "", "]", "").Replace(name)
	return strings.ToLower(strings.TrimSpace(name))
}

// createdTable extracts the table name from a CREATE TABLE statement.
func createdTable(statement string) (string, bool) {
	const prefix = "CREATE TABLE "
	if len(statement) < len(prefix) || !strings.EqualFold(statement[:len(prefix)], prefix) {
		return "", false
	}
	rest := statement[len(prefix):]
	if i := strings.IndexByte(rest, '('); i >= 0 {
		rest = rest[:i]
	}
	name := strings.Trim(strings.TrimSpace(rest), "[]")
	return name, name != ""
}

// withClause returns the hint list of an insert bulk statement.
func withClause(statement string) string {
	i := strings.LastIndex(strings.ToLower(statement), ") with (")
	if i < 0 {
		return ""
	}
	return statement[i:]
}
