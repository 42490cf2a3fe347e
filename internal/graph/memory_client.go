package graph

import (
	"context"
	"strings"
	"sync"
)

// MemoryClient is an in-memory Client that records every statement and
// replays scripted responses. It lets store logic be tested without a
// running database.
type MemoryClient struct {
	mu           sync.Mutex
	writeCalls   []ExecutedQuery
	readCalls    []ExecutedQuery
	reads        []scripted
	writes       []scripted
	err          error
	connectivity error
}

// ExecutedQuery captures a cypher statement and parameters executed against the graph.
type ExecutedQuery struct {
	Query  string
	Params map[string]any
}

// scripted is a canned response. When match is set it only answers
// statements containing that fragment; otherwise it answers the next call.
type scripted struct {
	match string
	res   Result
	err   error
}

// NewMemoryClient instantiates the in-memory client with no scripted results.
func NewMemoryClient() *MemoryClient {
	return &MemoryClient{}
}

// WithError configures the client to return the provided error for subsequent calls.
func (m *MemoryClient) WithError(err error) *MemoryClient {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.err = err
	return m
}

// WithConnectivityError forces VerifyConnectivity to return the supplied error.
func (m *MemoryClient) WithConnectivityError(err error) *MemoryClient {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.connectivity = err
	return m
}

// PushReadResult queues a result for the next ExecuteRead call.
func (m *MemoryClient) PushReadResult(res Result) {
	m.OnRead("", res, nil)
}

// PushWriteResult queues a result for the next ExecuteWrite call.
func (m *MemoryClient) PushWriteResult(res Result) {
	m.OnWrite("", res, nil)
}

// OnRead queues a response for the first read whose statement contains
// fragment. An empty fragment matches any statement.
func (m *MemoryClient) OnRead(fragment string, res Result, err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.reads = append(m.reads, scripted{match: fragment, res: res, err: err})
}

// OnWrite queues a response for the first write whose statement contains
// fragment. An empty fragment matches any statement.
func (m *MemoryClient) OnWrite(fragment string, res Result, err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.writes = append(m.writes, scripted{match: fragment, res: res, err: err})
}

func (m *MemoryClient) ExecuteWrite(_ context.Context, cypher string, params map[string]any) (Result, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.err != nil {
		return Result{}, m.err
	}
	m.writeCalls = append(m.writeCalls, ExecutedQuery{Query: cypher, Params: cloneMap(params)})

	var resp scripted
	m.writes, resp = takeScripted(m.writes, cypher)
	return resp.res, resp.err
}

func (m *MemoryClient) ExecuteRead(_ context.Context, cypher string, params map[string]any) (Result, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.err != nil {
		return Result{}, m.err
	}
	m.readCalls = append(m.readCalls, ExecutedQuery{Query: cypher, Params: cloneMap(params)})

	var resp scripted
	m.reads, resp = takeScripted(m.reads, cypher)
	return resp.res, resp.err
}

func (m *MemoryClient) VerifyConnectivity(context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.connectivity
}

func (m *MemoryClient) Close(context.Context) error {
	return nil
}

// WriteCalls returns a snapshot of executed write queries.
func (m *MemoryClient) WriteCalls() []ExecutedQuery {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]ExecutedQuery(nil), m.writeCalls...)
}

// ReadCalls returns a snapshot of executed read queries.
func (m *MemoryClient) ReadCalls() []ExecutedQuery {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]ExecutedQuery(nil), m.readCalls...)
}

func takeScripted(queue []scripted, cypher string) ([]scripted, scripted) {
	for i, s := range queue {
		if s.match == "" || strings.Contains(cypher, s.match) {
			return append(queue[:i:i], queue[i+1:]...), s
		}
	}
	return queue, scripted{}
}

func cloneMap(src map[string]any) map[string]any {
	if src == nil {
		return nil
	}
	dst := make(map[string]any, len(src))
	for k, v := range src {
		dst[k] = v
	}
	return dst
}
