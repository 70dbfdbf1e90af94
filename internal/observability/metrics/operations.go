package metrics

import (
	"fmt"
	"sort"
	"strings"
	"sync"
)

type operationKey struct {
	kind string
}

type denialKey struct {
	kind string
}

type failureKey struct {
	kind string
	code string
}

type opCollector struct {
	mu       sync.Mutex
	started  map[operationKey]uint64
	denied   map[denialKey]uint64
	failed   map[failureKey]uint64
	finished map[operationKey]uint64
}

var operationCollector = &opCollector{
	started:  make(map[operationKey]uint64),
	denied:   make(map[denialKey]uint64),
	failed:   make(map[failureKey]uint64),
	finished: make(map[operationKey]uint64),
}

// ObserveOperationStarted records an operation accepted for execution.
func ObserveOperationStarted(kind string) {
	operationCollector.mu.Lock()
	defer operationCollector.mu.Unlock()
	operationCollector.started[operationKey{kind: kind}]++
}

// ObserveOperationDenied records an operation rejected by the capability gate.
func ObserveOperationDenied(kind string) {
	operationCollector.mu.Lock()
	defer operationCollector.mu.Unlock()
	operationCollector.denied[denialKey{kind: kind}]++
}

// ObserveOperationFailed records a terminal failure with its reported code.
func ObserveOperationFailed(kind, code string) {
	operationCollector.mu.Lock()
	defer operationCollector.mu.Unlock()
	operationCollector.failed[failureKey{kind: kind, code: code}]++
}

// ObserveOperationSucceeded records a terminal success.
func ObserveOperationSucceeded(kind string) {
	operationCollector.mu.Lock()
	defer operationCollector.mu.Unlock()
	operationCollector.finished[operationKey{kind: kind}]++
}

func (c *opCollector) render() string {
	c.mu.Lock()
	defer c.mu.Unlock()

	var builder strings.Builder
	builder.Grow(512)

	builder.WriteString("# HELP connectorhub_operations_started_total Total number of operations accepted for execution.\n")
	builder.WriteString("# TYPE connectorhub_operations_started_total counter\n")
	for _, key := range sortedOperationKeys(c.started) {
		builder.WriteString(fmt.Sprintf("connectorhub_operations_started_total{kind=\"%s\"} %d\n",
			escape(key.kind), c.started[key]))
	}

	builder.WriteString("# HELP connectorhub_operations_denied_total Total number of operations denied by the capability gate.\n")
	builder.WriteString("# TYPE connectorhub_operations_denied_total counter\n")
	denials := make([]denialKey, 0, len(c.denied))
	for key := range c.denied {
		denials = append(denials, key)
	}
	sort.Slice(denials, func(i, j int) bool { return denials[i].kind < denials[j].kind })
	for _, key := range denials {
		builder.WriteString(fmt.Sprintf("connectorhub_operations_denied_total{kind=\"%s\"} %d\n",
			escape(key.kind), c.denied[key]))
	}

	builder.WriteString("# HELP connectorhub_operations_failed_total Total number of operations that reached a failed state.\n")
	builder.WriteString("# TYPE connectorhub_operations_failed_total counter\n")
	failures := make([]failureKey, 0, len(c.failed))
	for key := range c.failed {
		failures = append(failures, key)
	}
	sort.Slice(failures, func(i, j int) bool {
		if failures[i].kind == failures[j].kind {
			return failures[i].code < failures[j].code
		}
		return failures[i].kind < failures[j].kind
	})
	for _, key := range failures {
		builder.WriteString(fmt.Sprintf("connectorhub_operations_failed_total{kind=\"%s\",code=\"%s\"} %d\n",
			escape(key.kind), escape(key.code), c.failed[key]))
	}

	builder.WriteString("# HELP connectorhub_operations_succeeded_total Total number of operations that reached a succeeded state.\n")
	builder.WriteString("# TYPE connectorhub_operations_succeeded_total counter\n")
	for _, key := range sortedOperationKeys(c.finished) {
		builder.WriteString(fmt.Sprintf("connectorhub_operations_succeeded_total{kind=\"%s\"} %d\n",
			escape(key.kind), c.finished[key]))
	}

	return builder.String()
}

func sortedOperationKeys(values map[operationKey]uint64) []operationKey {
	keys := make([]operationKey, 0, len(values))
	for key := range values {
		keys = append(keys, key)
	}
	sort.Slice(keys, func(i, j int) bool { return keys[i].kind < keys[j].kind })
	return keys
}
