package obs

import "sync"

// Metric is a single structured measurement fanned out to registered
// handlers.
type Metric struct {
	Component string
	Name      string
	Value     interface{}
	Type      string // "counter" | "gauge"
	Fields    Fields
}

// MetricHandler receives every emitted Metric.
type MetricHandler func(Metric)

// HandlerID identifies a registered handler for later unregistration.
type HandlerID uint64

var (
	handlersMu sync.RWMutex
	handlers   = map[HandlerID]MetricHandler{}
	nextID     HandlerID
)

// RegisterMetricHandler subscribes a handler to every future EmitMetric call.
func RegisterMetricHandler(h MetricHandler) HandlerID {
	handlersMu.Lock()
	defer handlersMu.Unlock()
	nextID++
	id := nextID
	handlers[id] = h
	return id
}

// UnregisterMetricHandler removes a previously registered handler.
func UnregisterMetricHandler(id HandlerID) {
	handlersMu.Lock()
	defer handlersMu.Unlock()
	delete(handlers, id)
}

// EmitMetric logs the metric at debug level and dispatches it to every
// registered handler (dashboard, CloudWatch, tests) outside of any lock.
func EmitMetric(log *Log, component, name string, value interface{}, metricType string, fields Fields) {
	logFields := cloneFields(fields)
	logFields["component"] = component
	logFields["metric"] = name
	logFields["metric_type"] = metricType
	logFields["value"] = value
	log.WithFields(logFields).Debug("metric")

	m := Metric{Component: component, Name: name, Value: value, Type: metricType, Fields: cloneFields(fields)}
	dispatch(m)
}

func dispatch(m Metric) {
	handlersMu.RLock()
	snapshot := make([]MetricHandler, 0, len(handlers))
	for _, h := range handlers {
		snapshot = append(snapshot, h)
	}
	handlersMu.RUnlock()

	for _, h := range snapshot {
		h(m)
	}
}

func cloneFields(f Fields) Fields {
	out := make(Fields, len(f)+4)
	for k, v := range f {
		out[k] = v
	}
	return out
}
