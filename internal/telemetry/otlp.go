package telemetry

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sort"
	"time"

	"github.com/rs/zerolog/log"
)

// Version is reported as service.version; set by the CLI at startup.
var Version = "dev"

// OTLPExporter sends metrics in OpenTelemetry Protocol format
type OTLPExporter struct {
	endpoint string
	client   *http.Client
}

// NewOTLPExporter creates a new OTLP exporter
func NewOTLPExporter(endpoint string) *OTLPExporter {
	return &OTLPExporter{
		endpoint: endpoint,
		client:   &http.Client{Timeout: 30 * time.Second},
	}
}

// otlpMetricsPayload represents OTLP metrics in JSON format
// This is a simplified OTLP JSON representation
type otlpMetricsPayload struct {
	ResourceMetrics []otlpResourceMetrics `json:"resourceMetrics"`
}

type otlpResourceMetrics struct {
	Resource     otlpResource       `json:"resource"`
	ScopeMetrics []otlpScopeMetrics `json:"scopeMetrics"`
}

type otlpResource struct {
	Attributes []otlpAttribute `json:"attributes"`
}

type otlpScopeMetrics struct {
	Scope   otlpScope    `json:"scope"`
	Metrics []otlpMetric `json:"metrics"`
}

type otlpScope struct {
	Name    string `json:"name"`
	Version string `json:"version"`
}

type otlpMetric struct {
	Name  string     `json:"name"`
	Unit  string     `json:"unit,omitempty"`
	Sum   *otlpSum   `json:"sum,omitempty"`
	Gauge *otlpGauge `json:"gauge,omitempty"`
}

type otlpSum struct {
	DataPoints             []otlpNumberDataPoint `json:"dataPoints"`
	AggregationTemporality int                   `json:"aggregationTemporality"`
	IsMonotonic            bool                  `json:"isMonotonic"`
}

type otlpGauge struct {
	DataPoints []otlpNumberDataPoint `json:"dataPoints"`
}

type otlpNumberDataPoint struct {
	Attributes   []otlpAttribute `json:"attributes,omitempty"`
	TimeUnixNano int64           `json:"timeUnixNano"`
	AsDouble     float64         `json:"asDouble"`
}

type otlpAttribute struct {
	Key   string    `json:"key"`
	Value otlpValue `json:"value"`
}

type otlpValue struct {
	StringValue string `json:"stringValue,omitempty"`
}

// Export sends metrics to OTLP endpoint
func (e *OTLPExporter) Export(ctx context.Context, metrics []Metric) error {
	if len(metrics) == 0 {
		return nil
	}

	payload := e.convertToOTLP(metrics)
	data, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal OTLP payload: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, e.endpoint, bytes.NewReader(data))
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}

	req.Header.Set("Content-Type", "application/json")

	resp, err := e.client.Do(req)
	if err != nil {
		return fmt.Errorf("send request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		return fmt.Errorf("OTLP endpoint returned status %d", resp.StatusCode)
	}

	log.Debug().
		Str("endpoint", e.endpoint).
		Int("metric_count", len(metrics)).
		Int("status", resp.StatusCode).
		Msg("Successfully exported metrics via OTLP")

	return nil
}

// convertToOTLP groups the run's metrics under one calprov resource.
// Attributes are sorted so payloads are stable.
func (e *OTLPExporter) convertToOTLP(metrics []Metric) otlpMetricsPayload {
	out := make([]otlpMetric, 0, len(metrics))
	for _, m := range metrics {
		keys := make([]string, 0, len(m.Labels))
		for k := range m.Labels {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		attrs := make([]otlpAttribute, 0, len(keys))
		for _, k := range keys {
			attrs = append(attrs, stringAttr(k, m.Labels[k]))
		}
		point := otlpNumberDataPoint{
			Attributes:   attrs,
			TimeUnixNano: m.Timestamp.UnixNano(),
			AsDouble:     m.Value,
		}
		om := otlpMetric{Name: m.Name, Unit: m.Unit}
		if m.Type == Counter {
			om.Sum = &otlpSum{
				DataPoints:             []otlpNumberDataPoint{point},
				AggregationTemporality: 2, // CUMULATIVE
				IsMonotonic:            true,
			}
		} else {
			om.Gauge = &otlpGauge{DataPoints: []otlpNumberDataPoint{point}}
		}
		out = append(out, om)
	}

	return otlpMetricsPayload{
		ResourceMetrics: []otlpResourceMetrics{{
			Resource: otlpResource{Attributes: []otlpAttribute{
				stringAttr("service.name", "calprov"),
				stringAttr("service.version", Version),
			}},
			ScopeMetrics: []otlpScopeMetrics{{
				Scope:   otlpScope{Name: "calprov", Version: Version},
				Metrics: out,
			}},
		}},
	}
}

func stringAttr(k, v string) otlpAttribute {
	return otlpAttribute{Key: k, Value: otlpValue{StringValue: v}}
}
