package api

import (
	"encoding/json"
	"fmt"
	"math"

	"google.golang.org/protobuf/types/known/structpb"

	"github.com/miradorstack/mirador-investigator/internal/models"
	"github.com/miradorstack/mirador-investigator/internal/utils"
)

// FromStructInvestigationRequest maps an Investigate request document into a
// domain InvestigationRequest. Times are RFC3339 strings and may be omitted.
func FromStructInvestigationRequest(req *structpb.Struct) (models.InvestigationRequest, error) {
	if req == nil {
		return models.InvestigationRequest{}, fmt.Errorf("request is nil")
	}
	fields := req.GetFields()
	question := stringField(fields, "question")
	if question == "" {
		return models.InvestigationRequest{}, fmt.Errorf("question is required")
	}
	timeRange, err := timeRangeField(fields)
	if err != nil {
		return models.InvestigationRequest{}, err
	}
	return models.InvestigationRequest{
		Question:    question,
		Service:     stringField(fields, "service"),
		Environment: stringField(fields, "environment"),
		TimeRange:   timeRange,
		Filters:     stringListField(fields, "filters"),
	}, nil
}

// FromStructRunFilter maps a ListRuns request into a RunFilter.
func FromStructRunFilter(req *structpb.Struct) (models.RunFilter, error) {
	fields := req.GetFields()
	since, err := utils.ParseOptionalRFC3339(stringField(fields, "since"))
	if err != nil {
		return models.RunFilter{}, fmt.Errorf("since: %w", err)
	}
	until, err := utils.ParseOptionalRFC3339(stringField(fields, "until"))
	if err != nil {
		return models.RunFilter{}, fmt.Errorf("until: %w", err)
	}
	limit, err := intField(fields, "limit")
	if err != nil {
		return models.RunFilter{}, err
	}
	return models.RunFilter{
		RunID:       stringField(fields, "run_id"),
		Fingerprint: stringField(fields, "fingerprint"),
		Service:     stringField(fields, "service"),
		Environment: stringField(fields, "environment"),
		Since:       since,
		Until:       until,
		Limit:       limit,
	}, nil
}

// FromStructCloseRequest maps a CloseInvestigation request.
func FromStructCloseRequest(req *structpb.Struct) (models.CloseRequest, error) {
	fields := req.GetFields()
	out := models.CloseRequest{
		RunID:         stringField(fields, "run_id"),
		Title:         stringField(fields, "title"),
		RootCause:     stringField(fields, "root_cause"),
		FixSteps:      stringListField(fields, "fix_steps"),
		PostmortemURL: stringField(fields, "postmortem_url"),
		Tags:          stringListField(fields, "tags"),
	}
	if out.RunID == "" {
		return models.CloseRequest{}, fmt.Errorf("run_id is required")
	}
	if out.RootCause == "" {
		return models.CloseRequest{}, fmt.Errorf("root_cause is required")
	}
	return out, nil
}

// ServiceFromStruct returns the optional service field shared by GetPatterns and ListScope.
func ServiceFromStruct(req *structpb.Struct) string {
	return stringField(req.GetFields(), "service")
}

// ToStructEvent converts a stream event. payload_type names the payload shape.
func ToStructEvent(ev models.Event) (*structpb.Struct, error) {
	out, err := toStruct(ev)
	if err != nil {
		return nil, err
	}
	if ev.Payload != nil {
		out.Fields["payload_type"] = structpb.NewStringValue(ev.Payload.PayloadType())
	}
	return out, nil
}

// ToStructRuns wraps run records as {"runs": [...]}.
func ToStructRuns(runs []models.RunRecord) (*structpb.Struct, error) {
	if runs == nil {
		runs = []models.RunRecord{}
	}
	return toStruct(map[string]any{"runs": runs})
}

// ToStructPatterns wraps mined patterns as {"service": ..., "patterns": [...]}.
func ToStructPatterns(service string, patterns []models.FailurePattern) (*structpb.Struct, error) {
	if patterns == nil {
		patterns = []models.FailurePattern{}
	}
	return toStruct(map[string]any{"service": service, "patterns": patterns})
}

// ToStructCloseAck acknowledges a closure write-back.
func ToStructCloseAck(runID, incidentID string) (*structpb.Struct, error) {
	return toStruct(map[string]any{"run_id": runID, "incident_id": incidentID, "accepted": true})
}

// ToStructScope converts the scope catalog.
func ToStructScope(catalog models.ScopeCatalog) (*structpb.Struct, error) {
	if catalog.Services == nil {
		catalog.Services = []string{}
	}
	if catalog.Environments == nil {
		catalog.Environments = []string{}
	}
	return toStruct(catalog)
}

// toStruct goes through encoding/json so the wire shape matches the json tags
// of the models package.
func toStruct(v any) (*structpb.Struct, error) {
	raw, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("encode response: %w", err)
	}
	var m map[string]any
	if err := json.Unmarshal(raw, &m); err != nil {
		return nil, fmt.Errorf("encode response: %w", err)
	}
	out, err := structpb.NewStruct(m)
	if err != nil {
		return nil, fmt.Errorf("encode response: %w", err)
	}
	return out, nil
}

func timeRangeField(fields map[string]*structpb.Value) (models.TimeRange, error) {
	start, err := utils.ParseOptionalRFC3339(stringField(fields, "start"))
	if err != nil {
		return models.TimeRange{}, fmt.Errorf("start: %w", err)
	}
	end, err := utils.ParseOptionalRFC3339(stringField(fields, "end"))
	if err != nil {
		return models.TimeRange{}, fmt.Errorf("end: %w", err)
	}
	return models.TimeRange{Start: start, End: end}, nil
}

func stringField(fields map[string]*structpb.Value, key string) string {
	v, ok := fields[key]
	if !ok {
		return ""
	}
	return v.GetStringValue()
}

func stringListField(fields map[string]*structpb.Value, key string) []string {
	v, ok := fields[key]
	if !ok {
		return nil
	}
	if s := v.GetStringValue(); s != "" {
		return []string{s}
	}
	var out []string
	for _, item := range v.GetListValue().GetValues() {
		if s := item.GetStringValue(); s != "" {
			out = append(out, s)
		}
	}
	return out
}

func intField(fields map[string]*structpb.Value, key string) (int, error) {
	v, ok := fields[key]
	if !ok {
		return 0, nil
	}
	n := v.GetNumberValue()
	if n < 0 || n != math.Trunc(n) {
		return 0, fmt.Errorf("%s must be a non-negative integer", key)
	}
	return int(n), nil
}
