package secops

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"
)

// Int64 is an integer that the API may encode either as a JSON number or,
// following proto3 JSON rules for 64-bit values, as a decimal string.
type Int64 int64

// UnmarshalJSON implements json.Unmarshaler.
func (i *Int64) UnmarshalJSON(data []byte) error {
	s := strings.Trim(string(data), `"`)
	if s == "" || s == "null" {
		*i = 0
		return nil
	}
	v, err := strconv.ParseInt(s, 10, 64)
	if err != nil {
		f, ferr := strconv.ParseFloat(s, 64)
		if ferr != nil {
			return fmt.Errorf("invalid int64 value %s: %w", data, err)
		}
		v = int64(f)
	}
	*i = Int64(v)
	return nil
}

// SearchRequest describes a UDM search or stats query. The client never
// modifies a SearchRequest, so one value may be reused across calls.
type SearchRequest struct {
	// Query is the UDM search query text.
	Query string

	// StartTime and EndTime bound the search to [StartTime, EndTime).
	StartTime time.Time
	EndTime   time.Time

	// CaseSensitive disables the default case-insensitive matching.
	CaseSensitive bool

	// MaxEvents caps the returned events. Defaults to 10000.
	MaxEvents int

	// MaxValues caps distinct values per aggregated field (stats only).
	// Defaults to 60.
	MaxValues int

	// MaxAttempts overrides the client's poll attempt ceiling.
	MaxAttempts int
}

// Event is a single UDM search hit as returned by the API. Numeric fields
// hold json.Number values.
type Event map[string]any

// Name returns the event resource name.
func (e Event) Name() string {
	s, _ := e["name"].(string)
	return s
}

// UDM returns the event's UDM document, or nil.
func (e Event) UDM() map[string]any {
	m, _ := e["udm"].(map[string]any)
	return m
}

// EventType returns udm.metadata.eventType.
func (e Event) EventType() string {
	md, _ := e.UDM()["metadata"].(map[string]any)
	s, _ := md["eventType"].(string)
	return s
}

// EventResult is the outcome of an event search.
type EventResult struct {
	Events            []Event `json:"events"`
	TotalEvents       int     `json:"total_events"`
	MoreDataAvailable bool    `json:"more_data_available"`
}

// StatsResult is the tabular outcome of a stats search. Row values are
// string, int64 or nil.
type StatsResult struct {
	Columns   []string         `json:"columns"`
	Rows      []map[string]any `json:"rows"`
	TotalRows int              `json:"total_rows"`
}

// CSVRequest describes a UDM search exported as CSV.
type CSVRequest struct {
	Query         string
	StartTime     time.Time
	EndTime       time.Time
	Fields        []string
	CaseSensitive bool
}

// QueryValidation is the result of validating a UDM query.
type QueryValidation struct {
	QueryType         string `json:"queryType,omitempty"`
	ErrorText         string `json:"errorText,omitempty"`
	ErrorType         string `json:"errorType,omitempty"`
	ValidationMessage string `json:"validationMessage,omitempty"`
}

// Valid reports whether the backend recognized the query without errors.
func (v *QueryValidation) Valid() bool {
	return v.QueryType != "" && v.ErrorText == "" && v.ErrorType == ""
}

// IOCRequest describes an enterprise-wide IoC match search.
type IOCRequest struct {
	StartTime  time.Time
	EndTime    time.Time
	MaxMatches int

	// OmitMandiantAttributes drops Mandiant enrichment from matches.
	OmitMandiantAttributes bool

	// PrioritizedOnly restricts results to prioritized IoCs.
	PrioritizedOnly bool
}

// IOCMatch is a single IoC seen in the customer's telemetry.
type IOCMatch struct {
	ArtifactIndicator  map[string]string `json:"artifactIndicator"`
	Sources            []string          `json:"sources,omitempty"`
	IOCIngestTimestamp time.Time         `json:"iocIngestTimestamp,omitzero"`
	FirstSeenTimestamp time.Time         `json:"firstSeenTimestamp,omitzero"`
	LastSeenTimestamp  time.Time         `json:"lastSeenTimestamp,omitzero"`
	FilterProperties   map[string]any    `json:"filterProperties,omitempty"`
}

// IOCResult holds IoC matches.
type IOCResult struct {
	Matches           []IOCMatch `json:"matches"`
	MoreDataAvailable bool       `json:"moreDataAvailable,omitempty"`
}

// ValueType is the API's classification of an entity lookup value.
type ValueType string

const (
	ValueTypeIPAddress ValueType = "ASSET_IP_ADDRESS"
	ValueTypeMAC       ValueType = "MAC"
	ValueTypeHostname  ValueType = "HOSTNAME"
	ValueTypeDomain    ValueType = "DOMAIN_NAME"
	ValueTypeMD5       ValueType = "HASH_MD5"
	ValueTypeSHA256    ValueType = "HASH_SHA256"
	ValueTypeSHA1      ValueType = "HASH_SHA1"
	ValueTypeEmail     ValueType = "EMAIL"
	ValueTypeUsername  ValueType = "USERNAME"
)

// EntitySummaryRequest describes an entity lookup. Exactly one of EntityID
// or Value must be set. When FieldPath and ValueType are both empty they
// are detected from Value.
type EntitySummaryRequest struct {
	Value           string
	FieldPath       string
	ValueType       ValueType
	EntityID        string
	EntityNamespace string

	StartTime time.Time
	EndTime   time.Time

	// ReturnAlerts defaults to true when nil.
	ReturnAlerts     *bool
	ReturnPrevalence bool

	// IncludeAllUDMTypes defaults to true when nil.
	IncludeAllUDMTypes *bool

	PageSize  int
	PageToken string
}

// Bool returns a pointer to v, for optional request fields.
func Bool(v bool) *bool {
	return &v
}

// TimeInterval is a closed time range.
type TimeInterval struct {
	StartTime time.Time `json:"startTime"`
	EndTime   time.Time `json:"endTime"`
}

// EntityMetadata describes an entity's type and observation window.
type EntityMetadata struct {
	EntityType string       `json:"entityType"`
	Interval   TimeInterval `json:"interval"`
}

// EntityMetrics holds first/last sighting times.
type EntityMetrics struct {
	FirstSeen time.Time `json:"firstSeen"`
	LastSeen  time.Time `json:"lastSeen"`
}

// Entity is a single entity in a summary.
type Entity struct {
	Name     string         `json:"name"`
	Metadata EntityMetadata `json:"metadata"`
	Metric   *EntityMetrics `json:"metric,omitempty"`

	// Entity is the raw UDM entity document.
	Entity map[string]any `json:"entity,omitempty"`
}

// AlertCount is the number of alerts a detection rule raised for an entity.
type AlertCount struct {
	Rule  string `json:"rule"`
	Count Int64  `json:"count"`
}

// TimelineBucket is one bucket of an entity activity timeline.
type TimelineBucket struct {
	AlertCount int `json:"alertCount,omitempty"`
	EventCount int `json:"eventCount,omitempty"`
}

// Timeline is an entity activity histogram.
type Timeline struct {
	Buckets    []TimelineBucket `json:"buckets"`
	BucketSize string           `json:"bucketSize"`
}

// WidgetMetadata links to the UI view for a summary.
type WidgetMetadata struct {
	URI        string `json:"uri"`
	Detections int    `json:"detections"`
	Total      int    `json:"total"`
}

// PrevalenceData is the number of assets that saw an entity at a time.
type PrevalenceData struct {
	PrevalenceTime time.Time `json:"prevalenceTime"`
	Count          Int64     `json:"count"`
}

// EntitySummary aggregates what the platform knows about an entity.
type EntitySummary struct {
	Entities       []*Entity        `json:"entities,omitempty"`
	AlertCounts    []AlertCount     `json:"alertCounts,omitempty"`
	Timeline       *Timeline        `json:"timeline,omitempty"`
	WidgetMetadata *WidgetMetadata  `json:"widgetMetadata,omitempty"`
	Prevalence     []PrevalenceData `json:"prevalenceResult,omitempty"`
	HasMoreAlerts  bool             `json:"hasMoreAlerts,omitempty"`
	NextPageToken  string           `json:"nextPageToken,omitempty"`
}

// PrimaryEntity returns the entity the summary was requested for, or nil.
func (s *EntitySummary) PrimaryEntity() *Entity {
	if len(s.Entities) == 0 {
		return nil
	}
	return s.Entities[0]
}

// RelatedEntities returns the entities linked to the primary entity.
func (s *EntitySummary) RelatedEntities() []*Entity {
	if len(s.Entities) < 2 {
		return nil
	}
	return s.Entities[1:]
}

// TotalAlerts sums all alert counts.
func (s *EntitySummary) TotalAlerts() int64 {
	var total int64
	for _, ac := range s.AlertCounts {
		total += int64(ac.Count)
	}
	return total
}

// LogIngestRequest describes a single raw log to ingest.
type LogIngestRequest struct {
	// LogType is the parser identifier, e.g. "OKTA" or "WINEVTLOG_XML".
	LogType string

	// Message is the raw log line or document.
	Message []byte

	// EntryTime and CollectionTime default to now.
	EntryTime      time.Time
	CollectionTime time.Time

	// ForwarderID selects the forwarder; when empty the default SDK
	// forwarder is looked up or created.
	ForwarderID string
}

// UDMEvent is a UDM event document for direct ingestion.
type UDMEvent map[string]any

// IngestResult is the import response. Operation is set when the backend
// processes the import asynchronously.
type IngestResult struct {
	Operation string `json:"operation,omitempty"`

	// EventIDs lists the metadata.id of each imported UDM event, in input
	// order. It is empty for raw log imports.
	EventIDs []string `json:"-"`
}

// Forwarder is an ingestion forwarder resource.
type Forwarder struct {
	Name        string         `json:"name"`
	DisplayName string         `json:"displayName"`
	Config      map[string]any `json:"config,omitempty"`
}

// ID returns the trailing forwarder identifier from the resource name.
func (f *Forwarder) ID() string {
	return lastSegment(f.Name)
}

// LogType is an ingestion log type.
type LogType struct {
	Name        string `json:"name"`
	DisplayName string `json:"displayName,omitempty"`
}

// ID returns the log type identifier, e.g. "OKTA".
func (l *LogType) ID() string {
	return lastSegment(l.Name)
}

// GeminiBlock is a block of content in a Gemini answer.
type GeminiBlock struct {
	BlockType string `json:"blockType"`
	Content   string `json:"content"`
	Title     string `json:"title,omitempty"`
}

// SuggestedAction is a follow-up action Gemini proposes.
type SuggestedAction struct {
	DisplayText string `json:"displayText"`
	ActionType  string `json:"actionType"`
	UseCaseID   string `json:"useCaseId,omitempty"`
	Navigation  *struct {
		TargetURI string `json:"targetUri"`
	} `json:"navigation,omitempty"`
}

// GeminiResponse is a Gemini answer.
type GeminiResponse struct {
	Name             string            `json:"name"`
	Blocks           []GeminiBlock     `json:"blocks"`
	References       []GeminiBlock     `json:"references,omitempty"`
	SuggestedActions []SuggestedAction `json:"suggestedActions,omitempty"`

	// Raw is the undecoded message body.
	Raw json.RawMessage `json:"-"`
}

func lastSegment(name string) string {
	if i := strings.LastIndex(name, "/"); i >= 0 {
		return name[i+1:]
	}
	return name
}
